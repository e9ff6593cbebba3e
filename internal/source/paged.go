// Package source exposes a paginated query as one lazy, forward-only
// sequence of grid records.
package source

import (
	"context"
	"errors"
	"fmt"

	"gridexport/internal/grid"
)

// ErrInvalidPageSize is returned by Open for a page size that is not positive
var ErrInvalidPageSize = errors.New("page size must be positive")

// ErrNoFetcher is returned by Open without a fetcher
var ErrNoFetcher = errors.New("page fetcher is required")

// PageFetcher loads one page of a grid query. Pages are numbered from 1.
type PageFetcher interface {
	FetchPage(ctx context.Context, page, size int) ([]grid.Record, error)
}

// PageFetcherFunc adapts a function to PageFetcher
type PageFetcherFunc func(ctx context.Context, page, size int) ([]grid.Record, error)

// FetchPage implements PageFetcher
func (f PageFetcherFunc) FetchPage(ctx context.Context, page, size int) ([]grid.Record, error) {
	return f(ctx, page, size)
}

// Cursor is the position of a Paged sequence in the underlying query
type Cursor struct {
	Page int
	Size int
}

// Paged iterates a paginated query one record at a time. Usage mirrors sql.Rows:
//
//	for p.Next(ctx) {
//		rec := p.Record()
//	}
//	if err := p.Err(); err != nil { ... }
//
// A Paged is single use and must not be shared between goroutines.
type Paged struct {
	fetcher PageFetcher
	cursor  Cursor

	buf     []grid.Record
	current grid.Record
	last    bool
	done    bool
	err     error
	fetches int
}

// Open prepares a sequence over fetcher. Nothing is fetched until the first Next.
func Open(fetcher PageFetcher, pageSize int) (*Paged, error) {
	if fetcher == nil {
		return nil, ErrNoFetcher
	}
	if pageSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPageSize, pageSize)
	}
	return &Paged{
		fetcher: fetcher,
		cursor:  Cursor{Page: 1, Size: pageSize},
	}, nil
}

// Next advances to the next record, fetching the next page when the current
// one is drained. It returns false at the end of the sequence or on error.
func (p *Paged) Next(ctx context.Context) bool {
	if p.done {
		return false
	}

	for len(p.buf) == 0 {
		if p.last {
			p.finish(nil)
			return false
		}
		if err := ctx.Err(); err != nil {
			p.finish(err)
			return false
		}

		page, err := p.fetcher.FetchPage(ctx, p.cursor.Page, p.cursor.Size)
		p.fetches++
		if err != nil {
			p.finish(fmt.Errorf("fetching page %d: %w", p.cursor.Page, err))
			return false
		}

		// A short or empty page is the last one.
		if len(page) < p.cursor.Size {
			p.last = true
		} else {
			p.cursor.Page++
		}
		p.buf = page
	}

	p.current = p.buf[0]
	p.buf[0] = nil
	p.buf = p.buf[1:]
	return true
}

func (p *Paged) finish(err error) {
	p.done = true
	p.err = err
	p.current = nil
	p.buf = nil
}

// Record returns the record Next advanced to
func (p *Paged) Record() grid.Record {
	return p.current
}

// Err returns the error that ended the sequence, if any
func (p *Paged) Err() error {
	return p.err
}

// Fetches returns the number of page fetches issued so far
func (p *Paged) Fetches() int {
	return p.fetches
}

// Cursor returns the page the next fetch will request
func (p *Paged) Cursor() Cursor {
	return p.cursor
}
