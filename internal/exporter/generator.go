package exporter

import (
	"context"
	"fmt"

	"gridexport/internal/grid"
	"gridexport/internal/projection"
)

// RecordSource is a forward-only record sequence, such as *source.Paged
type RecordSource interface {
	Next(ctx context.Context) bool
	Record() grid.Record
	Err() error
}

// RowProjector projects one record into an export row
type RowProjector interface {
	Project(ctx context.Context, rec grid.Record, cols grid.ColumnSet, opts projection.Options) (projection.Row, error)
}

// Item is one unit of export output: either the header row or a data row
type Item struct {
	header bool
	Labels []string
	Row    projection.Row
}

// HeaderItem creates a header item from column labels
func HeaderItem(labels []string) Item {
	return Item{header: true, Labels: labels}
}

// RowItem creates a data item
func RowItem(row projection.Row) Item {
	return Item{Row: row}
}

// IsHeader reports whether the item is the header row
func (i Item) IsHeader() bool {
	return i.header
}

// Generator produces the export items of one session: the header (CSV only)
// followed by one projected row per source record. It is single use.
type Generator struct {
	src       RecordSource
	projector RowProjector
	cols      grid.ColumnSet
	format    Format
	options   projection.Options

	item       Item
	headerDone bool
	done       bool
	rows       int
	err        error
}

// NewGenerator composes a generator from a record source and a projector
func NewGenerator(src RecordSource, projector RowProjector, cols grid.ColumnSet, format Format) (*Generator, error) {
	if src == nil {
		return nil, fmt.Errorf("record source is required")
	}
	if projector == nil {
		return nil, fmt.Errorf("projector is required")
	}
	if _, err := ParseFormat(string(format)); err != nil {
		return nil, err
	}

	return &Generator{
		src:        src,
		projector:  projector,
		cols:       cols,
		format:     format,
		options:    format.ProjectionOptions(),
		headerDone: !format.HasHeader(),
	}, nil
}

// Next advances to the next item. It returns false when the source is
// exhausted or a record could not be fetched or projected; Err tells which.
func (g *Generator) Next(ctx context.Context) bool {
	if g.done {
		return false
	}

	if !g.headerDone {
		g.headerDone = true
		g.item = HeaderItem(g.cols.Labels)
		return true
	}

	if !g.src.Next(ctx) {
		g.stop(g.src.Err())
		return false
	}

	row, err := g.projector.Project(ctx, g.src.Record(), g.cols, g.options)
	if err != nil {
		g.stop(fmt.Errorf("projecting row %d: %w", g.rows+1, err))
		return false
	}

	g.rows++
	g.item = RowItem(row)
	return true
}

func (g *Generator) stop(err error) {
	g.done = true
	g.err = err
	g.item = Item{}
}

// Item returns the current item
func (g *Generator) Item() Item {
	return g.item
}

// Err returns the error that ended generation, if any
func (g *Generator) Err() error {
	return g.err
}

// Rows returns the number of data rows produced so far
func (g *Generator) Rows() int {
	return g.rows
}

// Format returns the output format
func (g *Generator) Format() Format {
	return g.format
}

// Columns returns the column set the generator projects
func (g *Generator) Columns() grid.ColumnSet {
	return g.cols
}
