package services

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"gridexport/internal/grid"
	"gridexport/internal/infrastructure"
	"gridexport/internal/source"
)

// tracedFetcher wraps a page fetcher with a span and page metrics per fetch
type tracedFetcher struct {
	next    source.PageFetcher
	grid    string
	tracer  trace.Tracer
	metrics *infrastructure.BusinessMetrics
}

// FetchPage implements source.PageFetcher
func (f *tracedFetcher) FetchPage(ctx context.Context, page, size int) ([]grid.Record, error) {
	ctx, span := f.tracer.Start(ctx, "export.fetch_page",
		trace.WithAttributes(
			attribute.String("grid", f.grid),
			attribute.Int("page", page),
			attribute.Int("page_size", size),
		),
	)
	defer span.End()

	start := time.Now()
	records, err := f.next.FetchPage(ctx, page, size)
	infrastructure.RecordPageFetch(ctx, f.metrics, f.grid, time.Since(start), err != nil)

	if err != nil {
		infrastructure.RecordError(ctx, err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("records", len(records)))
	return records, nil
}
