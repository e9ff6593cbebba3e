package services

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "gridexport/internal/errors"
	"gridexport/internal/exporter"
	"gridexport/internal/grid"
	"gridexport/internal/shared/testutil"
	"gridexport/internal/source"
	"gridexport/internal/storage"
)

type serviceFixture struct {
	svc     *ExportService
	columns *testutil.StaticColumns
	lookups *testutil.NameLookup
	logs    *testutil.BufferedSlogHandler
	fetches int
}

func newServiceFixture(t *testing.T, records []grid.Record, pageSize, failOnPage int, files *exporter.FileExporter) *serviceFixture {
	t.Helper()

	def := testutil.ProductGrid()
	registry, err := grid.NewRegistry(def)
	require.NoError(t, err)

	logger, logs := testutil.NewTestLogger(t)
	f := &serviceFixture{
		columns: testutil.NewStaticColumns(def),
		lookups: testutil.NewNameLookup(map[string]string{"4": "Default", "1": "Main Website"}),
		logs:    logs,
	}

	fetcher := testutil.PageFetcher(records, failOnPage, errors.New("connection reset by peer"))
	f.svc, err = NewExportService(ExportDependencies{
		Grids:   registry,
		Columns: f.columns,
		Fetchers: func(_ *grid.Definition, _ storage.Filter) source.PageFetcher {
			return source.PageFetcherFunc(func(ctx context.Context, page, size int) ([]grid.Record, error) {
				f.fetches++
				return fetcher(ctx, page, size)
			})
		},
		AttributeSets: f.lookups,
		Websites:      f.lookups,
		Files:         files,
		PageSize:      pageSize,
		Logger:        logger,
	})
	require.NoError(t, err)
	return f
}

func drain(t *testing.T, sess *Session) []exporter.Item {
	t.Helper()
	var items []exporter.Item
	gen := sess.Generator()
	for gen.Next(context.Background()) {
		items = append(items, gen.Item())
	}
	return items
}

func countMessages(logs *testutil.BufferedSlogHandler, message string) int {
	n := 0
	for _, r := range logs.GetRecords() {
		if r.Message == message {
			n++
		}
	}
	return n
}

func TestNewExportService_RequiresDependencies(t *testing.T) {
	registry, err := grid.NewRegistry(testutil.ProductGrid())
	require.NoError(t, err)
	columns := testutil.NewStaticColumns()
	fetchers := func(*grid.Definition, storage.Filter) source.PageFetcher { return nil }

	tests := []struct {
		name string
		deps ExportDependencies
	}{
		{"no grids", ExportDependencies{Columns: columns, Fetchers: fetchers, PageSize: 10}},
		{"no columns", ExportDependencies{Grids: registry, Fetchers: fetchers, PageSize: 10}},
		{"no fetchers", ExportDependencies{Grids: registry, Columns: columns, PageSize: 10}},
		{"zero page size", ExportDependencies{Grids: registry, Columns: columns, Fetchers: fetchers}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewExportService(tt.deps)
			var appErr *apierrors.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, apierrors.ErrTypeConfig, appErr.Type)
		})
	}
}

func TestExportService_OpenErrors(t *testing.T) {
	t.Run("unknown grid", func(t *testing.T) {
		f := newServiceFixture(t, nil, 10, 0, nil)
		_, err := f.svc.Open(context.Background(), ExportRequest{Grid: "customer_listing", Format: exporter.FormatCSV})
		assert.ErrorIs(t, err, ErrGridNotFound)
	})

	t.Run("unsupported format", func(t *testing.T) {
		f := newServiceFixture(t, nil, 10, 0, nil)
		_, err := f.svc.Open(context.Background(), ExportRequest{Grid: testutil.ProductGridName, Format: "xlsx"})
		var appErr *apierrors.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, apierrors.ErrTypeValidation, appErr.Type)
	})

	t.Run("column configuration unavailable", func(t *testing.T) {
		f := newServiceFixture(t, nil, 10, 0, nil)
		f.columns.Err = errors.New("table ui_bookmark doesn't exist")

		_, err := f.svc.Open(context.Background(), ExportRequest{Grid: testutil.ProductGridName, Format: exporter.FormatCSV})
		var appErr *apierrors.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, apierrors.ErrTypeStorage, appErr.Type)
		assert.Equal(t, testutil.ProductGridName, appErr.Context["grid"])
	})
}

func TestExportService_OpenIsLazy(t *testing.T) {
	f := newServiceFixture(t, testutil.ProductRecords(5), 10, 0, nil)

	sess, err := f.svc.Open(context.Background(), ExportRequest{Grid: testutil.ProductGridName, Format: exporter.FormatJSONL})
	require.NoError(t, err)
	defer sess.Finish(context.Background(), nil)

	assert.Zero(t, f.fetches)
	assert.Equal(t, 1, f.columns.Queries)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, exporter.FormatJSONL, sess.Format)
	assert.True(t, f.logs.ContainsMessage("export started"))
}

func TestSession_StreamsRowsAndMemoizesLookups(t *testing.T) {
	f := newServiceFixture(t, testutil.ProductRecords(10), 4, 0, nil)
	ctx := context.Background()

	sess, err := f.svc.Open(ctx, ExportRequest{Grid: testutil.ProductGridName, Format: exporter.FormatCSV})
	require.NoError(t, err)

	items := drain(t, sess)
	require.NoError(t, sess.Generator().Err())
	require.Len(t, items, 11)

	assert.True(t, items[0].IsHeader())
	assert.Equal(t, []string{"ID", "SKU", "Name", "Attribute Set", "Websites", "Status"}, items[0].Labels)
	assert.Equal(t, []string{"1", "SKU-001", "Product 1", "Default", "Main Website", "Enabled"}, items[1].Row.Strings())

	// one call per distinct id and lookup kind, the rest from the session memo
	assert.Equal(t, 2, f.lookups.CallCount())
	assert.Equal(t, 18, sess.lookups.Hits())

	assert.Equal(t, StatusSuccess, sess.Finish(ctx, nil))
	assert.True(t, f.logs.ContainsAttr("status", StatusSuccess))
	assert.True(t, f.logs.ContainsAttr("rows", int64(10)))
	assert.True(t, f.logs.ContainsAttr("pages", int64(3)))
	assert.True(t, f.logs.ContainsAttr("lookup_cache_hits", int64(18)))
}

func TestSession_LookupMemoIsPerSession(t *testing.T) {
	f := newServiceFixture(t, testutil.ProductRecords(3), 10, 0, nil)
	ctx := context.Background()

	for range 2 {
		sess, err := f.svc.Open(ctx, ExportRequest{Grid: testutil.ProductGridName, Format: exporter.FormatJSONL})
		require.NoError(t, err)
		drain(t, sess)
		sess.Finish(ctx, sess.Generator().Err())
	}

	assert.Equal(t, 4, f.lookups.CallCount())
	assert.Equal(t, 2, f.columns.Queries)
}

func TestSession_FetchFailure(t *testing.T) {
	f := newServiceFixture(t, testutil.ProductRecords(10), 3, 2, nil)
	ctx := context.Background()

	sess, err := f.svc.Open(ctx, ExportRequest{Grid: testutil.ProductGridName, Format: exporter.FormatCSV})
	require.NoError(t, err)

	items := drain(t, sess)
	assert.Len(t, items, 4)
	assert.Equal(t, 3, sess.Rows())

	genErr := sess.Generator().Err()
	require.Error(t, genErr)
	assert.Contains(t, genErr.Error(), "connection reset by peer")

	assert.Equal(t, StatusFailure, sess.Finish(ctx, genErr))
	assert.True(t, f.logs.ContainsAttr("status", StatusFailure))
}

func TestSession_FinishIsIdempotent(t *testing.T) {
	f := newServiceFixture(t, testutil.ProductRecords(1), 10, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())

	sess, err := f.svc.Open(ctx, ExportRequest{Grid: testutil.ProductGridName, Format: exporter.FormatCSV})
	require.NoError(t, err)
	cancel()

	assert.Equal(t, StatusAborted, sess.Finish(ctx, context.Canceled))
	assert.Equal(t, StatusAborted, sess.Finish(ctx, context.Canceled))
	assert.Equal(t, 1, countMessages(f.logs, "export finished"))
}

func TestSession_Discard(t *testing.T) {
	f := newServiceFixture(t, testutil.ProductRecords(3), 10, 0, nil)
	ctx := context.Background()

	sess, err := f.svc.Open(ctx, ExportRequest{Grid: testutil.ProductGridName, Format: exporter.FormatCSV})
	require.NoError(t, err)

	sess.Discard(ctx)
	sess.Finish(ctx, nil)

	assert.Zero(t, f.fetches)
	assert.True(t, f.logs.ContainsMessage("export discarded"))
	assert.Zero(t, countMessages(f.logs, "export finished"))
}

func TestExportStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"success", nil, StatusSuccess},
		{"client went away", fmt.Errorf("fetching page 2: %w", context.Canceled), StatusAborted},
		{"broken pipe", &exporter.TransportError{Err: io.ErrClosedPipe}, StatusAborted},
		{"database failure", errors.New("connection refused"), StatusFailure},
		{"deadline", context.DeadlineExceeded, StatusFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exportStatus(tt.err))
		})
	}
}

func TestLookupCache(t *testing.T) {
	t.Run("misses are remembered", func(t *testing.T) {
		lookups := testutil.NewNameLookup(nil)
		cache := newLookupCache(lookups, lookups, nil)

		for range 3 {
			_, err := cache.AttributeSetName(context.Background(), 99)
			assert.ErrorIs(t, err, grid.ErrNotFound)
		}
		assert.Equal(t, 1, lookups.CallCount())
		assert.Equal(t, 2, cache.Hits())
	})

	t.Run("kinds are kept apart", func(t *testing.T) {
		lookups := testutil.NewNameLookup(map[string]string{"1": "Main Website"})
		cache := newLookupCache(lookups, lookups, nil)

		cache.WebsiteName(context.Background(), 1)
		cache.AttributeSetName(context.Background(), 1)
		assert.Equal(t, 2, lookups.CallCount())
		assert.Zero(t, cache.Hits())
	})

	t.Run("cancelled lookups are not remembered", func(t *testing.T) {
		lookups := testutil.NewNameLookup(map[string]string{"1": "Main Website"})
		cache := newLookupCache(lookups, lookups, nil)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		cache.WebsiteName(ctx, 1)
		cache.WebsiteName(ctx, 1)
		assert.Equal(t, 2, lookups.CallCount())
		assert.Zero(t, cache.Hits())
	})

	t.Run("missing lookup", func(t *testing.T) {
		cache := newLookupCache(nil, nil, nil)
		_, err := cache.WebsiteName(context.Background(), 1)
		assert.ErrorIs(t, err, grid.ErrNotFound)
	})
}

func TestExportService_ExportFile(t *testing.T) {
	files := exporter.NewFileExporter(t.TempDir(), exporter.EncoderOptions{}, nil)
	f := newServiceFixture(t, testutil.ProductRecords(5), 2, 0, files)
	ctx := context.Background()

	desc, err := f.svc.ExportFile(ctx, ExportRequest{Grid: testutil.ProductGridName, Format: exporter.FormatCSV})
	require.NoError(t, err)
	assert.Equal(t, exporter.DescriptorTypeFilename, desc.Type)
	assert.True(t, desc.DeleteAfterUse)

	file, err := f.svc.OpenExportFile(desc.Name())
	require.NoError(t, err)
	assert.Equal(t, desc.Name(), file.Name)
	assert.Positive(t, file.Size)

	scanner := bufio.NewScanner(file)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.NoError(t, scanner.Err())
	require.Len(t, lines, 6)
	assert.Equal(t, "ID,SKU,Name,Attribute Set,Websites,Status", lines[0])
	assert.Equal(t, "5,SKU-005,Product 5,Default,Main Website,Enabled", lines[5])

	require.NoError(t, file.Remove())
	_, err = os.Stat(filepath.Join(files.Dir(), desc.Name()))
	assert.ErrorIs(t, err, os.ErrNotExist)

	assert.True(t, f.logs.ContainsAttr("status", StatusSuccess))
}

func TestExportService_ExportFileFailure(t *testing.T) {
	files := exporter.NewFileExporter(t.TempDir(), exporter.EncoderOptions{}, nil)
	f := newServiceFixture(t, testutil.ProductRecords(5), 2, 2, files)

	_, err := f.svc.ExportFile(context.Background(), ExportRequest{Grid: testutil.ProductGridName, Format: exporter.FormatJSONL})
	var appErr *apierrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apierrors.ErrTypeExport, appErr.Type)
	assert.Equal(t, testutil.ProductGridName, appErr.Context["grid"])

	entries, err := os.ReadDir(files.Dir())
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.True(t, f.logs.ContainsAttr("status", StatusFailure))
}

func TestExportService_ExportFileNotConfigured(t *testing.T) {
	f := newServiceFixture(t, nil, 10, 0, nil)

	_, err := f.svc.ExportFile(context.Background(), ExportRequest{Grid: testutil.ProductGridName, Format: exporter.FormatCSV})
	var appErr *apierrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apierrors.ErrTypeConfig, appErr.Type)

	_, err = f.svc.OpenExportFile("product_listing0123456789abcdef.csv")
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestExportService_OpenExportFileRejectsNames(t *testing.T) {
	files := exporter.NewFileExporter(t.TempDir(), exporter.EncoderOptions{}, nil)
	f := newServiceFixture(t, nil, 10, 0, files)

	for _, name := range []string{"", "../config.yaml", ".probe-1", "missing.csv", "export/../../etc/passwd"} {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.OpenExportFile(name)
			assert.ErrorIs(t, err, ErrFileNotFound)
		})
	}
}
