package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	apierrors "gridexport/internal/errors"
	"gridexport/internal/exporter"
	"gridexport/internal/grid"
	"gridexport/internal/infrastructure"
	"gridexport/internal/projection"
	"gridexport/internal/source"
	"gridexport/internal/storage"
)

// Export outcomes as recorded in metrics and logs
const (
	StatusSuccess = "success"
	StatusAborted = "aborted"
	StatusFailure = "failure"
)

// GridRegistry is the set of exportable grids
type GridRegistry interface {
	Get(name string) (*grid.Definition, bool)
	Names() []string
}

// FetcherFactory builds the page fetcher of one export
type FetcherFactory func(def *grid.Definition, filter storage.Filter) source.PageFetcher

// ExportRequest describes one export
type ExportRequest struct {
	Grid   string
	Format exporter.Format
	Filter storage.Filter
}

// ExportDependencies are the collaborators of an ExportService. Grids,
// Columns and Fetchers are required; Files is needed for file exports only.
type ExportDependencies struct {
	Grids         GridRegistry
	Columns       grid.ColumnConfigStore
	Fetchers      FetcherFactory
	AttributeSets grid.AttributeSetLookup
	Websites      grid.WebsiteLookup
	Files         *exporter.FileExporter
	Dates         *projection.DateNormalizer
	PageSize      int
	Metrics       *infrastructure.BusinessMetrics
	Tracer        trace.Tracer
	Logger        *slog.Logger
}

// ExportService opens export sessions over the configured grids
type ExportService struct {
	grids         GridRegistry
	columns       grid.ColumnConfigStore
	fetchers      FetcherFactory
	attributeSets grid.AttributeSetLookup
	websites      grid.WebsiteLookup
	files         *exporter.FileExporter
	dates         *projection.DateNormalizer
	pageSize      int
	metrics       *infrastructure.BusinessMetrics
	tracer        trace.Tracer
	logger        *slog.Logger
}

// NewExportService creates an export service
func NewExportService(deps ExportDependencies) (*ExportService, error) {
	switch {
	case deps.Grids == nil:
		return nil, apierrors.NewConfigError("grid registry is required", nil)
	case deps.Columns == nil:
		return nil, apierrors.NewConfigError("column configuration store is required", nil)
	case deps.Fetchers == nil:
		return nil, apierrors.NewConfigError("fetcher factory is required", nil)
	case deps.PageSize <= 0:
		return nil, apierrors.NewConfigError(fmt.Sprintf("page size must be positive, got %d", deps.PageSize), nil)
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(infrastructure.ServiceName)
	}

	return &ExportService{
		grids:         deps.Grids,
		columns:       deps.Columns,
		fetchers:      deps.Fetchers,
		attributeSets: deps.AttributeSets,
		websites:      deps.Websites,
		files:         deps.Files,
		dates:         deps.Dates,
		pageSize:      deps.PageSize,
		metrics:       deps.Metrics,
		tracer:        tracer,
		logger:        infrastructure.WithComponent(logger, "export_service"),
	}, nil
}

// Grids returns the names of the exportable grids
func (s *ExportService) Grids() []string {
	return s.grids.Names()
}

// Open starts an export session. Nothing is fetched until the session's
// generator is advanced. Every opened session must be finished.
func (s *ExportService) Open(ctx context.Context, req ExportRequest) (*Session, error) {
	format, err := exporter.ParseFormat(string(req.Format))
	if err != nil {
		return nil, apierrors.NewAppValidationError(err.Error())
	}

	def, ok := s.grids.Get(req.Grid)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrGridNotFound, req.Grid)
	}

	sess := &Session{
		ID:      uuid.NewString(),
		Grid:    def.Name,
		Format:  format,
		svc:     s,
		columns: make(map[string]grid.ColumnSet, 1),
		lookups: newLookupCache(s.attributeSets, s.websites, s.metrics),
		start:   time.Now(),
	}
	sess.logger = s.logger.With(
		slog.String("export_id", sess.ID),
		slog.String("grid", sess.Grid),
		slog.String("format", format.String()),
	)

	cols, err := sess.columnSet(ctx, def.Name)
	if err != nil {
		return nil, err
	}

	fetcher := &tracedFetcher{
		next:    s.fetchers(def, req.Filter),
		grid:    def.Name,
		tracer:  s.tracer,
		metrics: s.metrics,
	}
	sess.paged, err = source.Open(fetcher, s.pageSize)
	if err != nil {
		return nil, apierrors.NewConfigError("open paged source", err)
	}

	var opts []projection.ProjectorOption
	if s.dates != nil {
		opts = append(opts, projection.WithDateNormalizer(s.dates))
	}
	projector := projection.NewProjector(sess.lookups, sess.lookups, opts...)

	sess.gen, err = exporter.NewGenerator(sess.paged, projector, cols, format)
	if err != nil {
		return nil, apierrors.NewConfigError("create export generator", err)
	}

	infrastructure.RecordActiveExportChange(ctx, s.metrics, 1, sess.Grid, format.String())
	sess.logger.InfoContext(ctx, "export started",
		slog.Int("columns", cols.Len()),
		slog.Int("page_size", s.pageSize),
		slog.Int("selected", len(req.Filter.Selected)),
		slog.Int("excluded", len(req.Filter.Excluded)),
		slog.Bool("search", req.Filter.Search != ""))

	return sess, nil
}

// ExportFile runs a whole export into a file under the export directory
// and returns its descriptor.
func (s *ExportService) ExportFile(ctx context.Context, req ExportRequest) (exporter.FileDescriptor, error) {
	if s.files == nil {
		return exporter.FileDescriptor{}, apierrors.NewConfigError("file exports are not configured", nil)
	}

	sess, err := s.Open(ctx, req)
	if err != nil {
		return exporter.FileDescriptor{}, err
	}

	desc, err := s.files.Export(ctx, sess.Grid, sess.Generator())
	sess.Finish(ctx, err)
	if err != nil {
		return exporter.FileDescriptor{}, apierrors.NewExportError("export grid to file", err).
			WithContext("grid", sess.Grid).
			WithContext("export_id", sess.ID)
	}

	return desc, nil
}

// OpenExportFile opens a finished export file for download
func (s *ExportService) OpenExportFile(name string) (*ExportFile, error) {
	if s.files == nil {
		return nil, fmt.Errorf("%w: %q", ErrFileNotFound, name)
	}

	path, err := s.files.Resolve(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrFileNotFound, name)
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %q", ErrFileNotFound, name)
		}
		return nil, apierrors.NewPermissionError(fmt.Sprintf("cannot open export file %q", name))
	}

	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		f.Close()
		return nil, fmt.Errorf("%w: %q", ErrFileNotFound, name)
	}

	return &ExportFile{
		File:    f,
		Name:    filepath.Base(path),
		Size:    info.Size(),
		ModTime: info.ModTime(),
		path:    path,
		logger:  s.logger,
	}, nil
}

// ExportFile is an open export file
type ExportFile struct {
	*os.File
	Name    string
	Size    int64
	ModTime time.Time

	path   string
	logger *slog.Logger
}

// Remove closes and deletes the file. Export descriptors are always
// delete-after-use, so this is called once the download completed.
func (f *ExportFile) Remove() error {
	f.File.Close()
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove export file: %w", err)
	}
	f.logger.Debug("export file removed after download", slog.String("file", f.Name))
	return nil
}

// Session is one export: one generator feeding one sink. It is not safe
// for concurrent use.
type Session struct {
	ID     string
	Grid   string
	Format exporter.Format

	svc      *ExportService
	gen      *exporter.Generator
	paged    *source.Paged
	lookups  *lookupCache
	columns  map[string]grid.ColumnSet
	logger   *slog.Logger
	start    time.Time
	finished bool
}

// columnSet derives the active column set of a grid once per session
func (sess *Session) columnSet(ctx context.Context, gridName string) (grid.ColumnSet, error) {
	if cols, ok := sess.columns[gridName]; ok {
		return cols, nil
	}

	descriptors, err := sess.svc.columns.Columns(ctx, gridName)
	if err != nil {
		return grid.ColumnSet{}, apierrors.NewStorageError("load column configuration", err).
			WithContext("grid", gridName)
	}

	cols := grid.NewColumnSet(grid.ActiveColumns(descriptors))
	sess.columns[gridName] = cols
	return cols, nil
}

// Generator returns the item sequence of the session
func (sess *Session) Generator() *exporter.Generator {
	return sess.gen
}

// Rows returns the number of data rows produced so far
func (sess *Session) Rows() int {
	return sess.gen.Rows()
}

// Finish records the outcome of the session and returns its status. err is
// the error that ended the export, nil on success. Only the first of
// Finish and Discard has an effect.
func (sess *Session) Finish(ctx context.Context, err error) string {
	status := exportStatus(err)
	if sess.finished {
		return status
	}
	sess.finished = true

	// The request context may already be cancelled; metrics still count.
	mctx := context.WithoutCancel(ctx)
	duration := time.Since(sess.start)
	format := sess.Format.String()

	infrastructure.RecordActiveExportChange(mctx, sess.svc.metrics, -1, sess.Grid, format)
	infrastructure.RecordExportMetrics(mctx, sess.svc.metrics, sess.Grid, format, status, sess.Rows(), duration)

	attrs := []any{
		slog.String("status", status),
		slog.Int("rows", sess.Rows()),
		slog.Int("pages", sess.paged.Fetches()),
		slog.Int("lookup_cache_hits", sess.lookups.Hits()),
		slog.Duration("duration", duration),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	sess.logger.InfoContext(mctx, "export finished", attrs...)

	return status
}

// Discard ends a session whose rows were never requested, such as the
// session behind a HEAD request. It releases the active export without
// counting an export. Only the first of Finish and Discard has an effect.
func (sess *Session) Discard(ctx context.Context) {
	if sess.finished {
		return
	}
	sess.finished = true

	mctx := context.WithoutCancel(ctx)
	infrastructure.RecordActiveExportChange(mctx, sess.svc.metrics, -1, sess.Grid, sess.Format.String())
	sess.logger.DebugContext(mctx, "export discarded",
		slog.Duration("duration", time.Since(sess.start)))
}

// exportStatus classifies the error that ended an export
func exportStatus(err error) string {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, context.Canceled), exporter.IsTransportError(err):
		return StatusAborted
	default:
		return StatusFailure
	}
}
