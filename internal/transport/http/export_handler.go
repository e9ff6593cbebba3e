package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	apierrors "gridexport/internal/errors"
	"gridexport/internal/exporter"
	"gridexport/internal/middleware"
	"gridexport/internal/services"
	"gridexport/internal/storage"
)

// ExportService is the part of services.ExportService the handler needs
type ExportService interface {
	Grids() []string
	Open(ctx context.Context, req services.ExportRequest) (*services.Session, error)
	ExportFile(ctx context.Context, req services.ExportRequest) (exporter.FileDescriptor, error)
	OpenExportFile(name string) (*services.ExportFile, error)
}

// exportQuery is the validated form of an export request
type exportQuery struct {
	Grid     string   `query:"grid" validate:"required,gridname"`
	Format   string   `query:"format" validate:"required,oneof=csv jsonl"`
	Selected []string `query:"selected" validate:"max=10000,dive,entityid"`
	Excluded []string `query:"excluded" validate:"max=10000,dive,entityid"`
	Search   string   `query:"search" validate:"max=255"`
}

type downloadQuery struct {
	Name string `query:"name" validate:"required,filename"`
}

// ExportHandler serves grid exports
type ExportHandler struct {
	service      ExportService
	validator    *middleware.Validator
	query        *middleware.QueryParamValidator
	errorHandler *apierrors.ErrorHandler
	encoder      exporter.EncoderOptions
	logger       *slog.Logger
}

// NewExportHandler creates an export handler
func NewExportHandler(service ExportService, validator *middleware.Validator, errorHandler *apierrors.ErrorHandler, encoder exporter.EncoderOptions, logger *slog.Logger) *ExportHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExportHandler{
		service:      service,
		validator:    validator,
		query:        middleware.NewQueryParamValidator(logger, errorHandler),
		errorHandler: errorHandler,
		encoder:      encoder,
		logger:       logger.With(slog.String("component", "export_handler")),
	}
}

// Routes returns the export routes. bounded is applied to the routes that
// answer with a single document; streams and downloads run unbounded.
func (h *ExportHandler) Routes(bounded ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(bounded...)
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Get("/grids", h.ListGrids)
		r.With(middleware.AuditLog(h.logger)).Post("/{grid}/file", h.ExportFile)
	})

	r.With(middleware.AuditLog(h.logger)).Get("/files/{name}", h.DownloadFile)

	r.Group(func(r chi.Router) {
		r.Use(middleware.TraceMiddleware("export.stream"))
		csv := h.Stream(exporter.FormatCSV)
		jsonl := h.Stream(exporter.FormatJSONL)
		r.Get("/{grid}/csv", csv)
		r.Head("/{grid}/csv", csv)
		r.Get("/{grid}/jsonl", jsonl)
		r.Head("/{grid}/jsonl", jsonl)
	})

	return r
}

// ListGrids handles GET /api/export/grids
func (h *ExportHandler) ListGrids(w http.ResponseWriter, r *http.Request) {
	grids := h.service.Grids()
	render.JSON(w, r, map[string]interface{}{
		"grids": grids,
		"count": len(grids),
	})
}

// Stream handles GET|HEAD /api/export/{grid}/{format}
func (h *ExportHandler) Stream(format exporter.Format) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		req, err := h.parseRequest(r, format.String())
		if err != nil {
			h.errorHandler.HandleError(w, r, err)
			return
		}

		sess, err := h.service.Open(ctx, req)
		if err != nil {
			h.errorHandler.HandleError(w, r, h.translate(err, req.Grid))
			return
		}

		opts := DefaultStreamOptions(format.FileName(), h.encodeSession(sess))
		opts.ContentType = format.ContentType()

		stream, err := NewStreamedResponse(opts, h.logger)
		if err != nil {
			sess.Finish(ctx, err)
			h.errorHandler.HandleError(w, r, apierrors.NewConfigError("create export stream", err))
			return
		}

		h.logger.DebugContext(ctx, "streaming export",
			slog.String("export_id", sess.ID),
			slog.String("grid", sess.Grid),
			slog.String("method", r.Method),
			slog.String("request_id", chimiddleware.GetReqID(ctx)))

		err = stream.Send(w, r)
		if r.Method == http.MethodHead {
			sess.Discard(ctx)
			return
		}
		sess.Finish(ctx, err)
	}
}

// encodeSession pulls items from the session, encodes them and flushes
// after every item.
func (h *ExportHandler) encodeSession(sess *services.Session) StreamCallback {
	return func(ctx context.Context, out io.Writer, flush func() error) error {
		encoder, err := exporter.NewEncoder(sess.Format, out, h.encoder)
		if err != nil {
			return err
		}

		gen := sess.Generator()
		for gen.Next(ctx) {
			if err := encoder.Encode(gen.Item()); err != nil {
				return err
			}
			if err := flush(); err != nil {
				return err
			}
		}
		return gen.Err()
	}
}

// ExportFile handles POST /api/export/{grid}/file?format=csv|jsonl
func (h *ExportHandler) ExportFile(w http.ResponseWriter, r *http.Request) {
	format, ok := h.query.ValidateEnum(w, r, "format",
		[]string{exporter.FormatCSV.String(), exporter.FormatJSONL.String()}, exporter.FormatCSV.String())
	if !ok {
		return
	}

	req, err := h.parseRequest(r, format)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	desc, err := h.service.ExportFile(r.Context(), req)
	if err != nil {
		h.errorHandler.HandleError(w, r, h.translate(err, req.Grid))
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, desc)
}

// partialRequestHeaders would let ServeContent answer 206 or 304
var partialRequestHeaders = []string{
	"Range",
	"If-Range",
	"If-Match",
	"If-None-Match",
	"If-Modified-Since",
	"If-Unmodified-Since",
}

// DownloadFile handles GET /api/export/files/{name}. Export files are
// delete-after-use: the file is removed once it has been served.
func (h *ExportHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	query := downloadQuery{Name: chi.URLParam(r, "name")}
	if err := h.validator.ValidateStruct(query); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	file, err := h.service.OpenExportFile(query.Name)
	if err != nil {
		h.errorHandler.HandleError(w, r, h.translate(err, ""))
		return
	}
	defer func() {
		if err := file.Remove(); err != nil {
			h.logger.WarnContext(r.Context(), "failed to remove export file",
				slog.String("file", file.Name),
				slog.String("error", err.Error()))
		}
	}()

	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.logger.DebugContext(r.Context(), "cannot clear write deadline", slog.String("error", err.Error()))
	}

	// The file is removed after this response, so it is always sent whole
	full := r.Clone(r.Context())
	for _, header := range partialRequestHeaders {
		full.Header.Del(header)
	}

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Name))
	w.Header().Set("Cache-Control", "no-store")
	http.ServeContent(w, full, file.Name, file.ModTime, file)

	h.logger.InfoContext(r.Context(), "export file downloaded",
		slog.String("file", file.Name),
		slog.Int64("size", file.Size))
}

// parseRequest reads and validates the grid, format and selection state
func (h *ExportHandler) parseRequest(r *http.Request, format string) (services.ExportRequest, error) {
	values := r.URL.Query()
	query := exportQuery{
		Grid:     chi.URLParam(r, "grid"),
		Format:   strings.ToLower(format),
		Selected: idList(values, "selected"),
		Excluded: idList(values, "excluded"),
		Search:   strings.TrimSpace(values.Get("search")),
	}

	if err := h.validator.ValidateStruct(query); err != nil {
		return services.ExportRequest{}, err
	}

	return services.ExportRequest{
		Grid:   query.Grid,
		Format: exporter.Format(query.Format),
		Filter: storage.Filter{
			Selected: query.Selected,
			Excluded: query.Excluded,
			Search:   query.Search,
		},
	}, nil
}

// idList collects a repeatable id parameter; each value may itself be a
// comma separated list.
func idList(values url.Values, key string) []string {
	var ids []string
	for _, v := range values[key] {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// translate maps service errors to API errors
func (h *ExportHandler) translate(err error, gridName string) error {
	switch {
	case errors.Is(err, services.ErrGridNotFound):
		return apierrors.GridNotFoundError(gridName)
	case errors.Is(err, services.ErrFileNotFound):
		return apierrors.ErrExportFileNotFound
	default:
		return err
	}
}
