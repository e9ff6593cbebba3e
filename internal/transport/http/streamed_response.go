package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"gridexport/internal/exporter"
	"gridexport/internal/infrastructure"
)

// ErrCallbackRequired is returned when a stream is created without a body callback
var ErrCallbackRequired = errors.New("streamed response requires a callback")

// DefaultStreamContentType is used when StreamOptions leaves ContentType empty
const DefaultStreamContentType = "application/octet-stream"

// StreamState is the lifecycle state of a StreamedResponse
type StreamState int32

const (
	StateIdle StreamState = iota
	StateHeadersSent
	StateStreaming
	StateClosed
)

func (s StreamState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateHeadersSent:
		return "headers_sent"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("StreamState(%d)", int32(s))
	}
}

// StreamCallback writes the response body to out. It must call flush after
// every chunk so the client receives data as it is produced.
type StreamCallback func(ctx context.Context, out io.Writer, flush func() error) error

// StreamOptions configures a StreamedResponse
type StreamOptions struct {
	FileName    string
	ContentType string
	// Attachment adds a Content-Disposition header naming FileName
	Attachment bool
	Callback   StreamCallback
}

// DefaultStreamOptions returns options for an attachment download
func DefaultStreamOptions(fileName string, callback StreamCallback) StreamOptions {
	return StreamOptions{
		FileName:    fileName,
		ContentType: DefaultStreamContentType,
		Attachment:  true,
		Callback:    callback,
	}
}

// StreamedResponse sends a body of unknown length, flushed chunk by chunk.
// Once headers are out, failures can no longer reach the client: they end
// the stream and are logged instead. A StreamedResponse is single use.
type StreamedResponse struct {
	opts   StreamOptions
	state  atomic.Int32
	logger *slog.Logger
}

// NewStreamedResponse validates opts and creates the response
func NewStreamedResponse(opts StreamOptions, logger *slog.Logger) (*StreamedResponse, error) {
	if opts.Callback == nil {
		return nil, ErrCallbackRequired
	}
	if opts.ContentType == "" {
		opts.ContentType = DefaultStreamContentType
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamedResponse{
		opts:   opts,
		logger: logger.With(slog.String("component", "streamed_response")),
	}, nil
}

// State returns the current lifecycle state
func (s *StreamedResponse) State() StreamState {
	return StreamState(s.state.Load())
}

func (s *StreamedResponse) setState(state StreamState) {
	s.state.Store(int32(state))
}

// Send writes headers and, except for HEAD requests, the body. The error
// that ended the stream is returned for bookkeeping only; it has already
// been logged and the response is committed.
func (s *StreamedResponse) Send(w http.ResponseWriter, r *http.Request) (err error) {
	if s.State() != StateIdle {
		return fmt.Errorf("streamed response already sent (state %s)", s.State())
	}

	ctx := r.Context()
	rc := http.NewResponseController(w)
	defer s.setState(StateClosed)

	// Large exports run as long as the client keeps reading
	if derr := rc.SetWriteDeadline(time.Time{}); derr != nil && !errors.Is(derr, http.ErrNotSupported) {
		s.logger.DebugContext(ctx, "cannot clear write deadline", slog.String("error", derr.Error()))
	}

	s.writeHeaders(w)
	s.setState(StateHeadersSent)

	if ferr := rc.Flush(); ferr != nil && !errors.Is(ferr, http.ErrNotSupported) {
		err = &exporter.TransportError{Err: ferr}
		s.logStreamError(ctx, err)
		return err
	}

	if r.Method == http.MethodHead {
		return nil
	}

	s.setState(StateStreaming)
	flush := func() error {
		if ferr := rc.Flush(); ferr != nil && !errors.Is(ferr, http.ErrNotSupported) {
			return &exporter.TransportError{Err: ferr}
		}
		return nil
	}

	if err = s.opts.Callback(ctx, w, flush); err != nil {
		s.logStreamError(ctx, err)
	}
	return err
}

func (s *StreamedResponse) writeHeaders(w http.ResponseWriter) {
	h := w.Header()
	if s.opts.Attachment {
		h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", s.opts.FileName))
	}
	h.Set("X-Accel-Buffering", "no")
	h.Set("Content-Type", s.opts.ContentType)
	h.Set("Pragma", "public")
	h.Set("Cache-Control", "must-revalidate, post-check=0, pre-check=0")
	h.Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)
}

// logStreamError logs the error that ended a stream. A client that went
// away is a normal end of the stream.
func (s *StreamedResponse) logStreamError(ctx context.Context, err error) {
	attrs := []any{
		slog.String("file", s.opts.FileName),
		slog.String("error", err.Error()),
	}

	if errors.Is(err, context.Canceled) || exporter.IsTransportError(err) {
		s.logger.InfoContext(ctx, "export stream closed by client", attrs...)
		return
	}
	s.logger.Log(ctx, infrastructure.LevelCritical, "export stream failed", attrs...)
}
