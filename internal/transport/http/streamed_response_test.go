package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridexport/internal/exporter"
	"gridexport/internal/infrastructure"
	"gridexport/internal/shared/testutil"
)

// failingWriter accepts limit writes and fails every write after that
type failingWriter struct {
	*httptest.ResponseRecorder
	limit  int
	writes int
}

func (w *failingWriter) Write(b []byte) (int, error) {
	w.writes++
	if w.writes > w.limit {
		return 0, errors.New("write: broken pipe")
	}
	return w.ResponseRecorder.Write(b)
}

func chunks(parts ...string) StreamCallback {
	return func(ctx context.Context, out io.Writer, flush func() error) error {
		for _, p := range parts {
			if _, err := io.WriteString(out, p); err != nil {
				return &exporter.TransportError{Err: err}
			}
			if err := flush(); err != nil {
				return err
			}
		}
		return nil
	}
}

func TestNewStreamedResponse_RequiresCallback(t *testing.T) {
	_, err := NewStreamedResponse(StreamOptions{FileName: "export.csv"}, nil)
	assert.ErrorIs(t, err, ErrCallbackRequired)
}

func TestStreamedResponse_Headers(t *testing.T) {
	s, err := NewStreamedResponse(DefaultStreamOptions("export.csv", chunks("sku\n")), nil)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, s.State())

	w := httptest.NewRecorder()
	require.NoError(t, s.Send(w, httptest.NewRequest(http.MethodGet, "/api/export/product_listing/csv", nil)))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `attachment; filename="export.csv"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "no", w.Header().Get("X-Accel-Buffering"))
	assert.Equal(t, DefaultStreamContentType, w.Header().Get("Content-Type"))
	assert.Equal(t, "public", w.Header().Get("Pragma"))
	assert.Equal(t, "must-revalidate, post-check=0, pre-check=0", w.Header().Get("Cache-Control"))

	modified, err := time.Parse(http.TimeFormat, w.Header().Get("Last-Modified"))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), modified, time.Minute)

	assert.Equal(t, "sku\n", w.Body.String())
	assert.True(t, w.Flushed)
	assert.Equal(t, StateClosed, s.State())
}

func TestStreamedResponse_InlineWithoutDisposition(t *testing.T) {
	s, err := NewStreamedResponse(StreamOptions{Callback: chunks("{}\n")}, nil)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	require.NoError(t, s.Send(w, httptest.NewRequest(http.MethodGet, "/", nil)))
	assert.Empty(t, w.Header().Get("Content-Disposition"))
	assert.Equal(t, DefaultStreamContentType, w.Header().Get("Content-Type"))
}

func TestStreamedResponse_HeadSendsNoBody(t *testing.T) {
	called := false
	s, err := NewStreamedResponse(DefaultStreamOptions("export.jsonl", func(context.Context, io.Writer, func() error) error {
		called = true
		return nil
	}), nil)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	require.NoError(t, s.Send(w, httptest.NewRequest(http.MethodHead, "/api/export/product_listing/jsonl", nil)))

	assert.False(t, called)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, w.Body.Len())
	assert.NotEmpty(t, w.Header().Get("Last-Modified"))
	assert.Equal(t, StateClosed, s.State())
}

func TestStreamedResponse_StateDuringStreaming(t *testing.T) {
	var s *StreamedResponse
	var observed StreamState
	s, err := NewStreamedResponse(DefaultStreamOptions("export.csv", func(context.Context, io.Writer, func() error) error {
		observed = s.State()
		return nil
	}), nil)
	require.NoError(t, err)

	require.NoError(t, s.Send(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil)))
	assert.Equal(t, StateStreaming, observed)

	// single use
	assert.Error(t, s.Send(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil)))
}

func TestStreamedResponse_GenerationFailureIsCritical(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)
	s, err := NewStreamedResponse(DefaultStreamOptions("export.csv", func(ctx context.Context, out io.Writer, flush func() error) error {
		io.WriteString(out, "sku\n")
		flush()
		return errors.New("fetching page 2: connection reset by peer")
	}), logger)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	err = s.Send(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Error(t, err)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "sku\n", w.Body.String())
	assert.Len(t, logs.GetRecordsByLevel(infrastructure.LevelCritical), 1)
	assert.Equal(t, StateClosed, s.State())
}

func TestStreamedResponse_ClientGoneIsNotCritical(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"broken pipe", &exporter.TransportError{Err: errors.New("write: broken pipe")}},
		{"cancelled", context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, logs := testutil.NewTestLogger(t)
			s, err := NewStreamedResponse(DefaultStreamOptions("export.csv", func(context.Context, io.Writer, func() error) error {
				return tt.err
			}), logger)
			require.NoError(t, err)

			s.Send(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

			assert.Empty(t, logs.GetRecordsByLevel(infrastructure.LevelCritical))
			assert.True(t, logs.ContainsMessage("export stream closed by client"))
			assert.Equal(t, StateClosed, s.State())
		})
	}
}

func TestStreamedResponse_WriteFailureEndsStream(t *testing.T) {
	logger, logs := testutil.NewTestLogger(t)
	s, err := NewStreamedResponse(DefaultStreamOptions("export.csv", chunks("a\n", "b\n", "c\n")), logger)
	require.NoError(t, err)

	w := &failingWriter{ResponseRecorder: httptest.NewRecorder(), limit: 1}
	err = s.Send(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.True(t, exporter.IsTransportError(err))
	assert.Equal(t, "a\n", w.Body.String())
	assert.Empty(t, logs.GetRecordsByLevel(infrastructure.LevelCritical))
}

func TestStreamState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "headers_sent", StateHeadersSent.String())
	assert.Equal(t, "streaming", StateStreaming.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "StreamState(9)", StreamState(9).String())
}
