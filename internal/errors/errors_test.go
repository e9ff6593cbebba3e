package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/render"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIError(t *testing.T) {
	err := New(http.StatusBadRequest, "INVALID_PARAMETER", "format must be csv or jsonl")
	assert.Equal(t, "format must be csv or jsonl", err.Error())

	withDetails := NewWithDetails(http.StatusNotFound, "NOT_FOUND", "missing", map[string]string{"grid": "x"})
	assert.Equal(t, map[string]string{"grid": "x"}, withDetails.Details)

	var target *APIError
	require.True(t, stderrors.As(fmt.Errorf("wrap: %w", GridNotFoundError("customer_listing")), &target))
	assert.Equal(t, "GRID_NOT_FOUND", target.ErrorCode)
}

func TestPredefinedErrors(t *testing.T) {
	tests := []struct {
		err    *APIError
		status int
		code   string
	}{
		{ErrExportFileNotFound, http.StatusNotFound, "EXPORT_FILE_NOT_FOUND"},
		{ErrRateLimitExceeded, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED"},
		{ErrInternalServer, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR"},
		{ErrExportFailed, http.StatusInternalServerError, "EXPORT_FAILED"},
		{ErrServiceUnavailable, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.status, tt.err.StatusCode)
			assert.Equal(t, tt.code, tt.err.ErrorCode)
			assert.NotEmpty(t, tt.err.Message)
		})
	}

	assert.Equal(t, ExportFailedMessage, ErrExportFailed.Message)
}

func TestErrorHelpers(t *testing.T) {
	invalid := InvalidRequestWithError(fmt.Errorf("bad json"))
	assert.Equal(t, http.StatusBadRequest, invalid.StatusCode)
	assert.Equal(t, "bad json", invalid.Details)

	validation := ErrValidation("format", "unsupported")
	assert.Equal(t, ValidationError{Field: "format", Message: "unsupported"}, validation.Details)

	grid := GridNotFoundError("customer_listing")
	assert.Equal(t, `grid "customer_listing" not found`, grid.Message)

	many := NewValidationErrors([]ValidationError{{Field: "selected", Message: "dive"}})
	assert.Equal(t, ValidationErrors{Errors: []ValidationError{{Field: "selected", Message: "dive"}}}, many.Details)
}

func TestAPIError_Render(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	require.NoError(t, render.Render(w, r, ErrRateLimitExceeded))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	var body APIError
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", body.ErrorCode)
}

func TestAppError(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := NewStorageError("ping catalog database", cause).WithContext("driver", "mysql")

	assert.Equal(t, "[STORAGE] ping catalog database: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "mysql", err.Context["driver"])

	assert.Equal(t, "[VALIDATION] format must be csv or jsonl", NewAppValidationError("format must be csv or jsonl").Error())
	assert.Equal(t, ErrTypeExport, NewExportError("x", nil).Type)
	assert.Equal(t, ErrTypeValidation, NewAppValidationError("x").Type)
	assert.Equal(t, ErrTypePermission, NewPermissionError("x").Type)
	assert.Equal(t, ErrTypeConfig, NewConfigError("x", nil).Type)

	var bare AppError
	bare.WithContext("k", 1)
	assert.Equal(t, 1, bare.Context["k"])
}
