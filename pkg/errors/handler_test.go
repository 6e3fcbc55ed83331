package errors

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestErrorHandler_AppErrorCarriesAssignedRequestID(t *testing.T) {
	handler := NewErrorHandler(zap.NewNop(), false)

	req := httptest.NewRequest("GET", "/api/v1/nodes/missing", nil)
	req = req.WithContext(context.WithValue(req.Context(), middleware.RequestIDKey, "req-123"))
	rec := httptest.NewRecorder()

	handler.Handle(rec, req, NewNotFoundError("node"))

	require.Equal(t, 404, rec.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(ErrorTypeNotFound), body.Type)
	assert.Equal(t, "req-123", body.RequestID)
}

func TestErrorHandler_UnknownErrorHidesDetail(t *testing.T) {
	handler := NewErrorHandler(zap.NewNop(), false)

	req := httptest.NewRequest("POST", "/api/v1/nodes", nil)
	rec := httptest.NewRecorder()

	handler.Handle(rec, req, errors.New("duckdb exploded"))

	require.Equal(t, 500, rec.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "An internal error occurred", body.Message)
	assert.NotContains(t, rec.Body.String(), "duckdb")
}
