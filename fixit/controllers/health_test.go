package controllers

import (
	"context"
	"encoding/json"
	"fixit/fixit/utils/types"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthCheck(t *testing.T) {
	hc := NewHealthController(pingFunc(func(context.Context) error { return nil }))
	hc.now = func() time.Time { return time.Date(2025, 8, 14, 9, 30, 0, 0, time.UTC) }
	req := httptest.NewRequest("GET", "/", nil)
	rr := httptest.NewRecorder()

	hc.HealthCheck(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"ok","timestamp":"2025-08-14T09:30:00Z"}`, rr.Body.String())
}

func TestHealthCheckStorageDown(t *testing.T) {
	hc := NewHealthController(pingFunc(func(context.Context) error { return assert.AnError }))
	rr := httptest.NewRecorder()

	hc.HealthCheck(rr, httptest.NewRequest("GET", "/", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	var body types.HealthResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "unavailable", body.Storage)
}
