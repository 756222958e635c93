package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(e *echo.Echo, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		redisErr   error
		wantCode   int
		wantStatus string
	}{
		{name: "all healthy", wantCode: http.StatusOK, wantStatus: "healthy"},
		{name: "redis down", redisErr: errors.New("connection refused"), wantCode: http.StatusServiceUnavailable, wantStatus: "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewChecker("test")
			checker.AddCheck("database", PingFunc(func(context.Context) error { return nil }))
			checker.AddCheck("redis", PingFunc(func(context.Context) error { return tt.redisErr }))
			e := echo.New()
			checker.RegisterRoutes(e)

			rec := serve(e, "/api/v1/health")
			assert.Equal(t, tt.wantCode, rec.Code)

			var status HealthStatus
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
			assert.Equal(t, tt.wantStatus, status.Status)
			assert.Equal(t, "healthy", status.Checks["database"].Status)
		})
	}
}

func TestLiveAndReady(t *testing.T) {
	checker := NewChecker("test")
	e := echo.New()
	checker.RegisterRoutes(e)

	assert.Equal(t, http.StatusOK, serve(e, "/api/v1/health/live").Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(e, "/api/v1/health/ready").Code)

	checker.SetReady(true)
	assert.Equal(t, http.StatusOK, serve(e, "/api/v1/health/ready").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	e := echo.New()
	NewChecker("test").RegisterRoutes(e)

	rec := serve(e, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
