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

func ok(context.Context) error   { return nil }
func down(context.Context) error { return errors.New("connection refused") }

func serve(t *testing.T, checker *Checker, path string) (int, Response) {
	t.Helper()
	e := echo.New()
	checker.RegisterRoutes(e)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func TestChecker(t *testing.T) {
	tests := []struct {
		name     string
		checks   map[string]PingFunc
		critical bool
		status   Status
		code     int
	}{
		{name: "all healthy", checks: map[string]PingFunc{"database": ok, "redis": ok}, critical: true, status: StatusHealthy, code: http.StatusOK},
		{name: "critical down", checks: map[string]PingFunc{"database": down}, critical: true, status: StatusUnhealthy, code: http.StatusServiceUnavailable},
		{name: "optional down", checks: map[string]PingFunc{"kafka": down}, critical: false, status: StatusDegraded, code: http.StatusOK},
		{name: "no checks", checks: map[string]PingFunc{}, status: StatusHealthy, code: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewChecker("test")
			for name, ping := range tt.checks {
				checker.AddCheck(name, ping, tt.critical)
			}
			checker.SetReady(true)

			code, resp := serve(t, checker, "/health/ready")
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.status, resp.Status)
			assert.Len(t, resp.Checks, len(tt.checks))
		})
	}
}

func TestReadiness_NotReady(t *testing.T) {
	checker := NewChecker("test")

	code, resp := serve(t, checker, "/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, resp.Checks, "startup")

	code, resp = serve(t, checker, "/health/live")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, StatusHealthy, resp.Status)
}
