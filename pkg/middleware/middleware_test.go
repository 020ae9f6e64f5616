package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/clover/internal/testhelpers"
	"github.com/Ramsey-B/clover/pkg/apperrors"
	appctx "github.com/Ramsey-B/clover/pkg/context"
)

const tenantID = "6f1c1f5e-3a55-4c1e-9f3e-7d0c8b7d2a11"

func newServer(t *testing.T, handler echo.HandlerFunc, mw ...echo.MiddlewareFunc) *echo.Echo {
	t.Helper()
	e := echo.New()
	e.HTTPErrorHandler = Error(testhelpers.Logger())
	e.Use(Context())
	e.GET("/test", handler, mw...)
	return e
}

func do(e *echo.Echo, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestContextCopiesHeaders(t *testing.T) {
	var got struct{ tenant, actor, requestID, method string }
	e := newServer(t, func(c echo.Context) error {
		ctx := c.Request().Context()
		got.tenant = appctx.GetTenantID(ctx)
		got.actor = appctx.GetActorID(ctx)
		got.requestID = appctx.GetRequestID(ctx)
		got.method = appctx.GetMethod(ctx)
		return c.NoContent(http.StatusNoContent)
	})

	rec := do(e, map[string]string{
		HeaderTenantID:        tenantID,
		HeaderUserID:          "user-1",
		echo.HeaderXRequestID: "req-1",
	})

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, tenantID, got.tenant)
	assert.Equal(t, "user-1", got.actor)
	assert.Equal(t, "req-1", got.requestID)
	assert.Equal(t, http.MethodGet, got.method)
	assert.Equal(t, "req-1", rec.Header().Get(echo.HeaderXRequestID))
}

func TestContextGeneratesRequestID(t *testing.T) {
	e := newServer(t, func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })
	rec := do(e, nil)
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
}

func TestRequireTenant(t *testing.T) {
	tests := []struct {
		name   string
		tenant string
		code   int
	}{
		{name: "missing", tenant: "", code: http.StatusUnauthorized},
		{name: "malformed", tenant: "acme", code: http.StatusUnauthorized},
		{name: "valid", tenant: tenantID, code: http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newServer(t, func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }, RequireTenant())
			headers := map[string]string{}
			if tt.tenant != "" {
				headers[HeaderTenantID] = tt.tenant
			}
			assert.Equal(t, tt.code, do(e, headers).Code)
		})
	}
}

func TestErrorHandler(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		code    int
		message string
		meta    map[string]any
	}{
		{name: "echo error", err: echo.NewHTTPError(http.StatusNotFound, "route not found"), code: http.StatusNotFound, message: "route not found"},
		{name: "http error", err: httperror.NewHTTPError(http.StatusConflict, "already pending"), code: http.StatusConflict, message: "already pending"},
		{name: "validation", err: apperrors.NewValidationError("entity_type", "is required"), code: http.StatusBadRequest, meta: map[string]any{"field": "entity_type"}},
		{name: "unknown", err: errors.New("pq: connection reset"), code: http.StatusInternalServerError, message: "Internal Server Error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newServer(t, func(echo.Context) error { return tt.err })
			rec := do(e, map[string]string{echo.HeaderXRequestID: "req-2"})

			assert.Equal(t, tt.code, rec.Code)
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, "req-2", resp.RequestID)
			if tt.message != "" {
				assert.Equal(t, tt.message, resp.Message)
			}
			for k, v := range tt.meta {
				assert.Equal(t, v, resp.Meta[k])
			}
		})
	}
}

type fakeVerifier struct {
	claims UserClaims
	err    error
}

func (f fakeVerifier) Verify(context.Context, string) (UserClaims, error) {
	return f.claims, f.err
}

func TestAuthentication(t *testing.T) {
	withTenant := UserClaims{Sub: "user-9", TenantID: tenantID}
	withRole := UserClaims{Sub: "user-9"}
	withRole.RealmAccess.Roles = []string{tenantID}

	tests := []struct {
		name     string
		header   string
		verifier fakeVerifier
		code     int
	}{
		{name: "missing bearer", header: "", verifier: fakeVerifier{claims: withTenant}, code: http.StatusUnauthorized},
		{name: "invalid token", header: "Bearer x", verifier: fakeVerifier{err: errors.New("expired")}, code: http.StatusUnauthorized},
		{name: "no tenant", header: "Bearer x", verifier: fakeVerifier{claims: UserClaims{Sub: "user-9"}}, code: http.StatusUnauthorized},
		{name: "tenant claim", header: "Bearer x", verifier: fakeVerifier{claims: withTenant}, code: http.StatusOK},
		{name: "role fallback", header: "Bearer x", verifier: fakeVerifier{claims: withRole}, code: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tenant, actor string
			e := newServer(t, func(c echo.Context) error {
				tenant = appctx.GetTenantID(c.Request().Context())
				actor = appctx.GetActorID(c.Request().Context())
				return c.NoContent(http.StatusOK)
			}, Authentication(testhelpers.Logger(), tt.verifier))

			headers := map[string]string{HeaderTenantID: "spoofed"}
			if tt.header != "" {
				headers["Authorization"] = tt.header
			}
			rec := do(e, headers)

			assert.Equal(t, tt.code, rec.Code)
			if tt.code == http.StatusOK {
				assert.Equal(t, tenantID, tenant)
				assert.Equal(t, "user-9", actor)
			}
		})
	}
}
