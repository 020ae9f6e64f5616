package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/context"
)

const (
	HeaderTenantID = "X-Tenant-ID"
	HeaderUserID   = "X-User-ID"
)

// Context copies request metadata and the caller's tenant and actor headers into the request
// context. A request id is generated when the caller did not send one.
func Context() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			requestID := req.Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = uuid.New().String()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, requestID)

			ctx := req.Context()
			ctx = context.SetRequestID(ctx, requestID)
			ctx = context.SetMethod(ctx, req.Method)
			ctx = context.SetRoute(ctx, req.URL.Path)
			ctx = context.SetRemoteIP(ctx, c.RealIP())
			if tenantID := req.Header.Get(HeaderTenantID); tenantID != "" {
				ctx = context.SetTenantID(ctx, tenantID)
			}
			if userID := req.Header.Get(HeaderUserID); userID != "" {
				ctx = context.SetActorID(ctx, userID)
			}

			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}

// RequireTenant rejects requests without a valid tenant before any handler work.
func RequireTenant() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tenantID := context.GetTenantID(c.Request().Context())
			if tenantID == "" {
				return echo.NewHTTPError(401, "tenant is required")
			}
			if _, err := uuid.Parse(tenantID); err != nil {
				return echo.NewHTTPError(401, "tenant is invalid")
			}
			return next(c)
		}
	}
}
