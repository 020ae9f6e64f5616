package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/labstack/echo/v4"

	appctx "github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/tracing"
)

type UserClaims struct {
	Sub      string `json:"sub"`
	Email    string `json:"email"`
	TenantID string `json:"tenant_id"`
	// Realm roles carry the tenant for identity providers that cannot add custom claims.
	RealmAccess struct {
		Roles []string `json:"realm_access_roles"`
	} `json:"realm_access"`
}

// tenant returns the tenant claim, falling back to the first realm role.
func (c UserClaims) tenant() string {
	if c.TenantID != "" {
		return c.TenantID
	}
	if len(c.RealmAccess.Roles) > 0 {
		return c.RealmAccess.Roles[0]
	}
	return ""
}

// TokenVerifier verifies a raw bearer token and decodes its claims.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (UserClaims, error)
}

type oidcVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier discovers the issuer's keys and verifies tokens issued for clientID.
func NewOIDCVerifier(ctx context.Context, issuer, clientID string) (TokenVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, err
	}
	return &oidcVerifier{verifier: provider.Verifier(&oidc.Config{ClientID: clientID})}, nil
}

func (v *oidcVerifier) Verify(ctx context.Context, raw string) (UserClaims, error) {
	var claims UserClaims
	idToken, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return claims, err
	}
	err = idToken.Claims(&claims)
	return claims, err
}

// Authentication requires a valid bearer token and sets the tenant and actor from its claims,
// overriding any identity headers.
func Authentication(logger ectologger.Logger, verifier TokenVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, span := tracing.StartSpan(c.Request().Context(), "middleware.Authentication")
			defer span.End()

			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				logger.WithContext(ctx).Warn("request is missing bearer token")
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer")
			}

			verifyCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			claims, err := verifier.Verify(verifyCtx, strings.TrimPrefix(auth, "Bearer "))
			if err != nil {
				logger.WithContext(ctx).WithError(err).Warn("token is invalid")
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			if claims.tenant() == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "token carries no tenant")
			}

			ctx = appctx.SetActorID(ctx, claims.Sub)
			ctx = appctx.SetTenantID(ctx, claims.tenant())
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}
