package auth

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
)

// contextKey is used for storing values in context.
type contextKey string

// NodeClaimsKey is the context key the node's validated claims are stored
// under by RequireNodeToken.
const NodeClaimsKey contextKey = "node_claims"

// RequireNodeToken is Echo middleware for Hive endpoints that only a
// registered node may call: it validates the bearer token against secret
// and rejects the request otherwise.
func RequireNodeToken(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := ExtractBearerToken(c.Request().Header.Get("Authorization"))
			if token == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}

			claims, err := ValidateNodeToken(secret, token)
			if err != nil {
				slog.Warn("node auth failed", "error", err, "path", c.Path())
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid node token")
			}

			ctx := context.WithValue(c.Request().Context(), NodeClaimsKey, claims)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// NodeClaimsFromContext extracts the validated node claims set by
// RequireNodeToken. Returns nil if the middleware did not run.
func NodeClaimsFromContext(ctx context.Context) *NodeClaims {
	claims, _ := ctx.Value(NodeClaimsKey).(*NodeClaims)
	return claims
}
