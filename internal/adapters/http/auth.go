package http

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/samirrijal/geotrack/internal/adapters/auth"
	"github.com/samirrijal/geotrack/internal/core/domain"
	"github.com/samirrijal/geotrack/internal/core/usecases"
	"github.com/samirrijal/geotrack/internal/pkg/logging"
)

const claimsLocal = "claims"

// AuthMiddleware verifies the bearer token and stores the claims in Locals
// and in the user context.
func AuthMiddleware(v *auth.Verifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if v == nil {
			return errUnauthorized(c, "authentication is not configured")
		}
		header := c.Get(fiber.HeaderAuthorization)
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			return errUnauthorized(c, "missing bearer token")
		}
		claims, err := v.Verify(strings.TrimSpace(raw))
		if err != nil {
			return errUnauthorized(c, "invalid token")
		}

		c.Locals(claimsLocal, claims)
		ctx := auth.WithClaims(c.UserContext(), claims)
		ctx = logging.WithLogger(ctx, logging.FromContext(ctx).With("user_id", claims.UserID))
		c.SetUserContext(ctx)
		return c.Next()
	}
}

// RequireRole rejects callers whose role is not in roles.
func RequireRole(roles ...domain.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, ok := c.Locals(claimsLocal).(auth.Claims)
		if !ok {
			return errUnauthorized(c, "missing bearer token")
		}
		for _, r := range roles {
			if claims.Role == r {
				return c.Next()
			}
		}
		return errForbidden(c, "role "+string(claims.Role)+" may not call this endpoint")
	}
}

func callerFrom(c *fiber.Ctx) usecases.Caller {
	claims, _ := c.Locals(claimsLocal).(auth.Claims)
	return usecases.Caller{ID: claims.UserID, Role: claims.Role}
}
