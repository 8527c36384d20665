package auth

import (
	"net/http"
	"strings"

	"github.com/docslot/docslot/pkg/apperr"
	"github.com/labstack/echo/v4"
)

// RequireRole allows callers holding one of roles. Admin always passes.
func RequireRole(roles ...Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, ok := IdentityFromContext(c.Request().Context())
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			if id.IsAdmin() {
				return next(c)
			}
			for _, r := range roles {
				if id.Role == r {
					return next(c)
				}
			}
			names := make([]string, len(roles))
			for i, r := range roles {
				names[i] = string(r)
			}
			return apperr.ErrNotAuthorized.WithMessage("required role: " + strings.Join(names, " or "))
		}
	}
}

// Caller returns the identity on the request, or NotAuthorized when the
// route was mounted without authentication.
func Caller(c echo.Context) (Identity, error) {
	id, ok := IdentityFromContext(c.Request().Context())
	if !ok {
		return Identity{}, apperr.ErrNotAuthorized.WithMessage("authentication required")
	}
	return id, nil
}
