package middleware

import (
	"net/http"
	"slices"

	"github.com/labstack/echo/v4"
)

const roleAdmin = "admin"

// HasPermission reports whether user may perform permission. Admins may do
// everything.
func HasPermission(user *AppUser, permission string) bool {
	if user == nil {
		return false
	}
	return IsAdmin(user) || slices.Contains(user.Permissions, permission)
}

func IsAdmin(user *AppUser) bool {
	return user != nil && user.Role == roleAdmin
}

// RequirePermission rejects requests whose user lacks permission. It must run
// after AuthMiddleware.
func RequirePermission(permission string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ac, ok := c.(*AppContext)
			if !ok || ac.User == nil {
				return unauthorized(c)
			}
			if !HasPermission(ac.User, permission) {
				return c.JSON(http.StatusForbidden, map[string]string{"error": "missing permission " + permission})
			}
			return next(c)
		}
	}
}
