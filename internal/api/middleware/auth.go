package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// HeaderUserID is set by the upstream auth gateway.
const HeaderUserID = "X-User-ID"

const userIDKey = "user_id"

// Identity copies the caller id from the gateway header into the context.
// Requests without one pass through anonymously.
func Identity() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if id := strings.TrimSpace(c.Request().Header.Get(HeaderUserID)); id != "" {
				c.Set(userIDKey, id)
			}
			return next(c)
		}
	}
}

// RequireIdentity rejects anonymous requests with 401. It expects Identity
// to have run first.
func RequireIdentity() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if UserID(c) == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "authentication required"})
			}
			return next(c)
		}
	}
}

// UserID returns the authenticated caller, or "" for anonymous requests.
func UserID(c echo.Context) string {
	id, _ := c.Get(userIDKey).(string)
	return id
}
