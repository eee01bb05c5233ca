package middleware

import (
	"time"

	"github.com/labstack/echo/v4"

	"timebid/pkg/logger"
)

// RequestLogger writes one structured line per request through the
// service logger.
func RequestLogger(log logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			res := c.Response()
			fields := []interface{}{
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"method", req.Method,
				"path", req.URL.Path,
				"status", res.Status,
				"remote_ip", c.RealIP(),
				"latency_ms", time.Since(start).Milliseconds(),
			}
			if id := UserID(c); id != "" {
				fields = append(fields, "user_id", id)
			}
			if res.Status >= 500 {
				log.Warn("Request completed", fields...)
			} else {
				log.Info("Request completed", fields...)
			}
			return nil
		}
	}
}
