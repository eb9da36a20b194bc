// Package middleware provides Echo middleware for logging, metrics and
// header hygiene on the front server.
package middleware

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestLogger returns an Echo middleware that logs each request with slog.
// Server errors are logged at error level, client errors at warn.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()
			status := responseStatus(c, err)

			level := slog.LevelInfo
			switch {
			case status >= 500:
				level = slog.LevelError
			case status >= 400:
				level = slog.LevelWarn
			}

			attrs := []any{
				"method", req.Method,
				"uri", req.RequestURI,
				"status", status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"bytes_out", res.Size,
			}
			if err != nil {
				attrs = append(attrs, "err", err)
			}
			logger.Log(req.Context(), level, "request", attrs...)

			return err
		}
	}
}
