package middleware

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"contents-proxy-go/internal/config"
)

// RateLimiter returns a per-client-IP rate limiting middleware backed by an
// in-memory token bucket store. /healthz is never limited.
func RateLimiter(cfg config.RateLimitConfig, logger *slog.Logger) echo.MiddlewareFunc {
	store := echomw.NewRateLimiterMemoryStoreWithConfig(echomw.RateLimiterMemoryStoreConfig{
		Rate: rate.Limit(cfg.RequestsPerSecond),
	})

	return echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/healthz"
		},
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		DenyHandler: func(c echo.Context, identifier string, _ error) error {
			logger.Warn("rate limited",
				"remote_ip", identifier,
				"uri", c.Request().RequestURI,
			)
			return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
		},
	})
}
