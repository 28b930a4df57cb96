package middleware

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"agent-router/internal/config"
)

// RateLimiter returns a per-client-IP rate limiting middleware. Liveness
// probes are never limited.
func RateLimiter(cfg config.RateLimitConfig, logger *slog.Logger) echo.MiddlewareFunc {
	store := echomw.NewRateLimiterMemoryStore(rate.Limit(cfg.RequestsPerSecond))
	return echomw.RateLimiterWithConfig(echomw.RateLimiterConfig{
		Skipper: func(c echo.Context) bool {
			return c.Request().URL.Path == "/healthz"
		},
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return c.String(http.StatusForbidden, http.StatusText(http.StatusForbidden))
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			logger.Warn("rate limited", "remote_ip", identifier, "host", c.Request().Host)
			return c.String(http.StatusTooManyRequests, http.StatusText(http.StatusTooManyRequests))
		},
	})
}
