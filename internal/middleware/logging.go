// Package middleware provides Echo middleware for logging, metrics, rate
// limiting and security headers.
package middleware

import (
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
)

// ContextKeySubdomain is the echo context key under which the router stores
// the subdomain a request was routed for.
const ContextKeySubdomain = "subdomain"

// subdomain returns the routed subdomain, or "" for site traffic.
func subdomain(c echo.Context) string {
	s, _ := c.Get(ContextKeySubdomain).(string)
	return s
}

// RequestLogger returns an Echo middleware that logs each request with slog.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			attrs := []any{
				"method", req.Method,
				"host", req.Host,
				"path", req.URL.Path,
				"status", res.Status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"bytes_out", res.Size,
			}
			if sub := subdomain(c); sub != "" {
				attrs = append(attrs, "subdomain", sub)
			}
			logger.Info("request", attrs...)

			return err
		}
	}
}
