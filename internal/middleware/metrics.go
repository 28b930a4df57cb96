package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"agent-router/internal/metrics"
)

// MetricsMiddleware counts and times inbound requests. Requests the router
// handled for an agent subdomain share the "agent" path label, so agent
// paths never reach the label set.
func MetricsMiddleware(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()
			err := next(c)

			code := c.Response().Status
			// Site 404/502 and BodyLimit 413 come back as errors and are
			// written later by echo.
			var he *echo.HTTPError
			if err != nil && errors.As(err, &he) {
				code = he.Code
			}

			path := metrics.PathAgent
			if subdomain(c) == "" {
				path = metrics.NormalizePath(c.Request().URL.Path)
			}
			labels := []string{metrics.NormalizeMethod(c.Request().Method), strconv.Itoa(code), path}

			m.RequestsTotal.WithLabelValues(labels...).Inc()
			m.RequestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())

			return err
		}
	}
}
