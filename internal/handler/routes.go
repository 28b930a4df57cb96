package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"agent-router/internal/config"
	"agent-router/internal/metrics"
)

// RegisterRoutes wires all route handlers onto the Echo instance. The router
// middleware runs in front of every route, so subdomain traffic never reaches
// the site or health handlers.
func RegisterRoutes(
	e *echo.Echo,
	cfg *config.Config,
	router *RouterHandler,
	site *SiteHandler,
	health *HealthHandler,
	m *metrics.Metrics,
) {
	e.Use(router.Middleware())

	e.GET("/healthz", health.Healthz)
	e.GET("/router/status", health.Status)

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	e.Any("/*", site.Handle)
}
