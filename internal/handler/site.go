package handler

import (
	"fmt"
	"log/slog"
	"net/url"

	"github.com/labstack/echo/v4"

	"agent-router/internal/config"
	"agent-router/internal/forward"
)

// SiteHandler serves everything that is not routed to an agent: the root
// domain, its www variant, and bypassed paths. With a configured origin it
// proxies there; without one it answers 404.
type SiteHandler struct {
	origin    string
	forwarder forward.Strategy
	logger    *slog.Logger
}

// NewSiteHandler creates a SiteHandler that forwards through fw.
func NewSiteHandler(cfg *config.Config, fw forward.Strategy, logger *slog.Logger) (*SiteHandler, error) {
	if cfg.Site.Origin != "" {
		u, err := url.Parse(cfg.Site.Origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid site origin %q", cfg.Site.Origin)
		}
	}
	return &SiteHandler{
		origin:    cfg.Site.Origin,
		forwarder: fw,
		logger:    logger.With("component", "site_handler"),
	}, nil
}

// Handle proxies the request to the site origin.
func (h *SiteHandler) Handle(c echo.Context) error {
	if h.origin == "" {
		return echo.ErrNotFound
	}

	req := c.Request()
	fr, err := forward.NewRequest(req, h.origin)
	if err != nil {
		h.logger.Error("build site request", "err", err, "path", req.URL.Path)
		return echo.ErrInternalServerError
	}

	if err := h.forwarder.Forward(c.Response(), req, fr); err != nil {
		h.logger.Error("site origin unreachable",
			"err", err,
			"target", fr.Target,
		)
		if c.Response().Committed {
			return nil
		}
		return echo.ErrBadGateway
	}
	return nil
}
