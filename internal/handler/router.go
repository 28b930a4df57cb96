package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"agent-router/internal/metrics"
	"agent-router/internal/middleware"
	"agent-router/internal/page"
	"agent-router/internal/registry"
	"agent-router/internal/route"
	"agent-router/internal/service"
)

// Plain-text bodies for router errors.
const (
	msgFetchAgentFailed  = "Failed to fetch agent"
	msgFetchDeviceFailed = "Failed to fetch device"
	msgAgentNotFound     = "Agent not found"
	msgDeviceNotFound    = "Device not found or inactive"
	msgMethodNotAllowed  = "Method Not Allowed"
	msgInternalError     = "Internal Server Error"
)

// RouterHandler routes requests for agent subdomains to their backends.
type RouterHandler struct {
	service *service.RouterService
	skipper echomw.Skipper
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewRouterHandler creates a RouterHandler. The metrics parameter is optional.
func NewRouterHandler(svc *service.RouterService, logger *slog.Logger, m *metrics.Metrics) *RouterHandler {
	return &RouterHandler{
		service: svc,
		skipper: func(c echo.Context) bool {
			return route.Bypass(c.Request().URL.Path)
		},
		logger:  logger.With("component", "router_handler"),
		metrics: m,
	}
}

// Middleware returns the echo middleware that intercepts subdomain traffic.
// Requests on the bypass list or without a subdomain reach next unchanged.
func (h *RouterHandler) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if h.skipper(c) {
				return next(c)
			}
			st := h.service.Settings()
			sub, ok := st.Classify(c.Request().Host)
			if !ok {
				h.outcome(metrics.OutcomePassThrough)
				return next(c)
			}
			c.Set(middleware.ContextKeySubdomain, sub)
			return h.serve(c, sub, st)
		}
	}
}

// serve runs the pipeline for one subdomain request under the settings
// snapshot st. Panics and unexpected errors end as a plain 500.
func (h *RouterHandler) serve(c echo.Context, sub string, st *service.Settings) (err error) {
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		if rec == http.ErrAbortHandler {
			panic(rec)
		}
		h.logger.Error("router panic",
			"subdomain", sub,
			"panic", fmt.Sprint(rec),
			"stack", string(debug.Stack()),
		)
		err = h.internalError(c)
	}()

	req := c.Request()
	log := h.logger.With(
		"subdomain", sub,
		"method", req.Method,
		"path", req.URL.Path,
		"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
	)

	rt, err := h.service.Resolve(req.Context(), sub)
	if err != nil {
		return h.lookupError(c, log, err)
	}
	log = log.With("backend", rt.Backend.ID)

	if req.Method == http.MethodGet {
		return h.instructions(c, log, h.service.Instructions(rt, req, st))
	}

	if !st.Allowed(req.Method) {
		h.outcome(metrics.OutcomeMethodNotAllowed)
		c.Response().Header().Set(echo.HeaderAllow, "GET, POST")
		return c.String(http.StatusMethodNotAllowed, msgMethodNotAllowed)
	}

	fr, err := h.service.BuildForwardRequest(req, rt, st)
	if err != nil {
		// BodyLimit reports oversized bodies as *echo.HTTPError (413).
		var he *echo.HTTPError
		if errors.As(err, &he) {
			h.outcome(metrics.OutcomeError)
			return he
		}
		log.Error("build forward request", "err", err)
		return h.internalError(c)
	}
	log = log.With("target", fr.Target)

	if err := h.service.Forward(c.Response(), req, fr, st); err != nil {
		if c.Response().Committed {
			log.Error("forward failed after response started", "err", err)
			h.outcome(metrics.OutcomeError)
			return nil
		}
		log.Error("forward failed", "err", err)
		return h.internalError(c)
	}

	h.outcome(metrics.OutcomeForwarded)
	log.Debug("forwarded", "status", c.Response().Status)
	return nil
}

func (h *RouterHandler) instructions(c echo.Context, log *slog.Logger, data page.Instructions) error {
	c.Response().Header().Set(echo.HeaderContentType, page.ContentType)
	c.Response().WriteHeader(http.StatusOK)
	if err := page.Render(c.Response(), data); err != nil {
		log.Error("render instructions", "err", err)
		h.outcome(metrics.OutcomeError)
		return nil
	}
	h.outcome(metrics.OutcomeInstructions)
	return nil
}

// lookupError maps a registry failure to its response.
func (h *RouterHandler) lookupError(c echo.Context, log *slog.Logger, err error) error {
	var le *service.LookupError
	stage := ""
	if errors.As(err, &le) {
		stage = le.Stage
	}

	switch {
	case errors.Is(err, registry.ErrEntryNotFound):
		log.Info("entry not found", "err", err)
		h.outcome(metrics.OutcomeEntryNotFound)
		return c.String(http.StatusNotFound, msgAgentNotFound)

	case errors.Is(err, registry.ErrBackendNotFound):
		log.Info("backend not found or inactive", "err", err)
		h.outcome(metrics.OutcomeBackendNotFound)
		return c.String(http.StatusNotFound, msgDeviceNotFound)

	case errors.Is(err, registry.ErrLookupTransport) && stage == registry.StageEntry:
		log.Error("entry lookup failed", "err", err)
		h.outcome(metrics.OutcomeLookupError)
		return c.String(http.StatusInternalServerError, msgFetchAgentFailed)

	case errors.Is(err, registry.ErrLookupTransport) && stage == registry.StageBackend:
		log.Error("backend lookup failed", "err", err)
		h.outcome(metrics.OutcomeLookupError)
		return c.String(http.StatusInternalServerError, msgFetchDeviceFailed)
	}

	log.Error("resolve failed", "err", err)
	return h.internalError(c)
}

func (h *RouterHandler) internalError(c echo.Context) error {
	h.outcome(metrics.OutcomeError)
	if c.Response().Committed {
		return nil
	}
	return c.String(http.StatusInternalServerError, msgInternalError)
}

func (h *RouterHandler) outcome(o string) {
	if h.metrics != nil {
		h.metrics.RouteOutcomes.WithLabelValues(o).Inc()
	}
}
