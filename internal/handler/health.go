package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"agent-router/internal/config"
	"agent-router/internal/service"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	service *service.RouterService
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, svc *service.RouterService, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, service: svc, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns router status information. Domain, header and method policy
// reflect the settings currently in effect after any reload.
func (h *HealthHandler) Status(c echo.Context) error {
	st := h.service.Settings()
	return c.JSON(http.StatusOK, map[string]string{
		"status":            "ok",
		"version":           string(h.version),
		"root_domain":       st.RootDomain(),
		"registry":          h.cfg.Registry.Kind,
		"method_policy":     st.MethodPolicy(),
		"credential_header": st.CredentialHeader(),
	})
}
