package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	sup     Backend
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(sup Backend, v Version) *HealthHandler {
	return &HealthHandler{sup: sup, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns shim status information.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":        "ok",
		"version":       string(h.version),
		"backend_state": string(h.sup.State()),
		"backend_pid":   h.sup.PID(),
		"socket":        h.sup.SocketPath(),
	})
}
