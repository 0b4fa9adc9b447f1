// Package handler serves the admin HTTP endpoints: liveness, bridge status
// and Prometheus metrics.
package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"tcp-upload-bridge/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// ConnectionCounter reports how many client connections are being bridged.
type ConnectionCounter interface {
	Active() int64
}

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
	conns   ConnectionCounter
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version, conns ConnectionCounter) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v, conns: conns}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns the effective bridge configuration and live connection count.
func (h *HealthHandler) Status(c echo.Context) error {
	var active int64
	if h.conns != nil {
		active = h.conns.Active()
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":             "ok",
		"version":            string(h.version),
		"upstream_url":       h.cfg.Upstream.URL,
		"listen_addr":        h.cfg.Listen.Addr(),
		"timeout_seconds":    h.cfg.Listen.Timeout().Seconds(),
		"timeout_is_eof":     h.cfg.Listen.TimeoutIsEOF,
		"active_connections": active,
	})
}
