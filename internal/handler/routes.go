package handler

import (
	"github.com/labstack/echo/v4"

	"tcp-upload-bridge/internal/config"
	"tcp-upload-bridge/internal/metrics"
)

// RegisterRoutes wires all admin route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, health *HealthHandler, m *metrics.Metrics) {
	e.GET("/healthz", health.Healthz)
	e.GET("/bridge/status", health.Status)
	e.GET(cfg.Admin.MetricsPath, echo.WrapHandler(m.Handler()))
}
