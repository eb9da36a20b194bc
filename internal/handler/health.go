package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"contents-proxy-go/internal/service"
)

// Version is a string type for dependency injection of the build version.
type Version string

// StatusResponse is the body of /proxy/status.
type StatusResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	MountPath    string `json:"mount_path"`
	BackendURL   string `json:"backend_url"`
	RewriteRules int    `json:"rewrite_rules"`
}

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	proxy   *service.ReverseProxy
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(proxy *service.ReverseProxy, v Version) *HealthHandler {
	return &HealthHandler{proxy: proxy, version: v}
}

// Healthz returns a simple OK response for liveness checks.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status returns proxy status information.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, StatusResponse{
		Status:       "ok",
		Version:      string(h.version),
		MountPath:    h.proxy.BasePath(),
		BackendURL:   h.proxy.BackendURL(),
		RewriteRules: h.proxy.Rules().Len(),
	})
}
