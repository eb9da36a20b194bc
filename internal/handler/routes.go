package handler

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
//
// Every method is routed to the proxy so that unsupported ones are rejected
// by the proxy itself. The bare mount path without its trailing slash is
// routed too and ends up as a path mismatch.
func RegisterRoutes(e *echo.Echo, mountPath string, proxy *ProxyHandler, health *HealthHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	base := strings.TrimSuffix(mountPath, "/")
	e.Any(base+"/*", proxy.Handle)
	if base != "" {
		e.Any(base, proxy.Handle)
	}
}
