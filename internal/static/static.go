// Package static implements the bundled backend: a plain file server for a
// public directory, reachable by the proxy over loopback.
package static

import (
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"contents-proxy-go/internal/config"
	"contents-proxy-go/internal/server"
)

// NewHandler returns an Echo instance serving files under root to GET and HEAD
// requests, with index.html as the directory index and directory listings
// disabled. One access log line
// per request is written to access.
func NewHandler(root string, access io.Writer) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(AccessLog(access))
	e.Use(echomw.Recover())
	e.Use(echomw.StaticWithConfig(echomw.StaticConfig{
		Skipper: func(c echo.Context) bool {
			m := c.Request().Method
			return m != http.MethodGet && m != http.MethodHead
		},
		Root:   root,
		Index:  "index.html",
		Browse: false,
	}))

	// Anything the static middleware did not serve is a miss.
	e.Any("/*", func(echo.Context) error {
		return echo.ErrNotFound
	})
	return e
}

// NewServer builds the backend server bound to the loopback backend address.
// It returns nil when the bundled backend is disabled.
func NewServer(cfg *config.Config, logger *slog.Logger) *server.Server {
	if cfg.Static.Disabled {
		logger.Info("bundled static backend disabled", "backend", cfg.Backend.Addr())
		return nil
	}
	logger.Info("serving static files", "root", cfg.Static.Root, "addr", cfg.Backend.Addr())
	return server.New("static", cfg.Backend.Addr(), NewHandler(cfg.Static.Root, os.Stdout), logger)
}
