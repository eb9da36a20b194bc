package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"contents-proxy-go/internal/client"
	"contents-proxy-go/internal/config"
	"contents-proxy-go/internal/handler"
	"contents-proxy-go/internal/metrics"
	"contents-proxy-go/internal/middleware"
	"contents-proxy-go/internal/rewrite"
	"contents-proxy-go/internal/server"
	"contents-proxy-go/internal/service"
	"contents-proxy-go/internal/static"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Env-backed flags may come from a local .env file.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}

	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("contents-proxy"),
		kong.Description("Reverse proxy serving a local contents backend under a mount path."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With("component", "fx")}
		}),
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			newMetrics,
			newRuleSet,
			newEcho,
			fx.Annotate(client.NewBackendClient, fx.As(new(service.Forwarder))),
			service.NewReverseProxy,
			handler.NewProxyHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(registerRoutes, warnConfigPermissions, startServers),
	).Run()
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

func newMetrics(cfg *config.Config) *metrics.Metrics {
	return metrics.New(cfg.Mount.Path, cfg.Metrics.Path)
}

func newRuleSet(cfg *config.Config, logger *slog.Logger) *rewrite.RuleSet {
	rules := rewrite.Compile(cfg.Mount.RewriteRules, logger.With("component", "rewrite"))
	for i, r := range rules.Rules() {
		logger.Debug("rewrite rule", "index", i, "source", r.Source, "dest", r.Dest)
	}
	return rules
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.Recover())
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.RequestLogger(logger.With("component", "access")))
	e.Use(middleware.MetricsMiddleware(m))
	// Request bodies reach the proxy decoded; the limit applies to the decoded size.
	e.Use(echomw.Decompress())
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	e.Use(middleware.SecurityHeaders())

	if cfg.Server.RateLimit.Enabled {
		e.Use(middleware.RateLimiter(cfg.Server.RateLimit, logger))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	return e
}

func registerRoutes(e *echo.Echo, cfg *config.Config, m *metrics.Metrics, proxy *handler.ProxyHandler, health *handler.HealthHandler) {
	handler.RegisterRoutes(e, cfg.Mount.Path, proxy, health)
	if cfg.Metrics.Enabled {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

// startServers registers the backend before the front server, so fx starts
// the backend first and stops it last.
func startServers(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	if backend := static.NewServer(cfg, logger); backend != nil {
		lc.Append(fx.Hook{
			OnStart: backend.Start,
			OnStop:  backend.Stop,
		})
	}

	front := server.New("front", cfg.Server.Addr(), e, logger)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := front.Start(ctx); err != nil {
				return err
			}
			logger.Info("contents-proxy started",
				"mount", cfg.Mount.Path,
				"backend", fmt.Sprintf("http://localhost:%d", cfg.Backend.Port),
				"addr", front.Addr(),
			)
			return nil
		},
		OnStop: front.Stop,
	})
}
