package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"gopkg.in/natefinch/lumberjack.v2"

	"agent-router/internal/config"
	"agent-router/internal/forward"
	"agent-router/internal/handler"
	"agent-router/internal/metrics"
	"agent-router/internal/middleware"
	"agent-router/internal/registry"
	"agent-router/internal/service"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("agent-router"),
		kong.Description("Routes agent subdomains to their registered backends."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(appOptions(&cli)...).Run()
}

// appOptions builds the dependency graph. Split out of main so the graph can
// be validated in tests.
func appOptions(cli *config.CLI) []fx.Option {
	return []fx.Option{
		fx.Provide(
			func() *config.CLI { return cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			newEcho,
			newDirectory,
			forward.NewDirect,
			forward.NewRewrite,
			newRouterService,
			newSiteHandler,
			handler.NewRouterHandler,
			handler.NewHealthHandler,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			l := &fxevent.SlogLogger{Logger: logger}
			l.UseLogLevel(slog.LevelDebug)
			return l
		}),
		fx.Invoke(handler.RegisterRoutes, warnConfigPermissions, startReloader, startServer),
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func newLogger(lc fx.Lifecycle, cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Log.Level)}

	var out io.Writer = os.Stdout
	if cfg.Log.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
			Compress:   true,
		}
		lc.Append(fx.StopHook(rotator.Close))
		out = rotator
	}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(out, opts)
	default:
		h = slog.NewJSONHandler(out, opts)
	}

	return slog.New(h)
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Inbound timeouts to mitigate slow-client attacks.
	e.Server.ReadTimeout = 30 * time.Second
	// No WriteTimeout: agent responses can stream for as long as
	// forward.timeout_seconds allows.
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.RequestLogger(logger))
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	e.Use(middleware.SecurityHeaders())

	if cfg.Server.RateLimit.Enabled {
		e.Use(middleware.RateLimiter(cfg.Server.RateLimit, logger))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	e.Use(middleware.MetricsMiddleware(m))

	return e
}

func newDirectory(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (registry.Directory, error) {
	switch cfg.Registry.Kind {
	case config.RegistryConsul:
		return registry.NewConsulDirectory(cfg, logger, m)
	default:
		return registry.NewHTTPDirectory(cfg, logger, m)
	}
}

func newRouterService(
	dir registry.Directory,
	direct *forward.Direct,
	rewrite *forward.Rewrite,
	cfg *config.Config,
	logger *slog.Logger,
	m *metrics.Metrics,
) *service.RouterService {
	return service.NewRouterService(dir, direct, rewrite, cfg, logger, m)
}

func newSiteHandler(cfg *config.Config, rewrite *forward.Rewrite, logger *slog.Logger) (*handler.SiteHandler, error) {
	return handler.NewSiteHandler(cfg, rewrite, logger)
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func startReloader(lc fx.Lifecycle, cfg *config.Config, svc *service.RouterService, logger *slog.Logger) {
	if !cfg.Reload.Enabled {
		return
	}
	r := config.NewReloader(cfg, logger)
	r.OnReload(svc.Apply)

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := r.Start(); err != nil {
				return fmt.Errorf("start config watcher: %w", err)
			}
			return nil
		},
		OnStop: func(_ context.Context) error {
			r.Stop()
			return nil
		},
	})
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server",
				"addr", addr,
				"root_domain", cfg.Domain.Root,
				"registry", cfg.Registry.Kind,
			)
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}
