package main

import (
	"context"
	"errors"
	"fmt"
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

	"mask-proxy-go/internal/client"
	"mask-proxy-go/internal/config"
	"mask-proxy-go/internal/handler"
	"mask-proxy-go/internal/metrics"
	"mask-proxy-go/internal/middleware"
	"mask-proxy-go/internal/model"
	"mask-proxy-go/internal/rewrite"
	"mask-proxy-go/internal/service"
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
		kong.Name("mask-proxy"),
		kong.Description("Reverse proxy that presents an upstream site under a different origin."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			func() handler.StartTime { return handler.StartTime(time.Now()) },
			config.Load,
			newLogger,
			metrics.New,
			newRewriteContext,
			newRewriter,
			client.NewUpstreamClient,
			service.NewProxyService,
			handler.NewDispatcher,
			handler.NewProxyHandler,
			handler.NewHealthHandler,
			handler.NewSEOHandler,
			handler.NewErrorReporter,
			newEcho,
		),
		fx.Invoke(handler.RegisterRoutes, warnConfigPermissions, startServer),
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

func newRewriteContext(cfg *config.Config) (model.RewriteContext, error) {
	return cfg.RewriteContext()
}

func newRewriter(rc model.RewriteContext, cfg *config.Config) *rewrite.Rewriter {
	return rewrite.NewRewriter(rc, cfg.Rewrite.APIPrefixes)
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, reporter *handler.ErrorReporter) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = reporter.Handle

	if cfg.Server.TrustForwardedHeaders {
		e.IPExtractor = echo.ExtractIPFromXFFHeader()
	} else {
		e.IPExtractor = echo.ExtractIPDirect()
	}

	// Inbound timeouts to mitigate slow-client attacks.
	e.Server.ReadTimeout = 30 * time.Second
	// WriteTimeout stays disabled so long media streams are never cut off.
	// server.request_timeout_seconds bounds proxied requests instead.
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.RequestLogger(logger))
	e.Use(middleware.MetricsMiddleware(m))
	e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))

	if cfg.Server.RateLimit.Enabled {
		e.Use(middleware.RateLimiter(cfg.Server.RateLimit))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}
	if cfg.CORS.Enabled {
		e.Use(middleware.CORS(cfg.CORS))
		logger.Info("cors enabled", "origins", cfg.CORS.AllowOrigins)
	}
	if cfg.Server.SecurityHeaders {
		e.Use(middleware.SecurityHeaders())
	}

	return e
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, rc model.RewriteContext, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server",
				"addr", addr,
				"upstream", rc.UpstreamOrigin,
				"public_url", rc.PublicURL(),
			)
			go func() {
				if err := e.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
