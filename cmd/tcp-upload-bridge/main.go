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
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"

	"tcp-upload-bridge/internal/bridge"
	"tcp-upload-bridge/internal/client"
	"tcp-upload-bridge/internal/config"
	"tcp-upload-bridge/internal/handler"
	"tcp-upload-bridge/internal/metrics"
	"tcp-upload-bridge/internal/middleware"
	"tcp-upload-bridge/internal/server"
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
		kong.Name("tcp-upload-bridge"),
		kong.Description("Accepts raw TCP uploads and forwards each as a streamed multipart POST."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			metrics.New,
			newEcho,
			client.NewUploadClient,
			func(c *client.UploadClient) bridge.Uploader { return c },
			bridge.NewWorker,
			func(w *bridge.Worker) server.Handler { return w },
			server.NewListener,
			func(l *server.Listener) handler.ConnectionCounter { return l },
			handler.NewHealthHandler,
		),
		fx.Invoke(handler.RegisterRoutes, warnConfigPermissions, startBridge, startAdmin),
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

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Server.ReadTimeout = 10 * time.Second
	e.Server.WriteTimeout = 30 * time.Second
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 5 * time.Second

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))
	e.Use(middleware.MetricsMiddleware(m, cfg.Admin.MetricsPath))

	return e
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

func startBridge(lc fx.Lifecycle, l *server.Listener, up *client.UploadClient, cfg *config.Config, logger *slog.Logger) {
	var ln net.Listener
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			var err error
			ln, err = l.Listen()
			if err != nil {
				return err
			}
			logger.Info("starting bridge",
				"addr", ln.Addr().String(),
				"upstream_url", cfg.Upstream.URL,
				"timeout", cfg.Listen.Timeout().String(),
				"timeout_is_eof", cfg.Listen.TimeoutIsEOF,
			)
			go func() {
				if err := l.Serve(context.Background(), ln); err != nil {
					logger.Error("bridge listener stopped", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(_ context.Context) error {
			logger.Info("shutting down bridge", "active_connections", l.Active())
			err := ln.Close()
			up.CloseIdleConnections()
			if err != nil && !errors.Is(err, net.ErrClosed) {
				return err
			}
			return nil
		},
	})
}

func startAdmin(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	if !cfg.Admin.Enabled {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Admin.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting admin server", "addr", addr, "metrics_path", cfg.Admin.MetricsPath)
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("admin server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down admin server")
			return e.Shutdown(ctx)
		},
	})
}
