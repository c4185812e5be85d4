package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/playground-runner/config"
	"github.com/isdmx/playground-runner/httpapi"
	"github.com/isdmx/playground-runner/logger"
	"github.com/isdmx/playground-runner/mcpserver"
	"github.com/isdmx/playground-runner/sandbox"
)

func main() {
	app := fx.New(
		fx.Provide(
			config.New,
			logger.NewFromConfig,
			sandbox.NewRunner,
			httpapi.New,
			mcpserver.New,
		),

		fx.Invoke(registerTransport),

		// Use the application logger for fx logs
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	app.Run()
}

// registerTransport starts the configured transport with the application
// and stops it on shutdown
func registerTransport(
	lc fx.Lifecycle,
	shutdowner fx.Shutdowner,
	cfg *config.Config,
	log *zap.Logger,
	httpServer *httpapi.Server,
	mcpServer *mcpserver.MCPServer,
) error {
	log.Info("configuration loaded",
		zap.String("server.transport", cfg.Server.Transport),
		zap.Int("server.http_port", cfg.Server.HTTPPort),
		zap.Bool("server.shared_secret_set", cfg.Server.SharedSecret != ""),
		zap.String("runner.work_root", cfg.Runner.WorkRoot),
		zap.Int("runner.default_timeout_ms", cfg.Runner.DefaultTimeoutMs),
		zap.Int("runner.max_timeout_ms", cfg.Runner.MaxTimeoutMs),
		zap.Int("runner.compile_timeout_ms", cfg.Runner.CompileTimeoutMs),
		zap.String("isolation.nsjail_path", cfg.Isolation.NsjailPath),
		zap.String("isolation.user", cfg.Isolation.User),
		zap.Int("isolation.memory_mb", cfg.Isolation.MemoryMB),
		zap.Bool("isolation.network_enabled", cfg.Isolation.NetworkEnabled),
	)

	switch cfg.Server.Transport {
	case config.TransportHTTP:
		lc.Append(fx.Hook{
			OnStart: httpServer.Start,
			OnStop:  httpServer.Shutdown,
		})
	case config.TransportStdio:
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go serveUntilDone(log, shutdowner, mcpServer.ServeStdio)
				return nil
			},
		})
	case config.TransportMCP:
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				go serveUntilDone(log, shutdowner, mcpServer.ServeHTTP)
				return nil
			},
			OnStop: mcpServer.Shutdown,
		})
	default:
		return fmt.Errorf("unsupported transport: %s", cfg.Server.Transport)
	}

	return nil
}

// serveUntilDone runs a blocking serve function and shuts the application
// down when it returns
func serveUntilDone(log *zap.Logger, shutdowner fx.Shutdowner, serve func() error) {
	if err := serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("transport stopped", zap.Error(err))
		_ = shutdowner.Shutdown(fx.ExitCode(1))
		return
	}
	_ = shutdowner.Shutdown()
}
