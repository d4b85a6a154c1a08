package main

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jkaninda/runbox/internal/config"
	"github.com/jkaninda/runbox/internal/gateway/httpapi"
	"github.com/jkaninda/runbox/internal/observability"
	"github.com/jkaninda/runbox/internal/ratelimit"
	"github.com/jkaninda/runbox/internal/runner"
	"github.com/jkaninda/runbox/internal/session"
	"github.com/jkaninda/runbox/internal/stream"
	goutils "github.com/jkaninda/go-utils"
)

var (
	serveConfigPath string
	serveListenAddr string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP execution service",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `runbox --config path` and `runbox serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&serveListenAddr, "listen", "", "override HTTP listen address (e.g. :8080)")
	}
}

// runServe starts the execution service: session registry, TTL sweeper,
// script runner, and HTTP gateway.
func runServe(_ *cobra.Command, _ []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(goutils.Env("RUNBOX_CONFIG", serveConfigPath))
	if err != nil {
		return err
	}

	// Apply CLI overrides.
	if serveListenAddr != "" {
		cfg.Server.ListenAddr = serveListenAddr
	}

	logger.Info("starting runbox",
		slog.String("config", serveConfigPath),
		slog.String("interpreter", cfg.Execution.ResolvedInterpreter()),
	)

	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return err
	}

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		obs.Shutdown(shutdownCtx)
	}()

	// Session registry and TTL sweeper.
	registry := session.New(session.Config{
		MaxSessions:   cfg.Sessions.MaxConcurrent,
		InputCapacity: cfg.Sessions.InputCapacity,
		TTL:           cfg.Sessions.TTL(),
	}, logger)
	if obs != nil && obs.Metrics != nil {
		registry.WithMetrics(session.NewMetrics(obs.Metrics.Registry))
	}

	stopSweeper, err := registry.StartSweeper(ctx)
	if err != nil {
		return err
	}
	defer stopSweeper()

	// Script runner.
	run, err := runner.New(runner.Config{
		Interpreter:  cfg.Execution.ResolvedInterpreter(),
		Timeout:      cfg.Execution.Timeout(),
		MemoryMB:     cfg.Execution.MemoryMB,
		OutputLimit:  cfg.Execution.OutputLimit(),
		PollInterval: cfg.Execution.StdinPoll(),
		TempDir:      cfg.Execution.ResolvedTempDir(),
	}, logger)
	if err != nil {
		return err
	}
	if obs != nil && obs.Metrics != nil {
		run.WithMetrics(runner.NewMetrics(obs.Metrics.Registry))
	}

	bridge := stream.New(registry, run, logger)

	// Rate limiter (0 = unlimited).
	limiter := ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerMinute: cfg.Server.RateLimit.RequestsPerMinute,
		BurstSize:         cfg.Server.RateLimit.BurstSize,
	})

	// Readiness depends on the interpreter being resolvable.
	if obs != nil && obs.Health != nil {
		interpreter := cfg.Execution.ResolvedInterpreter()
		obs.Health.AddCheck("interpreter", func(_ context.Context) error {
			_, err := exec.LookPath(interpreter)
			return err
		})
	}

	// HTTP gateway.
	gwCfg := httpapi.Config{
		ListenAddr: cfg.Server.ListenAddr,
		EnableDocs: cfg.Server.EnableDocs,
		APIKeys:    cfg.Server.APIKeys,
	}
	if obs != nil {
		gwCfg.Metrics = obs.Metrics
		gwCfg.HealthChecker = obs.Health
		if obs.Metrics != nil {
			gwCfg.MetricsRegistry = obs.Metrics.Registry
		}
		if obs.Tracer != nil {
			gwCfg.Tracer = obs.Tracer.Tracer()
		}
		if cfg.Observability != nil && cfg.Observability.Metrics != nil {
			gwCfg.MetricsPath = cfg.Observability.Metrics.Path
		}
	}
	gw := httpapi.NewGateway(gwCfg, registry, bridge, limiter, logger)

	errs := make(chan error, 1)
	go func() {
		errs <- gw.Start(ctx)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("gateway exited with error", slog.String("error", err.Error()))
		}
	}

	// Graceful shutdown with deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return gw.Stop(shutdownCtx)
}
