package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/meit-swami/jewellery/internal/config"
	"github.com/meit-swami/jewellery/internal/core"
	"github.com/meit-swami/jewellery/internal/telemetry"
)

const defaultConfigPath = "config/tryon.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	envFile := flag.String("env", ".env", "Optional dotenv file with TRYON_* overrides")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(*envFile); err != nil {
		slog.Debug("no dotenv file loaded, using process environment", "path", *envFile, "error", err)
	}

	slog.Info("starting try-on daemon",
		"config", *configPath,
		"debug", *debug,
	)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		slog.Error("failed to set up tracing", "error", err)
		os.Exit(1)
	}

	daemon, err := core.New(cfg, core.Options{})
	if err != nil {
		slog.Error("failed to create daemon", "error", err)
		os.Exit(1)
	}

	runErr := daemon.Run(ctx)
	if runErr != nil {
		slog.Error("daemon error", "error", runErr)
	} else if ctx.Err() != nil {
		slog.Info("received shutdown signal")
	} else {
		slog.Info("daemon stopped (via MQTT shutdown command)")
	}

	shutdownTimeout := daemon.ShutdownTimeout()
	slog.Info("shutting down gracefully", "timeout", shutdownTimeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	exitCode := 0
	if err := daemon.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown failed", "error", err)
		exitCode = 1
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Warn("tracing shutdown failed", "error", err)
	}
	if runErr != nil {
		exitCode = 1
	}
	if exitCode != 0 {
		os.Exit(exitCode)
	}

	slog.Info("try-on daemon stopped successfully")
}
