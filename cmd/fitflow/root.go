package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fitflow/fitflow/internal/config"
	"github.com/fitflow/fitflow/pkg/fitflow"
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:     "fitflow",
	Short:   "FitFlow - offline-first nutrition tracking agent",
	Version: Version,
	RunE:    run,
}

// run starts the client in the foreground: background sync, connectivity
// probing, and retention sweeps, until SIGTERM/SIGINT.
func run(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	initLogger(cfg)
	slog.Info("configuration loaded", "db_path", cfg.Database.Path)

	client, err := fitflow.New(cfg)
	if err != nil {
		return err
	}
	slog.Info("client initialized", "api_url", cfg.Gateway.BaseURL)

	if err := client.Start(ctx); err != nil {
		client.Close()
		return err
	}

	<-ctx.Done()
	slog.Info("shutdown initiated")

	if err := client.Close(); err != nil {
		slog.Error("client close error", "error", err)
		return err
	}

	slog.Info("shutdown complete")
	return nil
}

func initLogger(cfg *config.Config) {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)}

	var handler slog.Handler
	if cfg.Log.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
