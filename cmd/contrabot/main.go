package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alejandrodnm/contrabot/config"
)

type rootFlags struct {
	configPath string
	verbose    bool
	logFormat  string
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("contrabot exited with error", "err", err)
		cancel()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rf := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "contrabot",
		Short:         "Contrarian paper trading on a market commentator's videos",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&rf.configPath, "config", "config/config.yaml", "path to config file")
	cmd.PersistentFlags().BoolVar(&rf.verbose, "verbose", false, "set log level to debug")
	cmd.PersistentFlags().StringVar(&rf.logFormat, "format", "", "log format: text|json (overrides config)")

	cmd.AddCommand(
		newRunCmd(rf),
		newItemCmd(rf),
		newReportCmd(rf),
		newServeCmd(rf),
		newHistoryCmd(rf),
	)
	return cmd
}

// loadConfig carga la config y configura el logger global.
func loadConfig(rf *rootFlags) (*config.Config, error) {
	cfg, err := config.Load(rf.configPath)
	if err != nil {
		return nil, err
	}
	if rf.verbose {
		cfg.Log.Level = "debug"
	}
	if rf.logFormat != "" {
		cfg.Log.Format = rf.logFormat
	}
	setupLogger(cfg.Log)
	return cfg, nil
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Los reportes van a stdout; los logs a stderr para no mezclarlos.
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
