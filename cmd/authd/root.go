package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/appenteng/ai-assistant/cmd/internal/app"
)

// Global flags overriding AUTH_LOG_LEVEL and AUTH_LOG_FORMAT.
var (
	logLevel  string
	logFormat string
)

// NewRootCmd creates the root command for the authd CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "authd",
		Short: "authd - credential and session token service",
		Long: `authd registers users, verifies passwords and issues rotating
access/refresh token pairs backed by in-memory, Postgres or Redis session stores.
All settings are read from AUTH_* environment variables.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (json, text, pretty)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewSweepCmd())
	cmd.AddCommand(NewKeygenCmd())

	return cmd
}

// loadConfig reads the environment and applies flag overrides.
func loadConfig() (app.Config, *slog.Logger) {
	cfg := app.LoadConfig()
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}
	return cfg, app.NewLogger(cfg.LogLevel, cfg.LogFormat)
}
