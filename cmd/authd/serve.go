package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/appenteng/ai-assistant/cmd/internal/app"
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP auth server",
		Long: `Start the HTTP auth server. Runs until SIGINT or SIGTERM, then
drains in-flight requests and closes database and Redis connections.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log := loadConfig()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("app.init.fail", "err", err)
		return oops.Code("STARTUP_FAILED").With("operation", "wire app").Wrap(err)
	}

	if err := a.Run(ctx); err != nil {
		return oops.Code("SERVER_FAILED").With("addr", cfg.HTTPAddr).Wrap(err)
	}
	return nil
}
