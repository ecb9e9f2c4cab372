package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/appenteng/ai-assistant/cmd/internal/app"
)

// NewSweepCmd creates the sweep subcommand.
func NewSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Purge expired and revoked sessions once",
		Long: `Delete session records that expired or were revoked longer than
AUTH_SWEEP_RETENTION ago, then exit. Useful from cron when the in-process
sweeper is disabled with AUTH_SWEEP_INTERVAL=0.`,
		RunE: runSweep,
	}
}

func runSweep(cmd *cobra.Command, _ []string) error {
	cfg, log := loadConfig()
	ctx := cmd.Context()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return oops.Code("STARTUP_FAILED").With("operation", "wire app").Wrap(err)
	}
	defer a.Close()

	n, err := a.SweepOnce(ctx)
	if err != nil {
		return oops.Code("SWEEP_FAILED").With("backend", cfg.Backend()).Wrap(err)
	}
	cmd.Printf("Purged %d session(s)\n", n)
	return nil
}
