package session

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically purges dead session records.
type Sweeper struct {
	svc      *Service
	interval time.Duration
	log      *slog.Logger

	// OnSwept, when set, receives the count of every successful pass.
	OnSwept func(n int)
}

// NewSweeper returns a sweeper ticking every interval. A zero interval yields
// a sweeper whose Run returns immediately.
func NewSweeper(svc *Service, interval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{svc: svc, interval: interval, log: logger}
}

// Run blocks until ctx is cancelled. Pass failures are logged and retried on
// the next tick.
func (w *Sweeper) Run(ctx context.Context) error {
	if w.interval <= 0 {
		return nil
	}

	t := time.NewTicker(w.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n, err := w.svc.Sweep(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				w.log.Warn("session.sweep.fail", "err", err)
				continue
			}
			if w.OnSwept != nil {
				w.OnSwept(n)
			}
		}
	}
}
