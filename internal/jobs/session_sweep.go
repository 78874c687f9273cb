package jobs

import (
	"context"
	"log/slog"
	"time"

	"examportal/internal/config"
)

const sweepBatchSize = 100

type Sweeper interface {
	SweepOverdue(ctx context.Context, batch int) (int, error)
}

// StartSessionSweepJob periodically completes sessions left open past their deadline.
func StartSessionSweepJob(ctx context.Context, cfg config.Config, sweeper Sweeper, logger *slog.Logger) {
	if !cfg.SessionSweepEnabled {
		return
	}
	if sweeper == nil {
		logger.Warn("session sweep job disabled: sweeper not configured")
		return
	}
	interval := cfg.SessionSweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	timeout := cfg.SessionSweepTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tickCtx, cancel := context.WithTimeout(ctx, timeout)
				completed, err := sweeper.SweepOverdue(tickCtx, sweepBatchSize)
				cancel()
				if err != nil {
					logger.Error("session sweep job error", slog.Any("error", err))
					continue
				}
				if completed > 0 {
					logger.Info("session sweep job completed sessions", slog.Int("count", completed))
				}
			}
		}
	}()
}
