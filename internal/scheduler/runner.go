// Package scheduler drives the periodic retention sweep.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"tg_ghost_buster_bot/internal/feature/sweep"
	"tg_ghost_buster_bot/internal/logging"
)

type sweepRunner interface {
	Run(ctx context.Context, now time.Time) (sweep.Report, error)
}

// Runner invokes the sweeper once per configured interval until its context
// is canceled. Tick times are passed to the sweeper as the reference "now" so
// the sweep itself stays deterministic under a fixed clock.
type Runner struct {
	interval time.Duration
	sweeper  sweepRunner
	logger   *logrus.Entry
}

// NewRunner constructs a Runner with the given sweep interval.
func NewRunner(interval time.Duration, sweeper sweepRunner, logger *logrus.Entry) *Runner {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Runner{
		interval: interval,
		sweeper:  sweeper,
		logger:   logger,
	}
}

// Run blocks, dispatching one sweep per interval, until the context is
// canceled. A failed sweep is logged and the loop keeps going; the next tick
// retries naturally.
func (r *Runner) Run(ctx context.Context) error {
	if r == nil || r.sweeper == nil {
		return errors.New("sweep runner is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if r.interval <= 0 {
		return errors.New("sweep interval must be positive")
	}

	r.logger.WithFields(logging.Fields{
		"event":    "scheduler_start",
		"interval": r.interval.String(),
	}).Info("sweep scheduler started")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.WithField("event", "scheduler_stopped").Info("sweep scheduler stopped")
			return ctx.Err()
		case tick := <-ticker.C:
			if _, err := r.sweeper.Run(ctx, tick.UTC()); err != nil {
				r.logger.WithField("event", "scheduled_sweep_error").WithError(err).Error("scheduled sweep failed")
			}
		}
	}
}
