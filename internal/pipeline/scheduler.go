package pipeline

// scheduler.go runs the full sync periodically while the server is up.
//
// A tick that lands while another run is active (an API-triggered run, say)
// is skipped rather than queued. Failed runs are logged and recorded in the
// history; they never stop the scheduler.

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/JonMunkholm/pcodesync/internal/config"
	"github.com/JonMunkholm/pcodesync/internal/core"
	"github.com/JonMunkholm/pcodesync/internal/history"
)

// StartScheduler runs a full sync every cfg.Interval until ctx is cancelled,
// plus once immediately when cfg.OnStart is set. A zero interval disables
// the periodic runs.
func (r *Runner) StartScheduler(ctx context.Context, cfg config.ScheduleConfig) {
	slog.Info("sync scheduler started", "interval", cfg.Interval, "on_start", cfg.OnStart)

	if cfg.OnStart {
		r.scheduledRun(ctx)
	}
	if cfg.Interval <= 0 {
		slog.Info("sync scheduler has no interval, periodic runs disabled")
		return
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("sync scheduler stopped")
			return
		case <-ticker.C:
			r.scheduledRun(ctx)
		}
	}
}

func (r *Runner) scheduledRun(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	_, err := r.Run(ctx, history.TriggerSchedule)
	if errors.Is(err, core.ErrRunInProgress) {
		slog.Info("scheduled sync skipped, a run is in progress")
	}
	// Other failures are logged by the run itself.
}
