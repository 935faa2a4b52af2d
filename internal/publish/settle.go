package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/JonMunkholm/pcodesync/internal/core"
	"github.com/JonMunkholm/pcodesync/internal/logging"
)

// Settler waits until uploaded imports are ready to be moved.
type Settler interface {
	Settle(ctx context.Context, p Platform, importUIDs []string) error
}

// SleepSettler waits a fixed interval regardless of import state.
type SleepSettler struct {
	Interval time.Duration
}

// Settle blocks for Interval or until ctx is done.
func (s SleepSettler) Settle(ctx context.Context, _ Platform, importUIDs []string) error {
	logging.FromContext(ctx).Debug("waiting for imports", "mode", "sleep", "interval", s.Interval, "imports", len(importUIDs))
	return sleep(ctx, s.Interval)
}

// PollSettler polls each import until all are complete.
type PollSettler struct {
	// Interval between polling rounds.
	Interval time.Duration

	// Timeout bounds the whole polling phase.
	Timeout time.Duration

	// MinDelay is waited after all imports complete, for indexing to catch up.
	MinDelay time.Duration
}

// Settle returns a *core.RemoteAPIError for an import in error state and an
// error wrapping context.DeadlineExceeded when Timeout elapses first.
func (s PollSettler) Settle(ctx context.Context, p Platform, importUIDs []string) error {
	logger := logging.FromContext(ctx)
	deadline := time.Now().Add(s.Timeout)

	pending := append([]string(nil), importUIDs...)
	for round := 1; ; round++ {
		remaining := pending[:0]
		for _, uid := range pending {
			state, err := p.ImportStatus(ctx, uid)
			if err != nil {
				return err
			}
			switch state.Status {
			case ImportComplete:
			case ImportError:
				return &core.RemoteAPIError{
					Op:     "import " + uid,
					Status: 200,
					Body:   core.TruncateBody([]byte("import failed: " + state.Messages)),
				}
			default:
				remaining = append(remaining, uid)
			}
		}
		pending = remaining

		logger.Debug("polled imports", "round", round, "pending", len(pending))
		if len(pending) == 0 {
			break
		}
		if s.Timeout > 0 && time.Now().Add(s.Interval).After(deadline) {
			return fmt.Errorf("%d import(s) still pending after %s: %w", len(pending), s.Timeout, context.DeadlineExceeded)
		}
		if err := sleep(ctx, s.Interval); err != nil {
			return err
		}
	}

	return sleep(ctx, s.MinDelay)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
