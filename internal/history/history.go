// Package history records sync runs.
//
// MemoryStore keeps a bounded in-process list and is the default. PostgresStore
// persists runs to the sync_runs table when DATABASE_URL is configured.
package history

import (
	"context"
	"time"

	"github.com/JonMunkholm/pcodesync/internal/core"
)

// ErrNotFound is returned by Get for an unknown run id.
var ErrNotFound = core.ErrRunNotFound

// Run triggers.
const (
	TriggerCLI      = "cli"
	TriggerSchedule = "schedule"
	TriggerAPI      = "api"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusPartial   = "partial" // forms generated, at least one target failed
	StatusFailed    = "failed"
)

// TargetResult is the publish outcome for one target.
type TargetResult struct {
	Name      string `json:"name"`
	Deleted   int    `json:"deleted"`
	Uploaded  int    `json:"uploaded"`
	Moved     int    `json:"moved"`
	Skipped   int    `json:"skipped"`
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"errorCode,omitempty"`
}

// Run is one execution of the sync.
type Run struct {
	ID         string         `json:"id"`
	Trigger    string         `json:"trigger"`
	Status     string         `json:"status"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt *time.Time     `json:"finishedAt,omitempty"`
	Countries  int            `json:"countries"`
	Artifacts  int            `json:"artifacts"`
	Targets    []TargetResult `json:"targets"`
	Error      string         `json:"error,omitempty"`
	ErrorCode  string         `json:"errorCode,omitempty"`
}

// Duration returns the run time, or time elapsed so far for a running run.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Finish stamps the end time and derives the final status from err and the
// target results.
func (r *Run) Finish(at time.Time, err error) {
	r.FinishedAt = &at
	switch {
	case err != nil:
		r.Status = StatusFailed
		r.Error = err.Error()
		r.ErrorCode = core.ErrorCode(err)
	case r.failedTargets() > 0:
		r.Status = StatusPartial
	default:
		r.Status = StatusSucceeded
	}
}

func (r *Run) failedTargets() int {
	n := 0
	for _, t := range r.Targets {
		if t.Error != "" {
			n++
		}
	}
	return n
}

// Clone returns a deep copy.
func (r *Run) Clone() *Run {
	c := *r
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		c.FinishedAt = &t
	}
	c.Targets = append([]TargetResult(nil), r.Targets...)
	return &c
}

// Store persists runs.
type Store interface {
	// Save inserts or replaces the run with the same id.
	Save(ctx context.Context, run *Run) error

	// Get returns the run with id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Run, error)

	// List returns up to limit runs, newest first.
	List(ctx context.Context, limit int) ([]*Run, error)
}
