package scheduler

import (
	"context"
	"time"

	"github.com/cuongbtq/job-scheduler/internal/scheduler/domain"
)

// Store is the durable record of jobs and the single writer-of-record: every
// transition goes through it, and its Claim is the only cross-worker
// coordination point. Implementations must make Claim a conditional update so
// that concurrent callers never claim the same job twice.
type Store interface {
	// Create inserts a pending job. Returns a ValidationError if the job is
	// recurrent with a non-positive interval.
	Create(ctx context.Context, job *domain.Job) error

	// Claim atomically selects up to limit jobs with status pending and
	// execute_at <= now, transitions them to processing and returns them,
	// ordered by execute_at then job_id.
	Claim(ctx context.Context, now time.Time, limit int) ([]domain.Job, error)

	// Complete finishes a successful execution. A non-nil nextExecuteAt
	// reschedules the job: current_runs+1, retry_count reset, status back to
	// pending. A nil nextExecuteAt terminates: current_runs+1, status
	// completed.
	Complete(ctx context.Context, id string, nextExecuteAt *time.Time) error

	// Fail records a failed execution. retry_count is incremented either way.
	// A non-nil nextExecuteAt reschedules for retry; nil marks the job failed
	// terminally with the given reason.
	Fail(ctx context.Context, id string, nextExecuteAt *time.Time, reason string) error

	// Cancel marks a pending job failed with the given reason. Returns
	// ErrInvalidState if the job is processing or terminal.
	Cancel(ctx context.Context, id string, reason string) error

	// Get returns the job or ErrJobNotFound.
	Get(ctx context.Context, id string) (*domain.Job, error)

	// List returns jobs matching the filter, newest first.
	List(ctx context.Context, filter domain.Filter) ([]domain.Job, error)

	// ReclaimStale moves jobs stuck in processing since before olderThan back
	// to pending and returns how many were reclaimed. Abandoned attempts from
	// a crashed worker re-run this way, which is what makes execution
	// at-least-once.
	ReclaimStale(ctx context.Context, olderThan time.Time) (int, error)
}
