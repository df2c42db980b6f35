package scheduler

import (
	"time"

	"github.com/cuongbtq/job-scheduler/internal/scheduler/domain"
)

// RecurrencePolicy computes the next scheduled instance of a recurring job
// after a successful execution. Occurrences are anchored to the scheduled
// time of the run that just completed, not to completion wall-clock time, so
// the cadence is stable regardless of execution latency or scheduler
// downtime.
type RecurrencePolicy struct {
	// Backfill controls catch-up after downtime. When false (the default)
	// missed slots are skipped and the next occurrence is the first slot
	// strictly in the future; when true the immediate next slot is returned
	// even if it is already past, so every missed tick eventually runs.
	Backfill bool
}

// NextOccurrence returns the next execute_at for job, whose current run just
// succeeded. ok is false when the job terminates instead: it is not
// recurrent, or this success brings it to its max_runs ceiling.
func (p RecurrencePolicy) NextOccurrence(job *domain.Job, now time.Time) (next time.Time, ok bool) {
	if !job.Recurrent || job.Interval <= 0 {
		return time.Time{}, false
	}
	if job.MaxRuns > 0 && job.CurrentRuns+1 >= job.MaxRuns {
		return time.Time{}, false
	}

	next = job.ExecuteAt.Add(job.Interval)
	if p.Backfill || next.After(now) {
		return next, true
	}

	// Skip to the first future slot, stepping by whole intervals so the
	// cadence stays aligned to the original schedule.
	missed := now.Sub(next) / job.Interval
	next = next.Add((missed + 1) * job.Interval)
	return next, true
}
