// Package memory provides an in-memory Store used by tests. It mirrors the
// Postgres store's conditional-transition semantics, including claim
// atomicity and ordering.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/job-scheduler/internal/scheduler/clock"
	"github.com/cuongbtq/job-scheduler/internal/scheduler/domain"
)

// Store keeps all jobs in a mutex-guarded map.
type Store struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
	clk  clock.Clock
}

// NewStore creates an empty in-memory store. A nil clock defaults to the
// system clock.
func NewStore(clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Store{
		jobs: make(map[string]*domain.Job),
		clk:  clk,
	}
}

// Create inserts a pending job.
func (s *Store) Create(_ context.Context, job *domain.Job) error {
	if job.Recurrent && job.Interval <= 0 {
		return domain.NewValidationError("interval_ms", "must be positive for recurring jobs")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return domain.NewValidationError("job_id", "already exists")
	}

	copied := *job
	s.jobs[job.ID] = &copied
	return nil
}

// Claim atomically moves up to limit due pending jobs to processing,
// earliest execute_at first, job_id as the tie-break.
func (s *Store) Claim(_ context.Context, now time.Time, limit int) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*domain.Job
	for _, job := range s.jobs {
		if job.Status == domain.JobStatusPending && !job.ExecuteAt.After(now) {
			due = append(due, job)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		if !due[i].ExecuteAt.Equal(due[j].ExecuteAt) {
			return due[i].ExecuteAt.Before(due[j].ExecuteAt)
		}
		return due[i].ID < due[j].ID
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]domain.Job, 0, len(due))
	for _, job := range due {
		job.Status = domain.JobStatusProcessing
		job.UpdatedAt = now
		claimed = append(claimed, *job)
	}
	return claimed, nil
}

// Complete finishes a successful execution, rescheduling when nextExecuteAt
// is non-nil.
func (s *Store) Complete(_ context.Context, id string, nextExecuteAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	if job.Status != domain.JobStatusProcessing {
		return domain.ErrInvalidState
	}

	job.CurrentRuns++
	job.RetryCount = 0
	job.UpdatedAt = s.clk.Now()
	if nextExecuteAt != nil {
		job.Status = domain.JobStatusPending
		job.ExecuteAt = *nextExecuteAt
	} else {
		job.Status = domain.JobStatusCompleted
	}
	return nil
}

// Fail records a failed execution, rescheduling for retry when nextExecuteAt
// is non-nil, otherwise failing terminally with the reason.
func (s *Store) Fail(_ context.Context, id string, nextExecuteAt *time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	if job.Status != domain.JobStatusProcessing {
		return domain.ErrInvalidState
	}

	job.RetryCount++
	job.UpdatedAt = s.clk.Now()
	if nextExecuteAt != nil {
		job.Status = domain.JobStatusPending
		job.ExecuteAt = *nextExecuteAt
	} else {
		job.Status = domain.JobStatusFailed
		job.Reason = reason
	}
	return nil
}

// Cancel marks a pending job failed with the given reason.
func (s *Store) Cancel(_ context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.ErrJobNotFound
	}
	if job.Status != domain.JobStatusPending {
		return domain.ErrInvalidState
	}

	job.Status = domain.JobStatusFailed
	job.Reason = reason
	job.UpdatedAt = s.clk.Now()
	return nil
}

// Get returns a copy of the job.
func (s *Store) Get(_ context.Context, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	copied := *job
	return &copied, nil
}

// List returns jobs matching the filter, created_at descending with job_id
// as the tie-break.
func (s *Store) List(_ context.Context, filter domain.Filter) ([]domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []domain.Job
	for _, job := range s.jobs {
		if filter.Service != "" && job.Service != filter.Service {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.Type != "" && job.Type != filter.Type {
			continue
		}
		if !filter.From.IsZero() && job.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !job.CreatedAt.Before(filter.To) {
			continue
		}
		matched = append(matched, *job)
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	if filter.Cursor != nil {
		cut := 0
		for cut < len(matched) {
			j := matched[cut]
			if j.CreatedAt.Before(filter.Cursor.CreatedAt) ||
				(j.CreatedAt.Equal(filter.Cursor.CreatedAt) && j.ID < filter.Cursor.JobID) {
				break
			}
			cut++
		}
		matched = matched[cut:]
	}

	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// ReclaimStale moves processing jobs untouched since before olderThan back
// to pending.
func (s *Store) ReclaimStale(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	now := s.clk.Now()
	for _, job := range s.jobs {
		if job.Status == domain.JobStatusProcessing && job.UpdatedAt.Before(olderThan) {
			job.Status = domain.JobStatusPending
			job.UpdatedAt = now
			count++
		}
	}
	return count, nil
}
