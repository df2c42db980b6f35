// Package storage implements the scheduler Store on PostgreSQL. All status
// transitions are conditional updates on the expected current status, so the
// database is the single place invariants are enforced and multiple
// scheduler processes can share one store safely.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/cuongbtq/job-scheduler/internal/scheduler/domain"
	"github.com/cuongbtq/job-scheduler/shared/postgresql"
	"github.com/jmoiron/sqlx"
)

// Store handles all database operations for the scheduler.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a Store on an established connection pool.
func NewStore(pg *postgresql.Client, logger *slog.Logger) *Store {
	return &Store{
		db:     pg.DB(),
		logger: logger,
	}
}

// jobRow is the persisted representation; interval_ms is stored as
// milliseconds.
type jobRow struct {
	JobID       string    `db:"job_id"`
	JobType     string    `db:"job_type"`
	Payload     string    `db:"payload"`
	Status      string    `db:"status"`
	ExecuteAt   time.Time `db:"execute_at"`
	Recurrent   bool      `db:"recurrent"`
	IntervalMS  int64     `db:"interval_ms"`
	MaxRuns     int       `db:"max_runs"`
	CurrentRuns int       `db:"current_runs"`
	RetryCount  int       `db:"retry_count"`
	Reason      string    `db:"reason"`
	Service     string    `db:"service"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

const jobColumns = `
	job_id, job_type, payload, status, execute_at, recurrent, interval_ms,
	max_runs, current_runs, retry_count, reason, service, created_at, updated_at`

func (r *jobRow) toDomain() domain.Job {
	return domain.Job{
		ID:          r.JobID,
		Type:        r.JobType,
		Data:        r.Payload,
		Status:      r.Status,
		ExecuteAt:   r.ExecuteAt,
		Recurrent:   r.Recurrent,
		Interval:    time.Duration(r.IntervalMS) * time.Millisecond,
		MaxRuns:     r.MaxRuns,
		CurrentRuns: r.CurrentRuns,
		RetryCount:  r.RetryCount,
		Reason:      r.Reason,
		Service:     r.Service,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

// Create inserts a pending job.
func (s *Store) Create(ctx context.Context, job *domain.Job) error {
	if job.Recurrent && job.Interval <= 0 {
		return domain.NewValidationError("interval_ms", "must be positive for recurring jobs")
	}

	query := `
		INSERT INTO jobs (
			job_id, job_type, payload, status, execute_at, recurrent,
			interval_ms, max_runs, current_runs, retry_count, reason, service,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, 0, 0, '', $9,
			$10, $11
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		job.ID,
		job.Type,
		job.Data,
		job.Status,
		job.ExecuteAt,
		job.Recurrent,
		job.Interval.Milliseconds(),
		job.MaxRuns,
		job.Service,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// Claim atomically transitions up to limit due pending jobs to processing
// and returns them. SKIP LOCKED keeps concurrent claimers from blocking on
// or double-claiming the same rows.
func (s *Store) Claim(ctx context.Context, now time.Time, limit int) ([]domain.Job, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    updated_at = $2
		WHERE job_id IN (
			SELECT job_id
			FROM jobs
			WHERE status = $3
			  AND execute_at <= $2
			ORDER BY execute_at, job_id
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING` + jobColumns

	var rows []jobRow
	err := s.db.SelectContext(ctx, &rows, query,
		domain.JobStatusProcessing, now, domain.JobStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim jobs: %w", err)
	}

	jobs := make([]domain.Job, 0, len(rows))
	for i := range rows {
		jobs = append(jobs, rows[i].toDomain())
	}

	// RETURNING does not guarantee order; restore the claim ordering.
	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].ExecuteAt.Equal(jobs[j].ExecuteAt) {
			return jobs[i].ExecuteAt.Before(jobs[j].ExecuteAt)
		}
		return jobs[i].ID < jobs[j].ID
	})
	return jobs, nil
}

// Complete finishes a successful execution. With a next execution time the
// job cycles back to pending; without one it completes terminally.
func (s *Store) Complete(ctx context.Context, id string, nextExecuteAt *time.Time) error {
	var result sql.Result
	var err error

	if nextExecuteAt != nil {
		query := `
			UPDATE jobs
			SET status = $1,
			    execute_at = $2,
			    current_runs = current_runs + 1,
			    retry_count = 0,
			    updated_at = NOW()
			WHERE job_id = $3 AND status = $4
		`
		result, err = s.db.ExecContext(ctx, query,
			domain.JobStatusPending, *nextExecuteAt, id, domain.JobStatusProcessing)
	} else {
		query := `
			UPDATE jobs
			SET status = $1,
			    current_runs = current_runs + 1,
			    retry_count = 0,
			    updated_at = NOW()
			WHERE job_id = $2 AND status = $3
		`
		result, err = s.db.ExecContext(ctx, query,
			domain.JobStatusCompleted, id, domain.JobStatusProcessing)
	}
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}

	return s.checkTransition(ctx, result, id)
}

// Fail records a failed execution: reschedule for retry with a next
// execution time, or mark the job failed terminally with the reason.
func (s *Store) Fail(ctx context.Context, id string, nextExecuteAt *time.Time, reason string) error {
	var result sql.Result
	var err error

	if nextExecuteAt != nil {
		query := `
			UPDATE jobs
			SET status = $1,
			    execute_at = $2,
			    retry_count = retry_count + 1,
			    updated_at = NOW()
			WHERE job_id = $3 AND status = $4
		`
		result, err = s.db.ExecContext(ctx, query,
			domain.JobStatusPending, *nextExecuteAt, id, domain.JobStatusProcessing)
	} else {
		query := `
			UPDATE jobs
			SET status = $1,
			    retry_count = retry_count + 1,
			    reason = $2,
			    updated_at = NOW()
			WHERE job_id = $3 AND status = $4
		`
		result, err = s.db.ExecContext(ctx, query,
			domain.JobStatusFailed, reason, id, domain.JobStatusProcessing)
	}
	if err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}

	return s.checkTransition(ctx, result, id)
}

// Cancel marks a pending job failed with the given reason. Processing and
// terminal jobs cannot be canceled.
func (s *Store) Cancel(ctx context.Context, id, reason string) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    reason = $2,
		    updated_at = NOW()
		WHERE job_id = $3 AND status = $4
	`

	result, err := s.db.ExecContext(ctx, query,
		domain.JobStatusFailed, reason, id, domain.JobStatusPending)
	if err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}

	return s.checkTransition(ctx, result, id)
}

// checkTransition distinguishes "no such job" from "job in the wrong status"
// when a conditional update matched no rows.
func (s *Store) checkTransition(ctx context.Context, result sql.Result, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	if _, err := s.Get(ctx, id); err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			return domain.ErrJobNotFound
		}
		return err
	}
	return domain.ErrInvalidState
}

// Get retrieves a job by id.
func (s *Store) Get(ctx context.Context, id string) (*domain.Job, error) {
	query := `SELECT` + jobColumns + `
		FROM jobs
		WHERE job_id = $1
	`

	var row jobRow
	err := s.db.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	job := row.toDomain()
	return &job, nil
}

// List returns jobs matching the filter, newest first, with keyset
// pagination on (created_at, job_id).
func (s *Store) List(ctx context.Context, filter domain.Filter) ([]domain.Job, error) {
	query := `SELECT` + jobColumns + `
		FROM jobs
		WHERE 1=1
	`
	args := []interface{}{}
	argIdx := 1

	if filter.Service != "" {
		query += fmt.Sprintf(" AND service = $%d", argIdx)
		args = append(args, filter.Service)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Type != "" {
		query += fmt.Sprintf(" AND job_type = $%d", argIdx)
		args = append(args, filter.Type)
		argIdx++
	}

	if !filter.From.IsZero() {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, filter.From)
		argIdx++
	}

	if !filter.To.IsZero() {
		query += fmt.Sprintf(" AND created_at < $%d", argIdx)
		args = append(args, filter.To)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, job_id DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]domain.Job, 0, len(rows))
	for i := range rows {
		jobs = append(jobs, rows[i].toDomain())
	}
	return jobs, nil
}

// ReclaimStale moves jobs stuck in processing since before olderThan back to
// pending, making abandoned attempts from crashed workers claimable again.
func (s *Store) ReclaimStale(ctx context.Context, olderThan time.Time) (int, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    updated_at = NOW()
		WHERE status = $2
		  AND updated_at < $3
	`

	result, err := s.db.ExecContext(ctx, query,
		domain.JobStatusPending, domain.JobStatusProcessing, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stale jobs: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected > 0 {
		s.logger.Warn("Reclaimed stale processing jobs",
			slog.Int64("count", affected),
		)
	}

	return int(affected), nil
}
