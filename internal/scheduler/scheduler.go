// Package scheduler implements a durable, at-least-once background job
// scheduler: one-off and recurring jobs persisted in a store, claimed
// atomically by a polling dispatcher and executed through registered
// handlers with bounded retries.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/job-scheduler/internal/scheduler/clock"
	"github.com/cuongbtq/job-scheduler/internal/scheduler/domain"
	"github.com/google/uuid"
)

// Default dispatcher loop settings
const (
	DefaultPollInterval   = 1 * time.Second
	DefaultBatchSize      = 10
	DefaultStaleThreshold = 5 * time.Minute
)

// Config holds scheduler configuration.
type Config struct {
	Store    Store
	Registry *Registry
	Logger   *slog.Logger

	// Clock defaults to the system clock; tests inject a mock.
	Clock clock.Clock

	// Events receives terminal transitions; may be nil.
	Events Events

	PollInterval   time.Duration
	BatchSize      int
	StaleThreshold time.Duration

	Retry      RetryPolicy
	Recurrence RecurrencePolicy

	// AllowUnregisteredTypes defers the handler check from enqueue to
	// execution, for callers that register handlers late. Unknown types then
	// fail terminally when dispatched.
	AllowUnregisteredTypes bool
}

// Scheduler is the public facade: enqueue, cancel, query, and the dispatcher
// loop lifecycle. Construct one per store and pass it explicitly to the
// hosting process; there is no ambient global instance.
type Scheduler struct {
	store    Store
	registry *Registry
	clk      clock.Clock
	logger   *slog.Logger
	cfg      *Config

	mu         sync.Mutex
	dispatcher *Dispatcher
	loopDone   chan struct{}
}

// New creates a Scheduler, applying defaults for unset loop settings and
// policies.
func New(cfg *Config) (*Scheduler, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("scheduler: store is required")
	}
	if cfg.Registry == nil {
		cfg.Registry = NewRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewSystem()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = DefaultStaleThreshold
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}

	return &Scheduler{
		store:    cfg.Store,
		registry: cfg.Registry,
		clk:      cfg.Clock,
		logger:   cfg.Logger,
		cfg:      cfg,
	}, nil
}

// Registry returns the handler registry so hosts can register handlers.
func (s *Scheduler) Registry() *Registry {
	return s.registry
}

// EnqueueOption customizes an enqueued job.
type EnqueueOption func(*domain.Job)

// WithService tags the job with an owning subsystem, used for filtering.
func WithService(service string) EnqueueOption {
	return func(j *domain.Job) {
		j.Service = service
	}
}

// EnqueueOnce creates a one-off job. A zero executeAt means "run as soon as
// possible"; a past executeAt is clamped to now.
func (s *Scheduler) EnqueueOnce(ctx context.Context, jobType, data string, executeAt time.Time, opts ...EnqueueOption) (*domain.Job, error) {
	job, err := s.newJob(jobType, data, executeAt, opts)
	if err != nil {
		return nil, err
	}

	if err := s.store.Create(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Info("Job enqueued",
		slog.String("job_id", job.ID),
		slog.String("job_type", job.Type),
		slog.Time("execute_at", job.ExecuteAt),
	)
	return job, nil
}

// EnqueueRecurring creates a recurring job with a fixed interval anchored to
// firstExecuteAt. maxRuns of 0 means unlimited.
func (s *Scheduler) EnqueueRecurring(ctx context.Context, jobType, data string, firstExecuteAt time.Time, interval time.Duration, maxRuns int, opts ...EnqueueOption) (*domain.Job, error) {
	if interval <= 0 {
		return nil, domain.NewValidationError("interval_ms", "must be positive for recurring jobs")
	}
	if maxRuns < 0 {
		return nil, domain.NewValidationError("max_runs", "must not be negative")
	}

	job, err := s.newJob(jobType, data, firstExecuteAt, opts)
	if err != nil {
		return nil, err
	}
	job.Recurrent = true
	job.Interval = interval
	job.MaxRuns = maxRuns

	if err := s.store.Create(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Info("Recurring job enqueued",
		slog.String("job_id", job.ID),
		slog.String("job_type", job.Type),
		slog.Time("first_execute_at", job.ExecuteAt),
		slog.Duration("interval", interval),
		slog.Int("max_runs", maxRuns),
	)
	return job, nil
}

func (s *Scheduler) newJob(jobType, data string, executeAt time.Time, opts []EnqueueOption) (*domain.Job, error) {
	if jobType == "" {
		return nil, domain.NewValidationError("job_type", "must not be empty")
	}
	if !s.cfg.AllowUnregisteredTypes && !s.registry.Registered(jobType) {
		return nil, fmt.Errorf("%w: %s", domain.ErrHandlerMissing, jobType)
	}

	now := s.clk.Now()
	if executeAt.Before(now) {
		executeAt = now
	}

	job := &domain.Job{
		ID:        uuid.New().String(),
		Type:      jobType,
		Data:      data,
		Status:    domain.JobStatusPending,
		ExecuteAt: executeAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, opt := range opts {
		opt(job)
	}
	return job, nil
}

// Cancel cancels a pending job, marking it failed with the given reason.
// Jobs already processing run to completion; Cancel then returns
// ErrInvalidState.
func (s *Scheduler) Cancel(ctx context.Context, id, reason string) error {
	if err := s.store.Cancel(ctx, id, reason); err != nil {
		return err
	}

	s.logger.Info("Job canceled",
		slog.String("job_id", id),
		slog.String("reason", reason),
	)
	return nil
}

// Status returns the current job record.
func (s *Scheduler) Status(ctx context.Context, id string) (*domain.Job, error) {
	return s.store.Get(ctx, id)
}

// List returns jobs matching the filter, newest first.
func (s *Scheduler) List(ctx context.Context, filter domain.Filter) ([]domain.Job, error) {
	return s.store.List(ctx, filter)
}

// Start begins the dispatcher loop in a background goroutine. It is an error
// to start an already running scheduler.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dispatcher != nil {
		return fmt.Errorf("scheduler already started")
	}

	s.dispatcher = NewDispatcher(
		s.store, s.registry, s.clk, s.logger,
		s.cfg.Retry, s.cfg.Recurrence,
		s.cfg.PollInterval, s.cfg.BatchSize, s.cfg.StaleThreshold,
		s.cfg.Events,
	)
	s.loopDone = make(chan struct{})

	go func() {
		defer close(s.loopDone)
		s.dispatcher.Run(ctx)
	}()

	return nil
}

// Stop signals the dispatcher loop to exit and waits for the in-flight batch
// to drain. Safe to call once after Start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	d, done := s.dispatcher, s.loopDone
	s.dispatcher = nil
	s.mu.Unlock()

	if d == nil {
		return
	}

	d.Stop()
	<-done
}
