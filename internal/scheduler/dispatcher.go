package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/job-scheduler/internal/scheduler/clock"
	"github.com/cuongbtq/job-scheduler/internal/scheduler/domain"
)

// Events receives jobs that reached a terminal status. The production sink
// publishes them to the message broker; tests use an in-memory recorder. A
// nil Events is allowed.
type Events interface {
	JobFinished(ctx context.Context, job domain.Job)
}

// Dispatcher polls the store for due jobs, executes them through registered
// handlers and applies the outcome transitions. One dispatcher runs one
// polling loop; within a tick, claimed jobs execute concurrently, but each
// job's own lifecycle is sequential because the store's atomic claim is the
// sole gate.
type Dispatcher struct {
	store      Store
	registry   *Registry
	retry      RetryPolicy
	recurrence RecurrencePolicy
	clk        clock.Clock
	logger     *slog.Logger
	events     Events

	pollInterval time.Duration
	batchSize    int
	staleAfter   time.Duration

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewDispatcher wires a dispatcher; callers normally go through Scheduler
// rather than constructing one directly.
func NewDispatcher(store Store, registry *Registry, clk clock.Clock, logger *slog.Logger,
	retry RetryPolicy, recurrence RecurrencePolicy,
	pollInterval time.Duration, batchSize int, staleAfter time.Duration, events Events) *Dispatcher {
	return &Dispatcher{
		store:        store,
		registry:     registry,
		retry:        retry,
		recurrence:   recurrence,
		clk:          clk,
		logger:       logger,
		events:       events,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		staleAfter:   staleAfter,
		stopChan:     make(chan struct{}),
	}
}

// Run executes the polling loop until Stop is called or ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("Dispatcher started",
		slog.Duration("poll_interval", d.pollInterval),
		slog.Int("batch_size", d.batchSize),
		slog.Duration("stale_after", d.staleAfter),
	)

	// A crashed worker leaves jobs in processing; reclaim before the first
	// claim so overdue work resumes immediately after a restart.
	d.reclaimStale(ctx)

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopChan:
			d.logger.Info("Dispatcher stopping - stop requested")
			return
		case <-ctx.Done():
			d.logger.Info("Dispatcher stopping - context canceled")
			return
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Stop signals the loop to exit and waits for the in-flight batch to finish.
// Jobs already claimed run to completion; cancellation is never preemptive.
func (d *Dispatcher) Stop() {
	close(d.stopChan)
	d.wg.Wait()
	d.logger.Info("Dispatcher stopped")
}

// Tick runs one polling cycle: reclaim stale jobs, claim due ones and execute
// the batch on a bounded pool, waiting for it to drain before returning.
func (d *Dispatcher) Tick(ctx context.Context) {
	d.reclaimStale(ctx)

	now := d.clk.Now()
	jobs, err := d.store.Claim(ctx, now, d.batchSize)
	if err != nil {
		d.logger.Error("Failed to claim jobs",
			slog.Any("error", err),
		)
		return
	}
	if len(jobs) == 0 {
		return
	}

	d.logger.Debug("Claimed jobs",
		slog.Int("count", len(jobs)),
	)

	var batch sync.WaitGroup
	for i := range jobs {
		job := jobs[i]
		batch.Add(1)
		d.wg.Add(1)
		go func() {
			defer batch.Done()
			defer d.wg.Done()
			d.dispatch(ctx, &job)
		}()
	}
	batch.Wait()
}

// dispatch runs one claimed job through its handler and applies the outcome
// transition through the store.
func (d *Dispatcher) dispatch(ctx context.Context, job *domain.Job) {
	handler, ok := d.registry.Lookup(job.Type)
	if !ok {
		// Configuration error, not a transient one: fail terminally without
		// consulting the retry policy.
		d.logger.Error("No handler registered for job type",
			slog.String("job_id", job.ID),
			slog.String("job_type", job.Type),
		)
		d.finishFailed(ctx, job, domain.ReasonUnknownJobType)
		return
	}

	result := d.execute(ctx, handler, job)

	switch result.outcome {
	case outcomeSuccess:
		d.handleSuccess(ctx, job)
	case outcomeRetry:
		d.handleRetryable(ctx, job, result.reason())
	case outcomeFail:
		d.logger.Warn("Job failed non-retryably",
			slog.String("job_id", job.ID),
			slog.String("job_type", job.Type),
			slog.String("reason", result.reason()),
		)
		d.finishFailed(ctx, job, result.reason())
	}
}

// execute invokes the handler, converting panics into retryable failures so
// one bad handler cannot take the loop down.
func (d *Dispatcher) execute(ctx context.Context, handler Handler, job *domain.Job) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Handler panicked",
				slog.String("job_id", job.ID),
				slog.String("job_type", job.Type),
				slog.Any("panic", r),
			)
			result = Retry(fmt.Errorf("handler panic: %v", r))
		}
	}()

	return handler.Execute(ctx, job)
}

func (d *Dispatcher) handleSuccess(ctx context.Context, job *domain.Job) {
	if job.Recurrent {
		next, ok := d.recurrence.NextOccurrence(job, d.clk.Now())
		if ok {
			if err := d.store.Complete(ctx, job.ID, &next); err != nil {
				d.logger.Error("Failed to reschedule recurring job",
					slog.String("job_id", job.ID),
					slog.Any("error", err),
				)
				return
			}
			d.logger.Info("Recurring job rescheduled",
				slog.String("job_id", job.ID),
				slog.String("job_type", job.Type),
				slog.Time("next_execute_at", next),
				slog.Int("current_runs", job.CurrentRuns+1),
			)
			return
		}
	}

	if err := d.store.Complete(ctx, job.ID, nil); err != nil {
		d.logger.Error("Failed to complete job",
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
		return
	}

	d.logger.Info("Job completed",
		slog.String("job_id", job.ID),
		slog.String("job_type", job.Type),
	)

	job.Status = domain.JobStatusCompleted
	job.CurrentRuns++
	d.emit(ctx, *job)
}

func (d *Dispatcher) handleRetryable(ctx context.Context, job *domain.Job, reason string) {
	attempt := job.RetryCount + 1
	next, ok := d.retry.NextRetry(attempt, d.clk.Now())
	if !ok {
		d.logger.Warn("Job exceeded max retries",
			slog.String("job_id", job.ID),
			slog.String("job_type", job.Type),
			slog.Int("retry_count", attempt),
			slog.String("last_error", reason),
		)
		d.finishFailed(ctx, job, domain.ReasonMaxRetries)
		return
	}

	// The reason column is reserved for terminal failures; the transient
	// error only goes to the log stream.
	if err := d.store.Fail(ctx, job.ID, &next, ""); err != nil {
		d.logger.Error("Failed to schedule retry",
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
		return
	}

	d.logger.Warn("Job failed, retry scheduled",
		slog.String("job_id", job.ID),
		slog.String("job_type", job.Type),
		slog.Int("attempt", attempt),
		slog.Time("next_execute_at", next),
		slog.String("error", reason),
	)
}

// finishFailed marks the job failed terminally and emits the event.
func (d *Dispatcher) finishFailed(ctx context.Context, job *domain.Job, reason string) {
	if err := d.store.Fail(ctx, job.ID, nil, reason); err != nil {
		d.logger.Error("Failed to mark job as failed",
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
		return
	}

	job.Status = domain.JobStatusFailed
	job.RetryCount++
	job.Reason = reason
	d.emit(ctx, *job)
}

func (d *Dispatcher) reclaimStale(ctx context.Context) {
	cutoff := d.clk.Now().Add(-d.staleAfter)
	n, err := d.store.ReclaimStale(ctx, cutoff)
	if err != nil {
		d.logger.Error("Failed to reclaim stale jobs",
			slog.Any("error", err),
		)
		return
	}
	if n > 0 {
		d.logger.Warn("Reclaimed stale processing jobs",
			slog.Int("count", n),
			slog.Time("cutoff", cutoff),
		)
	}
}

func (d *Dispatcher) emit(ctx context.Context, job domain.Job) {
	if d.events == nil {
		return
	}
	d.events.JobFinished(ctx, job)
}
