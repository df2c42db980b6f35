package scheduler

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/cuongbtq/job-scheduler/internal/scheduler/clock"
	"github.com/cuongbtq/job-scheduler/internal/scheduler/domain"
	"github.com/cuongbtq/job-scheduler/internal/scheduler/storage/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T, clk *clock.Mock) *Scheduler {
	t.Helper()

	registry := NewRegistry()
	require.NoError(t, registry.Register("email.send", HandlerFunc(
		func(ctx context.Context, job *domain.Job) Result {
			return Success()
		})))

	s, err := New(&Config{
		Store:    memory.NewStore(clk),
		Registry: registry,
		Logger:   slog.New(slog.DiscardHandler),
		Clock:    clk,
	})
	require.NoError(t, err)
	return s
}

func TestNew_RequiresStore(t *testing.T) {
	_, err := New(&Config{})
	assert.Error(t, err)
}

func TestNew_AppliesDefaults(t *testing.T) {
	s, err := New(&Config{Store: memory.NewStore(nil)})
	require.NoError(t, err)

	assert.Equal(t, DefaultPollInterval, s.cfg.PollInterval)
	assert.Equal(t, DefaultBatchSize, s.cfg.BatchSize)
	assert.Equal(t, DefaultStaleThreshold, s.cfg.StaleThreshold)
	assert.Equal(t, DefaultRetryMaxAttempts, s.cfg.Retry.MaxAttempts)
	assert.NotNil(t, s.Registry())
}

func TestScheduler_EnqueueOnce(t *testing.T) {
	clk := clock.NewMock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	s := newTestScheduler(t, clk)
	ctx := context.Background()

	executeAt := clk.Now().Add(time.Hour)
	job, err := s.EnqueueOnce(ctx, "email.send", `{"to":"a@example.com"}`, executeAt,
		WithService("billing"))
	require.NoError(t, err)

	assert.NoError(t, uuid.Validate(job.ID))
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, executeAt, job.ExecuteAt)
	assert.Equal(t, "billing", job.Service)
	assert.False(t, job.Recurrent)

	stored, err := s.Status(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, stored.ID)
}

func TestScheduler_EnqueueOnce_PastExecuteAtClampedToNow(t *testing.T) {
	clk := clock.NewMock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	s := newTestScheduler(t, clk)

	job, err := s.EnqueueOnce(context.Background(), "email.send", "{}", clk.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, clk.Now(), job.ExecuteAt)
}

func TestScheduler_EnqueueValidation(t *testing.T) {
	clk := clock.NewMock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	s := newTestScheduler(t, clk)
	ctx := context.Background()
	at := clk.Now().Add(time.Minute)

	tests := []struct {
		name    string
		enqueue func() error
		check   func(t *testing.T, err error)
	}{
		{
			name: "empty job type",
			enqueue: func() error {
				_, err := s.EnqueueOnce(ctx, "", "{}", at)
				return err
			},
			check: func(t *testing.T, err error) {
				assert.True(t, domain.IsValidation(err))
			},
		},
		{
			name: "unregistered job type",
			enqueue: func() error {
				_, err := s.EnqueueOnce(ctx, "never.registered", "{}", at)
				return err
			},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, domain.ErrHandlerMissing)
			},
		},
		{
			name: "recurring with zero interval",
			enqueue: func() error {
				_, err := s.EnqueueRecurring(ctx, "email.send", "{}", at, 0, 3)
				return err
			},
			check: func(t *testing.T, err error) {
				assert.True(t, domain.IsValidation(err))
			},
		},
		{
			name: "recurring with negative max runs",
			enqueue: func() error {
				_, err := s.EnqueueRecurring(ctx, "email.send", "{}", at, time.Minute, -1)
				return err
			},
			check: func(t *testing.T, err error) {
				assert.True(t, domain.IsValidation(err))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.enqueue()
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestScheduler_AllowUnregisteredTypes(t *testing.T) {
	s, err := New(&Config{
		Store:                  memory.NewStore(nil),
		Logger:                 slog.New(slog.DiscardHandler),
		AllowUnregisteredTypes: true,
	})
	require.NoError(t, err)

	job, err := s.EnqueueOnce(context.Background(), "registered.later", "{}", time.Now())
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, job.Status)
}

func TestScheduler_EnqueueRecurring(t *testing.T) {
	clk := clock.NewMock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	s := newTestScheduler(t, clk)

	first := clk.Now().Add(time.Minute)
	job, err := s.EnqueueRecurring(context.Background(), "email.send", "{}", first, time.Minute, 3)
	require.NoError(t, err)

	assert.True(t, job.Recurrent)
	assert.Equal(t, time.Minute, job.Interval)
	assert.Equal(t, 3, job.MaxRuns)
	assert.Equal(t, 0, job.CurrentRuns)
	assert.Equal(t, first, job.ExecuteAt)
}

func TestScheduler_Cancel(t *testing.T) {
	clk := clock.NewMock(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	s := newTestScheduler(t, clk)
	ctx := context.Background()

	job, err := s.EnqueueOnce(ctx, "email.send", "{}", clk.Now().Add(time.Hour))
	require.NoError(t, err)

	require.NoError(t, s.Cancel(ctx, job.ID, "no longer needed"))

	canceled, err := s.Status(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, canceled.Status)
	assert.Equal(t, "no longer needed", canceled.Reason)

	// A second cancel sees a non-pending job.
	assert.ErrorIs(t, s.Cancel(ctx, job.ID, "again"), domain.ErrInvalidState)

	assert.ErrorIs(t, s.Cancel(ctx, uuid.New().String(), "x"), domain.ErrJobNotFound)
}

func TestScheduler_StartStop(t *testing.T) {
	registry := NewRegistry()
	executed := make(chan string, 1)
	require.NoError(t, registry.Register("ping", HandlerFunc(
		func(ctx context.Context, job *domain.Job) Result {
			executed <- job.ID
			return Success()
		})))

	s, err := New(&Config{
		Store:        memory.NewStore(nil),
		Registry:     registry,
		Logger:       slog.New(slog.DiscardHandler),
		PollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx := context.Background()
	job, err := s.EnqueueOnce(ctx, "ping", "{}", time.Time{})
	require.NoError(t, err)

	require.NoError(t, s.Start(ctx))
	assert.Error(t, s.Start(ctx), "second start must fail")

	select {
	case id := <-executed:
		assert.Equal(t, job.ID, id)
	case <-time.After(5 * time.Second):
		t.Fatal("job was not executed")
	}

	s.Stop()

	done, err := s.Status(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, done.Status)

	// Stop on a stopped scheduler is a no-op.
	s.Stop()
}
