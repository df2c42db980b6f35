package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/job-scheduler/internal/scheduler/clock"
	"github.com/cuongbtq/job-scheduler/internal/scheduler/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJob(id string, executeAt time.Time) *domain.Job {
	return &domain.Job{
		ID:        id,
		Type:      "test.job",
		Status:    domain.JobStatusPending,
		ExecuteAt: executeAt,
		CreatedAt: executeAt,
		UpdatedAt: executeAt,
	}
}

func TestStore_CreateValidation(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store := NewStore(clock.NewMock(now))

	t.Run("rejects recurrent job without interval", func(t *testing.T) {
		job := newTestJob("a", now)
		job.Recurrent = true
		err := store.Create(ctx, job)
		require.Error(t, err)
		assert.True(t, domain.IsValidation(err))
	})

	t.Run("rejects duplicate id", func(t *testing.T) {
		require.NoError(t, store.Create(ctx, newTestJob("b", now)))
		err := store.Create(ctx, newTestJob("b", now))
		require.Error(t, err)
		assert.True(t, domain.IsValidation(err))
	})
}

func TestStore_ClaimOrdering(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store := NewStore(clock.NewMock(now))

	// Same execute_at ties break on job_id; later jobs come after earlier ones.
	require.NoError(t, store.Create(ctx, newTestJob("c", now.Add(-time.Minute))))
	require.NoError(t, store.Create(ctx, newTestJob("a", now.Add(-time.Minute))))
	require.NoError(t, store.Create(ctx, newTestJob("b", now.Add(-2*time.Minute))))
	require.NoError(t, store.Create(ctx, newTestJob("d", now.Add(time.Hour)))) // not due

	claimed, err := store.Claim(ctx, now, 10)
	require.NoError(t, err)

	ids := make([]string, 0, len(claimed))
	for _, j := range claimed {
		ids = append(ids, j.ID)
		assert.Equal(t, domain.JobStatusProcessing, j.Status)
	}
	assert.Equal(t, []string{"b", "a", "c"}, ids)

	// Claimed jobs are not selected again.
	again, err := store.Claim(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestStore_ClaimLimit(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store := NewStore(clock.NewMock(now))

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Create(ctx, newTestJob(fmt.Sprintf("job-%d", i), now)))
	}

	claimed, err := store.Claim(ctx, now, 3)
	require.NoError(t, err)
	assert.Len(t, claimed, 3)

	rest, err := store.Claim(ctx, now, 3)
	require.NoError(t, err)
	assert.Len(t, rest, 2)
}

func TestStore_ClaimAtomicity(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store := NewStore(clock.NewMock(now))

	const jobCount = 100
	for i := 0; i < jobCount; i++ {
		require.NoError(t, store.Create(ctx, newTestJob(fmt.Sprintf("job-%03d", i), now)))
	}

	const claimers = 4
	results := make([][]domain.Job, claimers)

	var wg sync.WaitGroup
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for {
				claimed, err := store.Claim(ctx, now, 10)
				assert.NoError(t, err)
				if len(claimed) == 0 {
					return
				}
				results[n] = append(results[n], claimed...)
			}
		}(i)
	}
	wg.Wait()

	// Every due job claimed by exactly one caller, no duplicates.
	seen := make(map[string]bool)
	total := 0
	for _, r := range results {
		for _, j := range r {
			assert.False(t, seen[j.ID], "job %s claimed twice", j.ID)
			seen[j.ID] = true
			total++
		}
	}
	assert.Equal(t, jobCount, total)
}

func TestStore_CompleteTransitions(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store := NewStore(clock.NewMock(now))

	t.Run("terminal completion", func(t *testing.T) {
		require.NoError(t, store.Create(ctx, newTestJob("one", now)))
		_, err := store.Claim(ctx, now, 1)
		require.NoError(t, err)

		require.NoError(t, store.Complete(ctx, "one", nil))

		job, err := store.Get(ctx, "one")
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusCompleted, job.Status)
		assert.Equal(t, 1, job.CurrentRuns)
		assert.Equal(t, 0, job.RetryCount)
	})

	t.Run("reschedule resets retry count", func(t *testing.T) {
		job := newTestJob("two", now)
		job.RetryCount = 2
		require.NoError(t, store.Create(ctx, job))
		// RetryCount carried in through Create for the test setup
		_, err := store.Claim(ctx, now, 10)
		require.NoError(t, err)

		next := now.Add(time.Minute)
		require.NoError(t, store.Complete(ctx, "two", &next))

		got, err := store.Get(ctx, "two")
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusPending, got.Status)
		assert.Equal(t, next, got.ExecuteAt)
		assert.Equal(t, 0, got.RetryCount)
		assert.Equal(t, 1, got.CurrentRuns)
	})

	t.Run("complete requires processing", func(t *testing.T) {
		require.NoError(t, store.Create(ctx, newTestJob("three", now.Add(time.Hour))))
		err := store.Complete(ctx, "three", nil)
		assert.ErrorIs(t, err, domain.ErrInvalidState)
	})

	t.Run("unknown id", func(t *testing.T) {
		err := store.Complete(ctx, "missing", nil)
		assert.ErrorIs(t, err, domain.ErrJobNotFound)
	})
}

func TestStore_FailTransitions(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store := NewStore(clock.NewMock(now))

	t.Run("retry reschedule increments retry count", func(t *testing.T) {
		require.NoError(t, store.Create(ctx, newTestJob("one", now)))
		_, err := store.Claim(ctx, now, 1)
		require.NoError(t, err)

		next := now.Add(time.Minute)
		require.NoError(t, store.Fail(ctx, "one", &next, ""))

		job, err := store.Get(ctx, "one")
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusPending, job.Status)
		assert.Equal(t, 1, job.RetryCount)
		assert.Equal(t, next, job.ExecuteAt)
		assert.Empty(t, job.Reason)
	})

	t.Run("terminal failure records reason", func(t *testing.T) {
		require.NoError(t, store.Create(ctx, newTestJob("two", now)))
		_, err := store.Claim(ctx, now, 10)
		require.NoError(t, err)

		require.NoError(t, store.Fail(ctx, "two", nil, "max retries exceeded"))

		job, err := store.Get(ctx, "two")
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusFailed, job.Status)
		assert.Equal(t, "max retries exceeded", job.Reason)
	})
}

func TestStore_Cancel(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store := NewStore(clock.NewMock(now))

	t.Run("cancels a pending job", func(t *testing.T) {
		require.NoError(t, store.Create(ctx, newTestJob("one", now.Add(time.Hour))))
		require.NoError(t, store.Cancel(ctx, "one", "no longer needed"))

		job, err := store.Get(ctx, "one")
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusFailed, job.Status)
		assert.Equal(t, "no longer needed", job.Reason)
	})

	t.Run("rejects cancel of processing job", func(t *testing.T) {
		require.NoError(t, store.Create(ctx, newTestJob("two", now)))
		_, err := store.Claim(ctx, now, 10)
		require.NoError(t, err)

		err = store.Cancel(ctx, "two", "too late")
		assert.ErrorIs(t, err, domain.ErrInvalidState)

		// State unchanged
		job, err := store.Get(ctx, "two")
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusProcessing, job.Status)
		assert.Empty(t, job.Reason)
	})

	t.Run("unknown id", func(t *testing.T) {
		err := store.Cancel(ctx, "missing", "whatever")
		assert.ErrorIs(t, err, domain.ErrJobNotFound)
	})
}

func TestStore_ReclaimStale(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clk := clock.NewMock(now)
	store := NewStore(clk)

	require.NoError(t, store.Create(ctx, newTestJob("stuck", now)))
	_, err := store.Claim(ctx, now, 1)
	require.NoError(t, err)

	clk.Advance(10 * time.Minute)

	// Reclaimed exactly once, not duplicated into two records.
	n, err := store.ReclaimStale(ctx, now.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.ReclaimStale(ctx, now.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	job, err := store.Get(ctx, "stuck")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, job.Status)

	// The reclaimed job is claimable again.
	claimed, err := store.Claim(ctx, clk.Now(), 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "stuck", claimed[0].ID)
}

func TestStore_List(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	store := NewStore(clock.NewMock(base))

	for i := 0; i < 5; i++ {
		job := newTestJob(fmt.Sprintf("job-%d", i), base.Add(time.Duration(i)*time.Minute))
		job.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if i%2 == 0 {
			job.Service = "chat"
		}
		require.NoError(t, store.Create(ctx, job))
	}

	t.Run("filters by service", func(t *testing.T) {
		jobs, err := store.List(ctx, domain.Filter{Service: "chat"})
		require.NoError(t, err)
		assert.Len(t, jobs, 3)
	})

	t.Run("newest first", func(t *testing.T) {
		jobs, err := store.List(ctx, domain.Filter{})
		require.NoError(t, err)
		require.Len(t, jobs, 5)
		assert.Equal(t, "job-4", jobs[0].ID)
		assert.Equal(t, "job-0", jobs[4].ID)
	})

	t.Run("cursor pagination", func(t *testing.T) {
		first, err := store.List(ctx, domain.Filter{Limit: 2})
		require.NoError(t, err)
		require.Len(t, first, 2)

		last := first[len(first)-1]
		rest, err := store.List(ctx, domain.Filter{
			Cursor: &domain.Cursor{CreatedAt: last.CreatedAt, JobID: last.ID},
		})
		require.NoError(t, err)
		require.Len(t, rest, 3)
		assert.Equal(t, "job-2", rest[0].ID)
	})

	t.Run("time range", func(t *testing.T) {
		jobs, err := store.List(ctx, domain.Filter{
			From: base.Add(1 * time.Minute),
			To:   base.Add(3 * time.Minute),
		})
		require.NoError(t, err)
		assert.Len(t, jobs, 2)
	})
}
