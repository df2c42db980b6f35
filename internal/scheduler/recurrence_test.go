package scheduler

import (
	"testing"
	"time"

	"github.com/cuongbtq/job-scheduler/internal/scheduler/domain"
	"github.com/stretchr/testify/assert"
)

func TestRecurrencePolicy_NextOccurrence(t *testing.T) {
	anchor := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		policy   RecurrencePolicy
		job      domain.Job
		now      time.Time
		wantNext time.Time
		wantOK   bool
	}{
		{
			name:     "next slot anchored to scheduled time",
			job:      domain.Job{Recurrent: true, Interval: time.Minute, ExecuteAt: anchor},
			now:      anchor.Add(5 * time.Second), // execution latency does not shift cadence
			wantNext: anchor.Add(time.Minute),
			wantOK:   true,
		},
		{
			name:   "non-recurrent job terminates",
			job:    domain.Job{Recurrent: false, Interval: time.Minute, ExecuteAt: anchor},
			now:    anchor,
			wantOK: false,
		},
		{
			name:   "run ceiling reached",
			job:    domain.Job{Recurrent: true, Interval: time.Minute, ExecuteAt: anchor, MaxRuns: 3, CurrentRuns: 2},
			now:    anchor,
			wantOK: false,
		},
		{
			name:     "one run left before ceiling",
			job:      domain.Job{Recurrent: true, Interval: time.Minute, ExecuteAt: anchor, MaxRuns: 3, CurrentRuns: 1},
			now:      anchor,
			wantNext: anchor.Add(time.Minute),
			wantOK:   true,
		},
		{
			name:     "downtime skips to next future slot",
			job:      domain.Job{Recurrent: true, Interval: time.Minute, ExecuteAt: anchor},
			now:      anchor.Add(3*time.Minute + 30*time.Second), // slots at +1m, +2m, +3m were missed
			wantNext: anchor.Add(4 * time.Minute),
			wantOK:   true,
		},
		{
			name:     "slot exactly now is skipped",
			job:      domain.Job{Recurrent: true, Interval: time.Minute, ExecuteAt: anchor},
			now:      anchor.Add(time.Minute),
			wantNext: anchor.Add(2 * time.Minute),
			wantOK:   true,
		},
		{
			name:     "backfill returns missed slot",
			policy:   RecurrencePolicy{Backfill: true},
			job:      domain.Job{Recurrent: true, Interval: time.Minute, ExecuteAt: anchor},
			now:      anchor.Add(10 * time.Minute),
			wantNext: anchor.Add(time.Minute),
			wantOK:   true,
		},
		{
			name:   "zero interval terminates",
			job:    domain.Job{Recurrent: true, Interval: 0, ExecuteAt: anchor},
			now:    anchor,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, ok := tt.policy.NextOccurrence(&tt.job, tt.now)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantNext, next)
			}
		})
	}
}
