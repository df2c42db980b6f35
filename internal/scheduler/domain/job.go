package domain

import "time"

// Job is the single persistent entity of the scheduler. The store owns the
// persisted representation; dispatchers never hold a copy across polling
// cycles.
type Job struct {
	ID          string        `db:"job_id"`
	Type        string        `db:"job_type"`
	Data        string        `db:"payload"` // opaque, passed to the handler verbatim
	Status      string        `db:"status"`
	ExecuteAt   time.Time     `db:"execute_at"`
	Recurrent   bool          `db:"recurrent"`
	Interval    time.Duration `db:"interval_ms"` // stored as milliseconds
	MaxRuns     int           `db:"max_runs"`    // 0 means unlimited
	CurrentRuns int           `db:"current_runs"`
	RetryCount  int           `db:"retry_count"`
	Reason      string        `db:"reason"`
	Service     string        `db:"service"`
	CreatedAt   time.Time     `db:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at"`
}

// Terminal reports whether the job has reached a final status. Terminal jobs
// are never selected by a claim again.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// Filter narrows List queries. Zero values mean "no constraint".
type Filter struct {
	Service string
	Status  string
	Type    string
	From    time.Time // created_at lower bound, inclusive
	To      time.Time // created_at upper bound, exclusive
	Limit   int
	Cursor  *Cursor
}

// Cursor is a keyset pagination position (created_at DESC, job_id DESC).
type Cursor struct {
	CreatedAt time.Time
	JobID     string
}
