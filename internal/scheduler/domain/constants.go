package domain

// Job status constants
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// Reasons recorded on jobs the dispatcher fails without consulting the
// retry policy.
const (
	ReasonMaxRetries     = "max retries exceeded"
	ReasonUnknownJobType = "unknown job type"
)
