package dto

import (
	"time"

	"github.com/cuongbtq/job-scheduler/internal/scheduler/domain"
)

type CreateJobRequest struct {
	JobType    string     `json:"job_type" binding:"required"`
	Payload    string     `json:"payload"`
	Service    string     `json:"service"`
	ExecuteAt  *time.Time `json:"execute_at"`
	Recurrent  bool       `json:"recurrent"`
	IntervalMS int64      `json:"interval_ms"`
	MaxRuns    int        `json:"max_runs"`
}

type CancelJobRequest struct {
	Reason string `json:"reason"`
}

type ListJobsRequest struct {
	Service  string `form:"service"`
	Status   string `form:"status"`
	JobType  string `form:"job_type"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID       string    `json:"job_id"`
	JobType     string    `json:"job_type"`
	Payload     string    `json:"payload"`
	Status      string    `json:"status"`
	ExecuteAt   time.Time `json:"execute_at"`
	Recurrent   bool      `json:"recurrent"`
	IntervalMS  int64     `json:"interval_ms,omitempty"`
	MaxRuns     int       `json:"max_runs,omitempty"`
	CurrentRuns int       `json:"current_runs"`
	RetryCount  int       `json:"retry_count"`
	Reason      string    `json:"reason,omitempty"`
	Service     string    `json:"service,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// FromJob converts a domain job into its API representation.
func FromJob(job *domain.Job) JobDTO {
	return JobDTO{
		JobID:       job.ID,
		JobType:     job.Type,
		Payload:     job.Data,
		Status:      job.Status,
		ExecuteAt:   job.ExecuteAt,
		Recurrent:   job.Recurrent,
		IntervalMS:  job.Interval.Milliseconds(),
		MaxRuns:     job.MaxRuns,
		CurrentRuns: job.CurrentRuns,
		RetryCount:  job.RetryCount,
		Reason:      job.Reason,
		Service:     job.Service,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
	}
}
