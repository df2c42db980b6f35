package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/job-scheduler/internal/api/dto"
	"github.com/cuongbtq/job-scheduler/internal/scheduler"
	"github.com/cuongbtq/job-scheduler/internal/scheduler/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CreateJob handles POST /api/v1/jobs
// Enqueues a one-off or recurring background job
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	var executeAt time.Time
	if req.ExecuteAt != nil {
		executeAt = *req.ExecuteAt
	}

	var opts []scheduler.EnqueueOption
	if req.Service != "" {
		opts = append(opts, scheduler.WithService(req.Service))
	}

	ctx := c.Request.Context()

	var job *domain.Job
	var err error
	if req.Recurrent {
		interval := time.Duration(req.IntervalMS) * time.Millisecond
		job, err = h.scheduler.EnqueueRecurring(ctx, req.JobType, req.Payload, executeAt, interval, req.MaxRuns, opts...)
	} else {
		job, err = h.scheduler.EnqueueOnce(ctx, req.JobType, req.Payload, executeAt, opts...)
	}

	if err != nil {
		if domain.IsValidation(err) || errors.Is(err, domain.ErrHandlerMissing) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": err.Error(),
			})
			return
		}
		h.logger.Error("Failed to create job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create job",
		})
		return
	}

	c.JSON(http.StatusCreated, dto.FromJob(job))
}

// GetJob handles GET /api/v1/jobs/:job_id
// Returns the current state of a job
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	job, err := h.scheduler.Status(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
			return
		}
		h.logger.Error("Failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}

	c.JSON(http.StatusOK, dto.FromJob(job))
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs with optional filtering and cursor pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	// Fetch one extra row to tell whether another page exists.
	filter := domain.Filter{
		Service: req.Service,
		Status:  req.Status,
		Type:    req.JobType,
		Limit:   req.PageSize + 1,
		Cursor:  cursor,
	}

	jobs, err := h.scheduler.List(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	resp := dto.ListJobsResponse{
		Jobs: make([]dto.JobDTO, 0, len(jobs)),
	}

	if len(jobs) > req.PageSize {
		jobs = jobs[:req.PageSize]
		last := jobs[len(jobs)-1]
		resp.NextCursor = EncodeJobCursor(&domain.Cursor{
			CreatedAt: last.CreatedAt,
			JobID:     last.ID,
		})
	}

	for i := range jobs {
		resp.Jobs = append(resp.Jobs, dto.FromJob(&jobs[i]))
	}

	c.JSON(http.StatusOK, resp)
}

// CancelJob handles POST /api/v1/jobs/:job_id/cancel
// Cancels a pending job; jobs already processing cannot be canceled
func (h *JobHandler) CancelJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	// Body is optional
	var req dto.CancelJobRequest
	_ = c.ShouldBindJSON(&req)
	if req.Reason == "" {
		req.Reason = "canceled by caller"
	}

	err := h.scheduler.Cancel(c.Request.Context(), jobID, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrJobNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job not found",
			})
		case errors.Is(err, domain.ErrInvalidState):
			c.JSON(http.StatusConflict, gin.H{
				"error": "Job is not pending and cannot be canceled",
			})
		default:
			h.logger.Error("Failed to cancel job",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to cancel job",
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id": jobID,
		"status": domain.JobStatusFailed,
		"reason": req.Reason,
	})
}
