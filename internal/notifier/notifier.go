// Package notifier connects the scheduler to the message broker: terminal
// job transitions are announced on the exchange for other services to
// observe, and notification-delivery jobs are executed by publishing their
// payload as a notification message.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/job-scheduler/internal/scheduler"
	"github.com/cuongbtq/job-scheduler/internal/scheduler/domain"
	"github.com/cuongbtq/job-scheduler/shared/rabbitmq"
)

// JobTypeNotificationDelivery is the job type handled by DeliveryHandler.
const JobTypeNotificationDelivery = "notification.delivery"

// jobEvent is the envelope announced when a job reaches a terminal status.
type jobEvent struct {
	JobID       string    `json:"job_id"`
	JobType     string    `json:"job_type"`
	Status      string    `json:"status"`
	Service     string    `json:"service,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	CurrentRuns int       `json:"current_runs"`
	RetryCount  int       `json:"retry_count"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Publisher implements scheduler.Events over RabbitMQ. Publish failures are
// logged, never surfaced: events are advisory and must not disturb job
// transitions.
type Publisher struct {
	client *rabbitmq.Client
	logger *slog.Logger
}

// NewPublisher creates a lifecycle event publisher.
func NewPublisher(client *rabbitmq.Client, logger *slog.Logger) *Publisher {
	return &Publisher{
		client: client,
		logger: logger,
	}
}

// JobFinished publishes the terminal transition under "jobs.<status>".
func (p *Publisher) JobFinished(ctx context.Context, job domain.Job) {
	event := jobEvent{
		JobID:       job.ID,
		JobType:     job.Type,
		Status:      job.Status,
		Service:     job.Service,
		Reason:      job.Reason,
		CurrentRuns: job.CurrentRuns,
		RetryCount:  job.RetryCount,
		FinishedAt:  job.UpdatedAt,
	}

	body, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to marshal job event",
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
		return
	}

	routingKey := "jobs." + job.Status
	if err := p.client.PublishWithRetry(ctx, routingKey, body, "application/json"); err != nil {
		p.logger.Error("Failed to publish job event",
			slog.String("job_id", job.ID),
			slog.String("routing_key", routingKey),
			slog.Any("error", err),
		)
	}
}

// notificationPayload is the expected payload of a notification.delivery job.
type notificationPayload struct {
	Recipient string `json:"recipient"`
	Channel   string `json:"channel"` // email, push, ...
	Subject   string `json:"subject,omitempty"`
	Body      string `json:"body"`
}

// DeliveryHandler executes notification.delivery jobs by publishing the
// payload to the broker for the delivery workers to pick up.
type DeliveryHandler struct {
	client *rabbitmq.Client
	logger *slog.Logger
}

// NewDeliveryHandler creates the built-in notification delivery handler.
func NewDeliveryHandler(client *rabbitmq.Client, logger *slog.Logger) *DeliveryHandler {
	return &DeliveryHandler{
		client: client,
		logger: logger,
	}
}

// Execute publishes the notification. Malformed payloads fail without retry;
// broker errors are transient and retried.
func (h *DeliveryHandler) Execute(ctx context.Context, job *domain.Job) scheduler.Result {
	var payload notificationPayload
	if err := json.Unmarshal([]byte(job.Data), &payload); err != nil {
		return scheduler.Fail(fmt.Errorf("invalid notification payload: %w", err))
	}
	if payload.Recipient == "" {
		return scheduler.Fail(fmt.Errorf("notification payload missing recipient"))
	}
	if payload.Channel == "" {
		payload.Channel = "email"
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return scheduler.Fail(fmt.Errorf("failed to marshal notification: %w", err))
	}

	routingKey := "notifications." + payload.Channel
	if err := h.client.PublishWithRetry(ctx, routingKey, body, "application/json"); err != nil {
		return scheduler.Retry(fmt.Errorf("failed to publish notification: %w", err))
	}

	h.logger.Info("Notification dispatched",
		slog.String("job_id", job.ID),
		slog.String("channel", payload.Channel),
		slog.String("recipient", payload.Recipient),
	)
	return scheduler.Success()
}
