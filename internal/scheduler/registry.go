package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuongbtq/job-scheduler/internal/scheduler/domain"
)

// Handler executes a job's payload. Handlers are external collaborators and
// must be idempotent or tolerate duplicate execution: under crash recovery a
// job may run more than once per due occurrence.
type Handler interface {
	Execute(ctx context.Context, job *domain.Job) Result
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, job *domain.Job) Result

// Execute calls f.
func (f HandlerFunc) Execute(ctx context.Context, job *domain.Job) Result {
	return f(ctx, job)
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeRetry
	outcomeFail
)

// Result is a handler's verdict on one execution: success, retryable
// failure, or non-retryable failure.
type Result struct {
	outcome outcome
	err     error
}

// Success reports a completed execution.
func Success() Result {
	return Result{outcome: outcomeSuccess}
}

// Retry reports a transient failure eligible for retry under the retry
// policy.
func Retry(err error) Result {
	return Result{outcome: outcomeRetry, err: err}
}

// Fail reports a failure that must not be retried.
func Fail(err error) Result {
	return Result{outcome: outcomeFail, err: err}
}

// Err returns the failure recorded on the result, nil for success.
func (r Result) Err() error {
	return r.err
}

func (r Result) reason() string {
	if r.err == nil {
		return ""
	}
	return r.err.Error()
}

// Registry maps job types to handlers. Registration is validated up front so
// unknown types fail fast at enqueue instead of silently at execution.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler to a job type. Empty types, nil handlers and
// duplicate registrations are rejected.
func (r *Registry) Register(jobType string, h Handler) error {
	if jobType == "" {
		return domain.NewValidationError("job_type", "must not be empty")
	}
	if h == nil {
		return domain.NewValidationError("handler", "must not be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[jobType]; exists {
		return fmt.Errorf("handler already registered for job type %q", jobType)
	}
	r.handlers[jobType] = h
	return nil
}

// Lookup returns the handler for a job type.
func (r *Registry) Lookup(jobType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}

// Registered reports whether a handler exists for the job type.
func (r *Registry) Registered(jobType string) bool {
	_, ok := r.Lookup(jobType)
	return ok
}
