// Package queue provides the delayed work-queue the dispatcher hands batches
// to: enqueue with a delay and a bounded retry policy, at-least-once
// execution on the worker side.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Backoff strategies
const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

// ErrDuplicateJob is returned when a job with the same stable name is already
// enqueued.
var ErrDuplicateJob = errors.New("job with this name already enqueued")

// ErrPostpone is returned by handlers when a job is not runnable yet. The job
// is rescheduled without consuming a retry attempt.
var ErrPostpone = errors.New("job postponed")

// Options is the per-job policy. MaxAttempts and backoff come from config,
// not business code.
type Options struct {
	Delay       time.Duration `json:"delay"`
	MaxAttempts int           `json:"max_attempts"`
	Backoff     time.Duration `json:"backoff"`
	Strategy    string        `json:"strategy"` // fixed / exponential
}

// RetryDelay returns the wait before retry number attempt (1-based).
func (o Options) RetryDelay(attempt int) time.Duration {
	if o.Strategy != BackoffExponential {
		return o.Backoff
	}
	d := o.Backoff
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// JobHandle identifies a submitted job.
type JobHandle struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Queue      string    `json:"queue"`
	Opts       Options   `json:"opts"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Job is what a worker receives. Attempt is 1-based.
type Job struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Payload     json.RawMessage `json:"payload"`
	Attempt     int             `json:"attempt"`
	Opts        Options         `json:"opts"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	LastError   string          `json:"last_error,omitempty"`
}

// Handler processes one job. A non-nil error triggers a retry until the job's
// MaxAttempts is exhausted, after which the job lands in the dead set.
type Handler func(ctx context.Context, job Job) error

// Enqueuer is the producer side, the only part the dispatcher depends on.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, payload any, opts Options) (*JobHandle, error)
}

// Queue is the full collaborator contract: durable delayed submission plus
// worker-side consumption.
type Queue interface {
	Enqueuer
	Run(ctx context.Context, handler Handler) error
}
