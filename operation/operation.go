package operation

import (
	"time"

	"github.com/xraph/governor"
	"github.com/xraph/governor/id"
)

// State represents the lifecycle state of an operation.
type State string

const (
	// StateQueued means the operation is waiting for an execution slot.
	StateQueued State = "queued"
	// StateRunning means the operation holds a slot and is executing.
	StateRunning State = "running"
	// StateSucceeded means the operation finished successfully.
	StateSucceeded State = "succeeded"
	// StateFailed means the operation failed and will not be retried.
	StateFailed State = "failed"
	// StateRetrying means the operation failed but is scheduled for retry.
	StateRetrying State = "retrying"
	// StateDeadLettered means the operation was moved to the dead letter store.
	StateDeadLettered State = "dead_lettered"
	// StateCancelled means the operation was explicitly cancelled while queued.
	StateCancelled State = "cancelled"
)

// Terminal reports whether the state is final. Every admitted operation
// reaches exactly one terminal state.
func (s State) Terminal() bool {
	switch s {
	case StateSucceeded, StateFailed, StateDeadLettered, StateCancelled:
		return true
	default:
		return false
	}
}

// Operation represents a unit of work flowing through admission control.
type Operation struct {
	governor.Entity

	ID       id.OperationID `json:"id"`
	Category string         `json:"category"`
	TenantID string         `json:"tenant_id,omitempty"`

	// Priority orders admission within a category. Lower values are more
	// urgent; equal priorities admit in enqueue order.
	Priority int `json:"priority"`

	Payload []byte `json:"payload,omitempty"`
	State   State  `json:"state"`

	// Attempt counts completed executions. It starts at zero and never
	// exceeds MaxAttempts.
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"max_attempts"`
	LastError   string `json:"last_error,omitempty"`

	// AdmissionRetries counts re-enqueues after admission timeouts. Those
	// are soft failures and do not consume Attempt.
	AdmissionRetries int `json:"admission_retries,omitempty"`

	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`

	EnqueuedAt    time.Time     `json:"enqueued_at"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
	FirstFailedAt *time.Time    `json:"first_failed_at,omitempty"`
	Timeout       time.Duration `json:"timeout,omitempty"`
}

// Clone returns a deep copy safe to mutate independently.
func (o *Operation) Clone() *Operation {
	if o == nil {
		return nil
	}
	c := *o
	if o.Payload != nil {
		c.Payload = append([]byte(nil), o.Payload...)
	}
	if o.Metadata != nil {
		c.Metadata = make(map[string]string, len(o.Metadata))
		for k, v := range o.Metadata {
			c.Metadata[k] = v
		}
	}
	if o.StartedAt != nil {
		t := *o.StartedAt
		c.StartedAt = &t
	}
	if o.CompletedAt != nil {
		t := *o.CompletedAt
		c.CompletedAt = &t
	}
	if o.FirstFailedAt != nil {
		t := *o.FirstFailedAt
		c.FirstFailedAt = &t
	}
	return &c
}
