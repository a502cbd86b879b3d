package dlq

import (
	"time"

	"github.com/xraph/governor/id"
	"github.com/xraph/governor/operation"
)

// Reason records why an operation was dead-lettered.
type Reason string

const (
	// ReasonRetriesExhausted means the operation failed with no attempts left.
	ReasonRetriesExhausted Reason = "retries_exhausted"
	// ReasonCircuitOpen means the circuit for the operation's key was still
	// open at retry-decision time, so further retries were pointless.
	ReasonCircuitOpen Reason = "circuit_open"
	// ReasonAdmissionTimeout means the operation repeatedly timed out
	// waiting for an execution slot.
	ReasonAdmissionTimeout Reason = "admission_timeout"
)

// Valid reports whether r is a known reason.
func (r Reason) Valid() bool {
	switch r {
	case ReasonRetriesExhausted, ReasonCircuitOpen, ReasonAdmissionTimeout:
		return true
	}
	return false
}

// MetadataReplayOf is set on replayed operations and carries the source
// entry ID. The coordinator resolves the entry when the replay succeeds.
const MetadataReplayOf = "governor_replay_of"

// Entry represents an operation that reached a terminal failure and was
// moved to the dead letter store for inspection or replay.
type Entry struct {
	ID id.DLQID `json:"id"`

	// Operation is a snapshot taken at dead-letter time. Replays are built
	// from it.
	Operation *operation.Operation `json:"operation"`

	Reason Reason `json:"reason"`
	Error  string `json:"error,omitempty"`

	FirstFailedAt time.Time `json:"first_failed_at"`

	// ExpiresAt is when the background sweep may delete the entry.
	ExpiresAt time.Time `json:"expires_at"`

	ReplayCount int        `json:"replay_count"`
	ReplayedAt  *time.Time `json:"replayed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
