// Package retry decides what happens to a failed operation: retry after a
// backoff delay, move to the dead letter store, or drop.
package retry

import (
	"time"

	"github.com/xraph/governor/backoff"
	"github.com/xraph/governor/dlq"
	"github.com/xraph/governor/operation"
)

// Class weighs a failure for retry and breaker accounting.
type Class int

const (
	// ClassHard is an execution failure. It consumes an attempt and counts
	// toward the circuit breaker.
	ClassHard Class = iota
	// ClassSoft is an admission timeout. It consumes no attempt and does
	// not count toward the breaker; a slow system is not a broken one.
	ClassSoft
	// ClassCancelled means the caller cancelled the operation mid-flight.
	ClassCancelled
)

func (c Class) String() string {
	switch c {
	case ClassHard:
		return "hard"
	case ClassSoft:
		return "soft"
	case ClassCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Kind discriminates actions.
type Kind int

const (
	// KindRetry schedules a re-submission after Delay.
	KindRetry Kind = iota
	// KindDeadLetter moves the operation to the dead letter store.
	KindDeadLetter
	// KindDrop discards the operation with no dead letter entry.
	KindDrop
)

func (k Kind) String() string {
	switch k {
	case KindRetry:
		return "retry"
	case KindDeadLetter:
		return "dead_letter"
	case KindDrop:
		return "drop"
	default:
		return "unknown"
	}
}

// Action is the decision for one failed operation.
type Action struct {
	Kind Kind

	// Delay is how long to wait before re-enqueueing. Set for KindRetry.
	Delay time.Duration

	// Reason is the dead letter reason. Set for KindDeadLetter.
	Reason dlq.Reason
}

// Policy turns failures into actions. The zero Policy is not usable; use
// NewPolicy.
type Policy struct {
	strategy     backoff.Strategy
	maxAttempts  int
	noDeadLetter map[string]bool
}

// PolicyOption configures a Policy.
type PolicyOption func(*Policy)

// WithoutDeadLetter drops terminal failures for the given categories
// instead of dead-lettering them.
func WithoutDeadLetter(categories ...string) PolicyOption {
	return func(p *Policy) {
		for _, c := range categories {
			p.noDeadLetter[c] = true
		}
	}
}

// NewPolicy creates a retry policy. maxAttempts applies to operations
// that carry no attempt cap of their own.
func NewPolicy(strategy backoff.Strategy, maxAttempts int, opts ...PolicyOption) *Policy {
	if strategy == nil {
		strategy = backoff.DefaultStrategy()
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	p := &Policy{
		strategy:     strategy,
		maxAttempts:  maxAttempts,
		noDeadLetter: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Decide routes a failed operation. The caller updates the operation's
// counters first: Attempt is incremented after a hard failure before the
// call, AdmissionRetries is incremented after the call when the action is
// a retry. breakerOpen reports whether the breaker for the operation's
// key is open at decision time; retrying into a known-open circuit wastes
// slots, so it short-circuits to the dead letter store regardless of
// remaining attempts.
func (p *Policy) Decide(op *operation.Operation, class Class, breakerOpen bool) Action {
	if class == ClassCancelled {
		return Action{Kind: KindDrop}
	}
	if breakerOpen {
		return p.terminal(op, dlq.ReasonCircuitOpen)
	}

	maxAttempts := op.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = p.maxAttempts
	}

	if class == ClassSoft {
		if op.AdmissionRetries >= maxAttempts {
			return p.terminal(op, dlq.ReasonAdmissionTimeout)
		}
		return Action{Kind: KindRetry, Delay: p.strategy.Delay(op.AdmissionRetries + 1)}
	}

	if op.Attempt >= maxAttempts {
		return p.terminal(op, dlq.ReasonRetriesExhausted)
	}
	return Action{Kind: KindRetry, Delay: p.strategy.Delay(op.Attempt)}
}

func (p *Policy) terminal(op *operation.Operation, reason dlq.Reason) Action {
	if p.noDeadLetter[op.Category] {
		return Action{Kind: KindDrop}
	}
	return Action{Kind: KindDeadLetter, Reason: reason}
}
