package retry_test

import (
	"testing"
	"time"

	"github.com/xraph/governor/backoff"
	"github.com/xraph/governor/dlq"
	"github.com/xraph/governor/operation"
	"github.com/xraph/governor/retry"
)

// zero jitter keeps delays deterministic: 100ms, 200ms, 400ms, ...
func newTestPolicy(opts ...retry.PolicyOption) *retry.Policy {
	strategy := backoff.NewExponentialWithProportionalJitter(100*time.Millisecond, time.Minute, 0)
	return retry.NewPolicy(strategy, 3, opts...)
}

func newOp(attempt, maxAttempts int) *operation.Operation {
	return &operation.Operation{
		Category:    "charge",
		Attempt:     attempt,
		MaxAttempts: maxAttempts,
	}
}

func TestDecide_HardFailureRetriesWithBackoff(t *testing.T) {
	p := newTestPolicy()

	tests := []struct {
		attempt   int
		wantDelay time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
	}
	for _, tt := range tests {
		act := p.Decide(newOp(tt.attempt, 3), retry.ClassHard, false)
		if act.Kind != retry.KindRetry {
			t.Fatalf("Decide(attempt=%d) kind = %v, want retry", tt.attempt, act.Kind)
		}
		if act.Delay != tt.wantDelay {
			t.Errorf("Decide(attempt=%d) delay = %v, want %v", tt.attempt, act.Delay, tt.wantDelay)
		}
	}
}

func TestDecide_ExhaustedGoesToDeadLetter(t *testing.T) {
	p := newTestPolicy()

	act := p.Decide(newOp(3, 3), retry.ClassHard, false)
	if act.Kind != retry.KindDeadLetter {
		t.Fatalf("kind = %v, want dead_letter", act.Kind)
	}
	if act.Reason != dlq.ReasonRetriesExhausted {
		t.Errorf("reason = %q, want %q", act.Reason, dlq.ReasonRetriesExhausted)
	}
}

func TestDecide_BreakerOpenShortCircuits(t *testing.T) {
	p := newTestPolicy()

	// Attempts remain, but an open breaker wins.
	act := p.Decide(newOp(1, 3), retry.ClassHard, true)
	if act.Kind != retry.KindDeadLetter {
		t.Fatalf("kind = %v, want dead_letter", act.Kind)
	}
	if act.Reason != dlq.ReasonCircuitOpen {
		t.Errorf("reason = %q, want %q", act.Reason, dlq.ReasonCircuitOpen)
	}
}

func TestDecide_CancelledDropsEvenWithOpenBreaker(t *testing.T) {
	p := newTestPolicy()

	act := p.Decide(newOp(1, 3), retry.ClassCancelled, true)
	if act.Kind != retry.KindDrop {
		t.Fatalf("kind = %v, want drop", act.Kind)
	}
}

func TestDecide_SoftFailureConsumesNoAttempt(t *testing.T) {
	p := newTestPolicy()

	op := newOp(0, 3)
	op.AdmissionRetries = 0
	act := p.Decide(op, retry.ClassSoft, false)
	if act.Kind != retry.KindRetry {
		t.Fatalf("kind = %v, want retry", act.Kind)
	}
	if act.Delay != 100*time.Millisecond {
		t.Errorf("delay = %v, want 100ms for first soft retry", act.Delay)
	}

	// Exhausted execution attempts do not block a soft retry.
	op = newOp(3, 3)
	op.AdmissionRetries = 1
	act = p.Decide(op, retry.ClassSoft, false)
	if act.Kind != retry.KindRetry {
		t.Fatalf("kind = %v, want retry despite exhausted attempts", act.Kind)
	}
	if act.Delay != 200*time.Millisecond {
		t.Errorf("delay = %v, want 200ms for second soft retry", act.Delay)
	}
}

func TestDecide_SoftFailureBoundedByAdmissionRetries(t *testing.T) {
	p := newTestPolicy()

	op := newOp(0, 3)
	op.AdmissionRetries = 3
	act := p.Decide(op, retry.ClassSoft, false)
	if act.Kind != retry.KindDeadLetter {
		t.Fatalf("kind = %v, want dead_letter", act.Kind)
	}
	if act.Reason != dlq.ReasonAdmissionTimeout {
		t.Errorf("reason = %q, want %q", act.Reason, dlq.ReasonAdmissionTimeout)
	}
}

func TestDecide_ZeroMaxAttemptsUsesPolicyDefault(t *testing.T) {
	p := newTestPolicy()

	act := p.Decide(newOp(2, 0), retry.ClassHard, false)
	if act.Kind != retry.KindRetry {
		t.Fatalf("kind = %v, want retry below policy default of 3", act.Kind)
	}
	act = p.Decide(newOp(3, 0), retry.ClassHard, false)
	if act.Kind != retry.KindDeadLetter {
		t.Fatalf("kind = %v, want dead_letter at policy default of 3", act.Kind)
	}
}

func TestDecide_WithoutDeadLetterDrops(t *testing.T) {
	p := newTestPolicy(retry.WithoutDeadLetter("charge"))

	act := p.Decide(newOp(3, 3), retry.ClassHard, false)
	if act.Kind != retry.KindDrop {
		t.Fatalf("kind = %v, want drop for opted-out category", act.Kind)
	}

	other := newOp(3, 3)
	other.Category = "email"
	act = p.Decide(other, retry.ClassHard, false)
	if act.Kind != retry.KindDeadLetter {
		t.Fatalf("kind = %v, want dead_letter for other categories", act.Kind)
	}
}

func TestClassAndKindStrings(t *testing.T) {
	if got := retry.ClassSoft.String(); got != "soft" {
		t.Errorf("ClassSoft.String() = %q, want %q", got, "soft")
	}
	if got := retry.KindDeadLetter.String(); got != "dead_letter" {
		t.Errorf("KindDeadLetter.String() = %q, want %q", got, "dead_letter")
	}
}
