package admission_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/governor"
	"github.com/xraph/governor/admission"
	"github.com/xraph/governor/resource"
)

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

type stubGate struct {
	blocked atomic.Bool
}

func (g *stubGate) UnderPressure() (resource.Dimension, bool) {
	if g.blocked.Load() {
		return resource.DimensionCPU, true
	}
	return "", false
}

func newStartedQueue(t *testing.T, defaults admission.Limits, opts ...admission.QueueOption) *admission.Queue {
	t.Helper()
	q := admission.NewQueue(defaults, nil, opts...)
	if err := q.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(q.Stop)
	return q
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// holdSlot occupies one execution slot so later waiters stay queued.
func holdSlot(t *testing.T, q *admission.Queue, category string) *admission.Ticket {
	t.Helper()
	tk, err := q.Enqueue(category, "", 0)
	if err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}
	if err := q.Acquire(context.Background(), tk, time.Second); err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	return tk
}

type namedTicket struct {
	name   string
	ticket *admission.Ticket
}

// grantOrder releases the held slot and returns the order in which the
// waiters were admitted. Each waiter releases its slot as soon as it is
// recorded, so grants cascade one at a time when MaxConcurrent is 1.
func grantOrder(t *testing.T, q *admission.Queue, category string, waiters []namedTicket) []string {
	t.Helper()
	order := make(chan string, len(waiters))
	var wg sync.WaitGroup
	for _, w := range waiters {
		wg.Add(1)
		go func(w namedTicket) {
			defer wg.Done()
			if err := q.Acquire(context.Background(), w.ticket, 5*time.Second); err != nil {
				t.Errorf("Acquire(%s) error: %v", w.name, err)
				return
			}
			order <- w.name
			q.Release(category)
		}(w)
	}

	q.Release(category)
	wg.Wait()
	close(order)

	got := make([]string, 0, len(waiters))
	for name := range order {
		got = append(got, name)
	}
	return got
}

// ─────────────────────────────────────────────────────────────────────────────
// Backpressure and slot accounting
// ─────────────────────────────────────────────────────────────────────────────

func TestEnqueue_QueueFull(t *testing.T) {
	q := newStartedQueue(t, admission.Limits{MaxConcurrent: 1, MaxQueueSize: 2})
	holdSlot(t, q, "mail")

	for range 2 {
		if _, err := q.Enqueue("mail", "", 0); err != nil {
			t.Fatalf("Enqueue() error: %v", err)
		}
	}
	if _, err := q.Enqueue("mail", "", 0); !errors.Is(err, governor.ErrQueueFull) {
		t.Fatalf("Enqueue() on full queue = %v, want ErrQueueFull", err)
	}
}

func TestAcquireRelease_SlotInvariant(t *testing.T) {
	const (
		workers = 100
		slots   = 5
	)
	q := newStartedQueue(t, admission.Limits{MaxConcurrent: slots, MaxQueueSize: workers})

	var (
		active    atomic.Int64
		maxActive atomic.Int64
		wg        sync.WaitGroup
	)
	for i := range workers {
		wg.Add(1)
		go func(priority int) {
			defer wg.Done()
			tk, err := q.Enqueue("bulk", "", priority)
			if err != nil {
				t.Errorf("Enqueue() error: %v", err)
				return
			}
			if err := q.Acquire(context.Background(), tk, 5*time.Second); err != nil {
				t.Errorf("Acquire() error: %v", err)
				return
			}
			cur := active.Add(1)
			for {
				prev := maxActive.Load()
				if cur <= prev || maxActive.CompareAndSwap(prev, cur) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
			q.Release("bulk")
		}(i % 10)
	}
	wg.Wait()

	if got := maxActive.Load(); got > slots {
		t.Fatalf("observed %d concurrent holders, limit %d", got, slots)
	}
	if got := q.Running("bulk"); got != 0 {
		t.Fatalf("Running() = %d after all released, want 0", got)
	}
	if got := q.Depth("bulk"); got != 0 {
		t.Fatalf("Depth() = %d after all released, want 0", got)
	}
}

func TestUnknownCategory_Introspection(t *testing.T) {
	q := newStartedQueue(t, admission.DefaultLimits())

	q.Release("ghost")
	if got := q.Running("ghost"); got != 0 {
		t.Fatalf("Running(ghost) = %d, want 0", got)
	}
	if got := q.Depth("ghost"); got != 0 {
		t.Fatalf("Depth(ghost) = %d, want 0", got)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Ordering
// ─────────────────────────────────────────────────────────────────────────────

func TestAcquire_PriorityOrder(t *testing.T) {
	q := newStartedQueue(t, admission.Limits{MaxConcurrent: 1, MaxQueueSize: 8})
	holdSlot(t, q, "mail")

	waiters := make([]namedTicket, 0, 3)
	for _, w := range []struct {
		name     string
		priority int
	}{
		{"low", 5},
		{"high", 1},
		{"mid", 3},
	} {
		tk, err := q.Enqueue("mail", "", w.priority)
		if err != nil {
			t.Fatalf("Enqueue(%s) error: %v", w.name, err)
		}
		waiters = append(waiters, namedTicket{w.name, tk})
	}

	got := grantOrder(t, q, "mail", waiters)
	want := []string{"high", "mid", "low"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("grant order = %v, want %v", got, want)
		}
	}
}

func TestAcquire_FIFOWithinPriority(t *testing.T) {
	q := newStartedQueue(t, admission.Limits{MaxConcurrent: 1, MaxQueueSize: 8})
	holdSlot(t, q, "mail")

	waiters := make([]namedTicket, 0, 3)
	for _, name := range []string{"first", "second", "third"} {
		tk, err := q.Enqueue("mail", "", 4)
		if err != nil {
			t.Fatalf("Enqueue(%s) error: %v", name, err)
		}
		waiters = append(waiters, namedTicket{name, tk})
	}

	got := grantOrder(t, q, "mail", waiters)
	want := []string{"first", "second", "third"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("grant order = %v, want %v", got, want)
		}
	}
}

func TestFairness_PromotesAgedWaiters(t *testing.T) {
	q := newStartedQueue(t, admission.Limits{MaxConcurrent: 1, MaxQueueSize: 8},
		admission.WithFairness(20*time.Millisecond))
	holdSlot(t, q, "mail")

	aged, err := q.Enqueue("mail", "", 3)
	if err != nil {
		t.Fatalf("Enqueue(aged) error: %v", err)
	}
	// Let the aged waiter climb to tier 0, then enqueue a natural tier-0
	// waiter. The aged one has the smaller sequence number and wins the tie.
	time.Sleep(100 * time.Millisecond)
	urgent, err := q.Enqueue("mail", "", 0)
	if err != nil {
		t.Fatalf("Enqueue(urgent) error: %v", err)
	}

	got := grantOrder(t, q, "mail", []namedTicket{{"aged", aged}, {"urgent", urgent}})
	if got[0] != "aged" {
		t.Fatalf("grant order = %v, want aged first", got)
	}
}

func TestNoFairness_StrictPriority(t *testing.T) {
	q := newStartedQueue(t, admission.Limits{MaxConcurrent: 1, MaxQueueSize: 8})
	holdSlot(t, q, "mail")

	aged, err := q.Enqueue("mail", "", 3)
	if err != nil {
		t.Fatalf("Enqueue(aged) error: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	urgent, err := q.Enqueue("mail", "", 0)
	if err != nil {
		t.Fatalf("Enqueue(urgent) error: %v", err)
	}

	got := grantOrder(t, q, "mail", []namedTicket{{"aged", aged}, {"urgent", urgent}})
	if got[0] != "urgent" {
		t.Fatalf("grant order = %v, want urgent first", got)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Timeouts, cancellation, leaks
// ─────────────────────────────────────────────────────────────────────────────

func TestAcquire_TimeoutRemovesWaiter(t *testing.T) {
	q := newStartedQueue(t, admission.Limits{MaxConcurrent: 1, MaxQueueSize: 8})
	holdSlot(t, q, "mail")

	tk, err := q.Enqueue("mail", "", 0)
	if err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}
	if err := q.Acquire(context.Background(), tk, 30*time.Millisecond); !errors.Is(err, governor.ErrAdmissionTimeout) {
		t.Fatalf("Acquire() = %v, want ErrAdmissionTimeout", err)
	}
	if got := q.Depth("mail"); got != 0 {
		t.Fatalf("Depth() = %d after timeout, want 0", got)
	}

	// The slot freed below must go to a live waiter, not the abandoned one.
	q.Release("mail")
	tk2, err := q.Enqueue("mail", "", 0)
	if err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}
	if err := q.Acquire(context.Background(), tk2, time.Second); err != nil {
		t.Fatalf("Acquire() after timeout = %v, want nil", err)
	}
}

func TestAcquire_ContextCancelled(t *testing.T) {
	q := newStartedQueue(t, admission.Limits{MaxConcurrent: 1, MaxQueueSize: 8})
	holdSlot(t, q, "mail")

	tk, err := q.Enqueue("mail", "", 0)
	if err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	if err := q.Acquire(ctx, tk, time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("Acquire() = %v, want context.Canceled", err)
	}
	if got := q.Depth("mail"); got != 0 {
		t.Fatalf("Depth() = %d after cancel, want 0", got)
	}
}

func TestAcquire_GrantedTicketWinsOverTimeout(t *testing.T) {
	q := newStartedQueue(t, admission.Limits{MaxConcurrent: 1, MaxQueueSize: 8})

	tk, err := q.Enqueue("mail", "", 0)
	if err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}
	waitFor(t, "grant", func() bool { return q.Running("mail") == 1 })

	// The ticket is already granted, so even an immediate timeout loses.
	if err := q.Acquire(context.Background(), tk, time.Nanosecond); err != nil {
		t.Fatalf("Acquire() on granted ticket = %v, want nil", err)
	}
}

func TestCancel(t *testing.T) {
	q := newStartedQueue(t, admission.Limits{MaxConcurrent: 1, MaxQueueSize: 8})
	held := holdSlot(t, q, "mail")

	tk, err := q.Enqueue("mail", "", 0)
	if err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}
	if !q.Cancel(tk) {
		t.Fatal("Cancel() = false for pending ticket, want true")
	}
	if got := q.Depth("mail"); got != 0 {
		t.Fatalf("Depth() = %d after cancel, want 0", got)
	}
	if q.Cancel(tk) {
		t.Fatal("Cancel() = true for already cancelled ticket, want false")
	}
	if q.Cancel(held) {
		t.Fatal("Cancel() = true for granted ticket, want false")
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Pressure gating and rate limits
// ─────────────────────────────────────────────────────────────────────────────

func TestGate_BlocksGrantsUntilClear(t *testing.T) {
	gate := &stubGate{}
	gate.blocked.Store(true)
	q := newStartedQueue(t, admission.Limits{MaxConcurrent: 1, MaxQueueSize: 8},
		admission.WithGate(gate),
		admission.WithRecheckInterval(5*time.Millisecond))

	tk, err := q.Enqueue("mail", "", 0)
	if err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if got := q.Running("mail"); got != 0 {
		t.Fatalf("Running() = %d while gated, want 0", got)
	}

	gate.blocked.Store(false)
	if err := q.Acquire(context.Background(), tk, time.Second); err != nil {
		t.Fatalf("Acquire() after gate cleared = %v, want nil", err)
	}
}

func TestCategoryRate_ThrottlesGrants(t *testing.T) {
	q := newStartedQueue(t, admission.Limits{
		MaxConcurrent: 3,
		MaxQueueSize:  8,
		RatePerSecond: 50,
		Burst:         1,
	}, admission.WithRecheckInterval(5*time.Millisecond))

	start := time.Now()
	tickets := make([]*admission.Ticket, 3)
	for i := range tickets {
		tk, err := q.Enqueue("mail", "", 0)
		if err != nil {
			t.Fatalf("Enqueue() error: %v", err)
		}
		tickets[i] = tk
	}
	for i, tk := range tickets {
		if err := q.Acquire(context.Background(), tk, 2*time.Second); err != nil {
			t.Fatalf("Acquire(%d) error: %v", i, err)
		}
	}

	// Burst 1 at 50/s means the second and third grants each wait ~20ms.
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Fatalf("three grants took %v, want at least 30ms under rate limit", elapsed)
	}
}

func TestTenantRate_ThrottlesOneTenant(t *testing.T) {
	q := newStartedQueue(t, admission.Limits{MaxConcurrent: 4, MaxQueueSize: 8},
		admission.WithRecheckInterval(5*time.Millisecond))
	q.SetTenantRate("mail", "acme", 50, 1)

	first, err := q.Enqueue("mail", "acme", 0)
	if err != nil {
		t.Fatalf("Enqueue(first) error: %v", err)
	}
	second, err := q.Enqueue("mail", "acme", 1)
	if err != nil {
		t.Fatalf("Enqueue(second) error: %v", err)
	}
	other, err := q.Enqueue("mail", "globex", 0)
	if err != nil {
		t.Fatalf("Enqueue(other) error: %v", err)
	}

	start := time.Now()
	if err := q.Acquire(context.Background(), first, time.Second); err != nil {
		t.Fatalf("Acquire(first) error: %v", err)
	}
	if err := q.Acquire(context.Background(), other, time.Second); err != nil {
		t.Fatalf("Acquire(other) error: %v", err)
	}
	if err := q.Acquire(context.Background(), second, 2*time.Second); err != nil {
		t.Fatalf("Acquire(second) error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Fatalf("throttled tenant admitted after %v, want at least 15ms", elapsed)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Lifecycle
// ─────────────────────────────────────────────────────────────────────────────

func TestEnqueueBeforeStart(t *testing.T) {
	q := admission.NewQueue(admission.Limits{MaxConcurrent: 1, MaxQueueSize: 4}, nil)
	tk, err := q.Enqueue("mail", "", 0)
	if err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}
	if err := q.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(q.Stop)

	if err := q.Acquire(context.Background(), tk, time.Second); err != nil {
		t.Fatalf("Acquire() after Start = %v, want nil", err)
	}
}

func TestStartStop_Restart(t *testing.T) {
	q := admission.NewQueue(admission.Limits{MaxConcurrent: 1, MaxQueueSize: 4}, nil)
	if err := q.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := q.Start(context.Background()); err != nil {
		t.Fatalf("second Start() error: %v", err)
	}
	q.Stop()
	q.Stop()

	if err := q.Start(context.Background()); err != nil {
		t.Fatalf("restart error: %v", err)
	}
	t.Cleanup(q.Stop)

	tk, err := q.Enqueue("mail", "", 0)
	if err != nil {
		t.Fatalf("Enqueue() error: %v", err)
	}
	if err := q.Acquire(context.Background(), tk, time.Second); err != nil {
		t.Fatalf("Acquire() after restart = %v, want nil", err)
	}
}
