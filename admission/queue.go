// Package admission bounds concurrent execution with per-category slot
// pools and priority-ordered waiting. Callers enqueue a ticket, block on
// Acquire until a dispatch goroutine grants a slot, and release the slot
// when done. Grants respect priority (lower is more urgent), FIFO order
// within a tier, resource pressure, and optional rate limits.
package admission

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/xraph/governor"
	"github.com/xraph/governor/resource"
)

// Gate is consulted before every grant. While it reports pressure, grants
// pause for the named dimension until the gate clears; waiters stay queued.
// *resource.Monitor satisfies this interface.
type Gate interface {
	UnderPressure() (resource.Dimension, bool)
}

// Limits bounds a single category.
type Limits struct {
	// MaxConcurrent is the number of execution slots. At most this many
	// tickets are granted and unreleased at any time.
	MaxConcurrent int

	// MaxQueueSize bounds the waiters. Enqueue beyond it fails with
	// ErrQueueFull.
	MaxQueueSize int

	// RatePerSecond throttles grants when positive. Burst defaults to
	// MaxConcurrent when unset.
	RatePerSecond float64
	Burst         int
}

// DefaultLimits returns the limits applied to categories that were never
// configured explicitly.
func DefaultLimits() Limits {
	return Limits{MaxConcurrent: 10, MaxQueueSize: 256}
}

func (l Limits) sanitized() Limits {
	def := DefaultLimits()
	if l.MaxConcurrent <= 0 {
		l.MaxConcurrent = def.MaxConcurrent
	}
	if l.MaxQueueSize <= 0 {
		l.MaxQueueSize = def.MaxQueueSize
	}
	if l.RatePerSecond > 0 && l.Burst <= 0 {
		l.Burst = l.MaxConcurrent
	}
	return l
}

type categoryState struct {
	name   string
	limits Limits

	// limiter throttles grants for the whole category; tenants holds
	// per-tenant limiters keyed by tenant ID. Nil means unlimited.
	limiter *rate.Limiter
	tenants map[string]*rate.Limiter

	mu      sync.Mutex
	pending waiterHeap
	running int

	wake chan struct{}
}

func newCategoryState(name string, limits Limits) *categoryState {
	limits = limits.sanitized()
	cs := &categoryState{
		name:    name,
		limits:  limits,
		tenants: make(map[string]*rate.Limiter),
		wake:    make(chan struct{}, 1),
	}
	if limits.RatePerSecond > 0 {
		cs.limiter = rate.NewLimiter(rate.Limit(limits.RatePerSecond), limits.Burst)
	}
	return cs
}

func (cs *categoryState) signal() {
	select {
	case cs.wake <- struct{}{}:
	default:
	}
}

// Queue admits operations into bounded per-category execution slots.
// Waiters are ordered by priority (lower first) and FIFO within a tier.
// One dispatch goroutine per category hands out grants.
type Queue struct {
	logger   *slog.Logger
	gate     Gate
	defaults Limits

	// levels bounds submitted priorities to [0, levels).
	levels int

	// fairness promotes waiters one priority tier per interval waited.
	// Zero disables promotion.
	fairness time.Duration

	// recheck is how often dispatch re-evaluates blocked categories, so
	// pressure clearing and limiter refill are picked up without an
	// enqueue or release event.
	recheck time.Duration

	mu         sync.Mutex
	categories map[string]*categoryState
	started    bool

	seq      atomic.Uint64
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithGate installs a pressure gate consulted before each grant.
func WithGate(g Gate) QueueOption {
	return func(q *Queue) { q.gate = g }
}

// WithLogger sets the queue logger.
func WithLogger(logger *slog.Logger) QueueOption {
	return func(q *Queue) { q.logger = logger }
}

// WithPriorityLevels bounds submitted priorities to [0, n).
func WithPriorityLevels(n int) QueueOption {
	return func(q *Queue) {
		if n > 0 {
			q.levels = n
		}
	}
}

// WithFairness promotes waiters one priority tier for each threshold
// interval they have waited. Zero disables promotion.
func WithFairness(threshold time.Duration) QueueOption {
	return func(q *Queue) { q.fairness = threshold }
}

// WithRecheckInterval overrides how often blocked categories are
// re-evaluated.
func WithRecheckInterval(d time.Duration) QueueOption {
	return func(q *Queue) {
		if d > 0 {
			q.recheck = d
		}
	}
}

// NewQueue creates a queue. Categories not present in limits are created
// on demand with the given defaults.
func NewQueue(defaults Limits, limits map[string]Limits, opts ...QueueOption) *Queue {
	q := &Queue{
		logger:     slog.Default(),
		defaults:   defaults.sanitized(),
		levels:     10,
		recheck:    100 * time.Millisecond,
		categories: make(map[string]*categoryState),
		stopChan:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	for name, l := range limits {
		q.categories[name] = newCategoryState(name, l)
	}
	return q
}

// Start launches one dispatch goroutine per category. Categories created
// after Start get their goroutine immediately.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return nil
	}
	q.started = true
	q.stopChan = make(chan struct{})
	for _, cs := range q.categories {
		q.wg.Add(1)
		go q.dispatch(ctx, cs, q.stopChan)
	}
	return nil
}

// Stop halts all dispatch goroutines. Waiters still blocked in Acquire
// return through their own timeout or context.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.started = false
	close(q.stopChan)
	q.mu.Unlock()
	q.wg.Wait()
}

// category returns the state for name, creating it with default limits on
// first use.
func (q *Queue) category(name string) *categoryState {
	q.mu.Lock()
	defer q.mu.Unlock()
	cs, ok := q.categories[name]
	if !ok {
		cs = newCategoryState(name, q.defaults)
		q.categories[name] = cs
		if q.started {
			q.wg.Add(1)
			go q.dispatch(context.Background(), cs, q.stopChan)
		}
	}
	return cs
}

func (q *Queue) lookup(name string) *categoryState {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.categories[name]
}

// Enqueue places a waiter in the category queue and returns its ticket.
// It never blocks: a full queue fails fast with ErrQueueFull.
func (q *Queue) Enqueue(category, tenantID string, priority int) (*Ticket, error) {
	if priority < 0 {
		priority = 0
	}
	if priority >= q.levels {
		priority = q.levels - 1
	}

	cs := q.category(category)
	cs.mu.Lock()
	if cs.pending.Len() >= cs.limits.MaxQueueSize {
		cs.mu.Unlock()
		return nil, governor.ErrQueueFull
	}
	t := &Ticket{
		category:     category,
		tenantID:     tenantID,
		basePriority: priority,
		priority:     priority,
		seq:          q.seq.Add(1),
		enqueuedAt:   time.Now(),
		granted:      make(chan struct{}),
		state:        ticketPending,
		cs:           cs,
	}
	heap.Push(&cs.pending, t)
	cs.mu.Unlock()
	cs.signal()
	return t, nil
}

// Acquire blocks until the ticket is granted a slot, the timeout lapses,
// or ctx is done. It is the only blocking call in the admission path.
// A timeout or cancellation removes the waiter; if a grant raced ahead of
// it, the grant wins and Acquire returns nil.
func (q *Queue) Acquire(ctx context.Context, t *Ticket, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-t.granted:
		return nil
	case <-timer.C:
		if q.abandon(t) {
			return governor.ErrAdmissionTimeout
		}
		return nil
	case <-ctx.Done():
		if q.abandon(t) {
			return ctx.Err()
		}
		return nil
	}
}

// Cancel removes a waiter that has not been granted yet. It reports
// whether the ticket was still pending; a granted ticket is untouched and
// its slot must be released by the caller as usual.
func (q *Queue) Cancel(t *Ticket) bool {
	return q.abandon(t)
}

// abandon removes a pending ticket from its heap. The category lock
// serializes this against a concurrent grant, so a slot is never handed
// to a waiter that already gave up.
func (q *Queue) abandon(t *Ticket) bool {
	cs := t.cs
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if t.state != ticketPending {
		return false
	}
	heap.Remove(&cs.pending, t.index)
	t.state = ticketAbandoned
	return true
}

// Release returns one execution slot to the category and wakes its
// dispatcher. Call exactly once per granted ticket.
func (q *Queue) Release(category string) {
	cs := q.lookup(category)
	if cs == nil {
		return
	}
	cs.mu.Lock()
	if cs.running > 0 {
		cs.running--
	}
	cs.mu.Unlock()
	cs.signal()
}

// Running returns the number of granted, unreleased slots for a category.
func (q *Queue) Running(category string) int {
	cs := q.lookup(category)
	if cs == nil {
		return 0
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.running
}

// Depth returns the number of waiters queued for a category.
func (q *Queue) Depth(category string) int {
	cs := q.lookup(category)
	if cs == nil {
		return 0
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.pending.Len()
}

// SetTenantRate throttles grants for one tenant within a category. A rate
// of zero or less removes the limit.
func (q *Queue) SetTenantRate(category, tenantID string, perSecond float64, burst int) {
	cs := q.category(category)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if perSecond <= 0 {
		delete(cs.tenants, tenantID)
		return
	}
	if burst <= 0 {
		burst = 1
	}
	cs.tenants[tenantID] = rate.NewLimiter(rate.Limit(perSecond), burst)
}

// dispatch is the per-category grant loop. It wakes on enqueue, release,
// and a periodic tick, then grants as many slots as limits and the gate
// allow.
func (q *Queue) dispatch(ctx context.Context, cs *categoryState, stop <-chan struct{}) {
	defer q.wg.Done()
	ticker := time.NewTicker(q.recheck)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-cs.wake:
		case <-ticker.C:
		}
		q.grantScan(cs)
	}
}

// grantScan grants slots to the most urgent waiters until the category is
// saturated, the queue is empty, or the gate or a limiter blocks. Blocked
// scans resume on the next wake or tick.
func (q *Queue) grantScan(cs *categoryState) {
	for {
		if q.gate != nil {
			if dim, blocked := q.gate.UnderPressure(); blocked {
				q.logger.Debug("admission gated",
					slog.String("category", cs.name),
					slog.String("dimension", string(dim)))
				return
			}
		}

		cs.mu.Lock()
		if cs.running >= cs.limits.MaxConcurrent || cs.pending.Len() == 0 {
			cs.mu.Unlock()
			return
		}
		if q.fairness > 0 {
			cs.promoteAged(time.Now(), q.fairness)
		}
		top := cs.pending.peek()
		if cs.limiter != nil && !cs.limiter.Allow() {
			cs.mu.Unlock()
			return
		}
		if tl := cs.tenants[top.tenantID]; tl != nil && !tl.Allow() {
			cs.mu.Unlock()
			return
		}
		t := heap.Pop(&cs.pending).(*Ticket)
		t.state = ticketGranted
		cs.running++
		close(t.granted)
		cs.mu.Unlock()
	}
}

// promoteAged recomputes effective priorities: one tier per fairness
// interval waited, never below zero. Caller holds cs.mu.
func (cs *categoryState) promoteAged(now time.Time, fairness time.Duration) {
	changed := false
	for _, t := range cs.pending {
		tiers := int(now.Sub(t.enqueuedAt) / fairness)
		if tiers <= 0 {
			continue
		}
		eff := t.basePriority - tiers
		if eff < 0 {
			eff = 0
		}
		if eff != t.priority {
			t.priority = eff
			changed = true
		}
	}
	if changed {
		heap.Init(&cs.pending)
	}
}
