package admission

import "time"

type ticketState int

const (
	ticketPending ticketState = iota
	ticketGranted
	ticketAbandoned
)

// Ticket is one waiter's place in a category queue. It is created by
// [Queue.Enqueue] and redeemed by [Queue.Acquire]; a granted ticket holds
// one execution slot until [Queue.Release].
type Ticket struct {
	category string
	tenantID string

	// basePriority is the submitted priority; priority is the effective
	// value after fairness promotion. Lower is more urgent.
	basePriority int
	priority     int

	seq        uint64
	enqueuedAt time.Time

	// index is the position in the category heap, -1 once removed.
	index   int
	state   ticketState
	granted chan struct{}

	cs *categoryState
}

// Category returns the category this ticket waits on.
func (t *Ticket) Category() string { return t.category }

// TenantID returns the tenant the ticket was submitted for.
func (t *Ticket) TenantID() string { return t.tenantID }

// EnqueuedAt returns when the ticket entered the queue.
func (t *Ticket) EnqueuedAt() time.Time { return t.enqueuedAt }

// waiterHeap orders tickets by (priority asc, seq asc): most urgent first,
// FIFO within a priority tier. Implements container/heap.
type waiterHeap []*Ticket

func (h waiterHeap) Len() int { return len(h) }

func (h waiterHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h waiterHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *waiterHeap) Push(x any) {
	t := x.(*Ticket)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *waiterHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

func (h waiterHeap) peek() *Ticket {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}
