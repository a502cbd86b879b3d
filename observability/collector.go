package observability

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/governor/dlq"
	"github.com/xraph/governor/ext"
	"github.com/xraph/governor/operation"
)

// Compile-time interface checks.
var (
	_ ext.Extension             = (*Collector)(nil)
	_ ext.OperationAdmitted     = (*Collector)(nil)
	_ ext.OperationCompleted    = (*Collector)(nil)
	_ ext.OperationFailed       = (*Collector)(nil)
	_ ext.OperationRetrying     = (*Collector)(nil)
	_ ext.OperationDeadLettered = (*Collector)(nil)
	_ ext.OperationRejected     = (*Collector)(nil)
)

// latencyBounds is the upper-bound ladder for the execution latency
// histogram. An extra implicit bucket counts everything above the last
// bound.
var latencyBounds = []time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
	2500 * time.Millisecond,
	5 * time.Second,
	10 * time.Second,
	30 * time.Second,
	60 * time.Second,
}

type rowKey struct {
	category string
	tenantID string
}

// row accumulates counters for one (category, tenant) pair. Guarded by
// the Collector mutex.
type row struct {
	admitted     uint64
	rejected     map[ext.RejectCause]uint64
	succeeded    uint64
	failed       uint64
	retried      uint64
	deadLettered uint64

	latencyBuckets []uint64
	latencyCount   uint64
	latencySum     time.Duration
}

func newRow() *row {
	return &row{
		rejected:       make(map[ext.RejectCause]uint64),
		latencyBuckets: make([]uint64, len(latencyBounds)+1),
	}
}

func (r *row) observeLatency(elapsed time.Duration) {
	idx := len(latencyBounds)
	for i, bound := range latencyBounds {
		if elapsed <= bound {
			idx = i
			break
		}
	}
	r.latencyBuckets[idx]++
	r.latencyCount++
	r.latencySum += elapsed
}

// Collector records per-(category, tenant) lifecycle counters and
// latency distributions. Register it as an extension; every counter is
// driven by the engine's lifecycle events.
type Collector struct {
	mu   sync.Mutex
	rows map[rowKey]*row
}

// NewCollector creates an empty metrics collector.
func NewCollector() *Collector {
	return &Collector{rows: make(map[rowKey]*row)}
}

// Name implements ext.Extension.
func (c *Collector) Name() string { return "observability-metrics" }

func (c *Collector) row(category, tenantID string) *row {
	key := rowKey{category: category, tenantID: tenantID}
	r, ok := c.rows[key]
	if !ok {
		r = newRow()
		c.rows[key] = r
	}
	return r
}

// ── Lifecycle hooks ─────────────────────────────────

// OnOperationAdmitted implements ext.OperationAdmitted.
func (c *Collector) OnOperationAdmitted(_ context.Context, op *operation.Operation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.row(op.Category, op.TenantID).admitted++
	return nil
}

// OnOperationCompleted implements ext.OperationCompleted.
func (c *Collector) OnOperationCompleted(_ context.Context, op *operation.Operation, elapsed time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := c.row(op.Category, op.TenantID)
	r.succeeded++
	r.observeLatency(elapsed)
	return nil
}

// OnOperationFailed implements ext.OperationFailed.
func (c *Collector) OnOperationFailed(_ context.Context, op *operation.Operation, _ error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.row(op.Category, op.TenantID).failed++
	return nil
}

// OnOperationRetrying implements ext.OperationRetrying.
func (c *Collector) OnOperationRetrying(_ context.Context, op *operation.Operation, _ int, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.row(op.Category, op.TenantID).retried++
	return nil
}

// OnOperationDeadLettered implements ext.OperationDeadLettered.
func (c *Collector) OnOperationDeadLettered(_ context.Context, op *operation.Operation, _ dlq.Reason) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.row(op.Category, op.TenantID).deadLettered++
	return nil
}

// OnOperationRejected implements ext.OperationRejected.
func (c *Collector) OnOperationRejected(_ context.Context, op *operation.Operation, cause ext.RejectCause) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.row(op.Category, op.TenantID).rejected[cause]++
	return nil
}

// ── Snapshot export ─────────────────────────────────

// HistogramSnapshot is a point-in-time copy of one latency histogram.
// Buckets[i] counts observations at or below Bounds[i]; the final
// element of Buckets counts observations above the last bound.
type HistogramSnapshot struct {
	Bounds  []time.Duration `json:"bounds"`
	Buckets []uint64        `json:"buckets"`
	Count   uint64          `json:"count"`
	Sum     time.Duration   `json:"sum"`
}

// RowSnapshot is a point-in-time copy of the counters for one
// (category, tenant) pair.
type RowSnapshot struct {
	Category     string            `json:"category"`
	TenantID     string            `json:"tenant_id,omitempty"`
	Admitted     uint64            `json:"admitted"`
	Rejected     map[string]uint64 `json:"rejected,omitempty"`
	Succeeded    uint64            `json:"succeeded"`
	Failed       uint64            `json:"failed"`
	Retried      uint64            `json:"retried"`
	DeadLettered uint64            `json:"dead_lettered"`
	Latency      HistogramSnapshot `json:"latency"`
}

// Snapshot returns a copy of all counter rows sorted by category then
// tenant. The returned slices are independent of the collector's
// internal state.
func (c *Collector) Snapshot() []RowSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]RowSnapshot, 0, len(c.rows))
	for key, r := range c.rows {
		snap := RowSnapshot{
			Category:     key.category,
			TenantID:     key.tenantID,
			Admitted:     r.admitted,
			Succeeded:    r.succeeded,
			Failed:       r.failed,
			Retried:      r.retried,
			DeadLettered: r.deadLettered,
			Latency: HistogramSnapshot{
				Bounds:  latencyBounds,
				Buckets: append([]uint64(nil), r.latencyBuckets...),
				Count:   r.latencyCount,
				Sum:     r.latencySum,
			},
		}
		if len(r.rejected) > 0 {
			snap.Rejected = make(map[string]uint64, len(r.rejected))
			for cause, n := range r.rejected {
				snap.Rejected[string(cause)] = n
			}
		}
		out = append(out, snap)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].TenantID < out[j].TenantID
	})
	return out
}
