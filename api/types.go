package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/xraph/governor/operation"
)

// maxListLimit caps list page sizes; defaultLimit applies it to zero or
// out-of-range requests.
const maxListLimit = 500

func defaultLimit(limit int) int {
	if limit <= 0 || limit > maxListLimit {
		return 100
	}
	return limit
}

func queryInt(r *http.Request, name string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return 0
	}
	return n
}

// operationStateFromString maps a query value onto an operation state.
// Unknown values return false.
func operationStateFromString(s string) (operation.State, bool) {
	switch operation.State(s) {
	case operation.StateQueued, operation.StateRunning, operation.StateSucceeded,
		operation.StateFailed, operation.StateRetrying, operation.StateDeadLettered,
		operation.StateCancelled:
		return operation.State(s), true
	default:
		return "", false
	}
}

// SubmitOperationRequest is the body of POST /v1/operations.
type SubmitOperationRequest struct {
	// Category selects the registered handler.
	Category string `json:"category"`

	// Payload is passed to the handler verbatim.
	Payload json.RawMessage `json:"payload,omitempty"`

	// Priority orders admission within the category; lower is more urgent.
	Priority int `json:"priority,omitempty"`

	// MaxAttempts overrides the configured execution budget when positive.
	MaxAttempts int `json:"max_attempts,omitempty"`

	// Timeout is the per-attempt execution deadline, e.g. "30s".
	Timeout string `json:"timeout,omitempty"`

	TenantID       string            `json:"tenant_id,omitempty"`
	IdempotencyKey string            `json:"idempotency_key,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// OperationCountsResponse groups operation counts by state.
type OperationCountsResponse struct {
	Queued       int64 `json:"queued"`
	Running      int64 `json:"running"`
	Succeeded    int64 `json:"succeeded"`
	Failed       int64 `json:"failed"`
	Retrying     int64 `json:"retrying"`
	DeadLettered int64 `json:"dead_lettered"`
	Cancelled    int64 `json:"cancelled"`
}

// PurgeDLQResponse reports how many expired entries a purge removed.
type PurgeDLQResponse struct {
	Purged int64 `json:"purged"`
}

// DLQCountResponse reports the total number of dead letter entries.
type DLQCountResponse struct {
	Count int64 `json:"count"`
}

// StatsResponse aggregates operation counts, dead letter volume, queue
// depths, and the latest resource snapshot.
type StatsResponse struct {
	Operations OperationCountsResponse `json:"operations"`
	DLQCount   int64                   `json:"dlq_count"`
	Queues     []QueueStats            `json:"queues,omitempty"`
	Resources  ResourceStats           `json:"resources"`
}

// QueueStats reports admission pressure for one category.
type QueueStats struct {
	Category string `json:"category"`
	Depth    int    `json:"depth"`
	Running  int    `json:"running"`
}

// ResourceStats is the latest resource monitor snapshot.
type ResourceStats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	DiskIOPercent float64 `json:"disk_io_percent"`
	Goroutines    int     `json:"goroutines"`
	UnderPressure bool    `json:"under_pressure"`
	Dimension     string  `json:"pressure_dimension,omitempty"`
}
