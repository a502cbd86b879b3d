package api

import (
	"fmt"
	"net/http"
	"sort"
)

func (a *API) stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Operation counts.
	counts, err := a.countsByState(ctx)
	if err != nil {
		a.writeError(w, err)
		return
	}

	// DLQ count.
	dlqCount, err := a.eng.DLQService().DLQStore().CountDLQ(ctx)
	if err != nil {
		a.writeError(w, fmt.Errorf("count dlq: %w", err))
		return
	}

	// Per-category queue depth and running slots.
	categories := a.eng.Registry().Categories()
	sort.Strings(categories)
	queues := make([]QueueStats, 0, len(categories))
	for _, category := range categories {
		queues = append(queues, QueueStats{
			Category: category,
			Depth:    a.eng.Queue().Depth(category),
			Running:  a.eng.Queue().Running(category),
		})
	}

	// Resource pressure.
	snap := a.eng.Monitor().Latest()
	dim, pressured := a.eng.Monitor().UnderPressure()
	resources := ResourceStats{
		CPUPercent:    snap.CPUPercent,
		MemoryPercent: snap.MemoryPercent,
		DiskIOPercent: snap.DiskIOPercent,
		Goroutines:    snap.Goroutines,
		UnderPressure: pressured,
	}
	if pressured {
		resources.Dimension = string(dim)
	}

	a.writeJSON(w, http.StatusOK, StatsResponse{
		Operations: counts,
		DLQCount:   dlqCount,
		Queues:     queues,
		Resources:  resources,
	})
}

// metricsSnapshot exposes the in-process counters without requiring a
// Prometheus scrape pipeline.
func (a *API) metricsSnapshot(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, a.eng.Collector().Snapshot())
}

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	if err := a.eng.Controller().Store().Ping(r.Context()); err != nil {
		a.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	a.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
