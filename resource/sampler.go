package resource

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

// Sampler produces resource snapshots. Production code uses
// [SystemSampler]; tests inject stubs.
type Sampler interface {
	Sample(ctx context.Context) (Snapshot, error)
}

// SystemSampler reads host CPU, memory, and disk I/O usage via gopsutil.
//
// CPU usage is measured since the previous call, so the first sample
// reports zero. Disk I/O utilization is estimated from the busy-time delta
// of the busiest device between consecutive samples.
type SystemSampler struct {
	mu       sync.Mutex
	lastIO   map[string]disk.IOCountersStat
	lastIOAt time.Time
}

// NewSystemSampler creates a sampler backed by host statistics.
func NewSystemSampler() *SystemSampler {
	return &SystemSampler{}
}

// Sample collects a snapshot of current host usage. Partial data is
// returned alongside the first collection error.
func (s *SystemSampler) Sample(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{
		Goroutines: runtime.NumGoroutine(),
		SampledAt:  time.Now().UTC(),
	}

	var firstErr error

	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		firstErr = fmt.Errorf("governor: sample cpu: %w", err)
	} else if len(percents) > 0 {
		snap.CPUPercent = percents[0]
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		if firstErr == nil {
			firstErr = fmt.Errorf("governor: sample memory: %w", err)
		}
	} else {
		snap.MemoryPercent = vm.UsedPercent
	}

	snap.DiskIOPercent = s.diskUtilization(ctx)

	return snap, firstErr
}

// diskUtilization estimates disk busy percentage from IoTime deltas.
// Best effort: unsupported platforms and first samples report zero.
func (s *SystemSampler) diskUtilization(ctx context.Context) float64 {
	counters, err := disk.IOCountersWithContext(ctx)
	if err != nil || len(counters) == 0 {
		return 0
	}

	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, prevAt := s.lastIO, s.lastIOAt
	s.lastIO, s.lastIOAt = counters, now

	if prev == nil || prevAt.IsZero() {
		return 0
	}
	elapsed := now.Sub(prevAt)
	if elapsed <= 0 {
		return 0
	}

	var busiest float64
	for name, cur := range counters {
		p, ok := prev[name]
		if !ok || cur.IoTime < p.IoTime {
			continue
		}
		util := float64(cur.IoTime-p.IoTime) / float64(elapsed.Milliseconds()) * 100
		if util > busiest {
			busiest = util
		}
	}
	if busiest > 100 {
		busiest = 100
	}
	return busiest
}
