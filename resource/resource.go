// Package resource tracks host resource usage for admission gating.
//
// A [Monitor] samples CPU, memory, and disk I/O utilization on a fixed
// interval in the background and keeps only the latest [Snapshot]. Admission
// decisions read that snapshot; they never trigger sampling, so admission
// latency is independent of monitoring cost. When sampling fails the last
// good snapshot stays in effect, and a monitor that has never sampled
// reports no pressure.
package resource

import "time"

// Dimension names one monitored resource axis.
type Dimension string

const (
	// DimensionCPU is host CPU utilization.
	DimensionCPU Dimension = "cpu"
	// DimensionMemory is host memory utilization.
	DimensionMemory Dimension = "memory"
	// DimensionDiskIO is disk I/O utilization.
	DimensionDiskIO Dimension = "disk_io"
)

// Snapshot is a point-in-time view of host resource usage. Snapshots are
// transient; they are read on the admission path and never persisted.
type Snapshot struct {
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	DiskIOPercent float64   `json:"disk_io_percent"`
	Goroutines    int       `json:"goroutines"`
	SampledAt     time.Time `json:"sampled_at"`
}

// Thresholds defines per-dimension pressure limits in percent.
// A zero value disables its dimension.
type Thresholds struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	DiskIOPercent float64 `json:"disk_io_percent"`
}

// DefaultThresholds returns the default pressure limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CPUPercent:    75,
		MemoryPercent: 80,
		DiskIOPercent: 90,
	}
}

// Exceeded returns the first dimension of the snapshot over its threshold.
func (t Thresholds) Exceeded(s Snapshot) (Dimension, bool) {
	if t.CPUPercent > 0 && s.CPUPercent > t.CPUPercent {
		return DimensionCPU, true
	}
	if t.MemoryPercent > 0 && s.MemoryPercent > t.MemoryPercent {
		return DimensionMemory, true
	}
	if t.DiskIOPercent > 0 && s.DiskIOPercent > t.DiskIOPercent {
		return DimensionDiskIO, true
	}
	return "", false
}

// ExceededBy reports whether one dimension of the snapshot is over its
// threshold. Unknown dimensions report no pressure.
func (t Thresholds) ExceededBy(dim Dimension, s Snapshot) bool {
	switch dim {
	case DimensionCPU:
		return t.CPUPercent > 0 && s.CPUPercent > t.CPUPercent
	case DimensionMemory:
		return t.MemoryPercent > 0 && s.MemoryPercent > t.MemoryPercent
	case DimensionDiskIO:
		return t.DiskIOPercent > 0 && s.DiskIOPercent > t.DiskIOPercent
	default:
		return false
	}
}
