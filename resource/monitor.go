package resource

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Monitor periodically samples host resources and exposes the latest
// snapshot for admission gating.
type Monitor struct {
	sampler    Sampler
	thresholds Thresholds
	interval   time.Duration
	logger     *slog.Logger

	latest atomic.Pointer[Snapshot]

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithInterval sets the sampling interval.
func WithInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithLogger sets the structured logger for the monitor.
func WithLogger(l *slog.Logger) MonitorOption {
	return func(m *Monitor) { m.logger = l }
}

// NewMonitor creates a monitor over the given sampler and thresholds.
func NewMonitor(sampler Sampler, thresholds Thresholds, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		sampler:    sampler,
		thresholds: thresholds,
		interval:   5 * time.Second,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Thresholds returns the configured pressure limits.
func (m *Monitor) Thresholds() Thresholds { return m.thresholds }

// Start samples once and begins the background sampling loop.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("governor: resource monitor already running")
	}
	m.running = true
	m.stopChan = make(chan struct{})
	stop := m.stopChan
	m.mu.Unlock()

	m.sample(ctx)
	go m.loop(ctx, stop)
	return nil
}

// Stop halts the sampling loop. The last snapshot remains readable.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		close(m.stopChan)
		m.running = false
	}
}

// Latest returns the most recent snapshot. A monitor that has never
// sampled returns the zero snapshot, which reports no pressure.
func (m *Monitor) Latest() Snapshot {
	if s := m.latest.Load(); s != nil {
		return *s
	}
	return Snapshot{}
}

// UnderPressure reports whether the latest snapshot exceeds any threshold
// and which dimension tripped first. It never samples.
func (m *Monitor) UnderPressure() (Dimension, bool) {
	return m.thresholds.Exceeded(m.Latest())
}

// Pressure reports whether the named dimension of the latest snapshot
// exceeds its threshold. It never samples.
func (m *Monitor) Pressure(dim Dimension) bool {
	return m.thresholds.ExceededBy(dim, m.Latest())
}

func (m *Monitor) loop(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			m.sample(ctx)
		}
	}
}

func (m *Monitor) sample(ctx context.Context) {
	snap, err := m.sampler.Sample(ctx)
	if err != nil {
		// The previous snapshot stays in effect.
		m.logger.Warn("resource sample failed", slog.String("error", err.Error()))
		return
	}
	m.latest.Store(&snap)
}
