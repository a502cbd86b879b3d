// Package engine wires all Governor subsystems together. It creates the
// extension registry, category registry, middleware chain, admission
// queue, breaker manager, and provides Register/Submit operations.
//
// This package exists to break the import cycle: the root governor package
// defines Entity (imported by operation, dlq, etc.) and so cannot import
// those packages back. The engine package sits above all subsystem
// packages and below the application layer.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/governor"
	"github.com/xraph/governor/admission"
	"github.com/xraph/governor/backoff"
	"github.com/xraph/governor/breaker"
	"github.com/xraph/governor/dlq"
	"github.com/xraph/governor/ext"
	"github.com/xraph/governor/idempotency"
	mw "github.com/xraph/governor/middleware"
	"github.com/xraph/governor/observability"
	"github.com/xraph/governor/operation"
	"github.com/xraph/governor/resource"
	"github.com/xraph/governor/retry"
)

// ledgerWriteTimeout bounds state persistence done off the caller's
// context, so a wedged store cannot hang a pipeline goroutine forever.
const ledgerWriteTimeout = 5 * time.Second

// Engine is the execution coordinator. It owns the synchronous admission
// decisions (idempotency, breaker, queue entry) and the asynchronous
// pipeline that waits for slots, executes handlers, and routes failures
// to retry or the dead letter store.
//
// Use Build() to create one from a Controller.
type Engine struct {
	c          *governor.Controller
	config     governor.Config
	logger     *slog.Logger
	extensions *ext.Registry
	registry   *operation.Registry

	ledger    operation.Store
	dlqSvc    *dlq.Service
	guard     *idempotency.Guard
	breakers  *breaker.Manager
	queue     *admission.Queue
	monitor   *resource.Monitor
	policy    *retry.Policy
	collector *observability.Collector

	bo      backoff.Strategy
	sampler resource.Sampler
	mws     []mw.Middleware
	chain   mw.Middleware

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	// baseCtx outlives individual submissions. Pipeline goroutines derive
	// from it so a forced shutdown can cancel handlers that honor their
	// context.
	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu      sync.Mutex
	started bool

	// inflight counts pipeline goroutines between admission entry and
	// terminal routing. Stop drains it.
	inflight sync.WaitGroup
	bg       *errgroup.Group

	// timers holds parked retries keyed by operation ID. draining stops
	// new timers from firing during shutdown; parked operations stay in
	// retrying state and are resumed on the next Start.
	timerMu  sync.Mutex
	draining bool
	timers   map[string]*time.Timer

	// cancels holds one cancel func per operation still waiting for
	// admission, keyed by operation ID. CancelQueued fires it so the
	// waiter's own Acquire call observes the cancellation.
	cancelMu sync.Mutex
	cancels  map[string]context.CancelFunc
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware to the engine's execution chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithBackoff sets the retry backoff strategy. If not set, an exponential
// strategy with proportional jitter is built from the controller config.
func WithBackoff(b backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.bo = b
	}
}

// WithSampler overrides the resource usage sampler. If not set, the
// gopsutil-backed system sampler is used.
func WithSampler(s resource.Sampler) Option {
	return func(eng *Engine) {
		eng.sampler = s
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// When set, the tracing middleware uses this provider instead of the global one.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, the metrics middleware uses this provider instead of the
// global one. If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from an existing Controller.
// The Controller's store must implement all subsystem store interfaces.
func Build(c *governor.Controller, opts ...Option) (*Engine, error) {
	logger := c.Logger()
	store := c.Store()

	if store == nil {
		return nil, governor.ErrNoStore
	}

	// Type-assert the store to get the operation.Store interface.
	ls, ok := store.(operation.Store)
	if !ok {
		return nil, fmt.Errorf("governor: store does not implement operation.Store")
	}

	// Type-assert the store to get the dlq.Store interface.
	ds, ok := store.(dlq.Store)
	if !ok {
		return nil, fmt.Errorf("governor: store does not implement dlq.Store")
	}

	// Type-assert the store to get the idempotency.Store interface.
	is, ok := store.(idempotency.Store)
	if !ok {
		return nil, fmt.Errorf("governor: store does not implement idempotency.Store")
	}

	// Type-assert the store to get the breaker.Store interface.
	bs, ok := store.(breaker.Store)
	if !ok {
		return nil, fmt.Errorf("governor: store does not implement breaker.Store")
	}

	cfg := c.Config()
	eng := &Engine{
		c:          c,
		config:     cfg,
		logger:     logger,
		extensions: ext.NewRegistry(logger),
		registry:   operation.NewRegistry(),
		ledger:     ls,
		timers:     make(map[string]*time.Timer),
		cancels:    make(map[string]context.CancelFunc),
	}

	for _, opt := range opts {
		opt(eng)
	}

	// Default backoff strategy if none provided.
	if eng.bo == nil {
		eng.bo = backoff.NewExponentialWithProportionalJitter(
			cfg.BaseRetryDelay, cfg.MaxRetryDelay, cfg.JitterFactor)
	}
	if eng.sampler == nil {
		eng.sampler = resource.NewSystemSampler()
	}

	// Retry policy with per-category dead letter opt-outs.
	var policyOpts []retry.PolicyOption
	var noDeadLetter []string
	for name, limits := range cfg.Categories {
		if limits.DisableDeadLetter {
			noDeadLetter = append(noDeadLetter, name)
		}
	}
	if len(noDeadLetter) > 0 {
		policyOpts = append(policyOpts, retry.WithoutDeadLetter(noDeadLetter...))
	}
	eng.policy = retry.NewPolicy(eng.bo, cfg.MaxAttempts, policyOpts...)

	// Create the DLQ service and idempotency guard.
	eng.dlqSvc = dlq.NewService(ds, cfg.DeadLetterTTL)
	eng.guard = idempotency.NewGuard(is, cfg.IdempotencyTTL)

	// Create the breaker manager. State transitions flow into the
	// extension hooks; the callback runs under the breaker lock, so it
	// must stay cheap (the registry fans out synchronously).
	eng.breakers = breaker.NewManager(cfg.BreakerScope, breaker.Settings{
		FailureThreshold: cfg.CircuitFailureThreshold,
		Cooldown:         cfg.CircuitCooldown,
		CooldownCap:      cfg.CircuitCooldownCap,
		HalfOpenProbes:   cfg.HalfOpenProbes,
		OnStateChange: func(key string, from, to breaker.State) {
			eng.extensions.EmitBreakerStateChanged(context.Background(), key, from, to)
		},
	}, breaker.WithStore(bs), breaker.WithLogger(logger))

	// Create the resource monitor. It gates admission grants when any
	// sampled dimension crosses its threshold.
	eng.monitor = resource.NewMonitor(eng.sampler, resource.Thresholds{
		CPUPercent:    cfg.CPUThreshold,
		MemoryPercent: cfg.MemoryThreshold,
		DiskIOPercent: cfg.DiskIOThreshold,
	}, resource.WithInterval(cfg.SampleInterval), resource.WithLogger(logger))

	// Create the admission queue with resolved per-category limits.
	categoryLimits := make(map[string]admission.Limits, len(cfg.Categories))
	for name := range cfg.Categories {
		limits := cfg.Limits(name)
		categoryLimits[name] = admission.Limits{
			MaxConcurrent: limits.MaxConcurrent,
			MaxQueueSize:  limits.MaxQueueSize,
			RatePerSecond: limits.RatePerSecond,
			Burst:         limits.Burst,
		}
	}
	eng.queue = admission.NewQueue(
		admission.Limits{MaxConcurrent: cfg.MaxConcurrent, MaxQueueSize: cfg.MaxQueueSize},
		categoryLimits,
		admission.WithGate(eng.monitor),
		admission.WithLogger(logger),
		admission.WithPriorityLevels(cfg.PriorityLevels),
		admission.WithFairness(cfg.FairnessThreshold),
	)

	// Register the observability collector.
	eng.collector = observability.NewCollector()
	eng.extensions.Register(eng.collector)

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracer := eng.tracerProvider.Tracer("github.com/xraph/governor")
		tracingMw = mw.TracingWithTracer(tracer)
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/xraph/governor")
		metricsMw = mw.MetricsWithMeter(meter)
	} else {
		metricsMw = mw.Metrics()
	}

	// Build default middleware stack: recover → tracing → metrics → logging → tenant → timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Tenant(),
		mw.Timeout(logger),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)
	eng.chain = mw.Chain(allMws...)

	// Wire back into the Controller.
	c.SetEngine(eng)
	c.SetExtensions(eng.extensions)

	return eng, nil
}

// Start begins operation processing: it restores persisted breaker state,
// starts the resource monitor and admission queue, re-admits operations a
// previous run left queued or retrying, and launches the expiry sweeper.
func (eng *Engine) Start(ctx context.Context) error {
	eng.mu.Lock()
	if eng.started {
		eng.mu.Unlock()
		return nil
	}
	base, cancel := context.WithCancel(context.Background())
	eng.baseCtx = base
	eng.baseCancel = cancel
	eng.started = true
	eng.mu.Unlock()

	eng.timerMu.Lock()
	eng.draining = false
	eng.timerMu.Unlock()

	// Restore shared breaker state before admitting anything (best-effort,
	// non-fatal: missing state means all circuits start closed).
	if err := eng.breakers.Restore(ctx); err != nil {
		eng.logger.Warn("failed to restore breaker state",
			slog.String("error", err.Error()),
		)
	}

	if err := eng.monitor.Start(base); err != nil {
		eng.fail(cancel)
		return fmt.Errorf("start resource monitor: %w", err)
	}
	if err := eng.queue.Start(base); err != nil {
		eng.monitor.Stop()
		eng.fail(cancel)
		return fmt.Errorf("start admission queue: %w", err)
	}

	// Re-admit operations a previous run left behind (crash recovery).
	eng.resumePending(ctx)

	group, groupCtx := errgroup.WithContext(base)
	eng.bg = group
	group.Go(func() error {
		eng.sweepLoop(groupCtx)
		return nil
	})

	eng.logger.Info("governor engine started",
		slog.Int("max_concurrent", eng.config.MaxConcurrent),
		slog.Int("max_queue_size", eng.config.MaxQueueSize),
		slog.Int("categories", len(eng.registry.Categories())),
	)
	return nil
}

func (eng *Engine) fail(cancel context.CancelFunc) {
	cancel()
	eng.mu.Lock()
	eng.started = false
	eng.mu.Unlock()
}

// Stop gracefully shuts down the engine. In-flight operations get up to
// ShutdownTimeout to finish; after that their contexts are cancelled.
// Parked retries are not fired during shutdown; they stay in retrying
// state in the ledger and resume on the next Start.
func (eng *Engine) Stop(ctx context.Context) error {
	eng.mu.Lock()
	if !eng.started {
		eng.mu.Unlock()
		return nil
	}
	eng.started = false
	eng.mu.Unlock()

	// Park scheduled retries instead of firing them into a closing queue.
	eng.timerMu.Lock()
	eng.draining = true
	for key, timer := range eng.timers {
		timer.Stop()
		delete(eng.timers, key)
	}
	eng.timerMu.Unlock()

	// Drain in-flight pipeline goroutines.
	done := make(chan struct{})
	go func() {
		eng.inflight.Wait()
		close(done)
	}()

	timeout := eng.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	select {
	case <-done:
	case <-ctx.Done():
		eng.cancelInflight(done)
	case <-time.After(timeout):
		eng.logger.Warn("shutdown timeout reached, cancelling in-flight operations",
			slog.Duration("timeout", timeout),
		)
		eng.cancelInflight(done)
	}

	eng.queue.Stop()
	eng.monitor.Stop()
	eng.baseCancel()
	if eng.bg != nil {
		_ = eng.bg.Wait()
	}

	eng.logger.Info("governor engine stopped")
	return nil
}

// cancelInflight cancels the base context and waits briefly for pipeline
// goroutines to observe it. A handler that ignores its context leaks its
// goroutine; that is logged, not waited out.
func (eng *Engine) cancelInflight(done <-chan struct{}) {
	eng.baseCancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		eng.logger.Error("operations still running after cancellation, abandoning them")
	}
}

func (eng *Engine) running() bool {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	return eng.started
}

func (eng *Engine) admissionTimeout() time.Duration {
	if t := eng.config.AdmissionTimeout; t > 0 {
		return t
	}
	return 5 * time.Second
}

// sweepLoop periodically expires dead letter entries and idempotency
// records past their TTL.
func (eng *Engine) sweepLoop(ctx context.Context) {
	interval := eng.config.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			eng.sweep(ctx)
		}
	}
}

func (eng *Engine) sweep(ctx context.Context) {
	now := time.Now().UTC()

	if n, err := eng.dlqSvc.Sweep(ctx, now); err != nil {
		eng.logger.Warn("dead letter sweep failed", slog.String("error", err.Error()))
	} else if n > 0 {
		eng.logger.Info("expired dead letter entries", slog.Int64("count", n))
	}

	if n, err := eng.guard.Sweep(ctx, now); err != nil {
		eng.logger.Warn("idempotency sweep failed", slog.String("error", err.Error()))
	} else if n > 0 {
		eng.logger.Info("expired idempotency records", slog.Int64("count", n))
	}
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the category registry.
func (eng *Engine) Registry() *operation.Registry { return eng.registry }

// Controller returns the underlying Controller.
func (eng *Engine) Controller() *governor.Controller { return eng.c }

// Queue returns the admission queue for depth and concurrency inspection.
func (eng *Engine) Queue() *admission.Queue { return eng.queue }

// Breakers returns the circuit breaker manager.
func (eng *Engine) Breakers() *breaker.Manager { return eng.breakers }

// Monitor returns the resource monitor.
func (eng *Engine) Monitor() *resource.Monitor { return eng.monitor }

// Collector returns the in-process metrics collector.
func (eng *Engine) Collector() *observability.Collector { return eng.collector }

// DLQService returns the engine's dead letter service for inspection.
func (eng *Engine) DLQService() *dlq.Service { return eng.dlqSvc }

// Guard returns the idempotency guard.
func (eng *Engine) Guard() *idempotency.Guard { return eng.guard }

// Ledger returns the operation store.
func (eng *Engine) Ledger() operation.Store { return eng.ledger }
