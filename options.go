package governor

import (
	"context"
	"log/slog"
)

// Option configures a Controller.
type Option func(*Controller) error

// Storer is the minimal store interface held by the Controller.
// It covers lifecycle operations only. The full composite interface
// (store.Store) is used in subsystem layers that don't create import
// cycles. Implementations satisfy store.Store which embeds all
// subsystem stores.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// coordinatorRunner is an internal interface for engine lifecycle.
type coordinatorRunner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// extensionEmitter is an internal interface for extension lifecycle events.
type extensionEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Controller is the central handle for admission control, retry routing,
// circuit breaking, and dead lettering.
//
// Create one with New() and functional options. The Controller holds
// references to subsystem components via internal interfaces to avoid
// import cycles. Use engine.Build to wire everything together.
type Controller struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	extensions extensionEmitter
	engine     coordinatorRunner

	// started tracks whether Start has been called.
	started bool
}

// New creates a new Controller with the given options.
func New(opts ...Option) (*Controller, error) {
	c := &Controller{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Logger returns the controller's logger.
func (c *Controller) Logger() *slog.Logger { return c.logger }

// Store returns the controller's store.
func (c *Controller) Store() Storer { return c.store }

// Config returns a copy of the controller's configuration.
func (c *Controller) Config() Config { return c.config }

// SetEngine sets the execution coordinator (called by the engine package).
func (c *Controller) SetEngine(r coordinatorRunner) { c.engine = r }

// SetExtensions sets the extension emitter (called by the engine package).
func (c *Controller) SetExtensions(e extensionEmitter) { c.extensions = e }

// Start begins operation processing.
func (c *Controller) Start(ctx context.Context) error {
	if c.engine == nil {
		return ErrNoEngine
	}
	if err := c.engine.Start(ctx); err != nil {
		return err
	}
	c.started = true
	return nil
}

// Stop gracefully shuts down the controller.
func (c *Controller) Stop(ctx context.Context) error {
	if c.engine != nil && c.started {
		if err := c.engine.Stop(ctx); err != nil {
			c.logger.Error("engine stop error", "error", err)
		}
	}
	if c.extensions != nil {
		c.extensions.EmitShutdown(ctx)
	}
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

// WithConfig replaces the controller configuration wholesale.
func WithConfig(cfg Config) Option {
	return func(c *Controller) error {
		c.config = cfg
		return nil
	}
}

// WithMaxConcurrent sets the default per-category slot cap.
func WithMaxConcurrent(n int) Option {
	return func(c *Controller) error {
		c.config.MaxConcurrent = n
		return nil
	}
}

// WithMaxQueueSize sets the default per-category pending cap.
func WithMaxQueueSize(n int) Option {
	return func(c *Controller) error {
		c.config.MaxQueueSize = n
		return nil
	}
}

// WithCategory registers per-category limit overrides.
func WithCategory(name string, limits CategoryLimits) Option {
	return func(c *Controller) error {
		if c.config.Categories == nil {
			c.config.Categories = make(map[string]CategoryLimits)
		}
		c.config.Categories[name] = limits
		return nil
	}
}

// WithBreakerScope sets how circuit breaker state is keyed.
func WithBreakerScope(scope BreakerScope) Option {
	return func(c *Controller) error {
		c.config.BreakerScope = scope
		return nil
	}
}

// WithLogger sets the structured logger for the controller.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) error {
		c.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the controller.
// The store must implement Storer at minimum; typically it will be a
// store.Store which embeds all subsystem store interfaces.
func WithStore(s Storer) Option {
	return func(c *Controller) error {
		c.store = s
		return nil
	}
}
