package governor

import "time"

// BreakerScope selects how circuit breaker state is keyed.
type BreakerScope string

const (
	// ScopeCategory keys breaker state by operation category.
	ScopeCategory BreakerScope = "category"
	// ScopeTenant keys breaker state by tenant.
	ScopeTenant BreakerScope = "tenant"
	// ScopePair keys breaker state by (tenant, category) pair.
	ScopePair BreakerScope = "pair"
)

// CategoryLimits overrides admission limits for a single category.
type CategoryLimits struct {
	// MaxConcurrent is the slot cap for the category. Zero inherits
	// Config.MaxConcurrent.
	MaxConcurrent int

	// MaxQueueSize is the pending cap for the category. Zero inherits
	// Config.MaxQueueSize.
	MaxQueueSize int

	// RatePerSecond is an optional token-bucket grant rate. Zero disables
	// rate limiting for the category.
	RatePerSecond float64

	// Burst is the token-bucket burst size. Defaults to MaxConcurrent
	// when zero and a rate is set.
	Burst int

	// DisableDeadLetter drops terminally failed operations for this
	// category instead of pushing them to the dead letter store.
	DisableDeadLetter bool
}

// Config holds configuration for the Controller.
type Config struct {
	// MaxConcurrent is the default per-category slot cap.
	MaxConcurrent int

	// MaxQueueSize is the default per-category pending cap. Enqueueing
	// beyond it fails fast with ErrQueueFull.
	MaxQueueSize int

	// PriorityLevels is the number of priority tiers. Valid priorities are
	// [0, PriorityLevels); lower values are more urgent.
	PriorityLevels int

	// AdmissionTimeout bounds how long an operation may wait for a slot.
	AdmissionTimeout time.Duration

	// FairnessThreshold promotes waiters older than this by one priority
	// tier. Zero disables promotion.
	FairnessThreshold time.Duration

	// MaxAttempts is the default attempt cap per operation.
	MaxAttempts int

	// BaseRetryDelay is the first retry delay before backoff growth.
	BaseRetryDelay time.Duration

	// MaxRetryDelay caps the exponential growth of retry delays.
	MaxRetryDelay time.Duration

	// JitterFactor spreads retry delays by ±JitterFactor. Clamped to [0, 1].
	JitterFactor float64

	// CircuitFailureThreshold is the consecutive-failure count that trips
	// a breaker open.
	CircuitFailureThreshold int

	// CircuitCooldown is the initial open interval before a half-open probe.
	CircuitCooldown time.Duration

	// CircuitCooldownCap bounds cooldown doubling after failed probes.
	CircuitCooldownCap time.Duration

	// HalfOpenProbes is how many concurrent probes a half-open breaker admits.
	HalfOpenProbes int

	// BreakerScope selects breaker keying. Defaults to ScopeCategory.
	BreakerScope BreakerScope

	// CPUThreshold, MemoryThreshold and DiskIOThreshold are resource
	// pressure limits in percent. New admissions pause while the latest
	// sample exceeds any of them. Zero disables a dimension.
	CPUThreshold    float64
	MemoryThreshold float64
	DiskIOThreshold float64

	// SampleInterval is how often the resource monitor samples.
	SampleInterval time.Duration

	// DeadLetterTTL is how long dead letter entries are retained.
	DeadLetterTTL time.Duration

	// IdempotencyTTL is how long idempotency records suppress duplicates.
	IdempotencyTTL time.Duration

	// SweepInterval is how often expired dead letter and idempotency
	// records are purged in the background.
	SweepInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration

	// Categories holds per-category limit overrides keyed by category name.
	Categories map[string]CategoryLimits
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:           10,
		MaxQueueSize:            256,
		PriorityLevels:          10,
		AdmissionTimeout:        5 * time.Second,
		FairnessThreshold:       30 * time.Second,
		MaxAttempts:             3,
		BaseRetryDelay:          1 * time.Second,
		MaxRetryDelay:           1 * time.Minute,
		JitterFactor:            0.2,
		CircuitFailureThreshold: 5,
		CircuitCooldown:         30 * time.Second,
		CircuitCooldownCap:      5 * time.Minute,
		HalfOpenProbes:          1,
		BreakerScope:            ScopeCategory,
		CPUThreshold:            75,
		MemoryThreshold:         80,
		DiskIOThreshold:         90,
		SampleInterval:          5 * time.Second,
		DeadLetterTTL:           24 * time.Hour,
		IdempotencyTTL:          1 * time.Hour,
		SweepInterval:           1 * time.Minute,
		ShutdownTimeout:         30 * time.Second,
	}
}

// Limits resolves the effective limits for a category, applying the
// config-wide defaults to unset override fields.
func (c Config) Limits(category string) CategoryLimits {
	l := c.Categories[category]
	if l.MaxConcurrent <= 0 {
		l.MaxConcurrent = c.MaxConcurrent
	}
	if l.MaxQueueSize <= 0 {
		l.MaxQueueSize = c.MaxQueueSize
	}
	if l.RatePerSecond > 0 && l.Burst <= 0 {
		l.Burst = l.MaxConcurrent
	}
	return l
}
