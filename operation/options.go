package operation

import "time"

// Options configures per-operation behavior such as priority, attempts,
// and tenancy.
type Options struct {
	// Priority orders admission within a category. Lower values are more
	// urgent.
	Priority int

	// MaxAttempts is the total execution budget before dead lettering.
	MaxAttempts int

	// Timeout is the maximum duration a single attempt may run before its
	// context is cancelled.
	Timeout time.Duration

	// TenantID attributes the operation to a tenant for fairness and
	// breaker scoping.
	TenantID string

	// IdempotencyKey suppresses duplicate submissions carrying the same key
	// within the idempotency TTL. Empty disables the check.
	IdempotencyKey string

	// Metadata carries opaque caller annotations.
	Metadata map[string]string
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		Priority:    0,
		MaxAttempts: 3,
		Timeout:     5 * time.Minute,
	}
}

// Option is a functional option for configuring an operation.
type Option func(*Options)

// WithPriority sets the admission priority. Lower values are more urgent.
func WithPriority(p int) Option {
	return func(o *Options) {
		o.Priority = p
	}
}

// WithMaxAttempts sets the total execution budget.
func WithMaxAttempts(n int) Option {
	return func(o *Options) {
		o.MaxAttempts = n
	}
}

// WithTimeout sets the maximum execution duration per attempt.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithTenant attributes the operation to a tenant.
func WithTenant(tenantID string) Option {
	return func(o *Options) {
		o.TenantID = tenantID
	}
}

// WithIdempotencyKey sets the duplicate-suppression key.
func WithIdempotencyKey(key string) Option {
	return func(o *Options) {
		o.IdempotencyKey = key
	}
}

// WithMetadata attaches a caller annotation.
func WithMetadata(key, value string) Option {
	return func(o *Options) {
		if o.Metadata == nil {
			o.Metadata = make(map[string]string)
		}
		o.Metadata[key] = value
	}
}
