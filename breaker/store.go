package breaker

import (
	"context"
	"time"
)

// Status is a point-in-time view of one breaker. It doubles as the
// persisted record that lets multiple instances share trip state.
type Status struct {
	Key      string        `json:"key"`
	State    State         `json:"state"`
	Failures int           `json:"failures"`
	Cooldown time.Duration `json:"cooldown"`

	// OpenedAt and ExpiresAt are zero unless the breaker is open.
	OpenedAt  time.Time `json:"opened_at"`
	ExpiresAt time.Time `json:"expires_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store defines the persistence contract for breaker state.
//
// Persistence is best effort: the manager saves on transitions and loads on
// start, and keeps running when the store is unavailable. Last write wins
// across instances.
type Store interface {
	// SaveBreaker upserts the persisted state for a breaker key.
	SaveBreaker(ctx context.Context, st *Status) error

	// GetBreaker retrieves the persisted state for one key.
	GetBreaker(ctx context.Context, key string) (*Status, error)

	// ListBreakers returns all persisted breaker states.
	ListBreakers(ctx context.Context) ([]*Status, error)

	// DeleteBreaker removes the persisted state for a key.
	DeleteBreaker(ctx context.Context, key string) error
}
