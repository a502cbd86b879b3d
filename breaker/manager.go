package breaker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/xraph/governor"
)

// Manager keys breakers over (tenant, category) per the configured scope
// and creates them on first use.
type Manager struct {
	scope    governor.BreakerScope
	settings Settings
	store    Store
	logger   *slog.Logger

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithStore enables breaker state persistence.
func WithStore(s Store) ManagerOption {
	return func(m *Manager) { m.store = s }
}

// WithLogger sets the structured logger for the manager.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a breaker manager. The settings' OnStateChange
// callback, if any, runs after the manager's own transition handling.
func NewManager(scope governor.BreakerScope, settings Settings, opts ...ManagerOption) *Manager {
	m := &Manager{
		scope:    scope,
		settings: settings.withDefaults(),
		logger:   slog.Default(),
		breakers: make(map[string]*Breaker),
	}
	if m.scope == "" {
		m.scope = governor.ScopeCategory
	}
	for _, opt := range opts {
		opt(m)
	}

	user := m.settings.OnStateChange
	m.settings.OnStateChange = func(key string, from, to State) {
		m.logger.Info("breaker state change",
			slog.String("key", key),
			slog.String("from", string(from)),
			slog.String("to", string(to)))
		if m.store != nil {
			go m.persist(key)
		}
		if user != nil {
			user(key, from, to)
		}
	}

	return m
}

// Scope returns the configured breaker scope.
func (m *Manager) Scope() governor.BreakerScope { return m.scope }

// Key derives the breaker key for an operation per the configured scope.
// Operations without a tenant fall back to category keying.
func (m *Manager) Key(category, tenantID string) string {
	switch m.scope {
	case governor.ScopeTenant:
		if tenantID == "" {
			return category
		}
		return tenantID
	case governor.ScopePair:
		if tenantID == "" {
			return category
		}
		return tenantID + "/" + category
	default:
		return category
	}
}

// Get returns the breaker for a key, creating one on first use.
func (m *Manager) Get(key string) *Breaker {
	m.mu.RLock()
	b, ok := m.breakers[key]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring the write lock.
	if b, ok := m.breakers[key]; ok {
		return b
	}

	b = New(key, m.settings)
	m.breakers[key] = b
	return b
}

// Admit routes an operation through the breaker for its scope key.
func (m *Manager) Admit(category, tenantID string) (*Permit, error) {
	return m.Get(m.Key(category, tenantID)).Admit()
}

// StateFor returns the current state of the breaker covering an operation.
// Unknown keys report closed.
func (m *Manager) StateFor(category, tenantID string) State {
	m.mu.RLock()
	b, ok := m.breakers[m.Key(category, tenantID)]
	m.mu.RUnlock()
	if !ok {
		return StateClosed
	}
	return b.State()
}

// Snapshot returns the live status of every breaker, sorted by key.
func (m *Manager) Snapshot() []*Status {
	m.mu.RLock()
	breakers := make([]*Breaker, 0, len(m.breakers))
	for _, b := range m.breakers {
		breakers = append(breakers, b)
	}
	m.mu.RUnlock()

	statuses := make([]*Status, 0, len(breakers))
	for _, b := range breakers {
		statuses = append(statuses, b.Status())
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Key < statuses[j].Key })
	return statuses
}

// Reset forces a breaker back to closed and clears its persisted state.
func (m *Manager) Reset(ctx context.Context, key string) error {
	m.mu.RLock()
	b, ok := m.breakers[key]
	m.mu.RUnlock()
	if !ok {
		return governor.ErrBreakerNotFound
	}

	b.reset()

	if m.store != nil {
		if err := m.store.DeleteBreaker(ctx, key); err != nil {
			m.logger.Warn("breaker state delete failed",
				slog.String("key", key),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// Restore loads persisted breaker state from the store. Open records whose
// cooldown already elapsed restore as half-open.
func (m *Manager) Restore(ctx context.Context) error {
	if m.store == nil {
		return nil
	}

	statuses, err := m.store.ListBreakers(ctx)
	if err != nil {
		return fmt.Errorf("governor: restore breakers: %w", err)
	}

	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range statuses {
		b, ok := m.breakers[st.Key]
		if !ok {
			b = New(st.Key, m.settings)
			m.breakers[st.Key] = b
		}
		b.restoreStatus(st, now)
	}
	return nil
}

func (m *Manager) persist(key string) {
	m.mu.RLock()
	b, ok := m.breakers[key]
	m.mu.RUnlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.SaveBreaker(ctx, b.Status()); err != nil {
		m.logger.Warn("breaker state persist failed",
			slog.String("key", key),
			slog.String("error", err.Error()))
	}
}
