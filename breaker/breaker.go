package breaker

import (
	"sync"
	"time"

	"github.com/xraph/governor"
)

// State represents the admission posture of a circuit breaker.
type State string

const (
	// StateClosed means operations are admitted normally.
	StateClosed State = "closed"
	// StateOpen means operations are rejected without execution.
	StateOpen State = "open"
	// StateHalfOpen means a bounded number of probe operations are admitted
	// to test recovery.
	StateHalfOpen State = "half_open"
)

// Settings configures a Breaker.
type Settings struct {
	// FailureThreshold is the consecutive-failure count that trips the
	// breaker open. Defaults to 5.
	FailureThreshold int

	// Cooldown is the initial open interval before probing. Defaults to 30s.
	Cooldown time.Duration

	// CooldownCap bounds cooldown doubling after failed probes.
	// Defaults to 5m.
	CooldownCap time.Duration

	// HalfOpenProbes is how many concurrent probes a half-open breaker
	// admits. Defaults to 1.
	HalfOpenProbes int

	// OnStateChange is called after every transition with the breaker key
	// and both states. Called with the breaker lock held; keep it fast.
	OnStateChange func(key string, from, to State)
}

func (s Settings) withDefaults() Settings {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = 5
	}
	if s.Cooldown <= 0 {
		s.Cooldown = 30 * time.Second
	}
	if s.CooldownCap <= 0 {
		s.CooldownCap = 5 * time.Minute
	}
	if s.HalfOpenProbes <= 0 {
		s.HalfOpenProbes = 1
	}
	return s
}

// Breaker is a single circuit breaker instance.
//
// State advances on recorded outcomes and on time: an open breaker becomes
// half-open once its cooldown elapses, observed lazily on the next Admit,
// Record, or Status call. Results are tied to the generation they were
// admitted in; a result arriving after a state change is discarded.
type Breaker struct {
	key      string
	settings Settings

	mu         sync.Mutex
	state      State
	generation uint64
	failures   int
	probes     int
	cooldown   time.Duration
	openedAt   time.Time
	expiry     time.Time
}

// New creates a breaker in the closed state.
func New(key string, settings Settings) *Breaker {
	s := settings.withDefaults()
	return &Breaker{
		key:      key,
		settings: s,
		state:    StateClosed,
		cooldown: s.Cooldown,
	}
}

// Key returns the scope key this breaker guards.
func (b *Breaker) Key() string { return b.key }

// Admit asks the breaker whether an operation may proceed. It returns a
// Permit in the closed state, a probe-bounded Permit in the half-open
// state, and fails fast with governor.ErrCircuitOpen while open.
func (b *Breaker) Admit() (*Permit, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	switch b.currentState(now) {
	case StateOpen:
		return nil, governor.ErrCircuitOpen
	case StateHalfOpen:
		if b.probes >= b.settings.HalfOpenProbes {
			return nil, governor.ErrTooManyProbes
		}
		b.probes++
	}

	return &Permit{breaker: b, generation: b.generation}, nil
}

// State returns the current state, advancing an expired open breaker to
// half-open first.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState(time.Now())
}

// Status returns a point-in-time view of the breaker.
func (b *Breaker) Status() *Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	return &Status{
		Key:       b.key,
		State:     b.currentState(now),
		Failures:  b.failures,
		Cooldown:  b.cooldown,
		OpenedAt:  b.openedAt,
		ExpiresAt: b.expiry,
		UpdatedAt: now,
	}
}

func (b *Breaker) record(before uint64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	state := b.currentState(now)
	if b.generation != before {
		return
	}

	if success {
		b.onSuccess(state)
	} else {
		b.onFailure(state, now)
	}
}

func (b *Breaker) release(before uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.generation != before || b.state != StateHalfOpen {
		return
	}
	if b.probes > 0 {
		b.probes--
	}
}

func (b *Breaker) onSuccess(state State) {
	switch state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		// A single successful probe closes the breaker and resets the
		// cooldown ladder.
		b.cooldown = b.settings.Cooldown
		b.setState(StateClosed)
	}
}

func (b *Breaker) onFailure(state State, now time.Time) {
	switch state {
	case StateClosed:
		b.failures++
		if b.failures >= b.settings.FailureThreshold {
			b.trip(now)
		}
	case StateHalfOpen:
		// Failed probe: reopen with a doubled cooldown, bounded by the cap.
		next := b.cooldown * 2
		if next > b.settings.CooldownCap {
			next = b.settings.CooldownCap
		}
		b.cooldown = next
		b.trip(now)
	}
}

func (b *Breaker) trip(now time.Time) {
	b.openedAt = now
	b.expiry = now.Add(b.cooldown)
	b.setState(StateOpen)
}

func (b *Breaker) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateClosed {
		b.failures = 0
		return
	}
	b.cooldown = b.settings.Cooldown
	b.setState(StateClosed)
}

// currentState advances an expired open breaker to half-open.
// Callers must hold b.mu.
func (b *Breaker) currentState(now time.Time) State {
	if b.state == StateOpen && !b.expiry.After(now) {
		b.setState(StateHalfOpen)
	}
	return b.state
}

func (b *Breaker) setState(state State) {
	if b.state == state {
		return
	}

	prev := b.state
	b.state = state
	b.generation++
	b.failures = 0
	b.probes = 0
	if state != StateOpen {
		b.openedAt = time.Time{}
		b.expiry = time.Time{}
	}

	if b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.key, prev, state)
	}
}

// restoreStatus applies persisted state from another instance or a prior
// run. An open record whose cooldown already elapsed restores as half-open.
func (b *Breaker) restoreStatus(st *Status, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if st.Cooldown > 0 {
		b.cooldown = st.Cooldown
	}

	switch {
	case st.State == StateOpen && st.ExpiresAt.After(now):
		b.state = StateOpen
		b.openedAt = st.OpenedAt
		b.expiry = st.ExpiresAt
		b.failures = 0
	case st.State == StateOpen || st.State == StateHalfOpen:
		b.state = StateHalfOpen
	default:
		b.state = StateClosed
		b.failures = st.Failures
	}
	b.generation++
	b.probes = 0
}

// Permit is a single admission grant. Record must be called exactly once
// with the execution outcome, or Release when the operation never executed
// (admission timeout). Results that arrive after the breaker has changed
// state are discarded.
type Permit struct {
	breaker    *Breaker
	generation uint64
}

// Record reports the outcome of the admitted execution.
func (p *Permit) Record(success bool) {
	p.breaker.record(p.generation, success)
}

// Release returns an unused probe slot without recording an outcome.
// Admission timeouts release their permits so probing capacity is not
// consumed by executions that never happened.
func (p *Permit) Release() {
	p.breaker.release(p.generation)
}

// Key returns the scope key of the breaker that issued this permit.
func (p *Permit) Key() string { return p.breaker.key }
