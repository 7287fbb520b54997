// Package h2breaker implements a per-host circuit breaker: a Closed/Open/
// HalfOpen state machine that stops sending requests at a host once it
// starts failing, and lets a bounded trickle of probes back in after a
// backoff-governed recovery window.
package h2breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// State is one node of the breaker's state machine.
type State uint8

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned by Allow when the breaker is refusing calls.
var ErrOpen = errors.New("h2breaker: circuit is open")

// Options configures a Breaker.
type Options struct {
	// FailureThreshold is how many consecutive failures in StateClosed trip
	// the breaker to StateOpen. Zero uses DefaultFailureThreshold.
	FailureThreshold int

	// SuccessThreshold is how many consecutive successes in StateHalfOpen
	// are required to close the breaker again. Zero uses
	// DefaultSuccessThreshold.
	SuccessThreshold int

	// HalfOpenMaxCalls bounds how many trial calls are allowed through while
	// StateHalfOpen. Zero uses DefaultHalfOpenMaxCalls.
	HalfOpenMaxCalls int

	// Backoff generates the recovery delay before an Open breaker tries
	// StateHalfOpen. If nil, an exponential backoff capped at 1 minute is
	// used.
	Backoff backoff.BackOff

	// OnStateChange fires whenever the breaker transitions, outside any
	// lock, so it's safe for it to call back into the breaker.
	OnStateChange func(from, to State)
}

const (
	DefaultFailureThreshold = 5
	DefaultSuccessThreshold = 2
	DefaultHalfOpenMaxCalls = 1
)

// Breaker is one host's circuit breaker. Safe for concurrent use.
type Breaker struct {
	opts Options

	mu               sync.Mutex
	state            State
	consecFailures   int
	consecSuccesses  int
	halfOpenInFlight int
	nextProbeAt      time.Time
	bo               backoff.BackOff
}

// New creates a Breaker starting in StateClosed.
func New(opts Options) *Breaker {
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = DefaultFailureThreshold
	}
	if opts.SuccessThreshold <= 0 {
		opts.SuccessThreshold = DefaultSuccessThreshold
	}
	if opts.HalfOpenMaxCalls <= 0 {
		opts.HalfOpenMaxCalls = DefaultHalfOpenMaxCalls
	}

	bo := opts.Backoff
	if bo == nil {
		eb := backoff.NewExponentialBackOff()
		eb.MaxElapsedTime = 0
		eb.MaxInterval = time.Minute
		bo = eb
	}

	return &Breaker{opts: opts, bo: bo}
}

// Allow reports whether a call may proceed, admitting a bounded number of
// trial calls once the recovery window has elapsed.
func (b *Breaker) Allow() error {
	b.mu.Lock()

	switch b.state {
	case StateClosed:
		b.mu.Unlock()
		return nil

	case StateOpen:
		if time.Now().Before(b.nextProbeAt) {
			b.mu.Unlock()
			return ErrOpen
		}
		b.transition(StateHalfOpen)
		b.halfOpenInFlight = 1
		b.mu.Unlock()
		return nil

	case StateHalfOpen:
		if b.halfOpenInFlight >= b.opts.HalfOpenMaxCalls {
			b.mu.Unlock()
			return ErrOpen
		}
		b.halfOpenInFlight++
		b.mu.Unlock()
		return nil

	default:
		b.mu.Unlock()
		return nil
	}
}

// Success records a successful call.
func (b *Breaker) Success() {
	b.mu.Lock()

	switch b.state {
	case StateClosed:
		b.consecFailures = 0
	case StateHalfOpen:
		b.consecSuccesses++
		b.halfOpenInFlight--
		if b.consecSuccesses >= b.opts.SuccessThreshold {
			b.consecFailures = 0
			b.consecSuccesses = 0
			b.bo.Reset()
			b.transition(StateClosed)
		}
	}

	b.mu.Unlock()
}

// Failure records a failed call.
func (b *Breaker) Failure() {
	b.mu.Lock()

	switch b.state {
	case StateClosed:
		b.consecFailures++
		if b.consecFailures >= b.opts.FailureThreshold {
			b.trip()
		}
	case StateHalfOpen:
		b.halfOpenInFlight--
		b.trip()
	}

	b.mu.Unlock()
}

// trip moves the breaker to StateOpen and schedules the next recovery
// probe. Must be called with mu held.
func (b *Breaker) trip() {
	b.consecSuccesses = 0
	b.nextProbeAt = time.Now().Add(b.bo.NextBackOff())
	b.transition(StateOpen)
}

// transition changes state and fires OnStateChange outside the lock. Must
// be called with mu held; it unlocks and relocks around the callback.
func (b *Breaker) transition(to State) {
	from := b.state
	b.state = to
	if from == to || b.opts.OnStateChange == nil {
		return
	}
	cb := b.opts.OnStateChange
	b.mu.Unlock()
	cb(from, to)
	b.mu.Lock()
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// PersistenceAdapter lets a caller persist and restore breaker state across
// process restarts. The default Manager uses a no-op adapter; no storage
// engine is bundled.
type PersistenceAdapter interface {
	Save(host string, state State) error
	Load(host string) (State, bool, error)
}

// NoopPersistence is the zero-configuration PersistenceAdapter: it
// remembers nothing.
type NoopPersistence struct{}

func (NoopPersistence) Save(string, State) error           { return nil }
func (NoopPersistence) Load(string) (State, bool, error)    { return StateClosed, false, nil }

// Manager is a per-host registry of Breakers.
type Manager struct {
	newOpts     Options
	persistence PersistenceAdapter

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewManager creates a Manager that lazily builds one Breaker per host using
// opts as the template, consulting persistence (or NoopPersistence if nil)
// for each host's starting state.
func NewManager(opts Options, persistence PersistenceAdapter) *Manager {
	if persistence == nil {
		persistence = NoopPersistence{}
	}
	return &Manager{
		newOpts:     opts,
		persistence: persistence,
		breakers:    make(map[string]*Breaker),
	}
}

// For returns the Breaker for host, creating it (and consulting persistence
// for its initial state) on first access.
func (m *Manager) For(host string) *Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.breakers[host]; ok {
		return b
	}

	opts := m.newOpts
	baseOnChange := opts.OnStateChange
	opts.OnStateChange = func(from, to State) {
		_ = m.persistence.Save(host, to)
		if baseOnChange != nil {
			baseOnChange(from, to)
		}
	}

	b := New(opts)
	if state, ok, err := m.persistence.Load(host); err == nil && ok && state != StateClosed {
		b.mu.Lock()
		b.state = state
		if state == StateOpen {
			b.nextProbeAt = time.Now().Add(b.bo.NextBackOff())
		}
		b.mu.Unlock()
	}

	m.breakers[host] = b
	return b
}

// Reset removes a host's breaker, so the next For call starts fresh.
func (m *Manager) Reset(host string) {
	m.mu.Lock()
	delete(m.breakers, host)
	m.mu.Unlock()
}
