package h2breaker

import (
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// zeroBackoff returns a zero delay immediately, so tests that need to cross
// the Open -> HalfOpen recovery window don't have to sleep for real.
type zeroBackoff struct{}

func (zeroBackoff) NextBackOff() time.Duration { return 0 }
func (zeroBackoff) Reset()                     {}

var _ backoff.BackOff = zeroBackoff{}

func TestBreakerTripsAfterFailureThreshold(t *testing.T) {
	b := New(Options{FailureThreshold: 3, Backoff: zeroBackoff{}})

	for i := 0; i < 2; i++ {
		if err := b.Allow(); err != nil {
			t.Fatalf("expected Closed to allow calls, got %v", err)
		}
		b.Failure()
	}
	if b.State() != StateClosed {
		t.Fatalf("expected Closed before the threshold, got %s", b.State())
	}

	b.Failure()
	if b.State() != StateOpen {
		t.Fatalf("expected Open after the failure threshold is reached, got %s", b.State())
	}
	if err := b.Allow(); err != ErrOpen {
		t.Fatalf("expected ErrOpen immediately after tripping, got %v", err)
	}
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	b := New(Options{FailureThreshold: 1, SuccessThreshold: 2, Backoff: zeroBackoff{}})

	b.Failure()
	if b.State() != StateOpen {
		t.Fatalf("expected Open, got %s", b.State())
	}

	if err := b.Allow(); err != nil {
		t.Fatalf("expected the recovery probe to be admitted, got %v", err)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("expected HalfOpen after the probe is admitted, got %s", b.State())
	}

	b.Success()
	if b.State() != StateHalfOpen {
		t.Fatalf("expected to stay HalfOpen before SuccessThreshold is met, got %s", b.State())
	}

	if err := b.Allow(); err != nil {
		t.Fatal(err)
	}
	b.Success()
	if b.State() != StateClosed {
		t.Fatalf("expected Closed once SuccessThreshold is met, got %s", b.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := New(Options{FailureThreshold: 1, Backoff: zeroBackoff{}})

	b.Failure()
	if err := b.Allow(); err != nil {
		t.Fatal(err)
	}
	b.Failure()

	if b.State() != StateOpen {
		t.Fatalf("expected a HalfOpen failure to reopen the breaker, got %s", b.State())
	}
}

func TestBreakerHalfOpenLimitsConcurrentProbes(t *testing.T) {
	b := New(Options{FailureThreshold: 1, HalfOpenMaxCalls: 1, Backoff: zeroBackoff{}})

	b.Failure()
	if err := b.Allow(); err != nil {
		t.Fatal(err)
	}
	if err := b.Allow(); err != ErrOpen {
		t.Fatalf("expected a second concurrent probe to be refused, got %v", err)
	}
}

func TestBreakerOnStateChangeFiresOutsideLock(t *testing.T) {
	var transitions []State
	var b *Breaker
	b = New(Options{
		FailureThreshold: 1,
		Backoff:          zeroBackoff{},
		OnStateChange: func(from, to State) {
			transitions = append(transitions, to)
			// If this callback ran with the breaker's lock still held,
			// calling State() here would deadlock.
			_ = b.State()
		},
	})

	b.Failure()

	if len(transitions) != 1 || transitions[0] != StateOpen {
		t.Fatalf("expected exactly one transition to Open, got %v", transitions)
	}
}

func TestManagerRestoresPersistedStateAfterReset(t *testing.T) {
	persistence := newFakePersistence()
	m := NewManager(Options{FailureThreshold: 1, Backoff: zeroBackoff{}}, persistence)

	b := m.For("host-a:443")
	b.Failure()

	if got := persistence.saved["host-a:443"]; got != StateOpen {
		t.Fatalf("expected the persistence adapter to observe StateOpen, got %s", got)
	}

	m.Reset("host-a:443")
	fresh := m.For("host-a:443")
	if fresh.State() != StateOpen {
		t.Fatalf("expected a freshly constructed breaker to restore the persisted state, got %s", fresh.State())
	}
}

type fakePersistence struct {
	saved map[string]State
}

func newFakePersistence() *fakePersistence {
	return &fakePersistence{saved: make(map[string]State)}
}

func (f *fakePersistence) Save(host string, state State) error {
	f.saved[host] = state
	return nil
}

func (f *fakePersistence) Load(host string) (State, bool, error) {
	s, ok := f.saved[host]
	return s, ok, nil
}
