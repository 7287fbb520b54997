package h2pool

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/domsolutions/h2client"
)

// discardConn is a net.Conn that never blocks: writes are discarded and
// reads never return, which is enough to build an h2client.Conn without
// starting its reader/writer goroutines or Establish.
type discardConn struct{}

func (discardConn) Read(b []byte) (int, error)         { select {} }
func (discardConn) Write(b []byte) (int, error)        { return len(b), nil }
func (discardConn) Close() error                       { return nil }
func (discardConn) LocalAddr() net.Addr                { return fakeAddr{} }
func (discardConn) RemoteAddr() net.Addr               { return fakeAddr{} }
func (discardConn) SetDeadline(time.Time) error        { return nil }
func (discardConn) SetReadDeadline(time.Time) error    { return nil }
func (discardConn) SetWriteDeadline(time.Time) error   { return nil }

type fakeAddr struct{}

func (fakeAddr) Network() string { return "tcp" }
func (fakeAddr) String() string  { return "test:0" }

// failingConn is like discardConn but its Close reports an error, so Pool.Close
// has something real to aggregate across multiple connections.
type failingConn struct {
	discardConn
	closeErr error
}

func (f failingConn) Close() error { return f.closeErr }

func newTestConn() *h2client.Conn {
	return h2client.NewConn(discardConn{}, h2client.NewConfig())
}

func newFailingTestConn(closeErr error) *h2client.Conn {
	return h2client.NewConn(failingConn{closeErr: closeErr}, h2client.NewConfig())
}

func TestEntryBusyAndIdleFor(t *testing.T) {
	e := &entry{conn: newTestConn(), lastActivity: time.Now()}

	if e.busy() {
		t.Fatal("a fresh entry should not be busy")
	}

	e.acquire()
	if !e.busy() {
		t.Fatal("expected entry to be busy after acquire")
	}

	e.release()
	if e.busy() {
		t.Fatal("expected entry to be idle after release")
	}
	if e.idleFor() < 0 {
		t.Fatal("idleFor should never be negative")
	}
}

func TestPickExistingPrefersLeastBusyConnection(t *testing.T) {
	p := New(Options{MaxConnsPerHost: 4})
	defer p.Close()

	busy := &entry{conn: newTestConn(), lastActivity: time.Now()}
	busy.acquire()

	idle := &entry{conn: newTestConn(), lastActivity: time.Now()}

	p.mu.Lock()
	p.buckets["host:443"] = []*entry{busy, idle}
	p.mu.Unlock()

	got := p.pickExisting("host:443")
	if got != idle {
		t.Fatal("expected the idle connection to be picked over the busy one")
	}
}

func TestPickExistingForcesNewDialUnderCap(t *testing.T) {
	p := New(Options{MaxConnsPerHost: 4})
	defer p.Close()

	busy := &entry{conn: newTestConn(), lastActivity: time.Now()}
	busy.acquire()

	p.mu.Lock()
	p.buckets["host:443"] = []*entry{busy}
	p.mu.Unlock()

	if got := p.pickExisting("host:443"); got != nil {
		t.Fatalf("expected nil (force a new dial) when every connection is busy and under the cap, got %v", got)
	}
}

func TestPickExistingReusesConnectionWhenAtCap(t *testing.T) {
	p := New(Options{MaxConnsPerHost: 1})
	defer p.Close()

	busy := &entry{conn: newTestConn(), lastActivity: time.Now()}
	busy.acquire()

	p.mu.Lock()
	p.buckets["host:443"] = []*entry{busy}
	p.mu.Unlock()

	got := p.pickExisting("host:443")
	if got != busy {
		t.Fatal("expected the only connection to be reused once MaxConnsPerHost is reached")
	}
}

func TestPoolLen(t *testing.T) {
	p := New(Options{})
	defer p.Close()

	p.mu.Lock()
	p.buckets["a:443"] = []*entry{{conn: newTestConn()}}
	p.buckets["b:443"] = []*entry{{conn: newTestConn()}, {conn: newTestConn()}}
	p.mu.Unlock()

	if p.Len() != 3 {
		t.Fatalf("expected 3 pooled connections, got %d", p.Len())
	}
}

func TestCloseAggregatesEveryConnectionError(t *testing.T) {
	p := New(Options{})

	errA := errors.New("close failed for conn a")
	errB := errors.New("close failed for conn b")

	p.mu.Lock()
	p.buckets["a:443"] = []*entry{{conn: newFailingTestConn(errA)}}
	p.buckets["b:443"] = []*entry{{conn: newFailingTestConn(errB)}, {conn: newTestConn()}}
	p.mu.Unlock()

	err := p.Close()
	if err == nil {
		t.Fatal("expected Close to report the failing connections' errors")
	}

	merr, ok := err.(*multierror.Error)
	if !ok {
		t.Fatalf("expected a *multierror.Error, got %T", err)
	}
	if len(merr.Errors) != 2 {
		t.Fatalf("expected both failing connections' errors aggregated, got %d: %v", len(merr.Errors), merr.Errors)
	}
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Fatalf("expected both errA and errB present in the aggregated error, got %v", err)
	}
}
