// Package h2pool keeps a small set of warm h2client.Conn connections per
// host:port, evicting idle ones and deduplicating concurrent dials to the
// same address, the way a production HTTP/2 transport multiplexes streams
// over a handful of long-lived connections instead of dialing per request.
package h2pool

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/domsolutions/h2client"
)

// Options configures a Pool.
type Options struct {
	// MaxConnsPerHost bounds how many live connections one address may use
	// at once. Zero uses DefaultMaxConnsPerHost.
	MaxConnsPerHost int

	// MaxIdleTime is how long an otherwise-unused connection may sit idle
	// before the janitor closes it. Zero uses DefaultMaxIdleTime.
	MaxIdleTime time.Duration

	// HealthCheckInterval is how often the janitor sweeps for idle/dead
	// connections. Zero uses DefaultHealthCheckInterval.
	HealthCheckInterval time.Duration

	// ConnConfig is passed verbatim to h2client.Dial for every new
	// connection the pool creates.
	ConnConfig h2client.Config

	// WarmupTargets are addresses dialed eagerly by Warmup.
	WarmupTargets []string
}

const (
	DefaultMaxIdleTime          = 90 * time.Second
	DefaultHealthCheckInterval  = 30 * time.Second
	DefaultMaxConnsPerHost      = 4
)

// entry wraps one pooled connection with the pool's own bookkeeping, kept
// separate from h2client.Conn so the pool's notion of "idle" doesn't leak
// into the connection engine itself.
type entry struct {
	conn *h2client.Conn

	mu           sync.Mutex
	lastActivity time.Time
	inUseCount   int
}

func (e *entry) touch() {
	e.mu.Lock()
	e.lastActivity = time.Now()
	e.mu.Unlock()
}

func (e *entry) idleFor() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return time.Since(e.lastActivity)
}

func (e *entry) acquire() {
	e.mu.Lock()
	e.inUseCount++
	e.mu.Unlock()
}

func (e *entry) release() {
	e.mu.Lock()
	e.inUseCount--
	e.lastActivity = time.Now()
	e.mu.Unlock()
}

func (e *entry) busy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inUseCount > 0
}

// Pool is a keyed set of h2client connections, one bucket per address, safe
// for concurrent use. The janitor closes connections idle longer than
// MaxIdleTime; the total number of connections across addresses is not
// capped, and there is no least-recently-used eviction.
type Pool struct {
	opts Options

	mu      sync.RWMutex
	buckets map[string][]*entry

	group singleflight.Group

	stopCh chan struct{}
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// New creates a Pool and starts its idle-connection janitor.
func New(opts Options) *Pool {
	if opts.MaxIdleTime <= 0 {
		opts.MaxIdleTime = DefaultMaxIdleTime
	}
	if opts.HealthCheckInterval <= 0 {
		opts.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if opts.MaxConnsPerHost <= 0 {
		opts.MaxConnsPerHost = DefaultMaxConnsPerHost
	}

	p := &Pool{
		opts:    opts,
		buckets: make(map[string][]*entry),
		stopCh:  make(chan struct{}),
	}

	p.wg.Add(1)
	go p.janitor()

	return p
}

// Warmup dials every address in opts.WarmupTargets concurrently, ahead of
// any caller actually needing them.
func (p *Pool) Warmup(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, addr := range p.opts.WarmupTargets {
		addr := addr
		g.Go(func() error {
			_, release, err := p.Acquire(gctx, addr)
			if err != nil {
				return err
			}
			release()
			return nil
		})
	}
	return g.Wait()
}

// Acquire returns a ready connection for addr, dialing a new one if none is
// idle and the host is under MaxConnsPerHost, or reusing the least-busy
// existing one otherwise. The returned release func must be called when the
// caller is done issuing requests on it.
//
// Concurrent Acquire calls for the same addr that all need a brand new dial
// are deduplicated via singleflight so a cold host gets exactly one dial.
func (p *Pool) Acquire(ctx context.Context, addr string) (*h2client.Conn, func(), error) {
	if e := p.pickExisting(addr); e != nil {
		e.acquire()
		return e.conn, func() { e.release() }, nil
	}

	v, err, _ := p.group.Do(addr, func() (interface{}, error) {
		if e := p.pickExisting(addr); e != nil {
			return e, nil
		}
		conn, err := h2client.Dial(ctx, "tcp", addr, p.opts.ConnConfig)
		if err != nil {
			return nil, err
		}
		e := &entry{conn: conn, lastActivity: time.Now()}
		p.mu.Lock()
		p.buckets[addr] = append(p.buckets[addr], e)
		p.mu.Unlock()
		return e, nil
	})
	if err != nil {
		return nil, nil, err
	}

	e := v.(*entry)
	e.acquire()
	return e.conn, func() { e.release() }, nil
}

// pickExisting returns the least-busy healthy connection for addr, or nil.
func (p *Pool) pickExisting(addr string) *entry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var best *entry
	bestLoad := -1

	for _, e := range p.buckets[addr] {
		if e.conn.Closed() {
			continue
		}
		if !e.conn.CanOpenStream() {
			continue
		}
		e.mu.Lock()
		load := e.inUseCount
		e.mu.Unlock()
		if best == nil || load < bestLoad {
			best, bestLoad = e, load
		}
	}

	if len(p.buckets[addr]) >= p.opts.MaxConnsPerHost && best != nil {
		return best
	}
	if best != nil && bestLoad == 0 {
		return best
	}
	return nil
}

func (p *Pool) janitor() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.opts.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.sweep()
		case <-p.stopCh:
			return
		}
	}
}

func (p *Pool) sweep() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for addr, entries := range p.buckets {
		kept := entries[:0]
		for _, e := range entries {
			if e.conn.Closed() {
				continue
			}
			if !e.busy() && e.idleFor() > p.opts.MaxIdleTime {
				_ = e.conn.Close(h2client.ErrCodeNo, "pool: idle connection evicted")
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(p.buckets, addr)
		} else {
			p.buckets[addr] = kept
		}
	}
}

// Close stops the janitor and closes every pooled connection concurrently,
// aggregating every connection's close error rather than just the first one
// a plain errgroup would surface.
func (p *Pool) Close() error {
	var result *multierror.Error
	p.closeOnce.Do(func() {
		close(p.stopCh)
		p.wg.Wait()

		p.mu.Lock()
		all := make([]*entry, 0)
		for _, entries := range p.buckets {
			all = append(all, entries...)
		}
		p.buckets = make(map[string][]*entry)
		p.mu.Unlock()

		var errMu sync.Mutex
		g := new(errgroup.Group)
		for _, e := range all {
			e := e
			g.Go(func() error {
				if err := e.conn.Close(h2client.ErrCodeNo, "pool closed"); err != nil {
					errMu.Lock()
					result = multierror.Append(result, err)
					errMu.Unlock()
				}
				return nil
			})
		}
		g.Wait()
	})
	return result.ErrorOrNil()
}

// Len returns the number of live pooled connections across all hosts.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, entries := range p.buckets {
		n += len(entries)
	}
	return n
}
