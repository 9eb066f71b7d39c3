package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/saworbit/orbit-sub002/cmn/nlog"
)

// PoolConfig tunes a Pool (spec.md §4.8). LongHaulConfig mirrors the
// long-haul profile used by the huge-file lane, where one connection
// streams for hours.
type PoolConfig struct {
	MaxSize        int
	MinIdle        int
	MaxLifetime    time.Duration // 0 = unbounded
	IdleTimeout    time.Duration // 0 = never evicted for idling
	AcquireTimeout time.Duration
}

// LongHaulConfig returns the long-haul connection profile spec.md §4.8
// names explicitly: few connections, each alive for up to a day, with a
// generous acquire timeout since the huge-file lane can wait.
func LongHaulConfig() PoolConfig {
	return PoolConfig{MaxSize: 4, MinIdle: 1, MaxLifetime: 24 * time.Hour, AcquireTimeout: 10 * time.Minute}
}

// ErrPoolTimeout is returned by Acquire when no handle becomes available
// within AcquireTimeout.
type ErrPoolTimeout struct{}

func (ErrPoolTimeout) Error() string { return "resilience: pool acquire timeout" }

// entry wraps a pooled handle with its creation time, for MaxLifetime
// eviction.
type entry[T any] struct {
	handle  T
	created time.Time
}

// Pool is a bounded set of reusable handles of type T (spec.md §4.8).
// Capacity is enforced by a weighted semaphore; the idle list is
// protected by a plain mutex since acquire/release hold it only for the
// duration of a slice append/pop.
type Pool[T any] struct {
	cfg     PoolConfig
	factory func(context.Context) (T, error)
	healthy func(T) bool
	closeFn func(T) error

	sem  *semaphore.Weighted
	mu   sync.Mutex
	idle []entry[T]
}

// NewPool builds a Pool. factory creates a new handle on demand; healthy
// reports whether a returned handle is still usable (failing handles are
// discarded and replaced, never returned to a caller); closeFn releases
// a handle's underlying resource.
func NewPool[T any](cfg PoolConfig, factory func(context.Context) (T, error), healthy func(T) bool, closeFn func(T) error) *Pool[T] {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1
	}
	return &Pool[T]{
		cfg:     cfg,
		factory: factory,
		healthy: healthy,
		closeFn: closeFn,
		sem:     semaphore.NewWeighted(int64(cfg.MaxSize)),
	}
}

// Acquire returns a healthy handle within cfg.AcquireTimeout, or
// ErrPoolTimeout. Idle handles are preferred over freshly created ones;
// a handle failing the lifetime/health checks is discarded in place and
// a replacement is created without consuming extra capacity.
func (p *Pool[T]) Acquire(ctx context.Context) (T, error) {
	var zero T

	actx := ctx
	var cancel context.CancelFunc
	if p.cfg.AcquireTimeout > 0 {
		actx, cancel = context.WithTimeout(ctx, p.cfg.AcquireTimeout)
		defer cancel()
	}
	if err := p.sem.Acquire(actx, 1); err != nil {
		return zero, ErrPoolTimeout{}
	}

	for {
		if h, ok := p.popIdle(); ok {
			if p.expired(h) || !p.healthy(h.handle) {
				// An idle handle already gave its permit back when it was
				// pushed onto the idle list (see Release); discarding it
				// here must not release the semaphore a second time, or
				// capacity leaks above cfg.MaxSize over repeated
				// expiries. The permit acquired at the top of this call
				// is still held and carries over to the replacement.
				p.discardIdle(h.handle)
				continue
			}
			return h.handle, nil
		}
		break
	}

	h, err := p.factory(ctx)
	if err != nil {
		p.sem.Release(1)
		return zero, errors.Wrap(err, "resilience: pool create handle")
	}
	return h, nil
}

// Release returns handle to the pool for reuse. A handle that fails the
// health check is discarded instead, and capacity is freed so a future
// Acquire can create a replacement.
func (p *Pool[T]) Release(handle T) {
	if !p.healthy(handle) {
		p.discard(handle)
		return
	}
	p.mu.Lock()
	p.idle = append(p.idle, entry[T]{handle: handle, created: time.Now()})
	p.mu.Unlock()
	p.sem.Release(1)
}

// discard closes a handle that is currently counted against the
// semaphore (acquired, or just failed its post-use health check in
// Release) and frees its permit.
func (p *Pool[T]) discard(handle T) {
	p.discardIdle(handle)
	p.sem.Release(1)
}

// discardIdle closes a handle without touching the semaphore, for
// handles pulled off the idle list — those already returned their
// permit when Release pushed them onto the list.
func (p *Pool[T]) discardIdle(handle T) {
	if p.closeFn != nil {
		if err := p.closeFn(handle); err != nil {
			nlog.Warnln("resilience: pool discard close error", "err", err)
		}
	}
}

func (p *Pool[T]) popIdle() (entry[T], bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.idle)
	if n == 0 {
		var zero entry[T]
		return zero, false
	}
	h := p.idle[n-1]
	p.idle = p.idle[:n-1]
	return h, true
}

func (p *Pool[T]) expired(h entry[T]) bool {
	age := time.Since(h.created)
	if p.cfg.IdleTimeout > 0 && age > p.cfg.IdleTimeout {
		return true
	}
	if p.cfg.MaxLifetime <= 0 {
		return false
	}
	return age > p.cfg.MaxLifetime
}

// Idle returns the current number of idle handles, for tests and
// diagnostics.
func (p *Pool[T]) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle)
}

// Close discards every idle handle. In-flight (acquired but not yet
// released) handles are the caller's responsibility.
func (p *Pool[T]) Close() {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()
	for _, h := range idle {
		if p.closeFn != nil {
			_ = p.closeFn(h.handle)
		}
	}
}
