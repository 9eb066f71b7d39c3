// Package resilience implements spec.md §4.8: the circuit breaker,
// bounded connection pool, rate limiter, dead-letter queue, and
// refcount/GC pair that together keep transfer work from cascading into
// a dead node and keep chunk bytes from being deleted before the
// Universe's removal record is durable.
package resilience

import (
	"sync"
	"time"

	"github.com/saworbit/orbit-sub002/cmn/cos"
	"github.com/saworbit/orbit-sub002/cmn/nlog"
)

// BreakerState is one of the three circuit-breaker states (spec.md §4.8).
type BreakerState int

const (
	Closed BreakerState = iota
	Open
	HalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes the breaker's thresholds (spec.md §4.8).
type BreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	Cooldown         time.Duration
	MaxRetries       int
}

// ErrCircuitOpen is returned by Execute while the breaker is Open.
type ErrCircuitOpen struct{}

func (ErrCircuitOpen) Error() string { return "resilience: circuit open" }

// Breaker is a three-state circuit breaker. Every error except
// cos.KindPermanent (an untagged error counts as cos.KindTransient)
// counts as a failure and can trip the breaker; cos.KindPermanent errors
// fail the call immediately without affecting breaker state (spec.md
// §4.8, "Errors are partitioned").
type Breaker struct {
	cfg BreakerConfig

	mu           sync.Mutex
	state        BreakerState
	failCount    int
	successCount int
	expiry       time.Time
}

func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{cfg: cfg, state: Closed}
}

// State returns the current breaker state, resolving an expired Open
// cooldown to HalfOpen as a side effect — mirrors the spec's "then
// transition to HalfOpen" wording: the transition happens lazily, on
// the next observation, rather than via a timer goroutine.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *Breaker) stateLocked() BreakerState {
	if b.state == Open && time.Now().After(b.expiry) {
		b.state = HalfOpen
		b.successCount = 0
	}
	return b.state
}

// Execute runs op under the breaker's policy: fails fast with
// ErrCircuitOpen while Open, admits the call while Closed or HalfOpen,
// and updates state from op's outcome.
func (b *Breaker) Execute(op func() error) error {
	b.mu.Lock()
	if b.stateLocked() == Open {
		b.mu.Unlock()
		return ErrCircuitOpen{}
	}
	b.mu.Unlock()

	err := op()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		b.onSuccessLocked()
		return nil
	}
	if cos.KindOf(err) == cos.KindPermanent {
		// Permanent errors never trip the breaker (spec.md §4.8).
		return err
	}
	b.onFailureLocked()
	return err
}

func (b *Breaker) onSuccessLocked() {
	switch b.state {
	case HalfOpen:
		b.successCount++
		if b.successCount >= b.cfg.SuccessThreshold {
			b.state = Closed
			b.failCount = 0
			b.successCount = 0
		}
	case Closed:
		b.failCount = 0
	}
}

func (b *Breaker) onFailureLocked() {
	switch b.state {
	case HalfOpen:
		b.trip()
	case Closed:
		b.failCount++
		if b.failCount >= b.cfg.FailureThreshold {
			b.trip()
		}
	}
}

func (b *Breaker) trip() {
	b.state = Open
	b.expiry = time.Now().Add(b.cfg.Cooldown)
	b.failCount = 0
	b.successCount = 0
	nlog.Warnln("resilience: circuit opened", "cooldown", b.cfg.Cooldown)
}

// ExecuteWithRetry retries op up to cfg.MaxRetries times with
// exponential backoff for transient failures, going through Execute
// each attempt so a tripped breaker still fails fast mid-retry.
func (b *Breaker) ExecuteWithRetry(op func() error) error {
	var err error
	backoff := 50 * time.Millisecond
	for attempt := 0; attempt <= b.cfg.MaxRetries; attempt++ {
		err = b.Execute(op)
		if err == nil {
			return nil
		}
		if _, isOpen := err.(ErrCircuitOpen); isOpen {
			return err
		}
		if cos.KindOf(err) == cos.KindPermanent {
			return err
		}
		if attempt < b.cfg.MaxRetries {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return err
}
