package resilience

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter throttles operation throughput to a fixed rate (spec.md
// §4.8). cmd/orbitd builds one from the Sentinel's bandwidth_limit, but
// neither Sentinel nor Medic calls it. Built on golang.org/x/time/rate (the
// token-bucket limiter github.com/Azure/azure-storage-azcopy and
// github.com/storj/storj both use for exactly this purpose), rather than
// a hand-rolled bucket.
type RateLimiter struct {
	lim *rate.Limiter
}

// NewRateLimiter builds a limiter admitting opsPerSec operations per
// second, with a burst of one — every call waits for its own token.
func NewRateLimiter(opsPerSec float64) *RateLimiter {
	if opsPerSec <= 0 {
		return &RateLimiter{lim: rate.NewLimiter(rate.Inf, 1)}
	}
	return &RateLimiter{lim: rate.NewLimiter(rate.Limit(opsPerSec), 1)}
}

// Execute blocks until a token is available (or ctx is done), then runs
// op. Composes with Breaker and Pool as
// breaker.Execute(func() error { return limiter.Execute(ctx, ...) }).
func (r *RateLimiter) Execute(ctx context.Context, op func() error) error {
	if err := r.lim.Wait(ctx); err != nil {
		return err
	}
	return op()
}

// SetLimit adjusts the rate at runtime, e.g. when the Sentinel's
// bandwidth_limit configuration changes between sweeps.
func (r *RateLimiter) SetLimit(opsPerSec float64) {
	if opsPerSec <= 0 {
		r.lim.SetLimit(rate.Inf)
		return
	}
	r.lim.SetLimit(rate.Limit(opsPerSec))
}
