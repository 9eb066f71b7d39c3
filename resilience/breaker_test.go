package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/saworbit/orbit-sub002/cmn/cos"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 3, SuccessThreshold: 1, Cooldown: time.Hour})
	failing := func() error { return cos.Tag(cos.KindTransient, errors.New("boom")) }

	for i := 0; i < 2; i++ {
		if err := b.Execute(failing); err == nil {
			t.Fatal("expected failure")
		}
		if b.State() != Closed {
			t.Fatalf("breaker tripped too early at failure %d", i+1)
		}
	}
	if err := b.Execute(failing); err == nil {
		t.Fatal("expected failure")
	}
	if b.State() != Open {
		t.Fatalf("expected Open after threshold failures, got %v", b.State())
	}
}

func TestBreakerFailsFastWhileOpen(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, Cooldown: time.Hour})
	_ = b.Execute(func() error { return cos.Tag(cos.KindTransient, errors.New("boom")) })
	if b.State() != Open {
		t.Fatal("expected Open")
	}
	err := b.Execute(func() error { t.Fatal("op must not run while Open"); return nil })
	if _, ok := err.(ErrCircuitOpen); !ok {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestBreakerClosesAfterCooldownAndSuccesses(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, Cooldown: 10 * time.Millisecond})
	_ = b.Execute(func() error { return cos.Tag(cos.KindTransient, errors.New("boom")) })
	if b.State() != Open {
		t.Fatal("expected Open")
	}
	time.Sleep(20 * time.Millisecond)

	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("expected half-open probe to run: %v", err)
	}
	if b.State() != HalfOpen {
		t.Fatalf("expected HalfOpen after one success, got %v", b.State())
	}
	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.State() != Closed {
		t.Fatalf("expected Closed after success_threshold successes, got %v", b.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, Cooldown: 10 * time.Millisecond})
	_ = b.Execute(func() error { return cos.Tag(cos.KindTransient, errors.New("boom")) })
	time.Sleep(20 * time.Millisecond)

	err := b.Execute(func() error { return cos.Tag(cos.KindTransient, errors.New("still broken")) })
	if err == nil {
		t.Fatal("expected error")
	}
	if b.State() != Open {
		t.Fatalf("expected Open after half-open failure, got %v", b.State())
	}
}

func TestBreakerPermanentErrorDoesNotTrip(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, Cooldown: time.Hour})
	err := b.Execute(func() error { return cos.Tag(cos.KindPermanent, errors.New("bad input")) })
	if err == nil {
		t.Fatal("expected error to propagate")
	}
	if b.State() != Closed {
		t.Fatalf("permanent error must not trip the breaker, got %v", b.State())
	}
}
