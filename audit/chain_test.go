package audit

import (
	"path/filepath"
	"testing"
)

func openTestChain(t *testing.T) *Chain {
	t.Helper()
	c, err := OpenChain(filepath.Join(t.TempDir(), "audit.jsonl"), []byte("test-hmac-key"))
	if err != nil {
		t.Fatalf("OpenChain: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func emitN(t *testing.T, c *Chain, n int) []Event {
	t.Helper()
	ctx := NewRootContext()
	var events []Event
	for i := 0; i < n; i++ {
		ev, err := c.Emit(ctx, nil, nil, "payload")
		if err != nil {
			t.Fatalf("Emit: %v", err)
		}
		events = append(events, ev)
	}
	return events
}

// TestChainVerifyCleanChain is spec.md §8 S8's first step: 5 events,
// verify_chain returns {total=5, valid=5, failures=[]}.
func TestChainVerifyCleanChain(t *testing.T) {
	c := openTestChain(t)
	events := emitN(t, c, 5)

	report := VerifyChain(events, []byte("test-hmac-key"))
	if report.Total != 5 || report.Valid != 5 || len(report.Failures) != 0 {
		t.Fatalf("expected clean chain, got %+v", report)
	}
}

// TestChainTamperDetection is spec.md §8 S8's remaining steps.
func TestChainTamperDetection(t *testing.T) {
	c := openTestChain(t)
	events := emitN(t, c, 5)

	tampered := make([]Event, len(events))
	copy(tampered, events)
	tampered[2].Payload = "tampered payload"

	report := VerifyChain(tampered, []byte("test-hmac-key"))
	if !hasFailure(report, IntegrityFailure, 2) {
		t.Fatalf("expected IntegrityFailure at sequence 2, got %+v", report.Failures)
	}

	missing := make([]Event, len(events))
	copy(missing, events)
	missing[3].IntegrityHash = ""

	report2 := VerifyChain(missing, []byte("test-hmac-key"))
	if !hasFailure(report2, MissingHash, 3) {
		t.Fatalf("expected MissingHash at sequence 3, got %+v", report2.Failures)
	}
}

func TestChainDetectsRemovedEvent(t *testing.T) {
	c := openTestChain(t)
	events := emitN(t, c, 5)

	withoutOne := append(append([]Event{}, events[:2]...), events[3:]...)
	report := VerifyChain(withoutOne, []byte("test-hmac-key"))
	if len(report.Failures) == 0 {
		t.Fatal("expected removing an event to produce a verification failure")
	}
}

func TestChainDetectsReorderedEvents(t *testing.T) {
	c := openTestChain(t)
	events := emitN(t, c, 5)

	reordered := append([]Event{}, events...)
	reordered[1], reordered[2] = reordered[2], reordered[1]

	report := VerifyChain(reordered, []byte("test-hmac-key"))
	if len(report.Failures) == 0 {
		t.Fatal("expected reordering two events to produce a verification failure")
	}
}

func TestChainDetectsInsertedEvent(t *testing.T) {
	c := openTestChain(t)
	events := emitN(t, c, 5)

	forged := Event{
		TraceID:       events[0].TraceID,
		SpanID:        NewSpanID(),
		Sequence:      5,
		Timestamp:     events[4].Timestamp,
		Payload:       "forged",
		IntegrityHash: "00",
	}
	withInsert := append(append([]Event{}, events...), forged)

	report := VerifyChain(withInsert, []byte("test-hmac-key"))
	if len(report.Failures) == 0 {
		t.Fatal("expected an inserted event without the real key to fail verification")
	}
}

func TestSequenceMonotonicity(t *testing.T) {
	c := openTestChain(t)
	events := emitN(t, c, 4)
	for i, ev := range events {
		if ev.Sequence != uint64(i) {
			t.Fatalf("expected gap-free sequence, event %d has sequence %d", i, ev.Sequence)
		}
	}
}

func hasFailure(report ValidationReport, kind FailureKind, seq uint64) bool {
	for _, f := range report.Failures {
		if f.Kind == kind && f.Sequence == seq {
			return true
		}
	}
	return false
}
