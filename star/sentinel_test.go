package star

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/saworbit/orbit-sub002/fingerprint"
	"github.com/saworbit/orbit-sub002/universe"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		locations int
		min       int
		want      RedundancyClass
	}{
		{0, 2, Lost},
		{1, 2, AtRisk},
		{2, 2, Healthy},
		{3, 2, Healthy},
	}
	for _, c := range cases {
		if got := classify(c.locations, c.min); got != c.want {
			t.Errorf("classify(%d, %d) = %v, want %v", c.locations, c.min, got, c.want)
		}
	}
}

type countingHealer struct {
	mu    sync.Mutex
	calls []fingerprint.Fingerprint
	block chan struct{} // if non-nil, Heal waits for it before returning
}

func (h *countingHealer) Heal(ctx context.Context, fp fingerprint.Fingerprint, _ []universe.Location) error {
	h.mu.Lock()
	h.calls = append(h.calls, fp)
	h.mu.Unlock()
	if h.block != nil {
		<-h.block
	}
	return nil
}

func (h *countingHealer) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

func openTestIndexForSentinel(t *testing.T) *universe.Index {
	t.Helper()
	idx, err := universe.Open(filepath.Join(t.TempDir(), "u.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestSentinelSweepClassifiesAndHeals(t *testing.T) {
	idx := openTestIndexForSentinel(t)
	healthy := fingerprint.Of([]byte("healthy"))
	atRisk := fingerprint.Of([]byte("at risk"))
	lost := fingerprint.Of([]byte("lost")) // never inserted

	idx.Insert(healthy, universe.Location{NodeID: "A", Path: "/a"})
	idx.Insert(healthy, universe.Location{NodeID: "B", Path: "/b"})
	idx.Insert(atRisk, universe.Location{NodeID: "A", Path: "/a2"})
	_ = lost

	healer := &countingHealer{}
	s := NewSentinel(idx, healer, SentinelConfig{MinRedundancy: 2, MaxParallelHeal: 4, ScanInterval: time.Hour})

	stats, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if stats.Healthy != 1 || stats.AtRisk != 1 {
		t.Fatalf("expected 1 healthy, 1 at-risk, got %+v", stats)
	}

	// heals are dispatched asynchronously; wait briefly.
	deadline := time.Now().Add(time.Second)
	for healer.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if healer.count() != 1 {
		t.Fatalf("expected exactly one heal dispatched, got %d", healer.count())
	}
}

func TestSentinelSkipsWhenPermitsExhausted(t *testing.T) {
	idx := openTestIndexForSentinel(t)
	for i := 0; i < 3; i++ {
		fp := fingerprint.Of([]byte{byte(i)})
		idx.Insert(fp, universe.Location{NodeID: "A", Path: "/x"})
	}

	block := make(chan struct{})
	healer := &countingHealer{block: block}
	s := NewSentinel(idx, healer, SentinelConfig{MinRedundancy: 2, MaxParallelHeal: 1, ScanInterval: time.Hour})

	stats, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if stats.AtRisk != 3 {
		t.Fatalf("expected 3 at-risk, got %d", stats.AtRisk)
	}
	// Sweep took the single permit before launching the one dispatched
	// heal, so Skipped is already final; wait for that heal to start
	// before close(block) lets it finish.
	deadline := time.Now().Add(time.Second)
	for healer.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if stats.Skipped != 2 {
		t.Fatalf("expected 2 skipped with only 1 permit, got %d", stats.Skipped)
	}
	close(block)
}

func TestSweepStatsHealthRatio(t *testing.T) {
	s := SweepStats{Healthy: 3, Total: 4}
	if got := s.HealthRatio(); got != 0.75 {
		t.Fatalf("expected 0.75, got %v", got)
	}
	if (SweepStats{}).HealthRatio() != 1 {
		t.Fatal("expected ratio 1 for an empty sweep")
	}
}
