package resilience

import "sync"

// GC implements the WAL-gated garbage collector (spec.md §4.8, invariant
// I3, §8 P12/S5). A fingerprint moves pending -> ready -> (collected),
// and only confirm_wal_synced can perform the pending -> ready
// transition — so collect() can never return a fingerprint whose
// removal hasn't been durably recorded in the index's write-ahead log
// yet. The caller's full contract (spec.md §4.8):
//
//  1. select candidates via RefCount.ZeroRefChunks
//  2. MarkReclaimable each one
//  3. write the removal to the index WAL and fsync
//  4. ConfirmWalSynced
//  5. Collect
//  6. physically delete the bytes
//  7. Acknowledge(len(collected))
//
// A crash before step 4 leaves the index untouched; a crash after step 4
// is safely replayable because ready is reconstructed from persisted
// refcount state on restart.
type GC struct {
	mu           sync.Mutex
	pending      map[[32]byte]struct{}
	ready        map[[32]byte]struct{}
	acknowledged uint64
}

func NewGC() *GC {
	return &GC{
		pending: make(map[[32]byte]struct{}),
		ready:   make(map[[32]byte]struct{}),
	}
}

// MarkReclaimable moves fp into the pending set. Calling it twice before
// a ConfirmWalSynced is idempotent — pending is a set, not a queue
// (spec.md §8 S5's "dedup within pending").
func (g *GC) MarkReclaimable(fp [32]byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending[fp] = struct{}{}
}

// ConfirmWalSynced atomically drains every currently-pending fingerprint
// into the ready set. Must be called only after the caller has fsynced
// the index's removal record for those fingerprints (I3).
func (g *GC) ConfirmWalSynced() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for fp := range g.pending {
		g.ready[fp] = struct{}{}
	}
	g.pending = make(map[[32]byte]struct{})
}

// Collect returns every fingerprint currently in ready and clears the
// set. Only fingerprints returned here may have their bytes physically
// deleted (spec.md §3, §8 P12).
func (g *GC) Collect() [][32]byte {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.ready) == 0 {
		return nil
	}
	out := make([][32]byte, 0, len(g.ready))
	for fp := range g.ready {
		out = append(out, fp)
	}
	g.ready = make(map[[32]byte]struct{})
	return out
}

// Acknowledge bumps the lifetime-collected counter by n, called after
// the caller has physically deleted the bytes for a Collect() batch.
func (g *GC) Acknowledge(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.acknowledged += uint64(n)
}

// GCStats reports the lifetime counter and current set sizes.
type GCStats struct {
	Pending      int
	Ready        int
	Acknowledged uint64
}

func (g *GC) Stats() GCStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return GCStats{Pending: len(g.pending), Ready: len(g.ready), Acknowledged: g.acknowledged}
}
