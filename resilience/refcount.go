package resilience

import "sync"

// RefCount is a deliberately pure in-memory fingerprint -> reference
// count map (spec.md §4.8, §9 "Reference counting + GC"). Persistence
// is the caller's job: restore via Load on startup, write through on
// every mutation. Keeping this in-memory-only is what makes the
// lifecycle logic testable without a storage dependency.
type RefCount struct {
	mu     sync.Mutex
	counts map[[32]byte]uint64
}

func NewRefCount() *RefCount {
	return &RefCount{counts: make(map[[32]byte]uint64)}
}

// Increment adds one reference for fp, e.g. when a chunk is first
// written for a job.
func (r *RefCount) Increment(fp [32]byte) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[fp]++
	return r.counts[fp]
}

// Decrement removes one reference for fp, saturating at zero. A chunk
// reaching zero stays in the map as a GC candidate — it is not removed
// here; only Remove (called post-collection) drops the entry entirely.
func (r *RefCount) Decrement(fp [32]byte) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.counts[fp]
	if !ok || c == 0 {
		r.counts[fp] = 0
		return 0
	}
	c--
	r.counts[fp] = c
	return c
}

// ZeroRefChunks returns every fingerprint currently at zero references —
// the Sentinel's/GC's candidate set for reclamation.
func (r *RefCount) ZeroRefChunks() [][32]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out [][32]byte
	for fp, c := range r.counts {
		if c == 0 {
			out = append(out, fp)
		}
	}
	return out
}

// Remove drops fp from the map entirely. Callers must only call this
// after the GC has acknowledged collection of fp (spec.md §4.8 step 7).
func (r *RefCount) Remove(fp [32]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.counts, fp)
}

// Load bulk-restores a count on startup from persisted state.
func (r *RefCount) Load(fp [32]byte, n uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[fp] = n
}

// Get returns the current count for fp (0 if unknown).
func (r *RefCount) Get(fp [32]byte) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[fp]
}

// RefCountStats summarizes the map for diagnostics.
type RefCountStats struct {
	TotalKeys int
	ZeroRefs  int
}

func (r *RefCount) Stats() RefCountStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := RefCountStats{TotalKeys: len(r.counts)}
	for _, c := range r.counts {
		if c == 0 {
			s.ZeroRefs++
		}
	}
	return s
}
