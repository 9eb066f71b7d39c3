package cdc

// gearTable is a fixed pseudo-random table used by the Gear rolling
// hash: one 64-bit constant per possible input byte. Each incoming byte
// perturbs the hash without needing to track or evict bytes leaving a
// window, which is what gives Gear its O(1)-per-byte update (ref:
// crates/magnetar/src/executor/gigantor.rs doc comment, "Gear Hash").
var gearTable = buildGearTable()

func buildGearTable() [256]uint64 {
	// A fixed splitmix64-derived table: deterministic across runs (chunk
	// boundaries must be reproducible for the same input, spec.md §4.1),
	// but without the structure of a naive counter.
	var t [256]uint64
	seed := uint64(0x9e3779b97f4a7c15)
	for i := range t {
		seed += 0x9e3779b97f4a7c15
		z := seed
		z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
		z = (z ^ (z >> 27)) * 0x94d049bb133111eb
		z = z ^ (z >> 31)
		t[i] = z
	}
	return t
}

// gearHash is the rolling-hash state for one in-progress chunk.
type gearHash struct {
	h uint64
}

func (g *gearHash) reset() { g.h = 0 }

// roll folds one more byte into the hash.
func (g *gearHash) roll(b byte) uint64 {
	g.h = (g.h << 1) + gearTable[b]
	return g.h
}
