package universe

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/seiflotfy/cuckoofilter"
	"github.com/tidwall/buntdb"

	"github.com/saworbit/orbit-sub002/cmn/nlog"
	"github.com/saworbit/orbit-sub002/fingerprint"
)

// VisitFunc is invoked once per location during a scan. Returning false
// stops the scan early (spec.md §4.2 `scan(fp, visitor)`).
type VisitFunc func(Location) (cont bool)

// Index is the persistent, thread-safe fingerprint -> {Location}
// multimap. Writes serialize through buntdb's single writer. Reads run
// concurrently with each other, but buntdb guards the store with a
// read/write lock, so a read waits while a write transaction is open;
// reads are not lock-free with respect to writers.
type Index struct {
	db *buntdb.DB

	// filterMu guards the cuckoo filter, which buntdb's read path does
	// not otherwise protect. The filter is an optimization only — a
	// false positive here costs one extra disk scan, never correctness.
	filterMu sync.Mutex
	filter   *cuckoo.Filter
}

const cuckooCapacity = 4_000_000

// Open opens (or creates) a Universe index at path. SyncPolicy is set to
// Always so that a successful Insert's transaction commit IS the WAL
// durability signal the GC gate (§4.8) consumes — there is no separate
// async fsync to wait for.
func Open(path string) (*Index, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "universe: open")
	}
	if err := db.SetConfig(buntdb.Config{SyncPolicy: buntdb.Always}); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "universe: configure durability")
	}
	idx := &Index{db: db, filter: cuckoo.NewFilter(cuckooCapacity)}
	if err := idx.rebuildFilter(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *Index) Close() error { return idx.db.Close() }

func (idx *Index) rebuildFilter() error {
	return idx.db.View(func(tx *buntdb.Tx) error {
		return tx.Ascend("", func(key, _ string) bool {
			if fp, ok := fpFromKey(key); ok {
				idx.filterMu.Lock()
				idx.filter.InsertUnique(fp)
				idx.filterMu.Unlock()
			}
			return true
		})
	})
}

func fpFromKey(key string) ([]byte, bool) {
	if len(key) < len("loc:")+64 || key[:4] != "loc:" {
		return nil, false
	}
	return []byte(key[4 : 4+64]), true
}

// Has reports whether fp has at least one recorded location. The cuckoo
// filter short-circuits "definitely not present" without touching disk;
// a filter hit still confirms against buntdb since cuckoo filters admit
// false positives.
func (idx *Index) Has(fp fingerprint.Fingerprint) bool {
	key := []byte(fp.Hex())
	idx.filterMu.Lock()
	maybe := idx.filter.Lookup(key)
	idx.filterMu.Unlock()
	if !maybe {
		return false
	}

	found := false
	prefix := keyPrefix(fp)
	_ = idx.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendGreaterOrEqual("", prefix, func(k, _ string) bool {
			if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
				found = true
			}
			return false // one hit is enough
		})
	})
	return found
}

// Insert adds location as a new replica of fp. Wall-time is O(log N) in
// the total number of keys in the store, independent of how many
// locations already exist for fp (spec.md §4.2, §8 P8) — insertion
// allocates the next location id with one read-modify-write of a
// per-fingerprint counter key, then writes one new key; it never
// rewrites an existing serialized set.
func (idx *Index) Insert(fp fingerprint.Fingerprint, loc Location) error {
	err := idx.db.Update(func(tx *buntdb.Tx) error {
		next, err := nextLocationID(tx, fp)
		if err != nil {
			return err
		}
		key := locationKey(fp, next)
		val := string(loc.MarshalMsg())
		_, _, err = tx.Set(key, val, nil)
		return err
	})
	if err != nil {
		return errors.Wrap(err, "universe: insert")
	}

	idx.filterMu.Lock()
	idx.filter.InsertUnique([]byte(fp.Hex()))
	idx.filterMu.Unlock()
	return nil
}

func nextLocationID(tx *buntdb.Tx, fp fingerprint.Fingerprint) (uint64, error) {
	ck := counterKey(fp)
	cur, err := tx.Get(ck)
	var id uint64
	if err == nil {
		id = decodeCounter(cur) + 1
	} else if err != buntdb.ErrNotFound {
		return 0, err
	}
	if _, _, err := tx.Set(ck, encodeCounter(id), nil); err != nil {
		return 0, err
	}
	return id, nil
}

func encodeCounter(v uint64) string {
	const hexDigits = "0123456789abcdef"
	buf := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		buf[i] = hexDigits[v&0xf]
		v >>= 4
	}
	return string(buf)
}

func decodeCounter(s string) uint64 {
	var v uint64
	for i := 0; i < len(s); i++ {
		c := s[i]
		var d uint64
		switch {
		case c >= '0' && c <= '9':
			d = uint64(c - '0')
		case c >= 'a' && c <= 'f':
			d = uint64(c-'a') + 10
		default:
			continue
		}
		v = v<<4 | d
	}
	return v
}

// Scan invokes visit(location) for every recorded location of fp, in
// location-id order, until visit returns false or the set is exhausted.
// Memory use is O(1) in the number of locations sharing fp (spec.md §4.2,
// §8 P9) — this is the mandated entry point for replica selection,
// healing candidate search, and GC; Find (below) is an eager convenience
// wrapper callers must opt into explicitly.
func (idx *Index) Scan(fp fingerprint.Fingerprint, visit VisitFunc) error {
	prefix := keyPrefix(fp)
	return idx.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendGreaterOrEqual("", prefix, func(k, v string) bool {
			if len(k) < len(prefix) || k[:len(prefix)] != prefix {
				return false
			}
			loc, err := UnmarshalLocation([]byte(v))
			if err != nil {
				nlog.Errorln("universe: corrupt location record", "key", k, "err", err)
				return true // skip, keep scanning
			}
			return visit(loc)
		})
	})
}

// Find eagerly collects every location of fp into a slice. Callers must
// opt into this; the default consumption path is Scan (spec.md §4.2).
func (idx *Index) Find(fp fingerprint.Fingerprint) ([]Location, error) {
	var out []Location
	err := idx.Scan(fp, func(l Location) bool {
		out = append(out, l)
		return true
	})
	return out, err
}

// Count returns the number of locations recorded for fp, scanning the
// full set. Intended for the Sentinel's redundancy classification
// (spec.md §4.9), which inherently needs the count, not just presence.
func (idx *Index) Count(fp fingerprint.Fingerprint) (int, error) {
	n := 0
	err := idx.Scan(fp, func(Location) bool { n++; return true })
	return n, err
}

// RemoveLocation deletes one specific location of fp. Returns true iff
// the removal leaves fp with zero locations (spec.md §4.2).
func (idx *Index) RemoveLocation(fp fingerprint.Fingerprint, loc Location) (bool, error) {
	empty := false
	err := idx.db.Update(func(tx *buntdb.Tx) error {
		prefix := keyPrefix(fp)
		var targetKey string
		target := string(loc.MarshalMsg())
		_ = tx.AscendGreaterOrEqual("", prefix, func(k, v string) bool {
			if len(k) < len(prefix) || k[:len(prefix)] != prefix {
				return false
			}
			if v == target {
				targetKey = k
				return false
			}
			return true
		})
		if targetKey == "" {
			return buntdb.ErrNotFound
		}
		if _, err := tx.Delete(targetKey); err != nil {
			return err
		}

		stillHas := false
		_ = tx.AscendGreaterOrEqual("", prefix, func(k, _ string) bool {
			if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
				stillHas = true
			}
			return false
		})
		empty = !stillHas
		return nil
	})
	if err == buntdb.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "universe: remove location")
	}
	return empty, nil
}

// ScanAllChunks invokes visit once per distinct fingerprint with its
// full location slice, for the Sentinel's observe phase (spec.md §4.9).
// This is the one place the Universe materializes a per-key slice
// eagerly (bounded by fan-out per fingerprint, not total store size),
// because the Sentinel's classification needs the count per key anyway.
func (idx *Index) ScanAllChunks(visit func(fingerprint.Fingerprint, []Location) bool) error {
	var (
		curFP   fingerprint.Fingerprint
		haveCur bool
		curLocs []Location
	)
	flush := func() bool {
		if !haveCur {
			return true
		}
		return visit(curFP, curLocs)
	}
	err := idx.db.View(func(tx *buntdb.Tx) error {
		return tx.Ascend("", func(k, v string) bool {
			raw, ok := fpFromKey(k)
			if !ok {
				return true // counter key or other namespace
			}
			fp, err := fingerprint.Parse(string(raw))
			if err != nil {
				return true
			}
			if !haveCur || fp != curFP {
				if !flush() {
					return false
				}
				curFP, haveCur, curLocs = fp, true, nil
			}
			loc, err := UnmarshalLocation([]byte(v))
			if err == nil {
				curLocs = append(curLocs, loc)
			}
			return true
		})
	})
	if err != nil {
		return err
	}
	flush()
	return nil
}
