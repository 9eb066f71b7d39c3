package jobstore

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/tidwall/buntdb"
	"github.com/tinylib/msgp/msgp"
)

// ErrNotFound is returned when a requested job or chunk does not exist.
var ErrNotFound = errors.New("jobstore: not found")

// Store is a buntdb-backed implementation of the chunk job state
// machine (spec.md §4.3). All mutating operations run inside a single
// buntdb.Update transaction, which is what gives claim_pending its
// at-most-once guarantee (I2) and apply_batch_updates its all-or-nothing
// semantics (P6) — buntdb serializes writers, so there is no race
// window between reading a chunk's status and flipping it.
type Store struct {
	db *buntdb.DB
}

// Open opens (or creates) a job store at path.
func Open(path string) (*Store, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "jobstore: open")
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

const jobCounterKey = "jobs:counter"

func jobMetaKey(jobID int64) string { return fmt.Sprintf("job:%020d:meta", jobID) }
func chunkKey(jobID int64, chunk uint64) string {
	return fmt.Sprintf("job:%020d:chunk:%020d", jobID, chunk)
}
func chunkPrefix(jobID int64) string { return fmt.Sprintf("job:%020d:chunk:", jobID) }
func depKey(jobID int64, chunk, dependsOn uint64) string {
	return fmt.Sprintf("job:%020d:dep:%020d:%020d", jobID, chunk, dependsOn)
}
func depPrefix(jobID int64, chunk uint64) string {
	return fmt.Sprintf("job:%020d:dep:%020d:", jobID, chunk)
}

// jobMeta is the metadata recorded by NewJob.
type jobMeta struct {
	Source      string
	Destination string
	Compress    bool
	Verify      bool
	Parallel    int // 0 means "unset"
}

// encodeJobMeta/encodeChunkState use github.com/tinylib/msgp's runtime
// append encoders for a stable, deterministic binary field order
// (canonical serialization), the same primitives msgp-generated code
// would emit — hand-written since this module has no code-generation
// step, matching universe.Location's encoding.

func encodeJobMeta(m jobMeta) string {
	var b []byte
	b = msgp.AppendString(b, m.Source)
	b = msgp.AppendString(b, m.Destination)
	b = msgp.AppendBool(b, m.Compress)
	b = msgp.AppendBool(b, m.Verify)
	b = msgp.AppendInt(b, m.Parallel)
	return string(b)
}

func decodeJobMeta(s string) (jobMeta, error) {
	b := []byte(s)
	var m jobMeta
	var err error
	m.Source, b, err = msgp.ReadStringBytes(b)
	if err != nil {
		return jobMeta{}, errors.Wrap(err, "jobstore: decode job source")
	}
	m.Destination, b, err = msgp.ReadStringBytes(b)
	if err != nil {
		return jobMeta{}, errors.Wrap(err, "jobstore: decode job destination")
	}
	m.Compress, b, err = msgp.ReadBoolBytes(b)
	if err != nil {
		return jobMeta{}, errors.Wrap(err, "jobstore: decode job compress flag")
	}
	m.Verify, b, err = msgp.ReadBoolBytes(b)
	if err != nil {
		return jobMeta{}, errors.Wrap(err, "jobstore: decode job verify flag")
	}
	m.Parallel, _, err = msgp.ReadIntBytes(b)
	if err != nil {
		return jobMeta{}, errors.Wrap(err, "jobstore: decode job parallelism")
	}
	return m, nil
}

func encodeChunkState(c ChunkState) string {
	var b []byte
	b = msgp.AppendInt64(b, c.JobID)
	b = msgp.AppendUint64(b, c.Chunk)
	b = msgp.AppendString(b, c.Checksum)
	b = msgp.AppendString(b, c.Status.String())
	b = msgp.AppendString(b, c.Error)
	return string(b)
}

func decodeChunkState(s string) (ChunkState, error) {
	b := []byte(s)
	var c ChunkState
	var err error
	var statusStr string

	c.JobID, b, err = msgp.ReadInt64Bytes(b)
	if err != nil {
		return ChunkState{}, errors.Wrap(err, "jobstore: decode chunk job id")
	}
	c.Chunk, b, err = msgp.ReadUint64Bytes(b)
	if err != nil {
		return ChunkState{}, errors.Wrap(err, "jobstore: decode chunk seq")
	}
	c.Checksum, b, err = msgp.ReadStringBytes(b)
	if err != nil {
		return ChunkState{}, errors.Wrap(err, "jobstore: decode chunk checksum")
	}
	statusStr, b, err = msgp.ReadStringBytes(b)
	if err != nil {
		return ChunkState{}, errors.Wrap(err, "jobstore: decode chunk status")
	}
	c.Status, err = ParseStatus(statusStr)
	if err != nil {
		return ChunkState{}, err
	}
	c.Error, _, err = msgp.ReadStringBytes(b)
	if err != nil {
		return ChunkState{}, errors.Wrap(err, "jobstore: decode chunk error")
	}
	return c, nil
}

// NewJob creates a job record and returns its auto-generated id.
func (s *Store) NewJob(source, destination string, compress, verify bool, parallel int) (int64, error) {
	var id int64
	err := s.db.Update(func(tx *buntdb.Tx) error {
		cur, err := tx.Get(jobCounterKey)
		var next int64 = 1
		if err == nil {
			n, perr := strconv.ParseInt(cur, 10, 64)
			if perr != nil {
				return perr
			}
			next = n + 1
		} else if err != buntdb.ErrNotFound {
			return err
		}
		if _, _, err := tx.Set(jobCounterKey, strconv.FormatInt(next, 10), nil); err != nil {
			return err
		}
		meta := jobMeta{Source: source, Destination: destination, Compress: compress, Verify: verify, Parallel: parallel}
		if _, _, err := tx.Set(jobMetaKey(next), encodeJobMeta(meta), nil); err != nil {
			return err
		}
		id = next
		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "jobstore: new job")
	}
	return id, nil
}

// JobMeta exposes a job's metadata as recorded by NewJob.
type JobMeta struct {
	Source      string
	Destination string
	Compress    bool
	Verify      bool
	Parallel    int
}

// GetJobMeta returns a job's metadata.
func (s *Store) GetJobMeta(jobID int64) (JobMeta, error) {
	var m jobMeta
	err := s.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(jobMetaKey(jobID))
		if err != nil {
			if err == buntdb.ErrNotFound {
				return ErrNotFound
			}
			return err
		}
		m, err = decodeJobMeta(v)
		return err
	})
	if err != nil {
		return JobMeta{}, err
	}
	return JobMeta(m), nil
}

// DeleteJob removes a job's metadata and every chunk/dependency record.
func (s *Store) DeleteJob(jobID int64) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		var keys []string
		prefix := fmt.Sprintf("job:%020d:", jobID)
		_ = tx.AscendGreaterOrEqual("", prefix, func(k, _ string) bool {
			if !strings.HasPrefix(k, prefix) {
				return false
			}
			keys = append(keys, k)
			return true
		})
		keys = append(keys, jobMetaKey(jobID))
		for _, k := range keys {
			if _, err := tx.Delete(k); err != nil && err != buntdb.ErrNotFound {
				return err
			}
		}
		return nil
	})
}

// InitFromManifest bulk-inserts chunk records for a job, each starting
// Pending. Existing chunk records for the same chunk number are
// overwritten, matching a re-run of an interrupted manifest load.
func (s *Store) InitFromManifest(jobID int64, entries []ManifestEntry) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		for _, e := range entries {
			cs := NewChunkState(jobID, e.Chunk, e.Checksum)
			if _, _, err := tx.Set(chunkKey(jobID, e.Chunk), encodeChunkState(cs), nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// ClaimPending atomically transitions one Pending chunk to Processing
// and returns it. Returns ErrNotFound if no chunk is pending. Two
// concurrent callers can never claim the same chunk (I2) because the
// scan-then-set happens inside one buntdb writer transaction.
func (s *Store) ClaimPending(jobID int64) (ChunkState, error) {
	var claimed ChunkState
	found := false
	err := s.db.Update(func(tx *buntdb.Tx) error {
		prefix := chunkPrefix(jobID)
		var targetKey string
		_ = tx.AscendGreaterOrEqual("", prefix, func(k, v string) bool {
			if !strings.HasPrefix(k, prefix) {
				return false
			}
			cs, derr := decodeChunkState(v)
			if derr != nil {
				return true
			}
			if cs.Status == StatusPending {
				targetKey = k
				claimed = cs
				return false
			}
			return true
		})
		if targetKey == "" {
			return nil
		}
		claimed.Status = StatusProcessing
		_, _, err := tx.Set(targetKey, encodeChunkState(claimed), nil)
		found = err == nil
		return err
	})
	if err != nil {
		return ChunkState{}, errors.Wrap(err, "jobstore: claim pending")
	}
	if !found {
		return ChunkState{}, ErrNotFound
	}
	return claimed, nil
}

// ClaimPendingBatch claims up to limit pending chunks in one
// transaction, all flipped to Processing together (fewer round trips
// under high concurrency, per spec.md §4.3).
func (s *Store) ClaimPendingBatch(jobID int64, limit int) ([]ChunkState, error) {
	var batch []ChunkState
	err := s.db.Update(func(tx *buntdb.Tx) error {
		prefix := chunkPrefix(jobID)
		var keys []string
		var states []ChunkState
		_ = tx.AscendGreaterOrEqual("", prefix, func(k, v string) bool {
			if !strings.HasPrefix(k, prefix) {
				return false
			}
			if len(keys) >= limit {
				return false
			}
			cs, derr := decodeChunkState(v)
			if derr == nil && cs.Status == StatusPending {
				keys = append(keys, k)
				states = append(states, cs)
			}
			return true
		})
		for i, k := range keys {
			states[i].Status = StatusProcessing
			if _, _, err := tx.Set(k, encodeChunkState(states[i]), nil); err != nil {
				return err
			}
		}
		batch = states
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "jobstore: claim pending batch")
	}
	return batch, nil
}

// MarkStatus sets a chunk's status (and, when non-empty, its checksum).
func (s *Store) MarkStatus(jobID int64, chunk uint64, status Status, checksum string) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		return s.setStatusTx(tx, jobID, chunk, status, checksum, "")
	})
}

// MarkFailed is MarkStatus(Failed) with an error message attached.
func (s *Store) MarkFailed(jobID int64, chunk uint64, errMsg string) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		return s.setStatusTx(tx, jobID, chunk, StatusFailed, "", errMsg)
	})
}

func (s *Store) setStatusTx(tx *buntdb.Tx, jobID int64, chunk uint64, status Status, checksum, errMsg string) error {
	key := chunkKey(jobID, chunk)
	cur, err := tx.Get(key)
	if err != nil {
		if err == buntdb.ErrNotFound {
			return ErrNotFound
		}
		return err
	}
	cs, err := decodeChunkState(cur)
	if err != nil {
		return err
	}
	cs.Status = status
	if checksum != "" {
		cs.Checksum = checksum
	}
	if status == StatusFailed {
		cs.Error = errMsg
	}
	_, _, err = tx.Set(key, encodeChunkState(cs), nil)
	return err
}

// ApplyBatchUpdates applies every update in a single transaction — all
// succeed or none are visible (P6), matching the write-behind manager's
// flush contract (spec.md §4.3).
func (s *Store) ApplyBatchUpdates(jobID int64, updates []Update) error {
	if len(updates) == 0 {
		return nil
	}
	err := s.db.Update(func(tx *buntdb.Tx) error {
		for _, u := range updates {
			if err := s.setStatusTx(tx, jobID, u.Chunk, u.Status, u.Checksum, u.Err); err != nil {
				return err
			}
		}
		return nil
	})
	return errors.Wrap(err, "jobstore: apply batch updates")
}

// ResumePending returns every chunk still in Pending or Processing, for
// crash recovery (a process restart must re-examine in-flight chunks,
// not just queued ones).
func (s *Store) ResumePending(jobID int64) ([]ChunkState, error) {
	var out []ChunkState
	err := s.db.View(func(tx *buntdb.Tx) error {
		prefix := chunkPrefix(jobID)
		return tx.AscendGreaterOrEqual("", prefix, func(k, v string) bool {
			if !strings.HasPrefix(k, prefix) {
				return false
			}
			cs, derr := decodeChunkState(v)
			if derr == nil && (cs.Status == StatusPending || cs.Status == StatusProcessing) {
				out = append(out, cs)
			}
			return true
		})
	})
	return out, err
}

// GetByStatus returns every chunk of a job in the given status.
func (s *Store) GetByStatus(jobID int64, status Status) ([]ChunkState, error) {
	var out []ChunkState
	err := s.db.View(func(tx *buntdb.Tx) error {
		prefix := chunkPrefix(jobID)
		return tx.AscendGreaterOrEqual("", prefix, func(k, v string) bool {
			if !strings.HasPrefix(k, prefix) {
				return false
			}
			cs, derr := decodeChunkState(v)
			if derr == nil && cs.Status == status {
				out = append(out, cs)
			}
			return true
		})
	})
	return out, err
}

// GetChunk fetches a single chunk's state.
func (s *Store) GetChunk(jobID int64, chunk uint64) (ChunkState, error) {
	var cs ChunkState
	err := s.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(chunkKey(jobID, chunk))
		if err != nil {
			if err == buntdb.ErrNotFound {
				return ErrNotFound
			}
			return err
		}
		cs, err = decodeChunkState(v)
		return err
	})
	return cs, err
}

// AddDependency records that chunk cannot be claimed as ready (via
// TopoSortReady) until every entry in deps is Done. This does not
// affect ClaimPending, which is dependency-agnostic by design — callers
// that need dependency-aware scheduling drive chunks through
// TopoSortReady instead (spec.md §4.3).
func (s *Store) AddDependency(jobID int64, chunk uint64, deps []uint64) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		for _, d := range deps {
			if _, _, err := tx.Set(depKey(jobID, chunk, d), "1", nil); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetDependencies returns the chunks that must be Done before
// TopoSortReady reports chunk as ready.
func (s *Store) GetDependencies(jobID int64, chunk uint64) ([]uint64, error) {
	var out []uint64
	prefix := depPrefix(jobID, chunk)
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendGreaterOrEqual("", prefix, func(k, _ string) bool {
			if !strings.HasPrefix(k, prefix) {
				return false
			}
			depStr := k[len(prefix):]
			if d, perr := strconv.ParseUint(depStr, 10, 64); perr == nil {
				out = append(out, d)
			}
			return true
		})
	})
	return out, err
}

// TopoSortReady returns every Pending chunk whose dependencies (if any)
// are all Done, in chunk-number order.
func (s *Store) TopoSortReady(jobID int64) ([]uint64, error) {
	var ready []uint64
	err := s.db.View(func(tx *buntdb.Tx) error {
		prefix := chunkPrefix(jobID)
		return tx.AscendGreaterOrEqual("", prefix, func(k, v string) bool {
			if !strings.HasPrefix(k, prefix) {
				return false
			}
			cs, derr := decodeChunkState(v)
			if derr != nil || cs.Status != StatusPending {
				return true
			}
			deps, derr2 := getDependenciesTx(tx, jobID, cs.Chunk)
			if derr2 != nil {
				return true
			}
			allDone := true
			for _, d := range deps {
				depKey := chunkKey(jobID, d)
				dv, gerr := tx.Get(depKey)
				if gerr != nil {
					allDone = false
					break
				}
				dcs, derr3 := decodeChunkState(dv)
				if derr3 != nil || dcs.Status != StatusDone {
					allDone = false
					break
				}
			}
			if allDone {
				ready = append(ready, cs.Chunk)
			}
			return true
		})
	})
	return ready, err
}

func getDependenciesTx(tx *buntdb.Tx, jobID int64, chunk uint64) ([]uint64, error) {
	var out []uint64
	prefix := depPrefix(jobID, chunk)
	err := tx.AscendGreaterOrEqual("", prefix, func(k, _ string) bool {
		if !strings.HasPrefix(k, prefix) {
			return false
		}
		depStr := k[len(prefix):]
		if d, perr := strconv.ParseUint(depStr, 10, 64); perr == nil {
			out = append(out, d)
		}
		return true
	})
	return out, err
}

// GetStats summarizes chunk counts for a job.
func (s *Store) GetStats(jobID int64) (Stats, error) {
	stats := Stats{JobID: jobID}
	err := s.db.View(func(tx *buntdb.Tx) error {
		prefix := chunkPrefix(jobID)
		return tx.AscendGreaterOrEqual("", prefix, func(k, v string) bool {
			if !strings.HasPrefix(k, prefix) {
				return false
			}
			cs, derr := decodeChunkState(v)
			if derr != nil {
				return true
			}
			stats.TotalChunks++
			switch cs.Status {
			case StatusPending:
				stats.Pending++
			case StatusProcessing:
				stats.Processing++
			case StatusDone:
				stats.Done++
			case StatusFailed:
				stats.Failed++
			}
			return true
		})
	})
	return stats, err
}

// RequeueStuck demotes every chunk of a job still in Processing back to
// Pending. This is a supplemental, explicitly-invoked recovery hook: a
// crashed or hung worker leaves its claimed chunk stuck in Processing
// forever, since ClaimPending only ever looks at Pending chunks. Rather
// than auto-expiring claims on a timer (which would need a lease clock
// this store doesn't keep), an operator or a higher-level watchdog calls
// this explicitly once it has independently decided the claim is dead.
// Returns the number of chunks requeued.
func (s *Store) RequeueStuck(jobID int64) (int, error) {
	n := 0
	err := s.db.Update(func(tx *buntdb.Tx) error {
		prefix := chunkPrefix(jobID)
		var keys []string
		var states []ChunkState
		_ = tx.AscendGreaterOrEqual("", prefix, func(k, v string) bool {
			if !strings.HasPrefix(k, prefix) {
				return false
			}
			cs, derr := decodeChunkState(v)
			if derr == nil && cs.Status == StatusProcessing {
				keys = append(keys, k)
				states = append(states, cs)
			}
			return true
		})
		for i, k := range keys {
			states[i].Status = StatusPending
			if _, _, err := tx.Set(k, encodeChunkState(states[i]), nil); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}
