// Package jobmgr wraps a jobstore.Store with asynchronous write-behind
// batching (spec.md §4.3, "Disk Guardian" pattern): workers post status
// updates to a buffered channel instead of blocking on a store write,
// and a background flusher drains the buffer into one store transaction
// whenever it fills up, a timer fires, or the manager is shut down.
package jobmgr

import (
	"sync"
	"time"

	"github.com/saworbit/orbit-sub002/cmn/nlog"
	"github.com/saworbit/orbit-sub002/jobstore"
)

// Config tunes the write-behind flusher.
type Config struct {
	BatchSize      int
	FlushInterval  time.Duration
	ChannelCapacity int
}

// DefaultConfig mirrors the store's own batching defaults (cmn.Config.JobMgr).
func DefaultConfig() Config {
	return Config{BatchSize: 256, FlushInterval: 500 * time.Millisecond, ChannelCapacity: 10_000}
}

// Manager is a high-level, job-scoped façade over a jobstore.Store that
// decouples workers from store write latency (spec.md §4.3, P7
// eventual-consistency property: every accepted update is visible in
// the store within one flush interval of the manager accepting it,
// unless Shutdown is called first, which flushes synchronously).
type Manager struct {
	jobID int64
	store *jobstore.Store
	cfg   Config

	updates chan jobstore.Update
	done    chan struct{}
	wg      sync.WaitGroup

	closeOnce sync.Once
}

// Spawn starts a Manager and its background flusher goroutine for jobID.
func Spawn(store *jobstore.Store, jobID int64) *Manager {
	return SpawnWithConfig(store, jobID, DefaultConfig())
}

// SpawnWithConfig starts a Manager with custom batching parameters.
func SpawnWithConfig(store *jobstore.Store, jobID int64, cfg Config) *Manager {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.ChannelCapacity <= 0 {
		cfg.ChannelCapacity = cfg.BatchSize
	}
	m := &Manager{
		jobID:   jobID,
		store:   store,
		cfg:     cfg,
		updates: make(chan jobstore.Update, cfg.ChannelCapacity),
		done:    make(chan struct{}),
	}
	m.wg.Add(1)
	go m.runPersistenceLoop()
	return m
}

// JobID returns the job this manager serves.
func (m *Manager) JobID() int64 { return m.jobID }

// UpdateStatus enqueues a status change for asynchronous flush. It never
// blocks on a store write; it only blocks if the internal channel is
// full, applying natural backpressure to fast producers.
func (m *Manager) UpdateStatus(chunk uint64, status jobstore.Status, checksum, errMsg string) {
	m.updates <- jobstore.Update{Chunk: chunk, Status: status, Checksum: checksum, Err: errMsg}
}

// ClaimPending bypasses the write-behind path and claims directly
// against the store, since a claim must be immediately visible to other
// claimants (I2) and cannot wait for a batch flush.
func (m *Manager) ClaimPending() (jobstore.ChunkState, error) {
	return m.store.ClaimPending(m.jobID)
}

// ClaimPendingBatch is the batch form of ClaimPending.
func (m *Manager) ClaimPendingBatch(limit int) ([]jobstore.ChunkState, error) {
	return m.store.ClaimPendingBatch(m.jobID, limit)
}

// Shutdown signals the flusher to drain every buffered update and stop,
// blocking until it has done so.
func (m *Manager) Shutdown() {
	m.closeOnce.Do(func() { close(m.done) })
	m.wg.Wait()
}

func (m *Manager) runPersistenceLoop() {
	defer m.wg.Done()

	buffer := make([]jobstore.Update, 0, m.cfg.BatchSize)
	ticker := time.NewTicker(m.cfg.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(buffer) == 0 {
			return
		}
		if err := m.store.ApplyBatchUpdates(m.jobID, buffer); err != nil {
			nlog.Errorf("jobmgr: flush failed for job %d (%d updates): %v", m.jobID, len(buffer), err)
			return // keep buffer, retry on next tick
		}
		buffer = buffer[:0]
	}

	for {
		select {
		case u := <-m.updates:
			buffer = append(buffer, u)
			if len(buffer) >= m.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-m.done:
			m.drainAndFlush(&buffer)
			return
		}
	}
}

func (m *Manager) drainAndFlush(buffer *[]jobstore.Update) {
	for {
		select {
		case u := <-m.updates:
			*buffer = append(*buffer, u)
		default:
			if len(*buffer) > 0 {
				if err := m.store.ApplyBatchUpdates(m.jobID, *buffer); err != nil {
					nlog.Errorf("jobmgr: final flush failed for job %d: %v", m.jobID, err)
					return
				}
				*buffer = (*buffer)[:0]
			}
			return
		}
	}
}
