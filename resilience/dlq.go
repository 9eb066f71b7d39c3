package resilience

import (
	"sync"
	"time"
)

// FailureReason tags why an item landed in the dead-letter queue
// (spec.md §3). A tagged enum, not an open-ended error string, per
// spec.md §9's "prefer tagged variants over open-ended dynamic dispatch".
type FailureReason struct {
	Kind    FailureKind
	Retries int // only meaningful when Kind == FailureRetriesExhausted
}

type FailureKind int

const (
	FailureRetriesExhausted FailureKind = iota
	FailurePermanent
	FailureChecksumMismatch
	FailureSourceMissing
	FailureDestError
	FailureDataCorruption
)

func (k FailureKind) String() string {
	switch k {
	case FailureRetriesExhausted:
		return "retries_exhausted"
	case FailurePermanent:
		return "permanent"
	case FailureChecksumMismatch:
		return "checksum_mismatch"
	case FailureSourceMissing:
		return "source_missing"
	case FailureDestError:
		return "dest_error"
	case FailureDataCorruption:
		return "data_corruption"
	default:
		return "unknown"
	}
}

// DeadLetterEntry is one permanently-failed item (spec.md §3).
type DeadLetterEntry struct {
	ItemKey       string
	JobID         int64
	Reason        FailureReason
	LastError     string
	FirstFailedAt time.Time
	LastFailedAt  time.Time
	SourcePath    string
	DestPath      string
}

// DLQStats summarizes the queue's lifetime counters.
type DLQStats struct {
	Len           int
	TotalReceived uint64
	TotalDropped  uint64
}

// DLQ is a bounded FIFO of dead-letter entries. Pushing at capacity
// evicts the oldest entry, counted as a drop (spec.md §4.8, §8 S4).
type DLQ struct {
	mu       sync.Mutex
	cap      int
	entries  []DeadLetterEntry
	received uint64
	dropped  uint64
}

func NewDLQ(capacity int) *DLQ {
	if capacity <= 0 {
		capacity = 1
	}
	return &DLQ{cap: capacity}
}

// Push appends entry, evicting the oldest if the queue is at capacity.
func (d *DLQ) Push(entry DeadLetterEntry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.received++
	if len(d.entries) >= d.cap {
		d.entries = d.entries[1:]
		d.dropped++
	}
	d.entries = append(d.entries, entry)
}

// Drain empties the queue and returns everything it held, in FIFO order.
func (d *DLQ) Drain() []DeadLetterEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.entries
	d.entries = nil
	return out
}

// EntriesForJob returns a snapshot of every current entry for jobID,
// without draining the queue.
func (d *DLQ) EntriesForJob(jobID int64) []DeadLetterEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []DeadLetterEntry
	for _, e := range d.entries {
		if e.JobID == jobID {
			out = append(out, e)
		}
	}
	return out
}

// Stats reports the queue's current length and lifetime counters.
func (d *DLQ) Stats() DLQStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return DLQStats{Len: len(d.entries), TotalReceived: d.received, TotalDropped: d.dropped}
}
