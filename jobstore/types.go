// Package jobstore implements the per-chunk job state machine and its
// persistent, crash-resumable store (spec.md §4.3). A Job transforms an
// ephemeral chunk manifest into a durable set of {pending, processing,
// done, failed} records, with atomic claim semantics and an optional
// dependency DAG between chunks.
package jobstore

import "fmt"

// Status is the lifecycle state of one chunk within a job.
type Status int

const (
	StatusPending Status = iota
	StatusProcessing
	StatusDone
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusProcessing:
		return "processing"
	case StatusDone:
		return "done"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "pending":
		return StatusPending, nil
	case "processing":
		return StatusProcessing, nil
	case "done":
		return StatusDone, nil
	case "failed":
		return StatusFailed, nil
	default:
		return 0, fmt.Errorf("jobstore: invalid status %q", s)
	}
}

// ChunkState is the persisted record for one chunk of one job.
type ChunkState struct {
	JobID    int64
	Chunk    uint64
	Checksum string
	Status   Status
	Error    string
}

// NewChunkState builds a fresh Pending record.
func NewChunkState(jobID int64, chunk uint64, checksum string) ChunkState {
	return ChunkState{JobID: jobID, Chunk: chunk, Checksum: checksum, Status: StatusPending}
}

// Dependency records that TopoSortReady does not report Chunk as ready
// until DependsOn is Done; ClaimPending ignores dependencies.
type Dependency struct {
	JobID     int64
	Chunk     uint64
	DependsOn uint64
}

// Update is a buffered status change destined for a future batch flush
// (spec.md §4.3's write-behind manager).
type Update struct {
	Chunk    uint64
	Status   Status
	Checksum string // empty means "leave unchanged"
	Err      string
}

// Stats summarizes chunk counts for a job.
type Stats struct {
	JobID        int64
	TotalChunks  uint64
	Pending      uint64
	Processing   uint64
	Done         uint64
	Failed       uint64
}

// CompletionPercent returns the share of chunks in Done as a percentage
// (0-100), 0 when there are no chunks.
func (s Stats) CompletionPercent() float64 {
	if s.TotalChunks == 0 {
		return 0
	}
	return float64(s.Done) / float64(s.TotalChunks) * 100
}

// IsComplete reports whether every chunk has reached Done.
func (s Stats) IsComplete() bool { return s.Done == s.TotalChunks }

// HasFailures reports whether any chunk is in Failed state.
func (s Stats) HasFailures() bool { return s.Failed > 0 }

// ManifestEntry is one chunk entry as produced by a chunker/router before
// a Job exists in the store (spec.md §4.3 init_from_manifest).
type ManifestEntry struct {
	Chunk    uint64
	Checksum string
}
