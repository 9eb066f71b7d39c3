// Package executor implements the three transfer lanes the router
// selects between (spec.md §4.5, §4.6, §4.7): Direct for small files,
// Standard for content-defined-chunked medium files, and Gigantor for
// huge files whose scanning and hashing must run on separate pipeline
// stages to saturate both disk and CPU.
package executor

// Stats accumulates the outcome of processing one file through any
// lane. Every lane reports the same shape so callers can aggregate
// across mixed-size transfers without type-switching.
type Stats struct {
	TotalChunks       int
	ChunksTransferred int
	BytesTransferred  uint64
	BytesDeduplicated uint64
}

// Add folds other into s in place.
func (s *Stats) Add(other Stats) {
	s.TotalChunks += other.TotalChunks
	s.ChunksTransferred += other.ChunksTransferred
	s.BytesTransferred += other.BytesTransferred
	s.BytesDeduplicated += other.BytesDeduplicated
}

// DeduplicationRatio returns the fraction of processed bytes that were
// saved through deduplication, 0 when no bytes were seen at all.
func (s Stats) DeduplicationRatio() float64 {
	total := s.BytesTransferred + s.BytesDeduplicated
	if total == 0 {
		return 0
	}
	return float64(s.BytesDeduplicated) / float64(total)
}
