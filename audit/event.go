// Package audit implements spec.md §4.10: a single-writer, HMAC-linked
// audit log with tamper detection, plus the W3C-style trace/span context
// propagated alongside every event.
package audit

import "time"

// Event is one audit record (spec.md §3 "Audit event", §4.10 "Event
// record"). IntegrityHash is empty until the chain computes it; callers
// never set it directly.
type Event struct {
	TraceID       TraceID
	SpanID        SpanID
	ParentSpanID  *SpanID
	Sequence      uint64
	Timestamp     time.Time
	JobID         *int64
	FileID        *string
	Payload       string
	IntegrityHash string
}

// canonicalEvent is the wire shape hashed into the chain: a fixed field
// order, one excluded field (IntegrityHash, which the hash itself
// produces), and string-ified IDs so the JSON bytes are stable across
// platforms and json-iterator versions. Fields never reorder because Go
// struct field order is part of the type, not inferred at marshal time —
// that fixed order is what makes encoding deterministic (spec.md §4.10
// "canonical_serialize(Eᵢ)").
type canonicalEvent struct {
	TraceID      string  `json:"trace_id"`
	SpanID       string  `json:"span_id"`
	ParentSpanID string  `json:"parent_span_id"`
	Sequence     uint64  `json:"sequence"`
	Timestamp    int64   `json:"timestamp_unix_nano"`
	JobID        int64   `json:"job_id"`
	HasJobID     bool    `json:"has_job_id"`
	FileID       string  `json:"file_id"`
	Payload      string  `json:"payload"`
}

func (e Event) canonical() canonicalEvent {
	c := canonicalEvent{
		TraceID:   e.TraceID.String(),
		SpanID:    e.SpanID.String(),
		Sequence:  e.Sequence,
		Timestamp: e.Timestamp.UTC().UnixNano(),
		Payload:   e.Payload,
	}
	if e.ParentSpanID != nil {
		c.ParentSpanID = e.ParentSpanID.String()
	}
	if e.JobID != nil {
		c.JobID = *e.JobID
		c.HasJobID = true
	}
	if e.FileID != nil {
		c.FileID = *e.FileID
	}
	return c
}
