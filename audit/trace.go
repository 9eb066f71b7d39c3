package audit

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// TraceID is a 128-bit identifier for one logical operation (spec.md
// §4.10).
type TraceID [16]byte

func (t TraceID) String() string { return hex.EncodeToString(t[:]) }

func (t TraceID) IsZero() bool { return t == TraceID{} }

// SpanID is a 64-bit identifier for one operation within a trace.
type SpanID [8]byte

func (s SpanID) String() string { return hex.EncodeToString(s[:]) }

func (s SpanID) IsZero() bool { return s == SpanID{} }

// NewTraceID generates a fresh random trace id.
func NewTraceID() TraceID {
	var t TraceID
	_, _ = rand.Read(t[:])
	return t
}

// NewSpanID generates a fresh random span id.
func NewSpanID() SpanID {
	var s SpanID
	_, _ = rand.Read(s[:])
	return s
}

// Context carries the trace/job/file identity threaded through a chain
// of related audit events (spec.md §4.10 "Trace context").
type Context struct {
	TraceID TraceID
	SpanID  SpanID
	Parent  *SpanID
	JobID   *int64
	FileID  *string
}

// NewRootContext starts a fresh trace with a new trace id and span id.
func NewRootContext() Context {
	return Context{TraceID: NewTraceID(), SpanID: NewSpanID()}
}

// ChildSpan preserves TraceID, JobID, and FileID, generates a fresh
// SpanID, and sets Parent to the current span (spec.md §4.10
// "child_span() preserves trace id, job id, file id").
func (c Context) ChildSpan() Context {
	parent := c.SpanID
	return Context{
		TraceID: c.TraceID,
		SpanID:  NewSpanID(),
		Parent:  &parent,
		JobID:   c.JobID,
		FileID:  c.FileID,
	}
}

// Traceparent renders the W3C traceparent string: "00-<trace>-<span>-01"
// (spec.md §4.10).
func (c Context) Traceparent() string {
	return fmt.Sprintf("00-%s-%s-01", c.TraceID, c.SpanID)
}
