package audit

import (
	"bufio"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var canonicalJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// genesisHash is H₀ in spec.md §4.10's chain rule: 32 zero bytes.
var genesisHash [32]byte

// Chain is a single-writer, HMAC-linked append-only audit log (spec.md
// §4.10, invariant I5). Every Emit call is serialized through one mutex
// held only for the duration of computing and appending one event
// (spec.md §5).
type Chain struct {
	key []byte

	mu       sync.Mutex
	seq      uint64
	prevHash [32]byte
	file     *os.File
	w        *bufio.Writer
}

// OpenChain opens (creating if needed) a JSON-lines audit log at path,
// appending subsequent events after whatever it already contains. key is
// the HMAC key; callers own its provisioning and rotation.
func OpenChain(path string, key []byte) (*Chain, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, errors.Wrap(err, "audit: open chain file")
	}
	return &Chain{key: key, prevHash: genesisHash, file: f, w: bufio.NewWriter(f)}, nil
}

func (c *Chain) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.w.Flush(); err != nil {
		return err
	}
	return c.file.Close()
}

// Emit appends one event to the chain: assigns the next sequence number,
// computes Hᵢ = HMAC(key, Hᵢ₋₁ ‖ canonical_serialize(Eᵢ)), stores it as
// the event's IntegrityHash, writes one JSON line, and advances the
// chain's running hash (spec.md §4.10's chain rule).
func (c *Chain) Emit(ctx Context, jobID *int64, fileID *string, payload string) (Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ev := Event{
		TraceID:      ctx.TraceID,
		SpanID:       ctx.SpanID,
		ParentSpanID: ctx.Parent,
		Sequence:     c.seq,
		JobID:        jobID,
		FileID:       fileID,
		Payload:      payload,
	}
	ev.Timestamp = time.Now()

	canonical, err := canonicalJSON.Marshal(ev.canonical())
	if err != nil {
		return Event{}, errors.Wrap(err, "audit: canonicalize event")
	}

	mac := hmac.New(sha256.New, c.key)
	mac.Write(c.prevHash[:])
	mac.Write(canonical)
	var h [32]byte
	copy(h[:], mac.Sum(nil))

	ev.IntegrityHash = hexEncode(h[:])

	line, err := canonicalJSON.Marshal(wireEventOf(ev))
	if err != nil {
		return Event{}, errors.Wrap(err, "audit: marshal event line")
	}
	if _, err := c.w.Write(line); err != nil {
		return Event{}, errors.Wrap(err, "audit: write event line")
	}
	if err := c.w.WriteByte('\n'); err != nil {
		return Event{}, err
	}
	if err := c.w.Flush(); err != nil {
		return Event{}, errors.Wrap(err, "audit: flush event line")
	}

	c.prevHash = h
	c.seq++
	return ev, nil
}

// FailureKind tags why one event failed chain verification (spec.md
// §4.10 "Verification", §8 P10/S8).
type FailureKind int

const (
	IntegrityFailure FailureKind = iota
	MissingHash
	SequenceGap
)

func (k FailureKind) String() string {
	switch k {
	case IntegrityFailure:
		return "integrity_failure"
	case MissingHash:
		return "missing_hash"
	case SequenceGap:
		return "sequence_gap"
	default:
		return "unknown"
	}
}

// Failure is one verification defect, tagged with the sequence number it
// concerns.
type Failure struct {
	Kind     FailureKind
	Sequence uint64
}

// ValidationReport is VerifyChain's result (spec.md §4.10).
type ValidationReport struct {
	Total    int
	Valid    int
	Failures []Failure
}

// VerifyChain recomputes every Hᵢ in sequence order and reports any
// mismatch, gap, or missing hash (spec.md §4.10, §8 P10/P11). events must
// already be sorted by Sequence; VerifyChain does not sort them, so a
// caller that passes a reordered slice will see SequenceGap failures,
// which is the intended way reordering surfaces (spec.md §8 S8 "reorder
// any two events").
func VerifyChain(events []Event, key []byte) ValidationReport {
	report := ValidationReport{Total: len(events)}
	prevHash := genesisHash
	var expectedSeq uint64

	for _, ev := range events {
		if ev.Sequence != expectedSeq {
			report.Failures = append(report.Failures, Failure{Kind: SequenceGap, Sequence: ev.Sequence})
			expectedSeq = ev.Sequence + 1
			prevHash = decodeHexOrZero(ev.IntegrityHash)
			continue
		}
		expectedSeq++

		if ev.IntegrityHash == "" {
			report.Failures = append(report.Failures, Failure{Kind: MissingHash, Sequence: ev.Sequence})
			prevHash = genesisHash // the real Hᵢ is unrecoverable; break the chain deliberately
			continue
		}

		canonical, err := canonicalJSON.Marshal(ev.canonical())
		if err != nil {
			report.Failures = append(report.Failures, Failure{Kind: IntegrityFailure, Sequence: ev.Sequence})
			continue
		}
		mac := hmac.New(sha256.New, key)
		mac.Write(prevHash[:])
		mac.Write(canonical)
		want := hexEncode(mac.Sum(nil))

		if !hmac.Equal([]byte(want), []byte(ev.IntegrityHash)) {
			report.Failures = append(report.Failures, Failure{Kind: IntegrityFailure, Sequence: ev.Sequence})
			prevHash = decodeHexOrZero(ev.IntegrityHash)
			continue
		}
		report.Valid++
		prevHash = decodeHexOrZero(ev.IntegrityHash)
	}
	return report
}

// wireEvent is the on-disk JSON-lines shape: every field including the
// computed IntegrityHash (spec.md §6 "Audit log on disk").
type wireEvent struct {
	TraceID       string  `json:"trace_id"`
	SpanID        string  `json:"span_id"`
	ParentSpanID  *string `json:"parent_span_id,omitempty"`
	Sequence      uint64  `json:"sequence"`
	Timestamp     int64   `json:"timestamp_unix_nano"`
	JobID         *int64  `json:"job_id,omitempty"`
	FileID        *string `json:"file_id,omitempty"`
	Payload       string  `json:"payload"`
	IntegrityHash string  `json:"integrity_hash"`
}

func hexEncode(b []byte) string { return hex.EncodeToString(b) }

func decodeHexOrZero(s string) [32]byte {
	var out [32]byte
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		return out
	}
	copy(out[:], b)
	return out
}

func wireEventOf(ev Event) wireEvent {
	w := wireEvent{
		TraceID:       ev.TraceID.String(),
		SpanID:        ev.SpanID.String(),
		Sequence:      ev.Sequence,
		Timestamp:     ev.Timestamp.UTC().UnixNano(),
		Payload:       ev.Payload,
		IntegrityHash: ev.IntegrityHash,
	}
	if ev.ParentSpanID != nil {
		s := ev.ParentSpanID.String()
		w.ParentSpanID = &s
	}
	w.JobID = ev.JobID
	w.FileID = ev.FileID
	return w
}
