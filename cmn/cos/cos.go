// Package cos ("common os/string") holds small stateless helpers shared
// across Orbit's subsystems.
package cos

import (
	"errors"
	"io"
)

func Min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func MinI64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func MaxI64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// IsEOF reports whether err is io.EOF or io.ErrUnexpectedEOF.
func IsEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

const (
	KiB = 1024
	MiB = 1024 * KiB
	GiB = 1024 * MiB
)

// Kind tags an error with the §7 taxonomy so callers can branch on
// propagation policy without type-asserting concrete error types.
type Kind int

const (
	KindTransient Kind = iota
	KindPermanent
	KindResource
	KindCorruption
	KindLost
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindResource:
		return "resource"
	case KindCorruption:
		return "corruption"
	case KindLost:
		return "lost"
	default:
		return "unknown"
	}
}

// TaggedError wraps an underlying error with a Kind so the resilience
// layer can decide whether to retry, trip the breaker, or surface hard.
type TaggedError struct {
	Kind Kind
	Err  error
}

func (e *TaggedError) Error() string { return e.Kind.String() + ": " + e.Err.Error() }
func (e *TaggedError) Unwrap() error { return e.Err }

func Tag(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &TaggedError{Kind: kind, Err: err}
}

// KindOf extracts the Kind from err, defaulting to KindTransient when
// the error carries no tag (the conservative choice: retry rather than
// silently drop).
func KindOf(err error) Kind {
	var te *TaggedError
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindTransient
}
