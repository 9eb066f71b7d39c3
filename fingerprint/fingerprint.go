// Package fingerprint computes the 256-bit content digest spec.md §3
// treats as a proxy for byte-exact content equality (invariant I1).
package fingerprint

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Size is the fingerprint length in bytes (256 bits).
const Size = 32

// Fingerprint is a content-addressed digest. Two chunks with an equal
// Fingerprint are treated as byte-equal (I1); the system never falls
// back to a full byte comparison.
type Fingerprint [Size]byte

// Zero is the all-zero fingerprint, returned alongside an error by the
// hashing helpers (e.g. ioa drivers' CalculateHash).
var Zero Fingerprint

// Of hashes data in its entirety with BLAKE2b-256.
func Of(data []byte) Fingerprint {
	return Fingerprint(blake2b.Sum256(data))
}

// Hasher incrementally accumulates bytes and yields a Fingerprint on Sum,
// for streaming producers (e.g. the ioa drivers' CalculateHash and the
// Direct executor's verify path) that don't want to buffer twice.
type Hasher struct {
	impl interface {
		Write([]byte) (int, error)
		Sum([]byte) []byte
		Reset()
	}
}

func NewHasher() *Hasher {
	h, err := blake2b.New256(nil)
	if err != nil {
		// blake2b.New256 with a nil key never errors; guard anyway.
		panic(err)
	}
	return &Hasher{impl: h}
}

func (h *Hasher) Write(p []byte) (int, error) { return h.impl.Write(p) }

func (h *Hasher) Sum() Fingerprint {
	var fp Fingerprint
	copy(fp[:], h.impl.Sum(nil))
	return fp
}

func (h *Hasher) Reset() { h.impl.Reset() }

func (f Fingerprint) String() string { return hex.EncodeToString(f[:]) }

// Hex is an explicit alias for String, used where callers want to be
// clear they're building a pool path (§4.9 `.orbit/pool/<hex-fingerprint>`).
func (f Fingerprint) Hex() string { return f.String() }

func (f Fingerprint) IsZero() bool { return f == Zero }

// Parse decodes a hex-encoded fingerprint string.
func Parse(s string) (Fingerprint, error) {
	var fp Fingerprint
	b, err := hex.DecodeString(s)
	if err != nil {
		return fp, err
	}
	if len(b) != Size {
		return fp, errInvalidLength
	}
	copy(fp[:], b)
	return fp, nil
}

var errInvalidLength = &invalidLengthError{}

type invalidLengthError struct{}

func (*invalidLengthError) Error() string { return "fingerprint: invalid length" }
