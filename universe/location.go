// Package universe implements the persistent, high-cardinality multimap
// from content fingerprint to every known replica location (spec.md
// §3, §4.2). Storage is an embedded ordered key-value store
// (github.com/tidwall/buntdb) keyed by (fingerprint, location_id), which
// is what gives insert O(log N) wall-time independent of how many
// locations already share a fingerprint — a naive "serialize the whole
// set under one key" design is the §4.2 "forbidden" shape this
// deliberately avoids.
package universe

import (
	"fmt"

	"github.com/tinylib/msgp/msgp"

	"github.com/saworbit/orbit-sub002/fingerprint"
)

// Location is a concrete replica reference: node + path + byte range
// (spec.md §3). A Location is valid only while the node is reachable and
// the path still holds matching bytes; the index itself never verifies
// this synchronously.
type Location struct {
	NodeID string
	Path   string
	Offset uint64
	Length uint32
}

// MarshalMsg encodes Location with a stable, deterministic field order
// (canonical serialization) using github.com/tinylib/msgp's runtime
// append encoders — the same primitives msgp-generated code would emit
// for this field order, written by hand since this module has no
// code-generation step.
func (l Location) MarshalMsg() []byte {
	var b []byte
	b = msgp.AppendString(b, l.NodeID)
	b = msgp.AppendString(b, l.Path)
	b = msgp.AppendUint64(b, l.Offset)
	b = msgp.AppendUint32(b, l.Length)
	return b
}

// UnmarshalLocation decodes bytes produced by MarshalMsg.
func UnmarshalLocation(b []byte) (Location, error) {
	var l Location
	var err error
	l.NodeID, b, err = msgp.ReadStringBytes(b)
	if err != nil {
		return l, fmt.Errorf("universe: decode location nodeID: %w", err)
	}
	l.Path, b, err = msgp.ReadStringBytes(b)
	if err != nil {
		return l, fmt.Errorf("universe: decode location path: %w", err)
	}
	l.Offset, b, err = msgp.ReadUint64Bytes(b)
	if err != nil {
		return l, fmt.Errorf("universe: decode location offset: %w", err)
	}
	l.Length, _, err = msgp.ReadUint32Bytes(b)
	if err != nil {
		return l, fmt.Errorf("universe: decode location length: %w", err)
	}
	return l, nil
}

// keyPrefix builds the buntdb key prefix for all locations of fp:
// "loc:<hex-fingerprint>:". Locations for one fingerprint sort
// contiguously because the fingerprint hex is fixed-width.
func keyPrefix(fp fingerprint.Fingerprint) string {
	return "loc:" + fp.Hex() + ":"
}

func locationKey(fp fingerprint.Fingerprint, locID uint64) string {
	return fmt.Sprintf("%s%020d", keyPrefix(fp), locID)
}

func counterKey(fp fingerprint.Fingerprint) string {
	return "cnt:" + fp.Hex()
}
