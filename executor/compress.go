package executor

import (
	"bytes"
	"io"

	"github.com/pierrec/lz4/v3"
	"github.com/pkg/errors"
)

// CompressChunk optionally compresses chunk bytes before they cross the
// wire, for jobs that opt into it (jobstore's per-job compress flag).
// Compression only ever happens here, never inside the CDC or Universe
// layers, so fingerprints are always computed over the uncompressed
// bytes — compressing first would make dedup content-addressing
// dependent on a compressor's own nondeterminism.
func CompressChunk(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, errors.Wrap(err, "executor: lz4 compress")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "executor: lz4 close")
	}
	return buf.Bytes(), nil
}

// DecompressChunk reverses CompressChunk.
func DecompressChunk(compressed []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(compressed))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "executor: lz4 decompress")
	}
	return out, nil
}
