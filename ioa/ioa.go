// Package ioa is the uniform I/O abstraction every bulk data operation
// routes through (spec.md §4.11, C11). It is the core's only required
// external contract: local filesystem, S3, Azure Blob, GCS, and HDFS
// backends all implement the same small Driver interface, and nothing
// above this package needs to know which one it's talking to.
package ioa

import (
	"context"
	"io"
	"time"

	"github.com/saworbit/orbit-sub002/fingerprint"
)

// Metadata describes a path without reading its contents.
type Metadata struct {
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// DirEntry is one entry returned by ReadDir.
type DirEntry struct {
	Name  string
	IsDir bool
}

// Driver is the uniform trait every backend implements. Every method
// takes a context so long-running remote calls (S3, Azure, GCS, HDFS)
// can be cancelled; the local backend accepts one for interface
// symmetry and ignores cancellation mid-syscall, same as os.File.
//
// CalculateHash is the "single most important optimization" of a remote
// backend (spec.md §4.11): it computes the 32-byte content fingerprint
// of a byte range on the data-holding side, so the wire carries 32
// bytes instead of potentially gigabytes of chunk data.
type Driver interface {
	Exists(ctx context.Context, path string) (bool, error)
	Metadata(ctx context.Context, path string) (Metadata, error)
	ReadDir(ctx context.Context, path string) ([]DirEntry, error)

	// ReadHeader reads the first n bytes of path. Used for magic-number
	// detection without shipping the whole file over a remote link.
	ReadHeader(ctx context.Context, path string, n int) ([]byte, error)

	// CalculateHash returns the content fingerprint of path[offset:offset+length].
	CalculateHash(ctx context.Context, path string, offset uint64, length uint32) (fingerprint.Fingerprint, error)

	// NewReader opens a streaming reader over path[offset:offset+length].
	// length 0 means "to end of file". Callers must Close the reader.
	NewReader(ctx context.Context, path string, offset uint64, length uint32) (io.ReadCloser, error)

	// NewWriter opens a streaming writer to path starting at offset.
	// isZero hints that the backend may use a sparse/hole-punching write
	// instead of materializing zero bytes (spec.md §4.1, local backend
	// only; remote backends ignore the hint and simply write the bytes).
	NewWriter(ctx context.Context, path string, offset uint64, isZero bool) (io.WriteCloser, error)
}

// ErrNotSupported is returned by operations a given backend cannot
// perform (e.g. sparse writes on an object store that has no concept of
// holes).
type ErrNotSupported struct {
	Backend string
	Op      string
}

func (e *ErrNotSupported) Error() string {
	return "ioa: " + e.Op + " not supported by " + e.Backend + " backend"
}
