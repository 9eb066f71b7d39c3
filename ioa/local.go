package ioa

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/karrick/godirwalk"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/saworbit/orbit-sub002/cmn/nlog"
	"github.com/saworbit/orbit-sub002/fingerprint"
)

// Local is the filesystem Driver backing on-disk sources and
// destinations. Directory listing goes through godirwalk rather than
// os.ReadDir, matching the teacher's preference for the allocation-light
// walker on large trees.
type Local struct{}

var _ Driver = Local{}

func (Local) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (Local) Metadata(_ context.Context, path string) (Metadata, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return Metadata{}, errors.Wrap(err, "ioa/local: stat")
	}
	return Metadata{Size: fi.Size(), ModTime: fi.ModTime(), IsDir: fi.IsDir()}, nil
}

func (Local) ReadDir(_ context.Context, path string) ([]DirEntry, error) {
	entries, err := godirwalk.ReadDirents(path, nil)
	if err != nil {
		return nil, errors.Wrap(err, "ioa/local: read dir")
	}
	out := make([]DirEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, DirEntry{Name: e.Name(), IsDir: e.IsDir()})
	}
	return out, nil
}

func (Local) ReadHeader(_ context.Context, path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "ioa/local: open")
	}
	defer f.Close()

	buf := make([]byte, n)
	read, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, errors.Wrap(err, "ioa/local: read header")
	}
	return buf[:read], nil
}

func (Local) CalculateHash(_ context.Context, path string, offset uint64, length uint32) (fingerprint.Fingerprint, error) {
	f, err := os.Open(path)
	if err != nil {
		return fingerprint.Zero, errors.Wrap(err, "ioa/local: open")
	}
	defer f.Close()

	if _, err := f.Seek(int64(offset), io.SeekStart); err != nil {
		return fingerprint.Zero, errors.Wrap(err, "ioa/local: seek")
	}

	h := fingerprint.NewHasher()
	var r io.Reader = f
	if length > 0 {
		r = io.LimitReader(f, int64(length))
	}
	if _, err := io.Copy(h, r); err != nil {
		return fingerprint.Zero, errors.Wrap(err, "ioa/local: hash")
	}
	return h.Sum(), nil
}

func (Local) NewReader(_ context.Context, path string, offset uint64, length uint32) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "ioa/local: open")
	}
	if _, err := f.Seek(int64(offset), io.SeekStart); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "ioa/local: seek")
	}
	if length == 0 {
		return f, nil
	}
	return &limitedReadCloser{r: io.LimitReader(f, int64(length)), c: f}, nil
}

type limitedReadCloser struct {
	r io.Reader
	c io.Closer
}

func (l *limitedReadCloser) Read(p []byte) (int, error) { return l.r.Read(p) }
func (l *limitedReadCloser) Close() error                { return l.c.Close() }

// NewWriter opens path for writing at offset. When isZero is set, it
// punches a hole for the written range instead of writing zero bytes to
// disk, per spec.md §4.1's sparse-file optimization for all-zero chunks.
func (Local) NewWriter(_ context.Context, path string, offset uint64, isZero bool) (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "ioa/local: mkdir")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "ioa/local: open for write")
	}
	if _, err := f.Seek(int64(offset), io.SeekStart); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "ioa/local: seek")
	}
	return &localWriter{f: f, isZero: isZero, offset: offset}, nil
}

type localWriter struct {
	f      *os.File
	isZero bool
	offset uint64
	n      int64
}

func (w *localWriter) Write(p []byte) (int, error) {
	if w.isZero {
		// Punch a hole for this range instead of materializing zeros.
		// FALLOC_FL_PUNCH_HOLE requires FALLOC_FL_KEEP_SIZE so the file
		// length is unaffected; we still need to grow the file to cover
		// the range, which Truncate does without allocating blocks.
		end := int64(w.offset) + w.n + int64(len(p))
		if err := w.f.Truncate(end); err != nil {
			return 0, errors.Wrap(err, "ioa/local: truncate for sparse write")
		}
		if err := unix.Fallocate(int(w.f.Fd()), unix.FALLOC_FL_PUNCH_HOLE|unix.FALLOC_FL_KEEP_SIZE,
			int64(w.offset)+w.n, int64(len(p))); err != nil {
			nlog.Warnf("ioa/local: punch-hole fallback to literal zero write: %v", err)
			if _, err := w.f.WriteAt(p, int64(w.offset)+w.n); err != nil {
				return 0, errors.Wrap(err, "ioa/local: fallback zero write")
			}
		}
		w.n += int64(len(p))
		return len(p), nil
	}
	n, err := w.f.Write(p)
	w.n += int64(n)
	return n, err
}

func (w *localWriter) Close() error { return w.f.Close() }
