package executor

import (
	"context"
	"io"

	"github.com/pkg/errors"

	"github.com/saworbit/orbit-sub002/fingerprint"
	"github.com/saworbit/orbit-sub002/ioa"
	"github.com/saworbit/orbit-sub002/resilience"
)

// Direct is the whole-file lane for inputs below the router's SmallMax
// threshold (spec.md §4.5): no chunking, no Universe interaction, just a
// streamed copy with an optional end-to-end content-hash verification.
type Direct struct {
	Src, Dst ioa.Driver

	// Breaker, when set, guards the destination open/copy/close against
	// a remote Dst backend tripping open (spec.md §4.8). Nil is valid.
	Breaker *resilience.Breaker
}

// ProcessFile copies srcPath to dstPath whole. When verify is true, it
// hashes both ends of the copy and returns an error on mismatch — the
// only place outside the Universe that Orbit performs a direct digest
// comparison, since a single whole-file copy has no chunk-level replica
// bookkeeping to fall back on.
func (d Direct) ProcessFile(ctx context.Context, srcPath, dstPath string, verify bool) (Stats, error) {
	md, err := d.Src.Metadata(ctx, srcPath)
	if err != nil {
		return Stats{}, errors.Wrap(err, "executor/direct: source metadata")
	}

	r, err := d.Src.NewReader(ctx, srcPath, 0, 0)
	if err != nil {
		return Stats{}, errors.Wrap(err, "executor/direct: open source")
	}
	defer r.Close()

	var tee io.Reader = r
	h := fingerprint.NewHasher()
	if verify {
		tee = io.TeeReader(r, h)
	}

	var n int64
	copyWhole := func() error {
		w, err := d.Dst.NewWriter(ctx, dstPath, 0, md.Size == 0)
		if err != nil {
			return errors.Wrap(err, "executor/direct: open destination")
		}
		n, err = io.Copy(w, tee)
		if err != nil {
			w.Close()
			return errors.Wrap(err, "executor/direct: copy")
		}
		return errors.Wrap(w.Close(), "executor/direct: close destination")
	}
	if d.Breaker != nil {
		err = d.Breaker.Execute(copyWhole)
	} else {
		err = copyWhole()
	}
	if err != nil {
		return Stats{}, err
	}

	if verify {
		want := h.Sum()
		got, err := d.Dst.CalculateHash(ctx, dstPath, 0, 0)
		if err != nil {
			return Stats{}, errors.Wrap(err, "executor/direct: verify destination hash")
		}
		if got != want {
			return Stats{}, errors.Errorf("executor/direct: verification failed for %s: source=%s dest=%s", dstPath, want, got)
		}
	}

	return Stats{TotalChunks: 1, ChunksTransferred: 1, BytesTransferred: uint64(n)}, nil
}
