package executor

import (
	"context"
	"io"
	"runtime"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/saworbit/orbit-sub002/cdc"
	"github.com/saworbit/orbit-sub002/fingerprint"
	"github.com/saworbit/orbit-sub002/ioa"
	"github.com/saworbit/orbit-sub002/resilience"
	"github.com/saworbit/orbit-sub002/universe"
)

// hashedChunk is a RawChunk after its fingerprint has been computed by a
// hash worker.
type hashedChunk struct {
	raw cdc.RawChunk
	fp  fingerprint.Fingerprint
}

// Gigantor is the "scan-dispatch-hash" lane for huge files (spec.md
// §4.7): a single sequential scanner finds CDC boundaries (I/O + Gear
// hash, both cheap), while a pool of parallel workers computes the
// BLAKE2b fingerprint for each chunk — the one part of the pipeline that
// actually saturates a CPU core. This separation is what lets the
// scanner keep up with NVMe throughput instead of being bottlenecked by
// single-threaded hashing.
type Gigantor struct {
	Universe    *universe.Index
	Src, Dst    ioa.Driver
	NodeID      string
	HashWorkers int // 0 defaults to runtime.GOMAXPROCS(0)

	// Pool, when set, supplies the destination handle the dedup/transfer
	// stage writes each unique chunk through (spec.md §4.8's long-haul
	// connection-pool profile for the huge-file lane). Nil is valid.
	Pool *resilience.Pool[ioa.Driver]
}

// gigantorBatchSize is BATCH from spec.md §4.7: the scanner accumulates
// this many raw chunks before handing them to the orchestrator as one
// unit, so a single parallel-hash fan-out amortizes goroutine overhead
// across many chunks instead of paying it per chunk.
const gigantorBatchSize = 64

// gigantorChannelDepth bounds the pipeline in *batches*, not individual
// chunks (spec.md §4.7: "a bounded channel (depth ~16 batches)"), so
// backpressure throttles the scanner once roughly 16*gigantorBatchSize
// chunks are in flight.
const gigantorChannelDepth = 16

// ProcessFile scans srcPath under cfg, hashes chunks in parallel batches,
// and deduplicates/transfers each one against the Universe, mirroring
// Standard's dedup semantics but with the scan and hash stages decoupled
// across goroutines.
func (g Gigantor) ProcessFile(ctx context.Context, srcPath, dstPath string, cfg cdc.Config) (Stats, error) {
	r, err := g.Src.NewReader(ctx, srcPath, 0, 0)
	if err != nil {
		return Stats{}, errors.Wrap(err, "executor/gigantor: open source")
	}
	defer r.Close()

	chunker, err := cdc.New(r, cfg)
	if err != nil {
		return Stats{}, errors.Wrap(err, "executor/gigantor: new chunker")
	}

	rawBatchCh := make(chan []cdc.RawChunk, gigantorChannelDepth)
	hashedBatchCh := make(chan []hashedChunk, gigantorChannelDepth)

	group, gctx := errgroup.WithContext(ctx)

	// Scanner: sequential, I/O + Gear hash only, never computes a
	// fingerprint (spec.md §4.7's whole point). Batches gigantorBatchSize
	// raw chunks at a time before pushing, flushing whatever remains at
	// EOF even if short of a full batch.
	group.Go(func() error {
		defer close(rawBatchCh)
		batch := make([]cdc.RawChunk, 0, gigantorBatchSize)
		push := func() error {
			if len(batch) == 0 {
				return nil
			}
			select {
			case rawBatchCh <- batch:
			case <-gctx.Done():
				return gctx.Err()
			}
			batch = make([]cdc.RawChunk, 0, gigantorBatchSize)
			return nil
		}
		for {
			rc, err := chunker.NextRaw()
			if err == io.EOF {
				return push()
			}
			if err != nil {
				return errors.Wrap(err, "executor/gigantor: scan")
			}
			batch = append(batch, rc)
			if len(batch) >= gigantorBatchSize {
				if err := push(); err != nil {
					return err
				}
			}
		}
	})

	// Orchestrator: drains one batch at a time and fans it out across
	// HashWorkers, each owning a disjoint contiguous slice of the batch
	// so there is no result race — hashBatchOrdered re-assembles the
	// batch in the scanner's original offset order before it is ever
	// handed downstream (spec.md §4.7, §5's ordering invariant).
	workers := g.HashWorkers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	group.Go(func() error {
		defer close(hashedBatchCh)
		for batch := range rawBatchCh {
			hashed, err := hashBatchOrdered(gctx, batch, workers)
			if err != nil {
				return err
			}
			select {
			case hashedBatchCh <- hashed:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	// Dedup & transfer: consumes whole batches in the scanner's emission
	// order, and every chunk within a batch in its original offset
	// order too, preserving offset monotonicity for a possible future
	// resume (spec.md §4.7, §5).
	var stats Stats
	group.Go(func() error {
		for batch := range hashedBatchCh {
			for _, hc := range batch {
				stats.TotalChunks++
				if err := g.dedupAndTransfer(gctx, dstPath, hc, &stats); err != nil {
					return err
				}
			}
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		return stats, err
	}
	return stats, nil
}

// hashBatchOrdered computes the content fingerprint of every chunk in
// batch, splitting the work into up to workers disjoint contiguous
// slices so each worker writes only indices it alone owns. Because
// every worker's output range is fixed in advance, the result slice
// comes back in batch's original (scanner emission) order regardless of
// which worker finishes first.
func hashBatchOrdered(ctx context.Context, batch []cdc.RawChunk, workers int) ([]hashedChunk, error) {
	n := len(batch)
	out := make([]hashedChunk, n)
	if n == 0 {
		return out, nil
	}
	if workers > n {
		workers = n
	}

	group, gctx := errgroup.WithContext(ctx)
	perWorker := (n + workers - 1) / workers
	for w := 0; w < workers; w++ {
		start := w * perWorker
		if start >= n {
			break
		}
		end := start + perWorker
		if end > n {
			end = n
		}
		start, end := start, end
		group.Go(func() error {
			for i := start; i < end; i++ {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}
				out[i] = hashedChunk{raw: batch[i], fp: fingerprint.Of(batch[i].Data)}
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (g Gigantor) dedupAndTransfer(ctx context.Context, dstPath string, hc hashedChunk, stats *Stats) error {
	size := uint64(len(hc.raw.Data))

	if g.Universe.Has(hc.fp) {
		stats.BytesDeduplicated += size
		return nil
	}

	dst := g.Dst
	if g.Pool != nil {
		handle, err := g.Pool.Acquire(ctx)
		if err != nil {
			return errors.Wrap(err, "executor/gigantor: acquire destination handle")
		}
		defer g.Pool.Release(handle)
		dst = handle
	}

	w, err := dst.NewWriter(ctx, dstPath, hc.raw.Offset, hc.raw.IsZero)
	if err != nil {
		return errors.Wrap(err, "executor/gigantor: open destination")
	}
	if _, err := w.Write(hc.raw.Data); err != nil {
		w.Close()
		return errors.Wrap(err, "executor/gigantor: write chunk")
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, "executor/gigantor: close destination")
	}

	loc := universe.Location{NodeID: g.NodeID, Path: dstPath, Offset: hc.raw.Offset, Length: uint32(len(hc.raw.Data))}
	if err := g.Universe.Insert(hc.fp, loc); err != nil {
		return errors.Wrap(err, "executor/gigantor: record location")
	}

	stats.ChunksTransferred++
	stats.BytesTransferred += size
	return nil
}
