package executor

import (
	"context"
	"io"

	"github.com/pkg/errors"

	"github.com/saworbit/orbit-sub002/cdc"
	"github.com/saworbit/orbit-sub002/ioa"
	"github.com/saworbit/orbit-sub002/resilience"
	"github.com/saworbit/orbit-sub002/universe"
)

// nextChunk runs one Chunker.Next() call on the blocking pool (spec.md
// §4.6 "the executor must never run the rolling hash on the async
// reactor thread"; §9 "offload_compute").
func nextChunk(c *cdc.Chunker) (cdc.Chunk, error) {
	return offloadCompute(func() (cdc.Chunk, error) { return c.Next() })
}

// Standard is the content-defined-chunking lane for medium files (spec.md
// §4.5's DeduplicatedStandard strategy): chunk, check the Universe, only
// transfer chunks not already known anywhere, and record every new
// chunk's location so future transfers can dedup against it too.
type Standard struct {
	Universe *universe.Index
	Src, Dst ioa.Driver
	NodeID   string

	// Breaker, when set, guards every chunk write against a remote Dst
	// backend tripping open after repeated transient failures (spec.md
	// §4.8). Nil is a valid zero value: the local-filesystem backend has
	// no transient-failure mode worth breaking on.
	Breaker *resilience.Breaker
}

// ProcessFile chunks srcPath per cfg, deduplicates each chunk against
// the Universe, and writes only the unique chunks to dstPath.
func (s Standard) ProcessFile(ctx context.Context, srcPath, dstPath string, cfg cdc.Config) (Stats, error) {
	r, err := s.Src.NewReader(ctx, srcPath, 0, 0)
	if err != nil {
		return Stats{}, errors.Wrap(err, "executor/standard: open source")
	}
	defer r.Close()

	chunker, err := cdc.New(r, cfg)
	if err != nil {
		return Stats{}, errors.Wrap(err, "executor/standard: new chunker")
	}

	var stats Stats
	for {
		ch, err := nextChunk(chunker)
		if err == io.EOF {
			break
		}
		if err != nil {
			return stats, errors.Wrap(err, "executor/standard: chunk")
		}

		stats.TotalChunks++
		size := uint64(ch.Length)

		if s.Universe.Has(ch.Fingerprint) {
			stats.BytesDeduplicated += size
			continue
		}

		writeChunk := func() error {
			w, err := s.Dst.NewWriter(ctx, dstPath, ch.Offset, ch.IsZero)
			if err != nil {
				return errors.Wrap(err, "executor/standard: open destination")
			}
			if _, err := w.Write(ch.Data); err != nil {
				w.Close()
				return errors.Wrap(err, "executor/standard: write chunk")
			}
			return errors.Wrap(w.Close(), "executor/standard: close destination")
		}
		if s.Breaker != nil {
			err = s.Breaker.Execute(writeChunk)
		} else {
			err = writeChunk()
		}
		if err != nil {
			return stats, err
		}

		loc := universe.Location{NodeID: s.NodeID, Path: dstPath, Offset: ch.Offset, Length: ch.Length}
		if err := s.Universe.Insert(ch.Fingerprint, loc); err != nil {
			return stats, errors.Wrap(err, "executor/standard: record location")
		}

		stats.ChunksTransferred++
		stats.BytesTransferred += size
	}
	return stats, nil
}
