package cdc

import (
	"bufio"
	"io"

	"github.com/saworbit/orbit-sub002/fingerprint"
)

// Chunker produces chunk boundaries lazily from an io.Reader. It never
// suspends (no network/disk call other than the underlying Reader's
// own), and it performs no I/O beyond read calls — callers that want it
// off the async reactor thread dispatch Next() from a blocking-pool
// goroutine (spec.md §9's "offload_compute" discipline; see
// executor.offloadCompute).
type Chunker struct {
	src    *bufio.Reader
	cfg    Config
	mask   uint64
	offset uint64
	err    error
	done   bool
}

// New constructs a Chunker over src. Returns ErrInvalidConfig if cfg's
// min/avg/max ordering is violated (spec.md §4.1 "rejected at
// construction").
func New(src io.Reader, cfg Config) (*Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{
		src:  bufio.NewReaderSize(src, 64*1024),
		cfg:  cfg,
		mask: cfg.mask(),
	}, nil
}

// Next returns the next chunk, or io.EOF once the stream is exhausted.
// A non-EOF error terminates the sequence: partial progress on the
// in-flight chunk is not returned (spec.md §4.1 failure modes).
func (c *Chunker) Next() (Chunk, error) {
	buf, allZero, err := c.nextBoundary()
	if err != nil {
		return Chunk{}, err
	}
	return c.emit(buf, allZero), nil
}

// nextBoundary scans forward to the next content-defined boundary and
// returns the raw bytes, without computing a fingerprint — the shared
// core of Next and NextRaw.
func (c *Chunker) nextBoundary() ([]byte, bool, error) {
	if c.done {
		return nil, false, io.EOF
	}
	if c.err != nil {
		return nil, false, c.err
	}

	var (
		gh      gearHash
		buf     = make([]byte, 0, c.cfg.AvgSize)
		allZero = true
	)

	for {
		b, err := c.src.ReadByte()
		if err != nil {
			if err == io.EOF {
				c.done = true
				if len(buf) == 0 {
					return nil, false, io.EOF
				}
				return buf, allZero, nil
			}
			c.err = err
			return nil, false, err
		}

		buf = append(buf, b)
		if b != 0 {
			allZero = false
		}

		n := uint32(len(buf))
		if n >= c.cfg.MaxSize {
			return buf, allZero, nil
		}
		if n < c.cfg.MinSize {
			continue
		}
		h := gh.roll(b)
		if h&c.mask == 0 {
			return buf, allZero, nil
		}
	}
}

func (c *Chunker) emit(buf []byte, allZero bool) Chunk {
	ch := Chunk{
		Offset:      c.offset,
		Length:      uint32(len(buf)),
		Data:        buf,
		IsZero:      allZero,
		Fingerprint: fingerprint.Of(buf),
	}
	c.offset += uint64(len(buf))
	return ch
}

// RawChunk is a boundary-only chunk: offset, length, zero-flag and data,
// but no fingerprint. The huge-file lane's scanner stage (spec.md §4.7)
// emits these so content hashing can run in parallel, off the scanner's
// single sequential thread.
type RawChunk struct {
	Offset uint64
	Data   []byte
	IsZero bool
}

// NextRaw behaves like Next but skips fingerprint computation, for
// producers that will hash the chunk elsewhere (in parallel).
func (c *Chunker) NextRaw() (RawChunk, error) {
	buf, allZero, err := c.nextBoundary()
	if err != nil {
		return RawChunk{}, err
	}
	rc := RawChunk{Offset: c.offset, Data: buf, IsZero: allZero}
	c.offset += uint64(len(buf))
	return rc, nil
}

// All drains the Chunker into a slice. Intended for tests and small
// inputs; production lanes consume Next() one chunk at a time.
func All(c *Chunker) ([]Chunk, error) {
	var out []Chunk
	for {
		ch, err := c.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, ch)
	}
}
