package cdc

import (
	"bytes"
	"io"
	"math/rand"
	"testing"
)

func testConfig() Config {
	return Config{MinSize: 256, AvgSize: 1024, MaxSize: 4096}
}

func chunkAll(t *testing.T, data []byte, cfg Config) []Chunk {
	t.Helper()
	c, err := New(bytes.NewReader(data), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	chunks, err := All(c)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	return chunks
}

func TestValidateRejectsBadOrdering(t *testing.T) {
	cases := []Config{
		{MinSize: 100, AvgSize: 50, MaxSize: 200},
		{MinSize: 100, AvgSize: 200, MaxSize: 150},
		{MinSize: 0, AvgSize: 100, MaxSize: 200},
	}
	for _, c := range cases {
		if err := c.Validate(); err == nil {
			t.Errorf("expected error for config %+v", c)
		}
	}
}

// P2: concatenating chunks reproduces the input byte for byte.
func TestRoundTripEquality(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	data := make([]byte, 200*1024)
	rng.Read(data)

	chunks := chunkAll(t, data, testConfig())

	var out bytes.Buffer
	for _, ch := range chunks {
		out.Write(ch.Data)
	}
	if !bytes.Equal(out.Bytes(), data) {
		t.Fatalf("round trip mismatch: got %d bytes, want %d", out.Len(), len(data))
	}
}

func TestChunkSizeBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	data := make([]byte, 500*1024)
	rng.Read(data)
	cfg := testConfig()

	chunks := chunkAll(t, data, cfg)
	for i, ch := range chunks {
		last := i == len(chunks)-1
		if ch.Length > cfg.MaxSize {
			t.Fatalf("chunk %d exceeds max size: %d > %d", i, ch.Length, cfg.MaxSize)
		}
		if ch.Length < cfg.MinSize && !last {
			t.Fatalf("non-terminal chunk %d below min size: %d < %d", i, ch.Length, cfg.MinSize)
		}
	}
}

func TestOffsetsAreMonotonicAndContiguous(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	data := make([]byte, 100*1024)
	rng.Read(data)
	chunks := chunkAll(t, data, testConfig())

	var want uint64
	for i, ch := range chunks {
		if ch.Offset != want {
			t.Fatalf("chunk %d offset = %d, want %d", i, ch.Offset, want)
		}
		want += uint64(ch.Length)
	}
}

func TestZeroChunkDetection(t *testing.T) {
	data := make([]byte, 10*1024)
	chunks := chunkAll(t, data, testConfig())
	for i, ch := range chunks {
		if !ch.IsZero {
			t.Fatalf("chunk %d of all-zero input should be IsZero", i)
		}
	}

	mixed := make([]byte, 10*1024)
	mixed[5000] = 1
	chunks = chunkAll(t, mixed, testConfig())
	var anyNonZero bool
	for _, ch := range chunks {
		if !ch.IsZero {
			anyNonZero = true
		}
	}
	if !anyNonZero {
		t.Fatalf("expected at least one non-zero chunk")
	}
}

// P1 (shift-resilience, informal check): inserting bytes mid-stream
// should leave chunks far from the insertion point unchanged.
func TestShiftResilience(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	data := make([]byte, 256*1024)
	rng.Read(data)
	cfg := testConfig()

	before := chunkAll(t, data, cfg)
	beforeFPs := map[string]bool{}
	for _, ch := range before {
		beforeFPs[ch.Fingerprint.String()] = true
	}

	insertAt := len(data) / 2
	shifted := make([]byte, 0, len(data)+16)
	shifted = append(shifted, data[:insertAt]...)
	shifted = append(shifted, []byte("INSERTEDBYTES!!!")...)
	shifted = append(shifted, data[insertAt:]...)

	after := chunkAll(t, shifted, cfg)

	shared := 0
	for _, ch := range after {
		if beforeFPs[ch.Fingerprint.String()] {
			shared++
		}
	}
	if shared == 0 {
		t.Fatalf("expected at least one shared fingerprint after local edit")
	}
}

func TestEmptyInputYieldsNoChunks(t *testing.T) {
	chunks := chunkAll(t, []byte{}, testConfig())
	if len(chunks) != 0 {
		t.Fatalf("expected no chunks for empty input, got %d", len(chunks))
	}
}

func TestReadErrorTerminatesSequence(t *testing.T) {
	r := &errReader{after: 100, err: io.ErrUnexpectedEOF}
	c, err := New(r, testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for {
		_, err := c.Next()
		if err != nil {
			if err != io.ErrUnexpectedEOF {
				t.Fatalf("expected ErrUnexpectedEOF, got %v", err)
			}
			return
		}
	}
}

type errReader struct {
	after int
	read  int
	err   error
}

func (r *errReader) Read(p []byte) (int, error) {
	if r.read >= r.after {
		return 0, r.err
	}
	n := len(p)
	if r.read+n > r.after {
		n = r.after - r.read
	}
	r.read += n
	return n, nil
}
