package executor

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/saworbit/orbit-sub002/cdc"
	"github.com/saworbit/orbit-sub002/cmn/cos"
	"github.com/saworbit/orbit-sub002/ioa"
	"github.com/saworbit/orbit-sub002/resilience"
	"github.com/saworbit/orbit-sub002/universe"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return p
}

func openTestUniverse(t *testing.T) *universe.Index {
	t.Helper()
	idx, err := universe.Open(filepath.Join(t.TempDir(), "universe.db"))
	if err != nil {
		t.Fatalf("universe.Open: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func randomData(seed int64, n int) []byte {
	rng := rand.New(rand.NewSource(seed))
	data := make([]byte, n)
	rng.Read(data)
	return data
}

func testCDCConfig() cdc.Config {
	return cdc.Config{MinSize: 256, AvgSize: 1024, MaxSize: 4096}
}

func TestDirectProcessFileCopiesWholeFileAndVerifies(t *testing.T) {
	dir := t.TempDir()
	data := randomData(1, 4096)
	src := writeFile(t, dir, "src.bin", data)
	dst := filepath.Join(dir, "dst.bin")

	d := Direct{Src: ioa.Local{}, Dst: ioa.Local{}}
	stats, err := d.ProcessFile(context.Background(), src, dst, true)
	if err != nil {
		t.Fatalf("ProcessFile: %v", err)
	}
	if stats.BytesTransferred != uint64(len(data)) {
		t.Fatalf("BytesTransferred = %d, want %d", stats.BytesTransferred, len(data))
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != string(data) {
		t.Fatal("destination content does not match source")
	}
}

// S1: transferring the same file twice should fully deduplicate the
// second time.
func TestStandardIdenticalFileFullyDeduplicatesOnSecondPass(t *testing.T) {
	dir := t.TempDir()
	data := randomData(2, 512*1024)
	srcA := writeFile(t, dir, "a.bin", data)
	srcB := writeFile(t, dir, "b.bin", data)
	dstA := filepath.Join(dir, "dst-a.bin")
	dstB := filepath.Join(dir, "dst-b.bin")

	uni := openTestUniverse(t)
	exec := Standard{Universe: uni, Src: ioa.Local{}, Dst: ioa.Local{}, NodeID: "n1"}

	first, err := exec.ProcessFile(context.Background(), srcA, dstA, testCDCConfig())
	if err != nil {
		t.Fatalf("first ProcessFile: %v", err)
	}
	if first.ChunksTransferred == 0 {
		t.Fatal("expected first pass to transfer at least one chunk")
	}
	if first.BytesDeduplicated != 0 {
		t.Fatalf("first pass should have no dedup hits, got %d bytes", first.BytesDeduplicated)
	}

	second, err := exec.ProcessFile(context.Background(), srcB, dstB, testCDCConfig())
	if err != nil {
		t.Fatalf("second ProcessFile: %v", err)
	}
	if second.ChunksTransferred != 0 {
		t.Fatalf("expected second pass (identical content) to transfer 0 new chunks, got %d", second.ChunksTransferred)
	}
	if second.TotalChunks != first.TotalChunks {
		t.Fatalf("expected same chunk count on identical content: %d vs %d", second.TotalChunks, first.TotalChunks)
	}
}

// S2: a partial edit should dedup most chunks and transfer only the
// chunks touched by the edit.
func TestStandardPartialEditDedupsUnaffectedChunks(t *testing.T) {
	dir := t.TempDir()
	base := randomData(3, 1024*1024)
	srcA := writeFile(t, dir, "a.bin", base)
	dstA := filepath.Join(dir, "dst-a.bin")

	uni := openTestUniverse(t)
	exec := Standard{Universe: uni, Src: ioa.Local{}, Dst: ioa.Local{}, NodeID: "n1"}
	first, err := exec.ProcessFile(context.Background(), srcA, dstA, testCDCConfig())
	if err != nil {
		t.Fatalf("first ProcessFile: %v", err)
	}

	edited := append([]byte(nil), base...)
	mid := len(edited) / 2
	copy(edited[mid:mid+64], randomData(99, 64))
	srcB := writeFile(t, dir, "b.bin", edited)
	dstB := filepath.Join(dir, "dst-b.bin")

	second, err := exec.ProcessFile(context.Background(), srcB, dstB, testCDCConfig())
	if err != nil {
		t.Fatalf("second ProcessFile: %v", err)
	}
	if second.ChunksTransferred == 0 {
		t.Fatal("expected the edited region to require at least one new chunk")
	}
	if second.ChunksTransferred >= first.TotalChunks {
		t.Fatalf("expected only a fraction of chunks to transfer after a small edit: transferred=%d total=%d",
			second.ChunksTransferred, first.TotalChunks)
	}
	if second.BytesDeduplicated == 0 {
		t.Fatal("expected most of the file to dedup against the first pass")
	}
}

// S3: prepending bytes shifts all subsequent content, but content-defined
// chunking should still let most chunks resync and dedup against the
// original pass.
func TestStandardShiftResilienceViaPrepend(t *testing.T) {
	dir := t.TempDir()
	base := randomData(4, 512*1024)
	srcA := writeFile(t, dir, "a.bin", base)
	dstA := filepath.Join(dir, "dst-a.bin")

	uni := openTestUniverse(t)
	exec := Standard{Universe: uni, Src: ioa.Local{}, Dst: ioa.Local{}, NodeID: "n1"}
	if _, err := exec.ProcessFile(context.Background(), srcA, dstA, testCDCConfig()); err != nil {
		t.Fatalf("first ProcessFile: %v", err)
	}

	shifted := append(randomData(5, 37), base...)
	srcB := writeFile(t, dir, "b.bin", shifted)
	dstB := filepath.Join(dir, "dst-b.bin")

	second, err := exec.ProcessFile(context.Background(), srcB, dstB, testCDCConfig())
	if err != nil {
		t.Fatalf("second ProcessFile: %v", err)
	}
	if second.BytesDeduplicated == 0 {
		t.Fatal("expected content-defined chunking to resync after the prepend and dedup at least one chunk")
	}
}

func TestGigantorProducesSameDedupResultAsStandard(t *testing.T) {
	dir := t.TempDir()
	data := randomData(6, 2*1024*1024)
	srcA := writeFile(t, dir, "a.bin", data)
	srcB := writeFile(t, dir, "b.bin", data)
	dstA := filepath.Join(dir, "dst-a.bin")
	dstB := filepath.Join(dir, "dst-b.bin")

	uni := openTestUniverse(t)
	cfg := testCDCConfig()

	std := Standard{Universe: uni, Src: ioa.Local{}, Dst: ioa.Local{}, NodeID: "n1"}
	first, err := std.ProcessFile(context.Background(), srcA, dstA, cfg)
	if err != nil {
		t.Fatalf("Standard.ProcessFile: %v", err)
	}
	if first.ChunksTransferred == 0 {
		t.Fatal("expected first pass to transfer chunks")
	}

	giga := Gigantor{Universe: uni, Src: ioa.Local{}, Dst: ioa.Local{}, NodeID: "n2", HashWorkers: 4}
	second, err := giga.ProcessFile(context.Background(), srcB, dstB, cfg)
	if err != nil {
		t.Fatalf("Gigantor.ProcessFile: %v", err)
	}
	if second.ChunksTransferred != 0 {
		t.Fatalf("expected Gigantor pass over identical content to dedup fully, transferred %d", second.ChunksTransferred)
	}
	if second.BytesDeduplicated == 0 {
		t.Fatal("expected Gigantor pass to record dedup bytes")
	}
}

// alwaysFailDriver embeds ioa.Local so it satisfies ioa.Driver, but
// fails every NewWriter call with a transient error, so a breaker wired
// into Direct trips open after enough attempts (spec.md §4.8).
type alwaysFailDriver struct{ ioa.Local }

func (alwaysFailDriver) NewWriter(_ context.Context, _ string, _ uint64, _ bool) (io.WriteCloser, error) {
	return nil, cos.Tag(cos.KindTransient, errors.New("simulated destination failure"))
}

func TestDirectBreakerTripsOpenAfterRepeatedFailures(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, dir, "src.bin", randomData(9, 512))
	dst := filepath.Join(dir, "dst.bin")

	d := Direct{
		Src: ioa.Local{},
		Dst: alwaysFailDriver{},
		Breaker: resilience.NewBreaker(resilience.BreakerConfig{
			FailureThreshold: 2, SuccessThreshold: 1, Cooldown: time.Minute, MaxRetries: 0,
		}),
	}

	for i := 0; i < 2; i++ {
		if _, err := d.ProcessFile(context.Background(), src, dst, false); err == nil {
			t.Fatal("expected destination failure to propagate")
		}
	}
	_, err := d.ProcessFile(context.Background(), src, dst, false)
	var open resilience.ErrCircuitOpen
	if !errors.As(err, &open) {
		t.Fatalf("expected circuit to be open after repeated failures, got %v", err)
	}
}

func TestCompressDecompressRoundTrip(t *testing.T) {
	data := randomData(7, 64*1024)
	compressed, err := CompressChunk(data)
	if err != nil {
		t.Fatalf("CompressChunk: %v", err)
	}
	out, err := DecompressChunk(compressed)
	if err != nil {
		t.Fatalf("DecompressChunk: %v", err)
	}
	if string(out) != string(data) {
		t.Fatal("round trip through compress/decompress altered content")
	}
}
