package jobstore

import (
	"path/filepath"
	"sync"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	st, err := Open(filepath.Join(dir, "jobs.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func manifestOf(n int) []ManifestEntry {
	out := make([]ManifestEntry, n)
	for i := range out {
		out[i] = ManifestEntry{Chunk: uint64(i), Checksum: "cs"}
	}
	return out
}

func TestNewJobAssignsIncreasingIDs(t *testing.T) {
	st := openTestStore(t)
	id1, err := st.NewJob("src", "dst", false, true, 4)
	if err != nil {
		t.Fatalf("NewJob: %v", err)
	}
	id2, err := st.NewJob("src2", "dst2", true, false, 0)
	if err != nil {
		t.Fatalf("NewJob: %v", err)
	}
	if id2 <= id1 {
		t.Fatalf("expected increasing job ids, got %d then %d", id1, id2)
	}

	meta, err := st.GetJobMeta(id1)
	if err != nil {
		t.Fatalf("GetJobMeta: %v", err)
	}
	if meta.Source != "src" || meta.Destination != "dst" || meta.Parallel != 4 {
		t.Fatalf("unexpected meta: %+v", meta)
	}
}

func TestInitFromManifestAndClaimPending(t *testing.T) {
	st := openTestStore(t)
	jobID, _ := st.NewJob("s", "d", false, false, 0)
	if err := st.InitFromManifest(jobID, manifestOf(3)); err != nil {
		t.Fatalf("InitFromManifest: %v", err)
	}

	cs, err := st.ClaimPending(jobID)
	if err != nil {
		t.Fatalf("ClaimPending: %v", err)
	}
	if cs.Status != StatusProcessing {
		t.Fatalf("claimed chunk status = %v, want Processing", cs.Status)
	}

	stats, err := st.GetStats(jobID)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.Processing != 1 || stats.Pending != 2 {
		t.Fatalf("unexpected stats after claim: %+v", stats)
	}
}

func TestClaimPendingReturnsNotFoundWhenExhausted(t *testing.T) {
	st := openTestStore(t)
	jobID, _ := st.NewJob("s", "d", false, false, 0)
	if err := st.InitFromManifest(jobID, manifestOf(1)); err != nil {
		t.Fatalf("InitFromManifest: %v", err)
	}
	if _, err := st.ClaimPending(jobID); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if _, err := st.ClaimPending(jobID); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound on exhausted job, got %v", err)
	}
}

// P5: concurrent claimants never observe the same chunk twice.
func TestClaimPendingIsAtMostOnceUnderConcurrency(t *testing.T) {
	st := openTestStore(t)
	jobID, _ := st.NewJob("s", "d", false, false, 0)
	const n = 200
	if err := st.InitFromManifest(jobID, manifestOf(n)); err != nil {
		t.Fatalf("InitFromManifest: %v", err)
	}

	var (
		mu     sync.Mutex
		seen   = map[uint64]int{}
		wg     sync.WaitGroup
		claims = make(chan uint64, n)
	)
	const workers = 16
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for {
				cs, err := st.ClaimPending(jobID)
				if err == ErrNotFound {
					return
				}
				if err != nil {
					t.Errorf("ClaimPending: %v", err)
					return
				}
				claims <- cs.Chunk
			}
		}()
	}
	wg.Wait()
	close(claims)
	for c := range claims {
		mu.Lock()
		seen[c]++
		mu.Unlock()
	}
	if len(seen) != n {
		t.Fatalf("expected %d distinct chunks claimed, got %d", n, len(seen))
	}
	for chunk, count := range seen {
		if count != 1 {
			t.Fatalf("chunk %d claimed %d times, want 1", chunk, count)
		}
	}
}

func TestClaimPendingBatch(t *testing.T) {
	st := openTestStore(t)
	jobID, _ := st.NewJob("s", "d", false, false, 0)
	if err := st.InitFromManifest(jobID, manifestOf(10)); err != nil {
		t.Fatalf("InitFromManifest: %v", err)
	}

	batch, err := st.ClaimPendingBatch(jobID, 4)
	if err != nil {
		t.Fatalf("ClaimPendingBatch: %v", err)
	}
	if len(batch) != 4 {
		t.Fatalf("batch size = %d, want 4", len(batch))
	}
	for _, cs := range batch {
		if cs.Status != StatusProcessing {
			t.Fatalf("chunk %d status = %v, want Processing", cs.Chunk, cs.Status)
		}
	}

	stats, err := st.GetStats(jobID)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.Processing != 4 || stats.Pending != 6 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

// P6: a batch update either fully applies or (on error) leaves prior
// state untouched — this test covers the success path only.
func TestApplyBatchUpdatesIsAllOrNothingOnSuccess(t *testing.T) {
	st := openTestStore(t)
	jobID, _ := st.NewJob("s", "d", false, false, 0)
	if err := st.InitFromManifest(jobID, manifestOf(5)); err != nil {
		t.Fatalf("InitFromManifest: %v", err)
	}

	updates := []Update{
		{Chunk: 0, Status: StatusDone, Checksum: "a"},
		{Chunk: 1, Status: StatusDone, Checksum: "b"},
		{Chunk: 2, Status: StatusFailed, Err: "boom"},
	}
	if err := st.ApplyBatchUpdates(jobID, updates); err != nil {
		t.Fatalf("ApplyBatchUpdates: %v", err)
	}

	stats, err := st.GetStats(jobID)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.Done != 2 || stats.Failed != 1 || stats.Pending != 2 {
		t.Fatalf("unexpected stats after batch: %+v", stats)
	}

	cs, err := st.GetChunk(jobID, 2)
	if err != nil {
		t.Fatalf("GetChunk: %v", err)
	}
	if cs.Error != "boom" {
		t.Fatalf("expected error message preserved, got %q", cs.Error)
	}
}

func TestDependencyGatesTopoSortReady(t *testing.T) {
	st := openTestStore(t)
	jobID, _ := st.NewJob("s", "d", false, false, 0)
	if err := st.InitFromManifest(jobID, manifestOf(3)); err != nil {
		t.Fatalf("InitFromManifest: %v", err)
	}
	if err := st.AddDependency(jobID, 2, []uint64{0, 1}); err != nil {
		t.Fatalf("AddDependency: %v", err)
	}

	ready, err := st.TopoSortReady(jobID)
	if err != nil {
		t.Fatalf("TopoSortReady: %v", err)
	}
	if containsUint64(ready, 2) {
		t.Fatalf("chunk 2 should not be ready before its dependencies complete: %v", ready)
	}
	if !containsUint64(ready, 0) || !containsUint64(ready, 1) {
		t.Fatalf("chunks 0 and 1 should be ready: %v", ready)
	}

	if err := st.MarkStatus(jobID, 0, StatusDone, ""); err != nil {
		t.Fatalf("MarkStatus: %v", err)
	}
	if err := st.MarkStatus(jobID, 1, StatusDone, ""); err != nil {
		t.Fatalf("MarkStatus: %v", err)
	}

	ready, err = st.TopoSortReady(jobID)
	if err != nil {
		t.Fatalf("TopoSortReady: %v", err)
	}
	if !containsUint64(ready, 2) {
		t.Fatalf("chunk 2 should be ready once dependencies are done: %v", ready)
	}
}

func containsUint64(xs []uint64, v uint64) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func TestRequeueStuckDemotesProcessingToPending(t *testing.T) {
	st := openTestStore(t)
	jobID, _ := st.NewJob("s", "d", false, false, 0)
	if err := st.InitFromManifest(jobID, manifestOf(3)); err != nil {
		t.Fatalf("InitFromManifest: %v", err)
	}
	if _, err := st.ClaimPendingBatch(jobID, 2); err != nil {
		t.Fatalf("ClaimPendingBatch: %v", err)
	}

	n, err := st.RequeueStuck(jobID)
	if err != nil {
		t.Fatalf("RequeueStuck: %v", err)
	}
	if n != 2 {
		t.Fatalf("requeued %d chunks, want 2", n)
	}

	stats, err := st.GetStats(jobID)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.Pending != 3 || stats.Processing != 0 {
		t.Fatalf("unexpected stats after requeue: %+v", stats)
	}
}

func TestDeleteJobRemovesAllRecords(t *testing.T) {
	st := openTestStore(t)
	jobID, _ := st.NewJob("s", "d", false, false, 0)
	if err := st.InitFromManifest(jobID, manifestOf(3)); err != nil {
		t.Fatalf("InitFromManifest: %v", err)
	}
	if err := st.DeleteJob(jobID); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if _, err := st.GetChunk(jobID, 0); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if _, err := st.GetJobMeta(jobID); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for job meta after delete, got %v", err)
	}
}
