package resilience

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDLQEviction is spec.md §8 S4 verbatim: capacity 2, push "a","b","c".
func TestDLQEviction(t *testing.T) {
	d := NewDLQ(2)
	d.Push(DeadLetterEntry{ItemKey: "a"})
	d.Push(DeadLetterEntry{ItemKey: "b"})
	d.Push(DeadLetterEntry{ItemKey: "c"})

	stats := d.Stats()
	assert.Equal(t, 2, stats.Len)
	assert.Equal(t, uint64(3), stats.TotalReceived)
	assert.Equal(t, uint64(1), stats.TotalDropped)

	entries := d.Drain()
	var keys []string
	for _, e := range entries {
		keys = append(keys, e.ItemKey)
	}
	require.Equal(t, []string{"b", "c"}, keys)

	assert.Equal(t, 0, d.Stats().Len, "expected empty after drain")
}

func TestDLQEntriesForJob(t *testing.T) {
	d := NewDLQ(10)
	d.Push(DeadLetterEntry{ItemKey: "a", JobID: 1})
	d.Push(DeadLetterEntry{ItemKey: "b", JobID: 2})
	d.Push(DeadLetterEntry{ItemKey: "c", JobID: 1})

	got := d.EntriesForJob(1)
	assert.Len(t, got, 2)
	// EntriesForJob must not drain the queue.
	assert.Equal(t, 3, d.Stats().Len, "EntriesForJob must not mutate the queue")
}

func TestFailureKindString(t *testing.T) {
	cases := map[FailureKind]string{
		FailureRetriesExhausted: "retries_exhausted",
		FailurePermanent:        "permanent",
		FailureChecksumMismatch: "checksum_mismatch",
		FailureSourceMissing:    "source_missing",
		FailureDestError:        "dest_error",
		FailureDataCorruption:   "data_corruption",
	}
	for k, want := range cases {
		assert.Equal(t, want, k.String())
	}
}
