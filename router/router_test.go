package router

import (
	"testing"

	"github.com/saworbit/orbit-sub002/cmn"
)

func TestRouteSelectsDirectForSmallFiles(t *testing.T) {
	cfg := cmn.DefaultConfig()
	d := Route(cfg.Router.SmallMax-1, cfg)
	if d.Strategy != Direct {
		t.Fatalf("Strategy = %v, want Direct", d.Strategy)
	}
}

func TestRouteSelectsStandardForMidSizedFiles(t *testing.T) {
	cfg := cmn.DefaultConfig()
	d := Route(cfg.Router.SmallMax, cfg)
	if d.Strategy != DeduplicatedStandard {
		t.Fatalf("Strategy = %v, want DeduplicatedStandard", d.Strategy)
	}
	if d.ChunkCfg.AvgSize != cfg.Router.StandardAvg {
		t.Fatalf("AvgSize = %d, want %d", d.ChunkCfg.AvgSize, cfg.Router.StandardAvg)
	}
	if err := d.ChunkCfg.Validate(); err != nil {
		t.Fatalf("derived chunk config invalid: %v", err)
	}
}

// S6: as a file crosses from the first tiered bracket into the second,
// the chosen average chunk size should jump (fewer, larger chunks for
// the huger bracket) while both remain DeduplicatedTiered.
func TestRouteTieredAverageGrowsWithSize(t *testing.T) {
	cfg := cmn.DefaultConfig()

	mid := Route(cfg.Router.MediumMax, cfg)
	if mid.Strategy != DeduplicatedTiered {
		t.Fatalf("Strategy at MediumMax = %v, want DeduplicatedTiered", mid.Strategy)
	}
	if mid.ChunkCfg.AvgSize != cfg.Router.TieredAvg1 {
		t.Fatalf("AvgSize at MediumMax = %d, want %d", mid.ChunkCfg.AvgSize, cfg.Router.TieredAvg1)
	}

	huge := Route(cfg.Router.HugeMax, cfg)
	if huge.Strategy != DeduplicatedTiered {
		t.Fatalf("Strategy at HugeMax = %v, want DeduplicatedTiered", huge.Strategy)
	}
	if huge.ChunkCfg.AvgSize != cfg.Router.TieredAvg2 {
		t.Fatalf("AvgSize at HugeMax = %d, want %d", huge.ChunkCfg.AvgSize, cfg.Router.TieredAvg2)
	}
	if huge.ChunkCfg.AvgSize <= mid.ChunkCfg.AvgSize {
		t.Fatalf("expected huge-lane average (%d) to exceed mid-lane average (%d)", huge.ChunkCfg.AvgSize, mid.ChunkCfg.AvgSize)
	}

	// Fewer, larger chunks for a huger bracket: same input size chunked
	// at a larger average should never yield more chunks than at a
	// smaller average.
	sameSizeAtMid := float64(cfg.Router.HugeMax) / float64(mid.ChunkCfg.AvgSize)
	sameSizeAtHuge := float64(cfg.Router.HugeMax) / float64(huge.ChunkCfg.AvgSize)
	if sameSizeAtHuge >= sameSizeAtMid {
		t.Fatalf("expected fewer expected chunks at the huger average: mid~%.0f huge~%.0f", sameSizeAtMid, sameSizeAtHuge)
	}
}

func TestRouteIsDeterministic(t *testing.T) {
	cfg := cmn.DefaultConfig()
	for _, size := range []int64{0, 100, cfg.Router.SmallMax, cfg.Router.MediumMax, cfg.Router.HugeMax, cfg.Router.HugeMax * 2} {
		a := Route(size, cfg)
		b := Route(size, cfg)
		if a.Strategy != b.Strategy || a.ChunkCfg != b.ChunkCfg {
			t.Fatalf("Route(%d) not deterministic: %+v vs %+v", size, a, b)
		}
	}
}
