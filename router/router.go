// Package router implements the pure size-to-strategy decision that
// picks a transfer lane for a file (spec.md §4.4). It holds no state and
// performs no I/O: callers pass a size and a cmn.Config and get back a
// Strategy plus a ready-to-use cdc.Config.
package router

import (
	"github.com/saworbit/orbit-sub002/cdc"
	"github.com/saworbit/orbit-sub002/cmn"
)

// Strategy identifies which executor lane a file should travel through.
type Strategy int

const (
	// Direct transfers the file whole: no chunking, no Universe lookup.
	Direct Strategy = iota
	// DeduplicatedStandard runs content-defined chunking at a moderate
	// average chunk size and deduplicates against the Universe.
	DeduplicatedStandard
	// DeduplicatedTiered is DeduplicatedStandard's big-file sibling: a
	// parallel scan-dispatch-hash pipeline instead of a single
	// sequential chunker, still deduplicating against the Universe.
	DeduplicatedTiered
)

func (s Strategy) String() string {
	switch s {
	case Direct:
		return "direct"
	case DeduplicatedStandard:
		return "deduplicated_standard"
	case DeduplicatedTiered:
		return "deduplicated_tiered"
	default:
		return "unknown"
	}
}

// Decision is the routing result for one file.
type Decision struct {
	Strategy Strategy
	ChunkCfg cdc.Config
}

// Route maps a file size to a lane and chunk configuration, per the
// thresholds and average chunk sizes in cfg.Router (spec.md §4.4):
//
//	size < SmallMax                 -> Direct
//	SmallMax <= size < MediumMax    -> DeduplicatedStandard, avg=StandardAvg
//	MediumMax <= size < HugeMax     -> DeduplicatedTiered, avg=TieredAvg1
//	HugeMax <= size                 -> DeduplicatedTiered, avg=TieredAvg2
func Route(size int64, cfg *cmn.Config) Decision {
	r := cfg.Router
	switch {
	case size < r.SmallMax:
		return Decision{Strategy: Direct}
	case size < r.MediumMax:
		return Decision{
			Strategy: DeduplicatedStandard,
			ChunkCfg: chunkConfigFor(r.StandardAvg, cfg.CDC),
		}
	case size < r.HugeMax:
		return Decision{
			Strategy: DeduplicatedTiered,
			ChunkCfg: chunkConfigFor(r.TieredAvg1, cfg.CDC),
		}
	default:
		return Decision{
			Strategy: DeduplicatedTiered,
			ChunkCfg: chunkConfigFor(r.TieredAvg2, cfg.CDC),
		}
	}
}

// chunkConfigFor scales base's min/max proportionally to a lane-specific
// average, preserving the min/avg/max ratio the CDC package validates.
func chunkConfigFor(avg uint32, base cmn.CDC) cdc.Config {
	if base.AvgSize == 0 {
		return cdc.Config{MinSize: avg / 4, AvgSize: avg, MaxSize: avg * 4}
	}
	minRatio := float64(base.MinSize) / float64(base.AvgSize)
	maxRatio := float64(base.MaxSize) / float64(base.AvgSize)
	return cdc.Config{
		MinSize: uint32(float64(avg) * minRatio),
		AvgSize: avg,
		MaxSize: uint32(float64(avg) * maxRatio),
	}
}
