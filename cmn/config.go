// Package cmn holds ambient, cross-cutting types: configuration carried
// by value through an atomically-swappable global owner (GCO), mirroring
// the teacher's cmn.Config/cmn.GCO split. Loading this config from a file
// or CLI flags is explicitly out of core scope (spec.md §1) — GCO only
// exposes Get/Put plus a DefaultConfig constructor for composition roots
// and tests.
package cmn

import (
	"sync/atomic"
	"time"
)

// CDC holds content-defined-chunking tunables per spec.md §4.1.
type CDC struct {
	MinSize uint32
	AvgSize uint32
	MaxSize uint32
}

// Router holds the size thresholds and per-tier chunk configs from
// spec.md §4.5.
type Router struct {
	SmallMax  int64 // size < SmallMax -> Direct
	MediumMax int64 // size < MediumMax -> DeduplicatedStandard
	HugeMax   int64 // size < HugeMax -> DeduplicatedTiered (avg=1MiB)
	// size >= HugeMax -> DeduplicatedTiered (avg=4MiB)

	StandardAvg uint32
	TieredAvg1  uint32
	TieredAvg2  uint32
}

// Pool holds connection-pool tunables for both the short-haul and
// long-haul profiles described in spec.md §4.8.
type Pool struct {
	MaxSize        int
	MinIdle        int
	MaxLifetime    time.Duration
	IdleTimeout    time.Duration
	AcquireTimeout time.Duration
}

// Breaker holds circuit-breaker tunables (spec.md §4.8).
type Breaker struct {
	FailureThreshold int
	SuccessThreshold int
	Cooldown         time.Duration
	MaxRetries       int
}

// JobMgr holds write-behind batching tunables (spec.md §4.4).
type JobMgr struct {
	BatchSize     int
	FlushInterval time.Duration
}

// Sentinel holds OODA-loop tunables (spec.md §4.9).
type Sentinel struct {
	MinRedundancy   int
	MaxParallelHeal int
	ScanInterval    time.Duration
	BandwidthLimit  int64 // bytes/sec, 0 = unlimited
}

// Config is the full, immutable-once-built configuration snapshot
// threaded through Orbit's components.
type Config struct {
	CDC      CDC
	Router   Router
	Pool     Pool
	LongPool Pool
	Breaker  Breaker
	JobMgr   JobMgr
	Sentinel Sentinel
}

// DefaultConfig returns the spec-mandated defaults (spec.md §4.1, §4.5,
// §4.8, §4.9).
func DefaultConfig() *Config {
	return &Config{
		CDC: CDC{MinSize: 2 * 1024, AvgSize: 8 * 1024, MaxSize: 64 * 1024},
		Router: Router{
			SmallMax:    8 * 1024,
			MediumMax:   1 << 30,
			HugeMax:     100 << 30,
			StandardAvg: 64 * 1024,
			TieredAvg1:  1 << 20,
			TieredAvg2:  4 << 20,
		},
		Pool: Pool{
			MaxSize:        16,
			MinIdle:        2,
			MaxLifetime:    30 * time.Minute,
			IdleTimeout:    5 * time.Minute,
			AcquireTimeout: 10 * time.Second,
		},
		LongPool: Pool{
			MaxSize:        4,
			MinIdle:        1,
			MaxLifetime:    24 * time.Hour,
			IdleTimeout:    0,
			AcquireTimeout: 10 * time.Minute,
		},
		Breaker: Breaker{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Cooldown:         30 * time.Second,
			MaxRetries:       3,
		},
		JobMgr: JobMgr{
			BatchSize:     256,
			FlushInterval: 500 * time.Millisecond,
		},
		Sentinel: Sentinel{
			MinRedundancy:   2,
			MaxParallelHeal: 8,
			ScanInterval:    30 * time.Second,
		},
	}
}

// GlobalConfigOwner ("GCO") holds the single, process-wide, atomically
// swappable Config snapshot. Components receive it via an explicit
// handle (GCO.Get()), never through a package-level singleton they reach
// into directly — see spec.md §9 "no ambient, process-wide singletons".
type GlobalConfigOwner struct {
	ptr atomic.Pointer[Config]
}

func NewGCO(initial *Config) *GlobalConfigOwner {
	g := &GlobalConfigOwner{}
	g.ptr.Store(initial)
	return g
}

func (g *GlobalConfigOwner) Get() *Config { return g.ptr.Load() }

func (g *GlobalConfigOwner) Put(c *Config) { g.ptr.Store(c) }

// GCO is the default global owner, seeded with DefaultConfig. Tests and
// composition roots may construct their own GlobalConfigOwner instead of
// relying on this one; GCO exists only for the common case.
var GCO = NewGCO(DefaultConfig())
