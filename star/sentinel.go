package star

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/saworbit/orbit-sub002/cmn/nlog"
	"github.com/saworbit/orbit-sub002/fingerprint"
	"github.com/saworbit/orbit-sub002/universe"
)

// RedundancyClass is the Sentinel's per-fingerprint classification
// (spec.md §4.9 "Orient").
type RedundancyClass int

const (
	Healthy RedundancyClass = iota
	AtRisk
	Lost
)

func classify(locations int, minRedundancy int) RedundancyClass {
	switch {
	case locations == 0:
		return Lost
	case locations < minRedundancy:
		return AtRisk
	default:
		return Healthy
	}
}

// SentinelConfig tunes the OODA loop (spec.md §4.9).
type SentinelConfig struct {
	MinRedundancy   int
	MaxParallelHeal int
	ScanInterval    time.Duration
	BandwidthLimit  int64 // bytes/sec; carried only, Sweep and Medic do not throttle by it
}

// SweepStats summarizes one Observe/Orient pass over the Universe.
type SweepStats struct {
	Healthy, AtRisk, Lost int
	Total                 int
	Skipped               int // at-risk fingerprints skipped for lack of a heal permit
}

func (s SweepStats) HealthRatio() float64 {
	if s.Total == 0 {
		return 1
	}
	return float64(s.Healthy) / float64(s.Total)
}

// Healer is the Act phase's collaborator: given a fingerprint and its
// current location set, attempt one heal. Medic implements this.
type Healer interface {
	Heal(ctx context.Context, fp fingerprint.Fingerprint, locations []universe.Location) error
}

// Sentinel runs the OODA loop on a fixed interval: Observe the Universe,
// Orient each fingerprint's redundancy, Decide which are at risk, and
// Act by dispatching bounded-concurrency heals (spec.md §4.9). The
// semaphore never blocks the sweep — a fingerprint with no available
// heal permit is simply skipped until the next sweep (spec.md §5 "uses
// try-acquire, otherwise skips").
type Sentinel struct {
	Universe *universe.Index
	Healer   Healer
	Cfg      SentinelConfig

	permits *semaphore.Weighted
}

func NewSentinel(idx *universe.Index, healer Healer, cfg SentinelConfig) *Sentinel {
	if cfg.MaxParallelHeal <= 0 {
		cfg.MaxParallelHeal = 1
	}
	return &Sentinel{
		Universe: idx,
		Healer:   healer,
		Cfg:      cfg,
		permits:  semaphore.NewWeighted(int64(cfg.MaxParallelHeal)),
	}
}

// Run loops Sweep on Cfg.ScanInterval until ctx is cancelled. A sweep
// error is logged and the loop sleeps one interval before retrying
// (spec.md §7 "the core does not crash").
func (s *Sentinel) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Cfg.ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				nlog.Errorln("star/sentinel: sweep failed", "err", err)
			}
		}
	}
}

// Sweep performs one Observe/Orient/Decide/Act pass and returns its
// aggregate stats.
func (s *Sentinel) Sweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	type candidate struct {
		fp   fingerprint.Fingerprint
		locs []universe.Location
	}
	var atRisk []candidate

	err := s.Universe.ScanAllChunks(func(fp fingerprint.Fingerprint, locs []universe.Location) bool {
		stats.Total++
		switch classify(len(locs), s.Cfg.MinRedundancy) {
		case Healthy:
			stats.Healthy++
		case AtRisk:
			stats.AtRisk++
			atRisk = append(atRisk, candidate{fp: fp, locs: locs})
		case Lost:
			stats.Lost++
		}
		return true
	})
	if err != nil {
		return stats, err
	}

	for _, c := range atRisk {
		if !s.permits.TryAcquire(1) {
			stats.Skipped++
			continue
		}
		go func(fp fingerprint.Fingerprint, locs []universe.Location) {
			defer s.permits.Release(1)
			if err := s.Healer.Heal(ctx, fp, locs); err != nil {
				nlog.Warnln("star/sentinel: heal failed", "fingerprint", fp.Hex(), "err", err)
			}
		}(c.fp, c.locs)
	}
	return stats, nil
}
