// Command orbitd wires the Orbit components into one running daemon:
// the Universe index, the node lifecycle, the resilience primitives, the
// Sentinel/Medic healing loop, and the audit chain. The job store and
// job manager are not opened here. It reads its bootstrap paths from the environment
// rather than flags — argument parsing and config-file loading are
// explicitly out of scope (spec.md §1) — so this file is composition
// only, the way cmd/aisnode wires a node's subsystems together before
// handing control to its run loop.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/saworbit/orbit-sub002/audit"
	"github.com/saworbit/orbit-sub002/cmn"
	"github.com/saworbit/orbit-sub002/cmn/nlog"
	"github.com/saworbit/orbit-sub002/ioa"
	"github.com/saworbit/orbit-sub002/resilience"
	"github.com/saworbit/orbit-sub002/star"
	"github.com/saworbit/orbit-sub002/universe"
)

func main() {
	nlog.Infoln("orbitd: starting")

	universePath := envOr("ORBIT_UNIVERSE_PATH", "./.orbit/universe.db")
	auditPath := envOr("ORBIT_AUDIT_PATH", "./.orbit/audit.jsonl")
	auditKey := []byte(envOr("ORBIT_AUDIT_HMAC_KEY", "orbitd-dev-key-do-not-use-in-prod"))
	nodeID := envOr("ORBIT_NODE_ID", "orbitd-local")

	gco := cmn.NewGCO(cmn.DefaultConfig())
	cfg := gco.Get()

	idx, err := universe.Open(universePath)
	if err != nil {
		nlog.Fatalln("orbitd: open universe index:", err)
	}
	defer idx.Close()

	chain, err := audit.OpenChain(auditPath, auditKey)
	if err != nil {
		nlog.Fatalln("orbitd: open audit chain:", err)
	}
	defer chain.Close()

	lifecycle := star.NewLifecycle(nodeID)
	if _, ok := lifecycle.Schedule(); !ok {
		nlog.Fatalln("orbitd: node failed to reach scheduled state")
	}

	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		Cooldown:         cfg.Breaker.Cooldown,
		MaxRetries:       cfg.Breaker.MaxRetries,
	})
	limiter := resilience.NewRateLimiter(float64(cfg.Sentinel.BandwidthLimit))
	dlq := resilience.NewDLQ(1024)
	refs := resilience.NewRefCount()
	gc := resilience.NewGC()

	local := ioa.Local{}
	issuer := star.NewTokenIssuer(auditKey)
	rpcClient := star.NewRPCClient()
	replicateHandler := &star.ReplicateHandler{Issuer: issuer, Client: rpcClient, Local: local}
	_ = replicateHandler // no fasthttp listener is started here, so this handler is not served

	medic := &star.Medic{
		Universe:  idx,
		Directory: staticDirectory{},
		Issuer:    issuer,
		RPC:       rpcClient,
		TokenTTL:  5 * time.Minute,
	}
	sentinel := star.NewSentinel(idx, medic, star.SentinelConfig{
		MinRedundancy:   cfg.Sentinel.MinRedundancy,
		MaxParallelHeal: cfg.Sentinel.MaxParallelHeal,
		ScanInterval:    cfg.Sentinel.ScanInterval,
		BandwidthLimit:  cfg.Sentinel.BandwidthLimit,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rootCtx := audit.NewRootContext()
	if _, err := chain.Emit(rootCtx, nil, nil, "orbitd: node "+nodeID+" scheduled"); err != nil {
		nlog.Warnln("orbitd: audit emit failed:", err)
	}

	go sentinel.Run(ctx)

	nlog.Infof("orbitd: running (node=%s, breaker=%s, gc_pending=%d, dlq_len=%d)\n",
		nodeID, breaker.State(), gc.Stats().Pending, dlq.Stats().Len)
	nlog.Infof("orbitd: refcount keys=%d, rate_limiter_built=%v\n", refs.Stats().TotalKeys, limiter != nil)

	<-ctx.Done()

	if ev, ok := lifecycle.Drain(); ok {
		nlog.Infof("orbitd: %s -> %s\n", ev.From, ev.To)
	}
	if ev, ok := lifecycle.ShutdownGraceful(); ok {
		nlog.Infof("orbitd: %s -> %s\n", ev.From, ev.To)
	} else if ev, ok := lifecycle.ForceShutdown(); ok {
		nlog.Warnf("orbitd: forced shutdown, %s -> %s\n", ev.From, ev.To)
	}

	nlog.Flush()
}

// staticDirectory is a placeholder star.Directory with no known peers;
// a real deployment replaces this with a membership view backed by
// whatever discovery mechanism the fleet uses (gossip, a config map,
// etc.), none of which is in scope here.
type staticDirectory struct{}

func (staticDirectory) KnownNodes() []star.NodeInfo     { return nil }
func (staticDirectory) Reachable(star.NodeInfo) bool    { return false }
func (staticDirectory) HasFreeSpace(star.NodeInfo) bool { return false }

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
