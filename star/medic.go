package star

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/saworbit/orbit-sub002/fingerprint"
	"github.com/saworbit/orbit-sub002/universe"
)

// NodeInfo identifies one node known to the fleet.
type NodeInfo struct {
	ID   string
	Addr string
}

// Directory is the Medic's view of the fleet: who exists, who is
// reachable right now, and who has room (spec.md §4.9 "Pick a recruit").
type Directory interface {
	KnownNodes() []NodeInfo
	Reachable(NodeInfo) bool
	HasFreeSpace(NodeInfo) bool
}

// ErrNoSurvivors is returned when a fingerprint's location set is empty
// (the chunk is Lost; spec.md §4.9 "Failure modes").
type ErrNoSurvivors struct{ Fingerprint fingerprint.Fingerprint }

func (e ErrNoSurvivors) Error() string { return "star/medic: no survivors for " + e.Fingerprint.Hex() }

// ErrNoRecruit is returned when every known node already holds the chunk
// or none pass the reachability/free-space filters.
type ErrNoRecruit struct{ Fingerprint fingerprint.Fingerprint }

func (e ErrNoRecruit) Error() string { return "star/medic: no recruit available for " + e.Fingerprint.Hex() }

const defaultTokenTTL = 5 * time.Minute

// Replicator is the Medic's RPC collaborator; *RPCClient implements it
// against real nodes, tests supply a fake.
type Replicator interface {
	Replicate(ctx context.Context, recruitAddr string, req ReplicateRequest) (ReplicateResponse, error)
}

// Medic implements one heal: pick a survivor, pick a recruit, issue a
// scoped token, ask the recruit to pull, and record the new location
// (spec.md §4.9). On any failure the Universe is left untouched.
type Medic struct {
	Universe  *universe.Index
	Directory Directory
	Issuer    *TokenIssuer
	RPC       Replicator
	TokenTTL  time.Duration
}

// Heal implements the star.Healer interface consumed by Sentinel.
func (m *Medic) Heal(ctx context.Context, fp fingerprint.Fingerprint, locations []universe.Location) error {
	if len(locations) == 0 {
		return ErrNoSurvivors{Fingerprint: fp}
	}
	survivor := locations[0] // load-aware selection is a future refinement; first eligible per spec.md §4.9

	recruit, ok := m.pickRecruit(locations)
	if !ok {
		return ErrNoRecruit{Fingerprint: fp}
	}

	ttl := m.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	token, err := m.Issuer.Issue(survivor.NodeID, survivor.Path, ttl)
	if err != nil {
		return errors.Wrap(err, "star/medic: issue token")
	}

	destPath := poolPath(fp)
	resp, err := m.RPC.Replicate(ctx, recruit.Addr, ReplicateRequest{
		SourceAddr: survivor.NodeID,
		SourcePath: survivor.Path,
		DestPath:   destPath,
		Token:      token,
	})
	if err != nil {
		return errors.Wrap(err, "star/medic: replicate rpc")
	}
	if !resp.Success {
		return errors.Errorf("star/medic: replicate failed: %s", resp.Error)
	}

	loc := universe.Location{NodeID: recruit.ID, Path: destPath, Offset: 0, Length: uint32(resp.BytesTransferred)}
	if err := m.Universe.Insert(fp, loc); err != nil {
		return errors.Wrap(err, "star/medic: record new location")
	}
	return nil
}

func (m *Medic) pickRecruit(survivors []universe.Location) (NodeInfo, bool) {
	holds := make(map[string]bool, len(survivors))
	for _, l := range survivors {
		holds[l.NodeID] = true
	}
	for _, n := range m.Directory.KnownNodes() {
		if holds[n.ID] {
			continue
		}
		if !m.Directory.Reachable(n) || !m.Directory.HasFreeSpace(n) {
			continue
		}
		return n, true
	}
	return NodeInfo{}, false
}

// poolPath builds the content-addressed pool path a recruit writes the
// replicated chunk to (spec.md §6 ".orbit/pool/<hex-fingerprint>").
func poolPath(fp fingerprint.Fingerprint) string {
	return ".orbit/pool/" + fp.Hex()
}
