package snapshot

import (
	"context"
	"strconv"

	"github.com/brennhill/tracebackbone/internal/errs"
	"github.com/brennhill/tracebackbone/internal/types"
)

const maxChainDepth = 10_000 // defense in depth against a cyclic chain, §9 "Cycles in snapshot chains"

// Reconstruct resolves snap's delta chain back to its base full snapshot
// and replays each delta forward, returning the resulting state (§4.5
// "reconstruct", §8 invariant 4).
func (m *Manager) Reconstruct(ctx context.Context, snap types.Snapshot) (types.SystemState, error) {
	if snap.Kind == types.SnapshotFull {
		if snap.State == nil {
			return types.SystemState{}, errs.New(errs.SnapshotError, "full snapshot %s missing state payload", snap.ID)
		}
		return *snap.State, nil
	}

	chain := []types.Snapshot{snap}
	visited := map[string]bool{snap.ID: true}
	cur := snap
	for cur.Kind == types.SnapshotIncremental {
		if len(chain) > maxChainDepth {
			return types.SystemState{}, errs.New(errs.SnapshotError, "snapshot chain exceeds max depth, possible cycle at %s", cur.ID)
		}
		if cur.ParentID == "" {
			return types.SystemState{}, errs.New(errs.SnapshotError, "incremental snapshot %s has no parent", cur.ID)
		}
		parent, err := m.GetSnapshot(ctx, cur.ParentID)
		if err != nil {
			return types.SystemState{}, err
		}
		if visited[parent.ID] {
			return types.SystemState{}, errs.New(errs.SnapshotError, "cycle detected in snapshot chain at %s", parent.ID)
		}
		if parent.Timestamp >= cur.Timestamp {
			return types.SystemState{}, errs.New(errs.SnapshotError, "chain invariant violated: parent %s not older than %s", parent.ID, cur.ID)
		}
		visited[parent.ID] = true
		chain = append(chain, parent)
		cur = parent
	}

	// chain is ordered newest-first; replay oldest (full) to newest.
	base := *chain[len(chain)-1].State
	state := base
	for i := len(chain) - 2; i >= 0; i-- {
		state = types.ApplyDelta(state, *chain[i].Delta)
	}
	return state, nil
}

// Compare computes the delta needed to go from snapshot id1's state to
// id2's, plus a short human-readable summary (§4.5 "compare").
func (m *Manager) Compare(ctx context.Context, id1, id2 string) (types.Delta, string, error) {
	snap1, err := m.GetSnapshot(ctx, id1)
	if err != nil {
		return types.Delta{}, "", err
	}
	snap2, err := m.GetSnapshot(ctx, id2)
	if err != nil {
		return types.Delta{}, "", err
	}
	state1, err := m.Reconstruct(ctx, snap1)
	if err != nil {
		return types.Delta{}, "", err
	}
	state2, err := m.Reconstruct(ctx, snap2)
	if err != nil {
		return types.Delta{}, "", err
	}
	delta := types.Diff(state1, state2)
	summary := summarize(delta)
	return delta, summary, nil
}

func summarize(d types.Delta) string {
	return "agents added=" + strconv.Itoa(len(d.AgentsAdded)) +
		" updated=" + strconv.Itoa(len(d.AgentsUpdated)) +
		" removed=" + strconv.Itoa(len(d.AgentsRemoved))
}
