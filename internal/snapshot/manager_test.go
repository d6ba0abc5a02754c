package snapshot

import (
	"context"
	"sync"
	"testing"

	"github.com/brennhill/tracebackbone/internal/types"
)

// memStore is an in-memory fake satisfying the Store interface, used so
// the manager's tests don't depend on the real sqlite-backed store.
type memStore struct {
	mu   sync.Mutex
	meta map[string]types.Snapshot
	data map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{meta: map[string]types.Snapshot{}, data: map[string][]byte{}}
}

func (s *memStore) StoreSnapshot(_ context.Context, meta types.Snapshot, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta[meta.ID] = meta
	s.data[meta.ID] = data
	return nil
}

func (s *memStore) GetSnapshot(_ context.Context, id string) (types.Snapshot, []byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.meta[id]
	if !ok {
		return types.Snapshot{}, nil, false, nil
	}
	return m, s.data[id], true, nil
}

func (s *memStore) ListSnapshotMeta(_ context.Context, sessionID string) ([]types.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Snapshot
	for _, m := range s.meta {
		if m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memStore) DeleteSnapshot(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.meta, id)
	delete(s.data, id)
	return nil
}

func (s *memStore) EvictSnapshots(_ context.Context, sessionID string, cutoff int64, keepLatest int, tagged map[string]bool) (int64, error) {
	return 0, nil
}

func stateWithAgents(n int, ts int64) types.SystemState {
	st := types.NewSystemState("S1", types.Session{ID: "S1", Status: types.SessionActive})
	st.Timestamp = ts
	for i := 0; i < n; i++ {
		id := "agent-" + string(rune('a'+i%26)) + string(rune('0'+i/26))
		st.Agents[id] = types.AgentAggregate{AgentID: id, SessionID: "S1", State: types.AgentIdle}
	}
	return st
}

func TestScenarioCIncrementalSnapshot(t *testing.T) {
	ms := newMemStore()
	m := New(Options{Store: ms})
	ctx := context.Background()

	base := stateWithAgents(100, 1000)
	s0, err := m.CreateSnapshot(ctx, "S1", base, CreateOptions{ForceFull: true})
	if err != nil {
		t.Fatalf("create full: %v", err)
	}

	mutated := stateWithAgents(100, 2000)
	// mutate 5 agents
	i := 0
	for id, agg := range mutated.Agents {
		if i >= 5 {
			break
		}
		agg.State = types.AgentFailed
		mutated.Agents[id] = agg
		i++
	}

	s1, err := m.CreateSnapshot(ctx, "S1", mutated, CreateOptions{})
	if err != nil {
		t.Fatalf("create incremental: %v", err)
	}

	snap1, err := m.GetSnapshot(ctx, s1)
	if err != nil {
		t.Fatalf("get s1: %v", err)
	}
	if snap1.Kind != types.SnapshotIncremental {
		t.Fatalf("expected incremental snapshot, got %v", snap1.Kind)
	}
	if snap1.ParentID != s0 {
		t.Fatalf("expected parent %s, got %s", s0, snap1.ParentID)
	}
	if len(snap1.Delta.AgentsUpdated) != 5 {
		t.Fatalf("expected 5 updated agents, got %d", len(snap1.Delta.AgentsUpdated))
	}

	reconstructed, err := m.Reconstruct(ctx, snap1)
	if err != nil {
		t.Fatalf("reconstruct: %v", err)
	}
	for id, agg := range mutated.Agents {
		if reconstructed.Agents[id].State != agg.State {
			t.Fatalf("agent %s state mismatch after reconstruct: got %v want %v", id, reconstructed.Agents[id].State, agg.State)
		}
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	ms := newMemStore()
	m := New(Options{Store: ms})
	ctx := context.Background()

	id, err := m.CreateSnapshot(ctx, "S1", stateWithAgents(3, 1000), CreateOptions{ForceFull: true})
	if err != nil {
		t.Fatal(err)
	}

	bundle, err := m.Export(ctx, "S1", ExportOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(bundle.Snapshots) != 1 {
		t.Fatalf("expected 1 snapshot in bundle, got %d", len(bundle.Snapshots))
	}

	ms2 := newMemStore()
	m2 := New(Options{Store: ms2})
	res := m2.Import(ctx, bundle, ImportOptions{ValidateIntegrity: true})
	if res.Imported != 1 || len(res.Errors) != 0 {
		t.Fatalf("expected clean import, got %+v", res)
	}

	got, err := m2.GetSnapshot(ctx, id)
	if err != nil {
		t.Fatalf("get after import: %v", err)
	}
	if got.ID != id {
		t.Fatalf("unexpected snapshot after import: %+v", got)
	}
}

func TestImportRejectsChecksumMismatch(t *testing.T) {
	ms := newMemStore()
	m := New(Options{Store: ms})
	ctx := context.Background()
	_, err := m.CreateSnapshot(ctx, "S1", stateWithAgents(1, 1000), CreateOptions{ForceFull: true})
	if err != nil {
		t.Fatal(err)
	}
	bundle, err := m.Export(ctx, "S1", ExportOptions{})
	if err != nil {
		t.Fatal(err)
	}
	bundle.Snapshots[0].Checksum = "0000000000000000"

	ms2 := newMemStore()
	m2 := New(Options{Store: ms2})
	res := m2.Import(ctx, bundle, ImportOptions{ValidateIntegrity: true})
	if res.Imported != 0 || res.Skipped != 1 || len(res.Errors) != 1 {
		t.Fatalf("expected the tampered record to be skipped, got %+v", res)
	}
}

func TestFindNearestReturnsLatestAtOrBeforeT(t *testing.T) {
	ms := newMemStore()
	m := New(Options{Store: ms})
	ctx := context.Background()

	mustCreate := func(ts int64) string {
		id, err := m.CreateSnapshot(ctx, "S1", stateWithAgents(1, ts), CreateOptions{ForceFull: true})
		if err != nil {
			t.Fatal(err)
		}
		return id
	}
	_ = mustCreate(100)
	wantID := mustCreate(200)
	_ = mustCreate(300)

	got, ok, err := m.FindNearest(ctx, "S1", 250)
	if err != nil || !ok {
		t.Fatalf("FindNearest: ok=%v err=%v", ok, err)
	}
	if got.ID != wantID {
		t.Fatalf("expected snapshot at t=200, got %s (ts=%d)", got.ID, got.Timestamp)
	}
}
