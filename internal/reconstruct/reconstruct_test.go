package reconstruct

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brennhill/tracebackbone/internal/store"
	"github.com/brennhill/tracebackbone/internal/types"
)

func mkEvent(id, session, agent string, typ types.EventType, ts int64, parent string) types.Event {
	return types.Event{
		ID: id, SessionID: session, AgentID: agent, Type: typ, Timestamp: ts,
		ParentEventID: parent,
		Metadata:      types.Metadata{Severity: types.SeverityLow},
	}
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(store.Options{Path: ":memory:", RetentionDefault: 0})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestReconstructFromEmptyBase(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.CreateSession(ctx, "sess", nil)
	require.NoError(t, err)

	events := []types.Event{
		mkEvent("e1", "S1", "a1", types.AgentSpawn, 100, ""),
		mkEvent("e2", "S1", "a1", types.TaskStart, 200, ""),
	}
	require.NoError(t, s.StoreBatch(ctx, events))

	r := New(Options{Store: s})
	state, err := r.Reconstruct(ctx, "S1", 200)
	require.NoError(t, err)
	require.Equal(t, types.AgentRunning, state.Agents["a1"].State)
	require.Equal(t, int64(1), state.Agents["a1"].TasksStarted)
}

func TestReconstructIsDeterministic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	events := []types.Event{
		mkEvent("e1", "S1", "a1", types.AgentSpawn, 100, ""),
		mkEvent("e2", "S1", "a1", types.TaskStart, 200, ""),
		mkEvent("e3", "S1", "a1", types.TaskComplete, 300, ""),
	}
	require.NoError(t, s.StoreBatch(ctx, events))

	r := New(Options{Store: s})
	s1, err := r.Reconstruct(ctx, "S1", 300)
	require.NoError(t, err)
	r2 := New(Options{Store: s}) // fresh reconstructor, no cache reuse
	s2, err := r2.Reconstruct(ctx, "S1", 300)
	require.NoError(t, err)
	require.Equal(t, s1.Agents, s2.Agents)
}

func TestReplayYieldsStateAfterEachEvent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	events := []types.Event{
		mkEvent("e1", "S1", "a1", types.AgentSpawn, 100, ""),
		mkEvent("e2", "S1", "a1", types.TaskStart, 200, ""),
		mkEvent("e3", "S1", "a1", types.TaskComplete, 300, ""),
	}
	require.NoError(t, s.StoreBatch(ctx, events))

	r := New(Options{Store: s})
	var seen []string
	err := r.Replay(ctx, "S1", TimeRange{Start: 0, End: 300}, func(state types.SystemState, e types.Event) error {
		seen = append(seen, e.ID)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"e1", "e2", "e3"}, seen)
}

func TestFindConditionOriginReturnsEarliestTransition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	events := []types.Event{
		mkEvent("e1", "S1", "a1", types.AgentSpawn, 100, ""),
		mkEvent("e2", "S1", "a1", types.TaskStart, 200, ""),
		mkEvent("e3", "S1", "a1", types.TaskFail, 300, ""),
		mkEvent("e4", "S1", "a1", types.TaskStart, 400, ""),
		mkEvent("e5", "S1", "a1", types.TaskFail, 500, ""),
	}
	require.NoError(t, s.StoreBatch(ctx, events))

	r := New(Options{Store: s})
	origin, err := r.FindConditionOrigin(ctx, "S1", func(st types.SystemState) bool {
		return st.Agents["a1"].State == types.AgentFailed
	}, 500)
	require.NoError(t, err)
	require.NotNil(t, origin)
	require.Equal(t, "e3", origin.Event.ID)
}

func TestFindConditionOriginReturnsNilWhenNeverTrue(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	events := []types.Event{mkEvent("e1", "S1", "a1", types.AgentSpawn, 100, "")}
	require.NoError(t, s.StoreBatch(ctx, events))

	r := New(Options{Store: s})
	origin, err := r.FindConditionOrigin(ctx, "S1", func(st types.SystemState) bool {
		return st.Agents["a1"].State == types.AgentFailed
	}, 100)
	require.NoError(t, err)
	require.Nil(t, origin)
}

func durEvent(id, session, agent string, ts, durMs int64, parent string) types.Event {
	e := mkEvent(id, session, agent, types.TaskStart, ts, parent)
	e.Performance = &types.Performance{DurationMs: durMs}
	return e
}

func TestCriticalPathFindsLongestChainAndBottleneck(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	events := []types.Event{
		durEvent("root", "S1", "a1", 0, 200, ""),
		durEvent("child-a", "S1", "a1", 300, 6000, "root"),   // > 5s bottleneck
		durEvent("child-b", "S1", "a1", 300, 100, "root"),    // short sibling branch
		durEvent("leaf", "S1", "a1", 7000, 50, "child-a"),
	}
	require.NoError(t, s.StoreBatch(ctx, events))

	r := New(Options{Store: s})
	result, err := r.CriticalPath(ctx, "S1", 10000)
	require.NoError(t, err)

	var ids []string
	for _, e := range result.Events {
		ids = append(ids, e.ID)
	}
	require.Equal(t, []string{"root", "child-a", "leaf"}, ids)
	require.Equal(t, int64(200+6000+50), result.TotalDurationMs)
	require.Len(t, result.Bottlenecks, 1)
	require.Equal(t, "child-a", result.Bottlenecks[0].EventID)
	require.Equal(t, types.SeverityHigh, result.Bottlenecks[0].Severity)
}

func TestInvalidateSessionDropsCachedEntries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.StoreBatch(ctx, []types.Event{mkEvent("e1", "S1", "a1", types.AgentSpawn, 100, "")}))

	r := New(Options{Store: s})
	_, err := r.Reconstruct(ctx, "S1", 100)
	require.NoError(t, err)

	_, ok := r.cache.get("S1", 100)
	require.True(t, ok)

	r.InvalidateSession("S1")
	_, ok = r.cache.get("S1", 100)
	require.False(t, ok)
}
