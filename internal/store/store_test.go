package store

import (
	"context"
	"testing"
	"time"

	"github.com/brennhill/tracebackbone/internal/errs"
	"github.com/brennhill/tracebackbone/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{
		Path:             ":memory:",
		RetentionDefault: time.Hour,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateSessionAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sess, err := s.CreateSession(ctx, "A", map[string]string{"env": "test"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if sess.ID == "" || sess.Status != types.SessionActive {
		t.Fatalf("unexpected session: %+v", sess)
	}

	got, found, err := s.GetSession(ctx, sess.ID)
	if err != nil || !found {
		t.Fatalf("GetSession: found=%v err=%v", found, err)
	}
	if got.Labels["env"] != "test" {
		t.Fatalf("labels not round-tripped: %+v", got.Labels)
	}
}

func TestStoreBatchAndGetTracesBySessionOrdered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess, _ := s.CreateSession(ctx, "A", nil)

	events := []types.Event{
		mkEvent("e1", sess.ID, "a1", types.AgentSpawn, 1000),
		mkEvent("e2", sess.ID, "a1", types.TaskStart, 1010),
		mkEvent("e3", sess.ID, "a1", types.TaskComplete, 1050),
	}
	if err := s.StoreBatch(ctx, events); err != nil {
		t.Fatalf("StoreBatch: %v", err)
	}

	got, err := s.GetTracesBySession(ctx, sess.ID, SessionQuery{})
	if err != nil {
		t.Fatalf("GetTracesBySession: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp < got[i-1].Timestamp {
			t.Fatalf("events not ordered by timestamp: %+v", got)
		}
	}
}

func TestGetTraceChecksumVerified(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess, _ := s.CreateSession(ctx, "A", nil)
	e := mkEvent("e1", sess.ID, "a1", types.AgentSpawn, 1000)
	if err := s.StoreBatch(ctx, []types.Event{e}); err != nil {
		t.Fatal(err)
	}
	got, found, err := s.GetTrace(ctx, "e1")
	if err != nil || !found {
		t.Fatalf("GetTrace: found=%v err=%v", found, err)
	}
	if got.ID != "e1" {
		t.Fatalf("unexpected event: %+v", got)
	}
}

func TestGetTracesByAgentFiltersByID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess, _ := s.CreateSession(ctx, "A", nil)
	events := []types.Event{
		mkEvent("e1", sess.ID, "a1", types.AgentSpawn, 1000),
		mkEvent("e2", sess.ID, "a2", types.AgentSpawn, 1001),
	}
	if err := s.StoreBatch(ctx, events); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetTracesByAgent(ctx, "a1", nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].AgentID != "a1" {
		t.Fatalf("expected only a1's event, got %+v", got)
	}
}

func TestStoreBatchInvalidEventFails(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	err := s.StoreBatch(ctx, []types.Event{{ID: "bad"}})
	if err == nil {
		t.Fatal("expected failure for event missing required fields")
	}
	if errs.KindOf(err) != errs.StorageError {
		t.Fatalf("expected STORAGE_ERROR, got %v", errs.KindOf(err))
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess, _ := s.CreateSession(ctx, "A", nil)
	_ = s.StoreBatch(ctx, []types.Event{mkEvent("e1", sess.ID, "a1", types.AgentSpawn, 1000)})

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.SessionCount != 1 || st.TraceCount != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestRetentionSweepRemovesOldEventsFromClosedSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sess, _ := s.CreateSession(ctx, "A", nil)
	old := mkEvent("old", sess.ID, "a1", types.AgentSpawn, 1)
	if err := s.StoreBatch(ctx, []types.Event{old}); err != nil {
		t.Fatal(err)
	}
	if err := s.CloseSession(ctx, sess.ID, types.SessionCompleted); err != nil {
		t.Fatal(err)
	}

	n, err := s.RunRetentionSweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 event swept, got %d", n)
	}
	got, found, err := s.GetTrace(ctx, "old")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatalf("expected event to be deleted, still found: %+v", got)
	}
}

func mkEvent(id, session, agent string, typ types.EventType, ts int64) types.Event {
	return types.Event{
		ID:        id,
		SessionID: session,
		AgentID:   agent,
		Type:      typ,
		Timestamp: ts,
		Metadata:  types.Metadata{Severity: types.SeverityLow},
	}
}
