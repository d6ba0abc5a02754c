package collector

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/brennhill/tracebackbone/internal/types"
)

type fakeStore struct {
	mu     sync.Mutex
	events []types.Event
	fail   bool
}

func (f *fakeStore) StoreBatch(_ context.Context, events []types.Event) error {
	if f.fail {
		return errFakeStorage
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, events...)
	return nil
}

var errFakeStorage = &fakeErr{"storage unavailable"}

type fakeErr struct{ msg string }

func (e *fakeErr) Error() string { return e.msg }

func newTestCollector(store BatchStore) *Collector {
	return New(Options{
		BufferSize:        10,
		BatchSize:         3,
		SamplingRate:      1.0,
		EventsPerKeyPerSec: 1000,
		Store:             store,
	})
}

func TestScenarioASingleSessionRoundTrip(t *testing.T) {
	store := &fakeStore{}
	c := newTestCollector(store)
	defer c.Shutdown(context.Background())

	draft := func(typ types.EventType, ts int64, taskID string) types.Draft {
		return types.Draft{
			SessionID: "S1", AgentID: "a1", Type: typ, Timestamp: ts,
			Payload: map[string]any{"task_id": taskID},
		}
	}
	if err := c.Collect(draft(types.AgentSpawn, 1000, "")); err != nil {
		t.Fatalf("collect spawn: %v", err)
	}
	if err := c.Collect(draft(types.TaskStart, 1010, "t1")); err != nil {
		t.Fatalf("collect start: %v", err)
	}
	if err := c.Collect(draft(types.TaskComplete, 1050, "t1")); err != nil {
		t.Fatalf("collect complete: %v", err)
	}
	c.Flush(context.Background())

	store.mu.Lock()
	n := len(store.events)
	store.mu.Unlock()
	if n != 3 {
		t.Fatalf("expected 3 stored events, got %d", n)
	}

	agg, ok := c.AgentAggregate("S1", "a1")
	if !ok {
		t.Fatal("expected agent aggregate to exist")
	}
	if agg.State != types.AgentIdle || agg.TasksCompleted != 1 || agg.CurrentTaskID != "" {
		t.Fatalf("unexpected aggregate: %+v", agg)
	}
}

func TestScenarioBDropsSensitiveFields(t *testing.T) {
	store := &fakeStore{}
	c := newTestCollector(store)
	defer c.Shutdown(context.Background())

	longPayload := strings.Repeat("x", 2000)
	err := c.Collect(types.Draft{
		SessionID: "S1", AgentID: "a1", Type: types.TaskStart, Timestamp: 2000,
		Payload: map[string]any{"password": "hunter2", "payload": longPayload},
	})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	c.Flush(context.Background())

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.events) != 1 {
		t.Fatalf("expected 1 stored event, got %d", len(store.events))
	}
	e := store.events[0]
	if e.Payload["password"] != "[REDACTED]" {
		t.Fatalf("expected password redacted, got %v", e.Payload["password"])
	}
	got := e.Payload["payload"].(string)
	if len(got) != 1015 || !strings.HasSuffix(got, " ... [TRUNCATED]") {
		t.Fatalf("expected truncated payload of length 1015, got length %d: %q", len(got), got[max(0, len(got)-30):])
	}
}

func TestCollectInvalidDraftIncrementsDropped(t *testing.T) {
	c := newTestCollector(&fakeStore{})
	defer c.Shutdown(context.Background())

	before := c.Metrics().Dropped
	if err := c.Collect(types.Draft{}); err == nil {
		t.Fatal("expected error for invalid draft")
	}
	after := c.Metrics().Dropped
	if after != before+1 {
		t.Fatalf("expected dropped to increase by exactly 1, got %d -> %d", before, after)
	}
}

func TestStartCompleteTraceComputesDuration(t *testing.T) {
	store := &fakeStore{}
	c := newTestCollector(store)
	defer c.Shutdown(context.Background())

	if err := c.StartTrace("trace1", types.TaskStart, "a1", "S1", nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.CompleteTrace("trace1", nil); err != nil {
		t.Fatalf("complete: %v", err)
	}
	c.Flush(context.Background())

	store.mu.Lock()
	defer store.mu.Unlock()
	found := false
	for _, e := range store.events {
		if e.Phase == types.PhaseComplete && e.Performance != nil {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a complete event with a performance record")
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
