package collector

import (
	"sync"

	"github.com/brennhill/tracebackbone/internal/buffers"
	"github.com/brennhill/tracebackbone/internal/types"
)

// defaultMaxEventsPerAgent resolves the two conflicting trim bounds the
// teacher's two updateAgentTrace paths used (.slice(-500) vs
// .slice(-1000)) to a single configurable value, defaulting to the larger
// of the two (§9 Open Questions, SPEC_FULL.md supplement).
const defaultMaxEventsPerAgent = 1000

// agentRecord is the collector's in-memory, non-authoritative per-agent
// state (§3 "Agent aggregate"): the rolling aggregate plus a bounded ring
// of its last N events.
type agentRecord struct {
	agg    types.AgentAggregate
	events *buffers.RingBuffer[types.Event]
}

// aggregateTable tracks one agentRecord per (session, agent), guarded by a
// single lock — §5 describes per-session sharding as the discipline but a
// single short-critical-section map is sufficient at the scale this
// collector targets and keeps the locking model simple to reason about.
type aggregateTable struct {
	mu            sync.Mutex
	records       map[string]*agentRecord // key: session|agent
	maxPerAgent   int
}

func newAggregateTable(maxPerAgent int) *aggregateTable {
	if maxPerAgent <= 0 {
		maxPerAgent = defaultMaxEventsPerAgent
	}
	return &aggregateTable{records: make(map[string]*agentRecord), maxPerAgent: maxPerAgent}
}

func aggregateKey(sessionID, agentID string) string { return sessionID + "|" + agentID }

// Apply folds e into the owning agent's aggregate and event ring,
// creating the record on first sight (AGENT_SPAWN or any other event —
// the collector does not require spawn-before-use since producers may
// join mid-session).
func (t *aggregateTable) Apply(e types.Event) types.AgentAggregate {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := aggregateKey(e.SessionID, e.AgentID)
	rec, ok := t.records[key]
	if !ok {
		rec = &agentRecord{
			agg:    types.AgentAggregate{AgentID: e.AgentID, SessionID: e.SessionID},
			events: buffers.NewRingBuffer[types.Event](t.maxPerAgent),
		}
		t.records[key] = rec
	}
	rec.agg.Apply(e)
	rec.events.WriteOne(e)
	return rec.agg
}

// Get returns the current aggregate for (session, agent), if any.
func (t *aggregateTable) Get(sessionID, agentID string) (types.AgentAggregate, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[aggregateKey(sessionID, agentID)]
	if !ok {
		return types.AgentAggregate{}, false
	}
	return rec.agg, true
}

// RecentEvents returns the last n events recorded for (session, agent).
func (t *aggregateTable) RecentEvents(sessionID, agentID string, n int) []types.Event {
	t.mu.Lock()
	rec, ok := t.records[aggregateKey(sessionID, agentID)]
	t.mu.Unlock()
	if !ok {
		return nil
	}
	return rec.events.ReadLast(n)
}

// Evict removes all state for (session, agent), called on session close
// or TTL expiry (§3 "Agent aggregate": destroyed on session close or TTL").
func (t *aggregateTable) Evict(sessionID, agentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, aggregateKey(sessionID, agentID))
}

// EvictSession removes every agent record belonging to sessionID.
func (t *aggregateTable) EvictSession(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	prefix := sessionID + "|"
	for k := range t.records {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(t.records, k)
		}
	}
}
