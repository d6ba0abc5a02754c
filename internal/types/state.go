package types

// SystemState is the fully reconstructed view of a session at a point in
// time: every agent aggregate and the session record itself (§3 "System
// state", §5 "reconstruct").
type SystemState struct {
	SessionID string                    `json:"session_id"`
	Timestamp int64                     `json:"timestamp"`
	Session   Session                   `json:"session"`
	Agents    map[string]AgentAggregate `json:"agents"`
}

// Clone deep-copies the state so a cached copy handed to a caller can't
// be mutated by later event application (the reconstructor's LRU cache
// always returns a Clone, never the cached value itself).
func (s SystemState) Clone() SystemState {
	c := s
	c.Agents = make(map[string]AgentAggregate, len(s.Agents))
	for k, v := range s.Agents {
		c.Agents[k] = v
	}
	if s.Session.Labels != nil {
		c.Session.Labels = make(map[string]string, len(s.Session.Labels))
		for k, v := range s.Session.Labels {
			c.Session.Labels[k] = v
		}
	}
	return c
}

// NewSystemState returns an empty state for a session, the starting point
// reconstruction folds events into.
func NewSystemState(sessionID string, session Session) SystemState {
	return SystemState{
		SessionID: sessionID,
		Session:   session,
		Agents:    make(map[string]AgentAggregate),
	}
}

// Apply folds one event into the state: it updates (or creates) the
// relevant agent aggregate and advances Timestamp. STATE_CHANGE and
// COORDINATION_EVENT and PERFORMANCE_METRIC events update bookkeeping
// only and never change agent lifecycle state (§5 state-application
// rules table).
func (s *SystemState) Apply(e Event) {
	if e.Timestamp > s.Timestamp {
		s.Timestamp = e.Timestamp
	}
	if e.AgentID == "" {
		return
	}
	agg, ok := s.Agents[e.AgentID]
	if !ok {
		agg = AgentAggregate{AgentID: e.AgentID, SessionID: e.SessionID}
	}
	agg.Apply(e)
	s.Agents[e.AgentID] = agg
}

// Diff computes the Delta needed to turn prev into s (§5 "Delta
// computation"): agents/sessions present in s but not prev are added,
// present in both but differing are updated, present in prev but not s
// are removed.
func Diff(prev, cur SystemState) Delta {
	d := Delta{
		AgentsAdded:   map[string]AgentAggregate{},
		AgentsUpdated: map[string]AgentAggregate{},
	}
	for id, agg := range cur.Agents {
		if old, ok := prev.Agents[id]; !ok {
			d.AgentsAdded[id] = agg
		} else if old != agg {
			d.AgentsUpdated[id] = agg
		}
	}
	for id := range prev.Agents {
		if _, ok := cur.Agents[id]; !ok {
			d.AgentsRemoved = append(d.AgentsRemoved, id)
		}
	}
	if sessionChanged(prev.Session, cur.Session) {
		d.SessionsUpdated = map[string]Session{cur.Session.ID: cur.Session}
	}
	if len(d.AgentsAdded) == 0 {
		d.AgentsAdded = nil
	}
	if len(d.AgentsUpdated) == 0 {
		d.AgentsUpdated = nil
	}
	return d
}

// sessionChanged reports whether the session record itself changed
// between two states; Session.Labels is a map so the struct isn't
// comparable with == directly.
func sessionChanged(a, b Session) bool {
	if a.ID != b.ID || a.Name != b.Name || a.StartedAt != b.StartedAt ||
		a.Status != b.Status {
		return true
	}
	if (a.EndedAt == nil) != (b.EndedAt == nil) {
		return true
	}
	if a.EndedAt != nil && b.EndedAt != nil && *a.EndedAt != *b.EndedAt {
		return true
	}
	if len(a.Labels) != len(b.Labels) {
		return true
	}
	for k, v := range a.Labels {
		if b.Labels[k] != v {
			return true
		}
	}
	return false
}

// ApplyDelta folds a Delta onto a base state to produce the next state,
// the inverse of Diff, used when resolving an incremental snapshot chain
// (§5 "reconstruct via snapshot + delta chain").
func ApplyDelta(base SystemState, d Delta) SystemState {
	out := base.Clone()
	for id, agg := range d.AgentsAdded {
		out.Agents[id] = agg
	}
	for id, agg := range d.AgentsUpdated {
		out.Agents[id] = agg
	}
	for _, id := range d.AgentsRemoved {
		delete(out.Agents, id)
	}
	for _, sess := range d.SessionsUpdated {
		out.Session = sess
	}
	for _, sess := range d.SessionsAdded {
		out.Session = sess
	}
	return out
}
