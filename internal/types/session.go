package types

// SessionStatus is the lifecycle state of a session (§3, §6).
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionError     SessionStatus = "error"
)

// Session groups events under one logical run (§3 "Session").
type Session struct {
	ID        string            `json:"id"`
	Name      string            `json:"name,omitempty"`
	StartedAt int64             `json:"started_at"`
	EndedAt   *int64            `json:"ended_at,omitempty"`
	Status    SessionStatus     `json:"status"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// AgentState is the agent lifecycle state tracked inside an AgentAggregate
// (§3 "Agent aggregate", derived from AGENT_SPAWN/AGENT_DESTROY and
// TASK_* events).
type AgentState string

const (
	AgentSpawned AgentState = "spawned"
	AgentRunning AgentState = "running"
	AgentIdle    AgentState = "idle"
	AgentFailed  AgentState = "failed"
	AgentDone    AgentState = "done"
)

// AgentAggregate is the collector's running per-agent view, rebuilt by
// folding events in order (§4.4 "aggregate update", §5 reconstruction
// rules reuse the same transition table).
type AgentAggregate struct {
	AgentID        string     `json:"agent_id"`
	SessionID      string     `json:"session_id"`
	State          AgentState `json:"state"`
	EventCount     int64      `json:"event_count"`
	LastEventAt    int64      `json:"last_event_at"`
	CurrentTaskID  string     `json:"current_task_id,omitempty"`
	TasksStarted   int64      `json:"tasks_started"`
	TasksCompleted int64      `json:"tasks_completed"`
	TasksFailed    int64      `json:"tasks_failed"`
}

// Apply folds one event into the aggregate per the state-transition table
// in §5 ("State application rules"). Unknown event types leave state
// untouched but still bump EventCount/LastEventAt.
func (a *AgentAggregate) Apply(e Event) {
	a.EventCount++
	a.LastEventAt = e.Timestamp
	switch e.Type {
	case AgentSpawn:
		a.State = AgentSpawned
	case AgentDestroy:
		a.State = AgentDone
	case TaskStart:
		a.State = AgentRunning
		a.TasksStarted++
		if id, ok := e.Payload["task_id"].(string); ok {
			a.CurrentTaskID = id
		}
	case TaskComplete:
		a.State = AgentIdle
		a.TasksCompleted++
		a.CurrentTaskID = ""
	case TaskFail:
		a.State = AgentFailed
		a.TasksFailed++
		a.CurrentTaskID = ""
	}
}
