// Package types defines the canonical data model shared by every
// subsystem: events, sessions, snapshots, and system state. Mirrors the
// teacher's internal/types package in spirit (a small, dependency-light
// layer everything else imports) but the shapes themselves come straight
// out of spec.md §3.
package types

// EventType is the closed enumeration of wire event types (spec §6).
type EventType string

const (
	AgentSpawn        EventType = "AGENT_SPAWN"
	AgentDestroy      EventType = "AGENT_DESTROY"
	TaskStart         EventType = "TASK_START"
	TaskComplete      EventType = "TASK_COMPLETE"
	TaskFail          EventType = "TASK_FAIL"
	MessageSend       EventType = "MESSAGE_SEND"
	MessageReceive    EventType = "MESSAGE_RECEIVE"
	StateChange       EventType = "STATE_CHANGE"
	CoordinationEvent EventType = "COORDINATION_EVENT"
	PerformanceMetric EventType = "PERFORMANCE_METRIC"
)

// validEventTypes backs IsValidEventType without allocating per call.
var validEventTypes = map[EventType]bool{
	AgentSpawn: true, AgentDestroy: true,
	TaskStart: true, TaskComplete: true, TaskFail: true,
	MessageSend: true, MessageReceive: true,
	StateChange: true, CoordinationEvent: true, PerformanceMetric: true,
}

// IsValidEventType reports whether t is one of the closed enum values.
func IsValidEventType(t EventType) bool { return validEventTypes[t] }

// Phase is the event lifecycle phase.
type Phase string

const (
	PhaseStart    Phase = "start"
	PhaseProgress Phase = "progress"
	PhaseComplete Phase = "complete"
	PhaseError    Phase = "error"
)

// Severity ranks event importance; Critical bypasses sampling (§4.3, §8.8).
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityRank orders severities for floor comparisons in the filter (C3)
// and for backpressure's "drop lowest severity" rule (C4 step 6, C7).
var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// RankOf returns the ordinal rank of a severity; unknown values rank below
// "low" so malformed input never outranks a real severity floor.
func RankOf(s Severity) int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// Metadata carries the fixed, indexed key set described in §3 plus the
// tag list; payload contents beyond these fixed keys are never indexed
// (Non-goals, §1).
type Metadata struct {
	Source   string   `json:"source,omitempty"`
	Severity Severity `json:"severity"`
	Tags     []string `json:"tags,omitempty"`
}

// Performance is the optional performance record attached to an event.
type Performance struct {
	DurationMs    int64    `json:"duration_ms,omitempty"`
	MemoryBytes   int64    `json:"memory_bytes,omitempty"`
	CPUMicros     int64    `json:"cpu_micros,omitempty"`
	TokenCount    *int64   `json:"token_count,omitempty"`
	NetLatencyMs  *int64   `json:"net_latency_ms,omitempty"`
}

// Event is the immutable atomic record described in spec.md §3.
//
// Timestamp is milliseconds since the epoch (monotonic within a session,
// per-agent — see §5 "Ordering guarantees"). Payload is a schemaless
// key→value map; unknown keys are preserved verbatim by the codec (§4.1,
// Design Notes "Dynamic payload").
type Event struct {
	ID            string         `json:"id"`
	Timestamp     int64          `json:"timestamp"`
	SessionID     string         `json:"session_id"`
	AgentID       string         `json:"agent_id,omitempty"`
	ParentEventID string         `json:"parent_event_id,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Type          EventType      `json:"type"`
	Phase         Phase          `json:"phase,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	Metadata      Metadata       `json:"metadata"`
	Performance   *Performance   `json:"performance,omitempty"`
}

// Clone returns a deep-enough copy of e: the payload map and tag slice are
// copied so a caller mutating the clone never touches shared state (the
// reconstructor and collector both hand events to callers that may retain
// them past the lock that protected the original).
func (e Event) Clone() Event {
	c := e
	if e.Payload != nil {
		c.Payload = make(map[string]any, len(e.Payload))
		for k, v := range e.Payload {
			c.Payload[k] = v
		}
	}
	if e.Metadata.Tags != nil {
		c.Metadata.Tags = append([]string(nil), e.Metadata.Tags...)
	}
	if e.Performance != nil {
		p := *e.Performance
		c.Performance = &p
	}
	return c
}

// Draft is the caller-supplied shape for Collector.Collect before the
// pipeline fills in defaults (id, timestamp, correlation id — §4.4 step 1).
// A Draft is valid iff it has a non-empty Type, AgentID, and SessionID.
type Draft struct {
	ID            string
	Timestamp     int64
	SessionID     string
	AgentID       string
	ParentEventID string
	CorrelationID string
	Type          EventType
	Phase         Phase
	Payload       map[string]any
	Metadata      Metadata
	Performance   *Performance
}

// Valid reports whether the draft carries the three required fields
// (§4.4 "collect").
func (d Draft) Valid() bool {
	return d.Type != "" && d.AgentID != "" && d.SessionID != ""
}
