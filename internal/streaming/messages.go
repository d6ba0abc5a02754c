// Package streaming implements the streaming server (C7): a long-lived
// bidirectional WebSocket endpoint that authenticates clients, honors
// subscriptions and filters, fans out live events, answers historical and
// time-travel queries, and enforces per-client backpressure and rate
// limits (§4.7). Grounded on the teacher's own use of
// github.com/gorilla/websocket for its live tool-call event stream — the
// most directly-reused teacher dependency in this project.
package streaming

import "encoding/json"

// Inbound client→server control message types (§6).
const (
	MsgSubscribeSession  = "subscribe_session"
	MsgRequestHistory    = "request_history"
	MsgTimeTravel        = "time_travel"
	MsgFilterAgents      = "filter_agents"
	MsgSetBreakpoint     = "set_breakpoint"
	MsgRemoveBreakpoint  = "remove_breakpoint"
	MsgHeartbeat         = "heartbeat"
	MsgAuth              = "auth"
)

// Outbound server→client control message types (§6).
const (
	MsgConnection       = "connection"
	MsgAuthResponse     = "auth_response"
	MsgSessionInfo      = "session_info"
	MsgInitialTraces    = "initial_traces"
	MsgTraceEvent       = "trace_event"
	MsgSystemEvent      = "system_event"
	MsgHistoricalData   = "historical_data"
	MsgTimeTravelState  = "time_travel_state"
	MsgOutboundHeartbeat = "heartbeat"
	MsgError            = "error"
)

// envelope is the wire shape every message (either direction) is framed
// in: a type discriminator plus a raw payload decoded per-type.
type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound payload shapes.

type subscribeSessionPayload struct {
	SessionID string `json:"session_id"`
}

type timeRangePayload struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

type requestHistoryPayload struct {
	TimeRange timeRangePayload `json:"time_range"`
}

type timeTravelPayload struct {
	Timestamp int64 `json:"timestamp"`
}

type filterAgentsPayload struct {
	AgentIDs []string `json:"agent_ids"`
}

type setBreakpointPayload struct {
	TraceID   string `json:"trace_id"`
	Condition string `json:"condition,omitempty"`
}

type removeBreakpointPayload struct {
	TraceID string `json:"trace_id"`
}

type authPayload struct {
	Token string `json:"token"`
}

// Outbound payload shapes.

type serverLimits struct {
	MaxMessageSize int `json:"max_message_size"`
	BatchSize      int `json:"batch_size"`
}

type serverInfo struct {
	Version      string   `json:"version"`
	Capabilities []string `json:"capabilities"`
	Limits       serverLimits `json:"limits"`
}

type connectionPayload struct {
	ClientID   string     `json:"client_id"`
	ServerInfo serverInfo `json:"server_info"`
}

type authResponsePayload struct {
	Authenticated bool `json:"authenticated"`
}

type chunkInfo struct {
	Current int  `json:"current"`
	Total   int  `json:"total"`
	IsLast  bool `json:"is_last"`
}

type historicalDataPayload struct {
	TimeRange timeRangePayload `json:"time_range"`
	Traces    []any            `json:"traces"`
	ChunkInfo chunkInfo        `json:"chunk_info"`
	Total     int              `json:"total"`
}

type timeTravelStatePayload struct {
	Timestamp int64 `json:"timestamp"`
	Traces    []any `json:"traces"`
	Total     int   `json:"total"`
}

type heartbeatPayload struct {
	Timestamp int64 `json:"timestamp"`
	Metrics   any   `json:"metrics,omitempty"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func marshalEnvelope(typ string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: typ, Payload: raw})
}
