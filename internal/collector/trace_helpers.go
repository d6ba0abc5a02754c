package collector

import (
	"time"

	"github.com/google/uuid"

	"github.com/brennhill/tracebackbone/internal/errs"
	"github.com/brennhill/tracebackbone/internal/types"
)

// StartTrace emits a `start` phase event and remembers it so a later
// CompleteTrace/ErrorTrace call can compute duration (§4.4
// "start_trace/complete_trace/error_trace").
func (c *Collector) StartTrace(traceID string, typ types.EventType, agentID, sessionID string, data map[string]any) error {
	if traceID == "" {
		traceID = uuid.NewString()
	}
	e := types.Draft{
		ID:        traceID,
		SessionID: sessionID,
		AgentID:   agentID,
		Type:      typ,
		Phase:     types.PhaseStart,
		Payload:   data,
		Timestamp: time.Now().UnixMilli(),
	}
	filled := fillDefaults(e)

	c.startedMu.Lock()
	c.started[traceID] = filled
	c.startedMu.Unlock()

	return c.Collect(e)
}

// CompleteTrace emits a `complete` event for traceID, deriving duration
// by subtracting the opening event's timestamp.
func (c *Collector) CompleteTrace(traceID string, result map[string]any) error {
	opening, ok := c.takeStarted(traceID)
	if !ok {
		return errs.New(errs.InvalidEvent, "complete_trace: no open trace %s", traceID)
	}
	now := time.Now().UnixMilli()
	perf := &types.Performance{DurationMs: now - opening.Timestamp}
	d := types.Draft{
		ID:            uuid.NewString(),
		SessionID:     opening.SessionID,
		AgentID:       opening.AgentID,
		ParentEventID: opening.ID,
		CorrelationID: opening.CorrelationID,
		Type:          opening.Type,
		Phase:         types.PhaseComplete,
		Payload:       result,
		Timestamp:     now,
		Performance:   perf,
	}
	return c.Collect(d)
}

// ErrorTrace emits an `error` event for traceID carrying the failure.
func (c *Collector) ErrorTrace(traceID string, cause error) error {
	opening, ok := c.takeStarted(traceID)
	if !ok {
		return errs.New(errs.InvalidEvent, "error_trace: no open trace %s", traceID)
	}
	now := time.Now().UnixMilli()
	perf := &types.Performance{DurationMs: now - opening.Timestamp}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	d := types.Draft{
		ID:            uuid.NewString(),
		SessionID:     opening.SessionID,
		AgentID:       opening.AgentID,
		ParentEventID: opening.ID,
		CorrelationID: opening.CorrelationID,
		Type:          opening.Type,
		Phase:         types.PhaseError,
		Payload:       map[string]any{"error": msg},
		Timestamp:     now,
		Performance:   perf,
		Metadata:      types.Metadata{Severity: types.SeverityHigh},
	}
	return c.Collect(d)
}

func (c *Collector) takeStarted(traceID string) (types.Event, bool) {
	c.startedMu.Lock()
	defer c.startedMu.Unlock()
	e, ok := c.started[traceID]
	if ok {
		delete(c.started, traceID)
	}
	return e, ok
}
