package reconstruct

import (
	"context"

	"github.com/brennhill/tracebackbone/internal/types"
)

// Predicate evaluates a system state and reports whether some condition
// holds.
type Predicate func(types.SystemState) bool

// Origin is the event at which a predicate transitioned from false to true.
type Origin struct {
	Timestamp int64
	Event     types.Event
}

// FindConditionOrigin performs a linear forward scan over a session's
// events up to t_max, evaluating predicate on the state immediately before
// and after each event, and returns the first event at which the predicate
// transitions from false to true (§4.6 "find_condition_origin", §8
// invariant 7: returns the *earliest* such transition, or nil).
func (r *Reconstructor) FindConditionOrigin(ctx context.Context, sessionID string, predicate Predicate, tMax int64) (*Origin, error) {
	base, since, err := r.baseState(ctx, sessionID, 0)
	if err != nil {
		return nil, err
	}
	events, err := r.store.GetTracesBySession(ctx, sessionID, SessionQuery{
		Range: &TimeRange{Start: since, End: tMax},
	})
	if err != nil {
		return nil, err
	}
	sortEvents(events)

	state := base
	for _, e := range events {
		before := predicate(state)
		state.Apply(e)
		after := predicate(state)
		if !before && after {
			return &Origin{Timestamp: e.Timestamp, Event: e}, nil
		}
	}
	return nil, nil
}
