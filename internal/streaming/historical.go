package streaming

import (
	"context"
	"time"

	"github.com/brennhill/tracebackbone/internal/store"
	"github.com/brennhill/tracebackbone/internal/types"
)

// EventStore is the subset of the persistent store the streaming server
// reads through to answer request_history and time_travel (satisfied by
// *store.Store).
type EventStore interface {
	GetTracesBySession(ctx context.Context, sessionID string, q store.SessionQuery) ([]types.Event, error)
}

const (
	defaultHistoricalChunkSize = 100 // §4.7 "chunked (default 100 events)"
	pacingDelay                = 10 * time.Millisecond
)

// sendHistory answers request_history: fetch events in the range for the
// client's subscribed session, chunk them, and pace delivery when the
// client's outbound queue is under backpressure (§4.7 "Historical
// queries").
func (s *Server) sendHistory(ctx context.Context, c *Client, sessionID string, rng timeRangePayload) error {
	events, err := s.store.GetTracesBySession(ctx, sessionID, store.SessionQuery{
		Range: &store.TimeRange{Start: rng.Start, End: rng.End},
	})
	if err != nil {
		return err
	}
	return s.deliverChunked(c, events, func(chunk []any, info chunkInfo) ([]byte, error) {
		return marshalEnvelope(MsgHistoricalData, historicalDataPayload{
			TimeRange: rng, Traces: chunk, ChunkInfo: info, Total: len(events),
		})
	})
}

// sendTimeTravel answers time_travel: every event at or before timestamp
// t for the client's subscribed session (§8 Scenario E: events at
// t=100,200,300 with time_travel{t:250} returns [e@100, e@200], total 2).
func (s *Server) sendTimeTravel(ctx context.Context, c *Client, sessionID string, t int64) error {
	events, err := s.store.GetTracesBySession(ctx, sessionID, store.SessionQuery{
		Range: &store.TimeRange{Start: 0, End: t},
	})
	if err != nil {
		return err
	}
	data, err := marshalEnvelope(MsgTimeTravelState, timeTravelStatePayload{
		Timestamp: t, Traces: toAnySlice(events), Total: len(events),
	})
	if err != nil {
		return err
	}
	c.sendRaw(data, types.SeverityLow)
	return nil
}

// deliverChunked splits events into fixed-size chunks and sends each via
// build, pausing briefly between chunks while the client's queue is under
// backpressure so a slow reader never gets overrun (§4.7).
func (s *Server) deliverChunked(c *Client, events []types.Event, build func(chunk []any, info chunkInfo) ([]byte, error)) error {
	chunkSize := s.opts.HistoricalDataLimit
	if chunkSize <= 0 {
		chunkSize = defaultHistoricalChunkSize
	}
	total := (len(events) + chunkSize - 1) / chunkSize
	if total == 0 {
		total = 1
	}
	for i := 0; i < len(events) || i == 0; i += chunkSize {
		end := i + chunkSize
		if end > len(events) {
			end = len(events)
		}
		chunk := toAnySlice(events[i:end])
		current := i/chunkSize + 1
		data, err := build(chunk, chunkInfo{Current: current, Total: total, IsLast: end >= len(events)})
		if err != nil {
			return err
		}
		c.sendRaw(data, types.SeverityLow)
		if end >= len(events) {
			break
		}
		if c.outbound.isBlocked() {
			time.Sleep(pacingDelay)
		}
	}
	return nil
}

func toAnySlice(events []types.Event) []any {
	out := make([]any, len(events))
	for i, e := range events {
		out[i] = e
	}
	return out
}
