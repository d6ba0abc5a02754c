// Package reconstruct implements the state reconstructor (C6): replaying
// ordered events over a base state to answer historical queries, backed by
// an LRU cache over (session, timestamp) and composing the store and
// snapshot manager rather than owning persistence itself (§4.6).
package reconstruct

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/brennhill/tracebackbone/internal/store"
	"github.com/brennhill/tracebackbone/internal/types"
)

// EventStore is the subset of the persistent store the reconstructor reads
// through (satisfied by *store.Store).
type EventStore interface {
	GetTracesBySession(ctx context.Context, sessionID string, q store.SessionQuery) ([]types.Event, error)
}

// SessionQuery is an alias of store.SessionQuery so callers in this package
// don't need to import internal/store directly.
type SessionQuery = store.SessionQuery

// TimeRange is an alias of store.TimeRange.
type TimeRange = store.TimeRange

// SnapshotSource is the subset of the snapshot manager the reconstructor
// reads through (satisfied by *snapshot.Manager).
type SnapshotSource interface {
	FindNearest(ctx context.Context, sessionID string, t int64) (types.Snapshot, bool, error)
	Reconstruct(ctx context.Context, snap types.Snapshot) (types.SystemState, error)
}

// Reconstructor is the state reconstructor (C6).
type Reconstructor struct {
	store     EventStore
	snapshots SnapshotSource
	cache     *stateCache
	log       *zap.Logger
}

// Options configures a Reconstructor.
type Options struct {
	Store         EventStore
	Snapshots     SnapshotSource
	CacheCapacity int
	Logger        *zap.Logger
}

// New builds a Reconstructor.
func New(opts Options) *Reconstructor {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconstructor{
		store:     opts.Store,
		snapshots: opts.Snapshots,
		cache:     newStateCache(opts.CacheCapacity),
		log:       log,
	}
}

// Reconstruct fetches the nearest snapshot at or before t (or starts from
// an empty state if none exists), fetches events in (snapshot.ts, t], and
// applies them in timestamp order, ties broken by event id (§4.6
// "reconstruct", §8 invariant 6: deterministic for fixed (session, t)).
func (r *Reconstructor) Reconstruct(ctx context.Context, sessionID string, t int64) (types.SystemState, error) {
	if cached, ok := r.cache.get(sessionID, t); ok {
		return cached.(types.SystemState).Clone(), nil
	}

	base, since, err := r.baseState(ctx, sessionID, t)
	if err != nil {
		return types.SystemState{}, err
	}

	events, err := r.store.GetTracesBySession(ctx, sessionID, SessionQuery{
		Range: &TimeRange{Start: since, End: t},
	})
	if err != nil {
		return types.SystemState{}, err
	}
	sortEvents(events)

	state := base
	for _, e := range events {
		state.Apply(e)
	}
	if state.Timestamp < t {
		state.Timestamp = t
	}

	r.cache.put(sessionID, t, state.Clone())
	return state, nil
}

// baseState resolves the starting state and the event-window lower bound
// (exclusive) for a reconstruction at timestamp t: the nearest snapshot's
// state and its timestamp, or an empty state and 0 if no snapshot exists.
func (r *Reconstructor) baseState(ctx context.Context, sessionID string, t int64) (types.SystemState, int64, error) {
	if r.snapshots == nil {
		return types.NewSystemState(sessionID, types.Session{ID: sessionID}), 0, nil
	}
	snap, ok, err := r.snapshots.FindNearest(ctx, sessionID, t)
	if err != nil {
		return types.SystemState{}, 0, err
	}
	if !ok {
		return types.NewSystemState(sessionID, types.Session{ID: sessionID}), 0, nil
	}
	state, err := r.snapshots.Reconstruct(ctx, snap)
	if err != nil {
		return types.SystemState{}, 0, err
	}
	return state, snap.Timestamp, nil
}

// Diff reconstructs state at two timestamps and returns the delta between
// them (§4.6 "diff").
func (r *Reconstructor) Diff(ctx context.Context, sessionID string, t1, t2 int64) (types.Delta, error) {
	s1, err := r.Reconstruct(ctx, sessionID, t1)
	if err != nil {
		return types.Delta{}, err
	}
	s2, err := r.Reconstruct(ctx, sessionID, t2)
	if err != nil {
		return types.Delta{}, err
	}
	return types.Diff(s1, s2), nil
}

// ReplayCallback receives the state immediately after applying one event.
type ReplayCallback func(state types.SystemState, event types.Event) error

// Replay yields (state_after_event, event) for every event in the session
// between the range's bounds, in order (§4.6 "replay").
func (r *Reconstructor) Replay(ctx context.Context, sessionID string, rng TimeRange, cb ReplayCallback) error {
	base, since, err := r.baseState(ctx, sessionID, rng.Start)
	if err != nil {
		return err
	}
	events, err := r.store.GetTracesBySession(ctx, sessionID, SessionQuery{
		Range: &TimeRange{Start: since, End: rng.End},
	})
	if err != nil {
		return err
	}
	sortEvents(events)

	state := base
	for _, e := range events {
		if e.Timestamp <= rng.Start {
			state.Apply(e)
			continue
		}
		state.Apply(e)
		if err := cb(state.Clone(), e); err != nil {
			return err
		}
	}
	return nil
}

// InvalidateSession drops every cached reconstruction for sessionID; call
// when new events land for the session (§4.6 cache invalidation scheme).
func (r *Reconstructor) InvalidateSession(sessionID string) {
	r.cache.invalidateSession(sessionID)
}

// sortEvents orders events by (timestamp, id), the tie-break rule applied
// throughout state reconstruction (§5 "ordering guarantees").
func sortEvents(events []types.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Timestamp != events[j].Timestamp {
			return events[i].Timestamp < events[j].Timestamp
		}
		return events[i].ID < events[j].ID
	})
}
