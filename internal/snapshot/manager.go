// Package snapshot implements the snapshot manager (C5): full and
// incremental state snapshots, delta computation, compression, retention,
// and search. Grounded on the store package's persistence conventions
// (the teacher has no snapshot concept of its own) and on the pack's use
// of klauspost/compress for size-gated gzip framing.
package snapshot

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brennhill/tracebackbone/internal/codec"
	"github.com/brennhill/tracebackbone/internal/errs"
	"github.com/brennhill/tracebackbone/internal/types"
)

// Store is the persistence dependency the manager reads and writes
// through (satisfied by *store.Store).
type Store interface {
	StoreSnapshot(ctx context.Context, meta types.Snapshot, data []byte) error
	GetSnapshot(ctx context.Context, id string) (types.Snapshot, []byte, bool, error)
	ListSnapshotMeta(ctx context.Context, sessionID string) ([]types.Snapshot, error)
	DeleteSnapshot(ctx context.Context, id string) error
	EvictSnapshots(ctx context.Context, sessionID string, cutoff int64, keepLatest int, taggedIDs map[string]bool) (int64, error)
}

const (
	defaultCompressionThreshold = 1024 // 1 KiB, §4.5
	incrementalSizeRatio        = 0.30 // §4.5 "Incremental policy"
	defaultMaxRetention         = 24 * time.Hour
	defaultMaxPerSession        = 1000
)

// Options configures a Manager.
type Options struct {
	Store                 Store
	CompressionThreshold  int
	MaxRetention          time.Duration
	MaxSnapshotsPerSession int
	Logger                *zap.Logger
}

// CreateOptions parameterizes CreateSnapshot (§4.5).
type CreateOptions struct {
	Tags        []string
	Description string
	ForceFull   bool
}

// Manager is the snapshot manager (C5). Safe for concurrent use across
// sessions; per-session automatic timers are tracked internally.
type Manager struct {
	store  Store
	log    *zap.Logger
	compressionThreshold int
	maxRetention         time.Duration
	maxPerSession        int

	automaticMu sync.Mutex
	automatic   map[string]*automaticTimer
}

// New builds a Manager with defaults applied where opts leaves zero values.
func New(opts Options) *Manager {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	ct := opts.CompressionThreshold
	if ct <= 0 {
		ct = defaultCompressionThreshold
	}
	mr := opts.MaxRetention
	if mr <= 0 {
		mr = defaultMaxRetention
	}
	mps := opts.MaxSnapshotsPerSession
	if mps <= 0 {
		mps = defaultMaxPerSession
	}
	return &Manager{
		store:                opts.Store,
		log:                  log,
		compressionThreshold: ct,
		maxRetention:         mr,
		maxPerSession:        mps,
		automatic:            make(map[string]*automaticTimer),
	}
}

// CreateSnapshot decides full vs incremental, computes a delta against the
// latest full snapshot when that keeps the encoded size under the
// incremental-policy ratio, compresses above the configured threshold,
// and persists metadata plus bytes (§4.5 "create_snapshot").
func (m *Manager) CreateSnapshot(ctx context.Context, sessionID string, state types.SystemState, opts CreateOptions) (string, error) {
	id := uuid.NewString()
	ts := state.Timestamp
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}

	kind := types.SnapshotFull
	var parentID string
	var payload any = state

	if !opts.ForceFull {
		if latestFull, baseState, ok, err := m.latestFullState(ctx, sessionID); err != nil {
			return "", err
		} else if ok {
			delta := types.Diff(baseState, state)
			if worthIncremental(delta, baseState, state) {
				kind = types.SnapshotIncremental
				parentID = latestFull.ID
				payload = delta
			}
		}
	}

	canonical, err := canonicalEncode(payload)
	if err != nil {
		return "", errs.Wrap(errs.SnapshotError, err)
	}
	checksum := codec.Checksum(canonical)

	data := canonical
	compressed := false
	if len(canonical) > m.compressionThreshold {
		gz, err := codec.Gzip(canonical)
		if err != nil {
			return "", errs.Wrap(errs.SnapshotError, err)
		}
		data = gz
		compressed = true
	}

	meta := types.Snapshot{
		ID:          id,
		SessionID:   sessionID,
		Timestamp:   ts,
		Kind:        kind,
		ParentID:    parentID,
		Checksum:    checksum,
		Compressed:  compressed,
		SizeBytes:   int64(len(canonical)),
		EventCursor: ts,
	}
	if kind == types.SnapshotFull {
		s := state
		meta.State = &s
	} else {
		d := payload.(types.Delta)
		meta.Delta = &d
	}

	if err := m.store.StoreSnapshot(ctx, meta, data); err != nil {
		return "", err
	}
	if err := m.enforceRetention(ctx, sessionID, nil); err != nil {
		m.log.Warn("retention enforcement failed after create_snapshot", zap.Error(err))
	}
	return id, nil
}

// worthIncremental applies the 30% size-ratio policy (§4.5 "Incremental
// policy"): an incremental is only worth it when its encoded delta is
// smaller than 30% of the encoded full state, and it must carry some
// change at all.
func worthIncremental(delta types.Delta, base, cur types.SystemState) bool {
	if delta.Empty() {
		return false
	}
	deltaBytes, err1 := canonicalEncode(delta)
	fullBytes, err2 := canonicalEncode(cur)
	if err1 != nil || err2 != nil || len(fullBytes) == 0 {
		return false
	}
	return float64(len(deltaBytes)) < incrementalSizeRatio*float64(len(fullBytes))
}

func canonicalEncode(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return codec.Canonicalize(raw)
}

// GetSnapshot fetches and decodes one snapshot's payload, decompressing
// and verifying its checksum (§3 "Snapshot" invariant: checksum of stored
// bytes must match on read).
func (m *Manager) GetSnapshot(ctx context.Context, id string) (types.Snapshot, error) {
	meta, data, found, err := m.store.GetSnapshot(ctx, id)
	if err != nil {
		return types.Snapshot{}, err
	}
	if !found {
		return types.Snapshot{}, errs.New(errs.SnapshotError, "snapshot %s not found", id)
	}
	canonical := data
	if meta.Compressed {
		canonical, err = codec.Gunzip(data)
		if err != nil {
			return types.Snapshot{}, errs.Wrap(errs.SnapshotError, err)
		}
	}
	if !codec.VerifyChecksum(canonical, meta.Checksum) {
		return types.Snapshot{}, errs.New(errs.SnapshotError, "checksum mismatch for snapshot %s", id)
	}
	if meta.Kind == types.SnapshotFull {
		var s types.SystemState
		if err := json.Unmarshal(canonical, &s); err != nil {
			return types.Snapshot{}, errs.Wrap(errs.SnapshotError, err)
		}
		meta.State = &s
	} else {
		var d types.Delta
		if err := json.Unmarshal(canonical, &d); err != nil {
			return types.Snapshot{}, errs.Wrap(errs.SnapshotError, err)
		}
		meta.Delta = &d
	}
	return meta, nil
}

// FindNearest returns the latest snapshot with timestamp <= t (§4.5
// "find_nearest").
func (m *Manager) FindNearest(ctx context.Context, sessionID string, t int64) (types.Snapshot, bool, error) {
	all, err := m.store.ListSnapshotMeta(ctx, sessionID)
	if err != nil {
		return types.Snapshot{}, false, err
	}
	var best *types.Snapshot
	for i := range all {
		if all[i].Timestamp <= t && (best == nil || all[i].Timestamp > best.Timestamp) {
			best = &all[i]
		}
	}
	if best == nil {
		return types.Snapshot{}, false, nil
	}
	return *best, true, nil
}

// SearchOptions narrows Search (§4.5 "search").
type SearchOptions struct {
	SessionID string
	Tags      []string
	Range     *TimeRange
	Kind      types.SnapshotKind
	Limit     int
	Offset    int
}

// TimeRange bounds a snapshot search.
type TimeRange struct{ Start, End int64 }

// Search returns snapshot metadata matching the given filters, ordered by
// timestamp ascending (§4.5 "search").
func (m *Manager) Search(ctx context.Context, opts SearchOptions) ([]types.Snapshot, error) {
	all, err := m.store.ListSnapshotMeta(ctx, opts.SessionID)
	if err != nil {
		return nil, err
	}
	var out []types.Snapshot
	for _, s := range all {
		if opts.Kind != "" && s.Kind != opts.Kind {
			continue
		}
		if opts.Range != nil && (s.Timestamp < opts.Range.Start || s.Timestamp > opts.Range.End) {
			continue
		}
		out = append(out, s)
	}
	if opts.Offset > 0 && opts.Offset < len(out) {
		out = out[opts.Offset:]
	} else if opts.Offset >= len(out) {
		out = nil
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// latestFullState returns the most recent full snapshot in sessionID and
// its reconstructed state, if any exists.
func (m *Manager) latestFullState(ctx context.Context, sessionID string) (types.Snapshot, types.SystemState, bool, error) {
	all, err := m.store.ListSnapshotMeta(ctx, sessionID)
	if err != nil {
		return types.Snapshot{}, types.SystemState{}, false, err
	}
	var latest *types.Snapshot
	for i := range all {
		if all[i].Kind == types.SnapshotFull && (latest == nil || all[i].Timestamp > latest.Timestamp) {
			latest = &all[i]
		}
	}
	if latest == nil {
		return types.Snapshot{}, types.SystemState{}, false, nil
	}
	full, err := m.GetSnapshot(ctx, latest.ID)
	if err != nil {
		return types.Snapshot{}, types.SystemState{}, false, err
	}
	return full, *full.State, true, nil
}
