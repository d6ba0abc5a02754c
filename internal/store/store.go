package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/brennhill/tracebackbone/internal/codec"
	"github.com/brennhill/tracebackbone/internal/errs"
	"github.com/brennhill/tracebackbone/internal/types"
)

// Store is the durable session/event/snapshot store (C2). Safe for
// concurrent use; the underlying *sql.DB pools its own connections.
type Store struct {
	db  *sql.DB
	log *zap.Logger

	sessionSeq    atomic.Int64
	retentionDef  time.Duration
	retentionErr  time.Duration
}

// Options configures a new Store.
type Options struct {
	// Path is the sqlite3 DSN, e.g. "traceback.db" or ":memory:".
	Path string
	// RetentionDefault is how long non-error events are kept (§4.2).
	RetentionDefault time.Duration
	// RetentionError is how long error-phase events are kept; zero means
	// "same as RetentionDefault".
	RetentionError time.Duration
	Logger         *zap.Logger
}

// Open opens (creating if absent) the sqlite database at opts.Path and
// initializes the schema. Connection pool tuning mirrors the
// write-ahead-log setup grounded on the pack's sqlite event store.
func Open(opts Options) (*Store, error) {
	dsn := opts.Path + "?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errs.Wrap(errs.StorageError, fmt.Errorf("open %s: %w", opts.Path, err))
	}
	db.SetMaxOpenConns(1) // sqlite3 driver: one writer connection avoids SQLITE_BUSY under WAL
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errs.Wrap(errs.StorageError, fmt.Errorf("init schema: %w", err))
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	retErr := opts.RetentionError
	if retErr == 0 {
		retErr = opts.RetentionDefault
	}
	return &Store{
		db:           db,
		log:          log,
		retentionDef: opts.RetentionDefault,
		retentionErr: retErr,
	}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// CreateSession assigns a monotonic id and persists a new active session
// (§4.2 "create_session").
func (s *Store) CreateSession(ctx context.Context, name string, labels map[string]string) (types.Session, error) {
	seq := s.sessionSeq.Add(1)
	sess := types.Session{
		ID:        fmt.Sprintf("sess-%d-%d", time.Now().UnixNano(), seq),
		Name:      name,
		StartedAt: time.Now().UnixMilli(),
		Status:    types.SessionActive,
		Labels:    labels,
	}
	labelJSON, err := json.Marshal(labels)
	if err != nil {
		return types.Session{}, errs.Wrap(errs.StorageError, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, name, started_at, status, labels) VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.Name, sess.StartedAt, sess.Status, string(labelJSON))
	if err != nil {
		return types.Session{}, errs.Wrap(errs.StorageError, err)
	}
	return sess, nil
}

// CloseSession marks a session completed or errored and sets its end time
// (supplemented API, see SPEC_FULL.md — mirrors the collector/reconstructor
// needing an authoritative place to end a session's lifecycle).
func (s *Store) CloseSession(ctx context.Context, id string, status types.SessionStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, ended_at = ? WHERE id = ?`,
		status, time.Now().UnixMilli(), id)
	if err != nil {
		return errs.Wrap(errs.StorageError, err)
	}
	return nil
}

// GetSession fetches one session by id.
func (s *Store) GetSession(ctx context.Context, id string) (types.Session, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, started_at, ended_at, status, labels FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return types.Session{}, false, nil
	}
	if err != nil {
		return types.Session{}, false, errs.Wrap(errs.StorageError, err)
	}
	return sess, true, nil
}

func scanSession(row *sql.Row) (types.Session, error) {
	var sess types.Session
	var ended sql.NullInt64
	var labelJSON sql.NullString
	if err := row.Scan(&sess.ID, &sess.Name, &sess.StartedAt, &ended, &sess.Status, &labelJSON); err != nil {
		return types.Session{}, err
	}
	if ended.Valid {
		v := ended.Int64
		sess.EndedAt = &v
	}
	if labelJSON.Valid && labelJSON.String != "" {
		_ = json.Unmarshal([]byte(labelJSON.String), &sess.Labels)
	}
	return sess, nil
}

// StoreBatch persists events atomically: all rows in a single transaction,
// all-or-nothing (§4.2 "store_batch").
func (s *Store) StoreBatch(ctx context.Context, events []types.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Wrap(errs.StorageError, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (id, session_id, agent_id, parent_event_id, correlation_id, type, phase, timestamp, severity, canonical_json, checksum)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errs.Wrap(errs.StorageError, err)
	}
	defer stmt.Close()

	for _, e := range events {
		canonical, err := codec.Encode(e)
		if err != nil {
			return errs.Wrap(errs.StorageError, fmt.Errorf("encode event %s: %w", e.ID, err))
		}
		checksum := codec.Checksum(canonical)
		_, err = stmt.ExecContext(ctx, e.ID, e.SessionID, e.AgentID, e.ParentEventID, e.CorrelationID,
			e.Type, e.Phase, e.Timestamp, e.Metadata.Severity, canonical, checksum)
		if err != nil {
			return errs.Wrap(errs.StorageError, fmt.Errorf("insert event %s: %w", e.ID, err))
		}
	}
	if err := tx.Commit(); err != nil {
		return errs.Wrap(errs.StorageError, err)
	}
	return nil
}

// GetTrace fetches one event by id (§4.2 "get_trace").
func (s *Store) GetTrace(ctx context.Context, id string) (types.Event, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT canonical_json, checksum FROM events WHERE id = ?`, id)
	e, found, err := scanEventRow(row)
	if err != nil || !found {
		return types.Event{}, found, err
	}
	return e, true, nil
}

func scanEventRow(row *sql.Row) (types.Event, bool, error) {
	var canonical []byte
	var checksum string
	if err := row.Scan(&canonical, &checksum); err == sql.ErrNoRows {
		return types.Event{}, false, nil
	} else if err != nil {
		return types.Event{}, false, errs.Wrap(errs.StorageError, err)
	}
	if !codec.VerifyChecksum(canonical, checksum) {
		return types.Event{}, false, errs.New(errs.StorageError, "checksum mismatch on read")
	}
	e, err := codec.Decode(canonical)
	if err != nil {
		return types.Event{}, false, err
	}
	return e, true, nil
}

// TimeRange bounds a query inclusive of Start, exclusive of End when End
// is non-zero (matches the retention sweeper's "<" boundary decision,
// SPEC_FULL.md Open Questions).
type TimeRange struct {
	Start int64
	End   int64
}

// SessionQuery narrows get_traces_by_session (§4.2).
type SessionQuery struct {
	Range      *TimeRange
	EventTypes []types.EventType
	Limit      int
}

// GetTracesBySession returns events for a session ordered by timestamp
// ascending (§4.2, invariant 3 in §8).
func (s *Store) GetTracesBySession(ctx context.Context, sessionID string, q SessionQuery) ([]types.Event, error) {
	query := `SELECT canonical_json, checksum FROM events WHERE session_id = ?`
	args := []any{sessionID}
	if q.Range != nil {
		query += ` AND timestamp > ? AND timestamp <= ?`
		args = append(args, q.Range.Start, q.Range.End)
	}
	query += ` ORDER BY timestamp ASC, id ASC`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}
	events, err := s.queryEvents(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(q.EventTypes) > 0 {
		events = filterByType(events, q.EventTypes)
	}
	return events, nil
}

// GetTracesByAgent returns events for one agent ordered by timestamp
// ascending (§4.2 "get_traces_by_agent").
func (s *Store) GetTracesByAgent(ctx context.Context, agentID string, r *TimeRange, limit int) ([]types.Event, error) {
	query := `SELECT canonical_json, checksum FROM events WHERE agent_id = ?`
	args := []any{agentID}
	if r != nil {
		query += ` AND timestamp > ? AND timestamp <= ?`
		args = append(args, r.Start, r.End)
	}
	query += ` ORDER BY timestamp ASC, id ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryEvents(ctx, query, args...)
}

// GetTracesByTimeRange returns events across all sessions in the range,
// optionally restricted to a set of agent ids (§4.2 "get_traces_by_time_range").
func (s *Store) GetTracesByTimeRange(ctx context.Context, r TimeRange, agentIDs []string) ([]types.Event, error) {
	query := `SELECT canonical_json, checksum FROM events WHERE timestamp > ? AND timestamp <= ?`
	args := []any{r.Start, r.End}
	events, err := s.queryEvents(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(agentIDs) > 0 {
		set := make(map[string]bool, len(agentIDs))
		for _, id := range agentIDs {
			set[id] = true
		}
		filtered := events[:0]
		for _, e := range events {
			if set[e.AgentID] {
				filtered = append(filtered, e)
			}
		}
		events = filtered
	}
	return events, nil
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]types.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Wrap(errs.StorageError, err)
	}
	defer rows.Close()

	var events []types.Event
	for rows.Next() {
		var canonical []byte
		var checksum string
		if err := rows.Scan(&canonical, &checksum); err != nil {
			return nil, errs.Wrap(errs.StorageError, err)
		}
		if !codec.VerifyChecksum(canonical, checksum) {
			return nil, errs.New(errs.StorageError, "checksum mismatch on read")
		}
		e, err := codec.Decode(canonical)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.StorageError, err)
	}
	return events, nil
}

func filterByType(events []types.Event, types_ []types.EventType) []types.Event {
	set := make(map[types.EventType]bool, len(types_))
	for _, t := range types_ {
		set[t] = true
	}
	out := events[:0]
	for _, e := range events {
		if set[e.Type] {
			out = append(out, e)
		}
	}
	return out
}

// Stats reports aggregate counts (§4.2 "stats").
type Stats struct {
	SessionCount int64
	TraceCount   int64
	TotalBytes   int64
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`)
	if err := row.Scan(&st.SessionCount); err != nil {
		return Stats{}, errs.Wrap(errs.StorageError, err)
	}
	row = s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(LENGTH(canonical_json)), 0) FROM events`)
	if err := row.Scan(&st.TraceCount, &st.TotalBytes); err != nil {
		return Stats{}, errs.Wrap(errs.StorageError, err)
	}
	var snapBytes int64
	row = s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(size_bytes), 0) FROM snapshots`)
	if err := row.Scan(&snapBytes); err != nil {
		return Stats{}, errs.Wrap(errs.StorageError, err)
	}
	st.TotalBytes += snapBytes
	return st, nil
}

// RunRetentionSweep deletes events older than the configured retention,
// excluding events belonging to a still-active session (§4.2 "Retention").
// The boundary is exclusive ("<", per the resolved Open Question).
func (s *Store) RunRetentionSweep(ctx context.Context) (int64, error) {
	now := time.Now().UnixMilli()
	defaultCutoff := now - s.retentionDef.Milliseconds()
	errorCutoff := now - s.retentionErr.Milliseconds()

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM events
		WHERE session_id IN (SELECT id FROM sessions WHERE status != ?)
		AND (
			(phase != 'error' AND timestamp < ?)
			OR (phase = 'error' AND timestamp < ?)
		)`, types.SessionActive, defaultCutoff, errorCutoff)
	if err != nil {
		return 0, errs.Wrap(errs.StorageError, err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.log.Info("retention sweep removed events", zap.Int64("count", n))
	}
	return n, nil
}
