package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/brennhill/tracebackbone/internal/errs"
	"github.com/brennhill/tracebackbone/internal/types"
)

// StoreSnapshot persists snapshot metadata and its serialized bytes
// (§4.2 "store_snapshot", §4.5 "create_snapshot").
func (s *Store) StoreSnapshot(ctx context.Context, meta types.Snapshot, data []byte) error {
	var expires sql.NullInt64
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO snapshots
		(id, session_id, timestamp, kind, parent_id, tags, description, compressed, size_bytes, checksum, created_at, expires_at, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		meta.ID, meta.SessionID, meta.Timestamp, meta.Kind, meta.ParentID,
		"", "", boolToInt(meta.Compressed), meta.SizeBytes, meta.Checksum,
		time.Now().UnixMilli(), expires, data)
	if err != nil {
		return errs.Wrap(errs.SnapshotError, err)
	}
	return nil
}

// GetSnapshot fetches a snapshot's metadata and raw bytes by id
// (§4.2 "get_snapshot"). The caller (snapshot manager) is responsible for
// decompressing/decoding Data and verifying the checksum — the store does
// not interpret snapshot contents.
func (s *Store) GetSnapshot(ctx context.Context, id string) (types.Snapshot, []byte, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, timestamp, kind, parent_id, compressed, size_bytes, checksum, data
		FROM snapshots WHERE id = ?`, id)

	var meta types.Snapshot
	var compressed int
	var data []byte
	err := row.Scan(&meta.ID, &meta.SessionID, &meta.Timestamp, &meta.Kind, &meta.ParentID,
		&compressed, &meta.SizeBytes, &meta.Checksum, &data)
	if err == sql.ErrNoRows {
		return types.Snapshot{}, nil, false, nil
	}
	if err != nil {
		return types.Snapshot{}, nil, false, errs.Wrap(errs.SnapshotError, err)
	}
	meta.Compressed = compressed != 0
	return meta, data, true, nil
}

// DeleteSnapshot removes a snapshot by id (§4.2 "delete_snapshot").
func (s *Store) DeleteSnapshot(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ?`, id)
	if err != nil {
		return errs.Wrap(errs.SnapshotError, err)
	}
	return nil
}

// ListSnapshotMeta returns lightweight metadata for every snapshot in a
// session ordered by timestamp ascending, used by the snapshot manager's
// find_nearest/search/retention-sweep operations without pulling bytes
// for every row.
func (s *Store) ListSnapshotMeta(ctx context.Context, sessionID string) ([]types.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, timestamp, kind, parent_id, compressed, size_bytes, checksum, created_at, expires_at
		FROM snapshots WHERE session_id = ? ORDER BY timestamp ASC`, sessionID)
	if err != nil {
		return nil, errs.Wrap(errs.SnapshotError, err)
	}
	defer rows.Close()

	var out []types.Snapshot
	for rows.Next() {
		var m types.Snapshot
		var compressed int
		var createdAt int64
		var expires sql.NullInt64
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Timestamp, &m.Kind, &m.ParentID,
			&compressed, &m.SizeBytes, &m.Checksum, &createdAt, &expires); err != nil {
			return nil, errs.Wrap(errs.SnapshotError, err)
		}
		m.Compressed = compressed != 0
		out = append(out, m)
	}
	return out, rows.Err()
}

// EvictSnapshots deletes non-tagged snapshots in sessionID older than
// cutoff, keeping at most keepLatest of the remainder (oldest-first
// eviction, §4.5 "Retention"). tagged snapshot ids are never touched.
func (s *Store) EvictSnapshots(ctx context.Context, sessionID string, cutoff int64, keepLatest int, taggedIDs map[string]bool) (int64, error) {
	all, err := s.ListSnapshotMeta(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	var evictable []types.Snapshot
	for _, m := range all {
		if taggedIDs[m.ID] {
			continue
		}
		evictable = append(evictable, m)
	}
	var toDelete []string
	for _, m := range evictable {
		if m.Timestamp < cutoff {
			toDelete = append(toDelete, m.ID)
		}
	}
	if excess := len(evictable) - keepLatest; keepLatest > 0 && excess > 0 {
		for _, m := range evictable[:excess] {
			if !containsID(toDelete, m.ID) {
				toDelete = append(toDelete, m.ID)
			}
		}
	}
	for _, id := range toDelete {
		if err := s.DeleteSnapshot(ctx, id); err != nil {
			return 0, err
		}
	}
	return int64(len(toDelete)), nil
}

func containsID(list []string, id string) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
