package snapshot

import (
	"context"
	"time"
)

// enforceRetention evicts non-tagged snapshots older than maxRetention and
// caps the per-session count at maxPerSession, oldest-first (§4.5
// "Retention"). taggedIDs is nil-safe: a nil map means nothing is tagged.
func (m *Manager) enforceRetention(ctx context.Context, sessionID string, taggedIDs map[string]bool) error {
	cutoff := time.Now().Add(-m.maxRetention).UnixMilli()
	_, err := m.store.EvictSnapshots(ctx, sessionID, cutoff, m.maxPerSession, taggedIDs)
	return err
}

// EnforceRetention runs the retention policy for one session on demand,
// e.g. from a scheduled sweep independent of snapshot creation.
func (m *Manager) EnforceRetention(ctx context.Context, sessionID string, taggedIDs map[string]bool) error {
	return m.enforceRetention(ctx, sessionID, taggedIDs)
}
