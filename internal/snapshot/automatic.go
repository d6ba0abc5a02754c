package snapshot

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/brennhill/tracebackbone/internal/types"
	"github.com/brennhill/tracebackbone/internal/util"
)

const defaultAutomaticInterval = 30 * time.Second // §4.5 "start_automatic"

// StateFunc supplies the current SystemState for a session when the
// automatic timer fires; wired to the reconstructor in the daemon's
// main wiring.
type StateFunc func(ctx context.Context, sessionID string) (types.SystemState, error)

type automaticTimer struct {
	cron    *cron.Cron
	entryID cron.EntryID
}

// StartAutomatic begins a periodic snapshot timer for sessionID, default
// interval 30s (§4.5 "start_automatic"). Calling it again for the same
// session replaces the previous timer.
func (m *Manager) StartAutomatic(sessionID string, interval time.Duration, getState StateFunc) {
	if interval <= 0 {
		interval = defaultAutomaticInterval
	}
	m.StopAutomatic(sessionID)

	m.automaticMu.Lock()
	defer m.automaticMu.Unlock()

	c := cron.New()
	spec := "@every " + interval.String()
	id, err := c.AddFunc(spec, func() {
		util.SafeGo(m.log, "snapshot-automatic-"+sessionID, func() {
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			defer cancel()
			state, err := getState(ctx, sessionID)
			if err != nil {
				m.log.Warn("automatic snapshot: state fetch failed", zap.String("session", sessionID), zap.Error(err))
				return
			}
			if _, err := m.CreateSnapshot(ctx, sessionID, state, CreateOptions{}); err != nil {
				m.log.Warn("automatic snapshot failed", zap.String("session", sessionID), zap.Error(err))
			}
		})
	})
	if err != nil {
		m.log.Error("failed to schedule automatic snapshot", zap.String("session", sessionID), zap.Error(err))
		return
	}
	c.Start()
	m.automatic[sessionID] = &automaticTimer{cron: c, entryID: id}
}

// StopAutomatic cancels the periodic timer for sessionID, if any
// (§4.5 "stop_automatic").
func (m *Manager) StopAutomatic(sessionID string) {
	m.automaticMu.Lock()
	t, ok := m.automatic[sessionID]
	if ok {
		delete(m.automatic, sessionID)
	}
	m.automaticMu.Unlock()
	if ok {
		<-t.cron.Stop().Done()
	}
}
