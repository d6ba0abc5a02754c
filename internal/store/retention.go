package store

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/brennhill/tracebackbone/internal/util"
)

// RetentionSweeper runs the store's periodic retention sweep on a cron
// schedule, grounded on the pack's backup-scheduler use of robfig/cron
// for periodic maintenance jobs.
type RetentionSweeper struct {
	store *Store
	cron  *cron.Cron
	log   *zap.Logger
}

// NewRetentionSweeper builds a sweeper that fires on spec, e.g. "@every 1h".
func NewRetentionSweeper(s *Store, spec string, log *zap.Logger) (*RetentionSweeper, error) {
	if log == nil {
		log = zap.NewNop()
	}
	c := cron.New()
	rs := &RetentionSweeper{store: s, cron: c, log: log}
	_, err := c.AddFunc(spec, func() {
		util.SafeGo(log, "retention-sweep", func() {
			ctx := context.Background()
			if _, err := s.RunRetentionSweep(ctx); err != nil {
				log.Error("retention sweep failed", zap.Error(err))
			}
		})
	})
	if err != nil {
		return nil, err
	}
	return rs, nil
}

// Start begins the cron schedule.
func (rs *RetentionSweeper) Start() { rs.cron.Start() }

// Stop halts the schedule, blocking until any in-flight sweep finishes.
func (rs *RetentionSweeper) Stop() { <-rs.cron.Stop().Done() }
