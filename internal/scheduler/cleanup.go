package scheduler

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// CleanupSweeper drives the periodic cleanup_old sweep and stale-Pending
// purge described in spec.md §4.F, using github.com/robfig/cron/v3 (the
// pack's own choice for periodic-maintenance jobs, e.g. enchanted-proxy and
// oubliette) instead of a hand-rolled ticker loop.
type CleanupSweeper struct {
	cron   *cron.Cron
	store  *Store
	maxAge time.Duration
	logger *slog.Logger
}

// NewCleanupSweeper builds a sweeper that, on the given cron schedule,
// removes finished shells older than maxAge and purges stale Pending
// shells. spec is a standard 5-field cron expression; e.g. "*/5 * * * *"
// sweeps every five minutes.
func NewCleanupSweeper(store *Store, spec string, maxAge time.Duration, logger *slog.Logger) (*CleanupSweeper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := cron.New()
	sw := &CleanupSweeper{cron: c, store: store, maxAge: maxAge, logger: logger}
	if _, err := c.AddFunc(spec, sw.sweep); err != nil {
		return nil, err
	}
	return sw, nil
}

func (sw *CleanupSweeper) sweep() {
	sw.logger.Debug("scheduler: running cleanup_old sweep", "max_age", sw.maxAge)
	sw.store.CleanupOld(sw.maxAge)
}

// Start begins the cron schedule in the background.
func (sw *CleanupSweeper) Start() { sw.cron.Start() }

// Stop halts the schedule, waiting for any in-flight sweep to finish.
func (sw *CleanupSweeper) Stop() { <-sw.cron.Stop().Done() }
