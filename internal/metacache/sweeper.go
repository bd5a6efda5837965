package metacache

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/relaypoint/crmagent/internal/observability"
)

// Sweeper periodically removes expired cache entries on a cron schedule.
type Sweeper struct {
	cache    *Cache
	logger   *observability.Logger
	schedule string
	cron     *cron.Cron
}

// NewSweeper creates a sweeper. schedule is a standard 5-field cron
// expression; empty defaults to hourly.
func NewSweeper(cache *Cache, schedule string, logger *observability.Logger) *Sweeper {
	if schedule == "" {
		schedule = "0 * * * *"
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Sweeper{
		cache:    cache,
		logger:   logger,
		schedule: schedule,
	}
}

// Start schedules the sweep job. Returns an error for an invalid schedule.
func (s *Sweeper) Start() error {
	c := cron.New()
	_, err := c.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, _, err := s.cache.SweepExpired(ctx); err != nil {
			s.logger.Error(ctx, "cache sweep failed", "error", err)
		}
	})
	if err != nil {
		return err
	}
	c.Start()
	s.cron = c
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}
