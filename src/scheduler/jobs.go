package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"

	"quote-relay/src/interfaces"
	"quote-relay/src/logger"
	"quote-relay/src/models"
)

const (
	defaultMarketStatusInterval = 60 * time.Second
	defaultHeartbeatInterval    = 30 * time.Second
	defaultCleanupInterval      = 5 * time.Minute
	defaultCacheMaxAge          = 30 * time.Minute
)

type ISweeper interface {
	Sweep()
}

type IStatusBroadcaster interface {
	BroadcastMarketStatus(status models.MMarketStatus) int
}

type ICacheCleaner interface {
	Cleanup(ctx context.Context, maxAge time.Duration) (int, error)
}

// -----------------------------------------------------------------------------

// Jobs runs the periodic maintenance work: market status pushes, the heartbeat
// sweep and cache cleanup.
type Jobs struct {
	cron *gocron.Scheduler

	Sessions    ISweeper
	Broadcaster IStatusBroadcaster
	Clock       interfaces.IMarketClock
	Cache       ICacheCleaner
	Logger      *logger.Logger

	marketStatusInterval time.Duration
	heartbeatInterval    time.Duration
	cleanupInterval      time.Duration
	cacheMaxAge          time.Duration
}

// -----------------------------------------------------------------------------

func NewJobs(cfg *models.MConfig, sessions ISweeper, broadcaster IStatusBroadcaster, clock interfaces.IMarketClock, cache ICacheCleaner, log *logger.Logger) *Jobs {
	if log == nil {
		log = logger.Nop()
	}
	return &Jobs{
		cron:                 gocron.NewScheduler(time.UTC),
		Sessions:             sessions,
		Broadcaster:          broadcaster,
		Clock:                clock,
		Cache:                cache,
		Logger:               log,
		marketStatusInterval: orDefault(cfg.Scheduler.MarketStatusInterval.Duration, defaultMarketStatusInterval),
		heartbeatInterval:    orDefault(cfg.Sessions.HeartbeatInterval.Duration, defaultHeartbeatInterval),
		cleanupInterval:      orDefault(cfg.Cache.CleanupInterval.Duration, defaultCleanupInterval),
		cacheMaxAge:          orDefault(cfg.Cache.MaxAge.Duration, defaultCacheMaxAge),
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// -----------------------------------------------------------------------------

// Start schedules all jobs. The first run of each happens one interval after start.
func (j *Jobs) Start() error {
	j.Logger.Info("Starting jobs...")
	j.cron.SingletonModeAll()

	if _, err := j.cron.Every(j.marketStatusInterval).WaitForSchedule().Do(j.pushMarketStatus); err != nil {
		return err
	}

	if _, err := j.cron.Every(j.heartbeatInterval).WaitForSchedule().Do(j.Sessions.Sweep); err != nil {
		return err
	}

	if j.Cache != nil {
		if _, err := j.cron.Every(j.cleanupInterval).WaitForSchedule().Do(j.cleanupCache); err != nil {
			return err
		}
	}

	j.cron.StartAsync()
	j.Logger.Info("Jobs started (market status %s, heartbeat %s, cache cleanup %s)",
		j.marketStatusInterval, j.heartbeatInterval, j.cleanupInterval)
	return nil
}

// -----------------------------------------------------------------------------

func (j *Jobs) Stop() {
	j.cron.Stop()
	j.Logger.Info("Jobs stopped")
}

// -----------------------------------------------------------------------------

func (j *Jobs) pushMarketStatus() {
	status := j.Clock.Status(time.Now())
	n := j.Broadcaster.BroadcastMarketStatus(status)
	j.Logger.Debug("Market status %s pushed to %d sessions", status.Status, n)
}

func (j *Jobs) cleanupCache() {
	if _, err := j.Cache.Cleanup(context.Background(), j.cacheMaxAge); err != nil {
		j.Logger.Warning("Cache cleanup failed: %v", err)
	}
}
