package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"quote-relay/src/logger"
	"quote-relay/src/models"
	"quote-relay/src/utils"
)

type counter struct{ n atomic.Int64 }

func (c *counter) Sweep() { c.n.Add(1) }

type statusSink struct {
	n    atomic.Int64
	last atomic.Value
}

func (s *statusSink) BroadcastMarketStatus(status models.MMarketStatus) int {
	s.n.Add(1)
	s.last.Store(status)
	return 0
}

type cleaner struct {
	n      atomic.Int64
	maxAge atomic.Int64
}

func (c *cleaner) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	c.n.Add(1)
	c.maxAge.Store(int64(maxAge))
	return 0, nil
}

func TestJobsRunPeriodically(t *testing.T) {
	cfg := &models.MConfig{}
	cfg.Scheduler.MarketStatusInterval = models.Duration(20 * time.Millisecond)
	cfg.Sessions.HeartbeatInterval = models.Duration(20 * time.Millisecond)
	cfg.Cache.CleanupInterval = models.Duration(20 * time.Millisecond)
	cfg.Cache.MaxAge = models.Duration(time.Minute)

	sweeper, sink, cache := &counter{}, &statusSink{}, &cleaner{}
	jobs := NewJobs(cfg, sweeper, sink, utils.NewWeekdayCalendar(nil), cache, logger.FromZap(zaptest.NewLogger(t), "jobs"))
	require.NoError(t, jobs.Start())

	require.Eventually(t, func() bool {
		return sweeper.n.Load() >= 2 && sink.n.Load() >= 2 && cache.n.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)
	jobs.Stop()

	assert.Equal(t, int64(time.Minute), cache.maxAge.Load())
	status, ok := sink.last.Load().(models.MMarketStatus)
	require.True(t, ok)
	assert.NotEmpty(t, status.Status)
}

func TestJobsDefaults(t *testing.T) {
	jobs := NewJobs(&models.MConfig{}, &counter{}, &statusSink{}, utils.NewWeekdayCalendar(nil), nil, nil)
	assert.Equal(t, 60*time.Second, jobs.marketStatusInterval)
	assert.Equal(t, 30*time.Second, jobs.heartbeatInterval)
	assert.Equal(t, 5*time.Minute, jobs.cleanupInterval)
	assert.Equal(t, 30*time.Minute, jobs.cacheMaxAge)
}
