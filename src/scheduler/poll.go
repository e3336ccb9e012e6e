package scheduler

import (
	"context"
	"sync"
	"time"

	"quote-relay/src/helpers"
	"quote-relay/src/interfaces"
	"quote-relay/src/logger"
	"quote-relay/src/metrics"
	"quote-relay/src/models"
)

const defaultClosedInterval = 5 * time.Minute

// IPublisher receives every fetched snapshot.
type IPublisher interface {
	Publish(snap models.MPriceSnapshot) int
}

// -----------------------------------------------------------------------------

// PollScheduler fetches the watched symbols in cycles. The next cycle is armed
// only after the current one finished, so cycles never overlap. Stop cancels
// the pending timer; a fetch already in flight completes and its result is
// dropped.
type PollScheduler struct {
	Watchlist interfaces.IWatchlist
	Fetcher   interfaces.IPriceFetcher
	Publisher IPublisher
	Clock     interfaces.IMarketClock
	Logger    *logger.Logger
	Errors    *helpers.ErrorHandler
	Metrics   *metrics.Metrics

	closedInterval time.Duration
	now            func() time.Time

	mu     sync.Mutex
	active bool
	closed bool
	gen    uint64
	timer  *time.Timer

	// held for the duration of a cycle
	cycle sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
}

// -----------------------------------------------------------------------------

func NewPollScheduler(cfg models.MSchedulerConfig, watchlist interfaces.IWatchlist, fetcher interfaces.IPriceFetcher, publisher IPublisher,
	clock interfaces.IMarketClock, log *logger.Logger, m *metrics.Metrics) *PollScheduler {
	if log == nil {
		log = logger.Nop()
	}
	closedInterval := cfg.ClosedInterval.Duration
	if closedInterval <= 0 {
		closedInterval = defaultClosedInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &PollScheduler{
		Watchlist:      watchlist,
		Fetcher:        fetcher,
		Publisher:      publisher,
		Clock:          clock,
		Logger:         log,
		Errors:         helpers.NewErrorHandler(log),
		Metrics:        m,
		closedInterval: closedInterval,
		now:            time.Now,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// -----------------------------------------------------------------------------

// Start activates polling and runs the first cycle immediately. It is a no-op
// when already active or shut down.
func (p *PollScheduler) Start() {
	p.mu.Lock()
	if p.active || p.closed {
		p.mu.Unlock()
		return
	}
	p.active = true
	p.gen++
	gen := p.gen
	p.mu.Unlock()

	p.Metrics.SchedulerActive(true)
	p.Logger.Info("Price polling started")
	go p.run(gen)
}

// -----------------------------------------------------------------------------

// Stop deactivates polling and cancels the pending cycle unless a symbol is
// still watched. The watchlist is read under p.mu, the lock Start takes. It
// reports whether polling stopped.
func (p *PollScheduler) Stop() bool {
	p.mu.Lock()
	if !p.active || len(p.Watchlist.Symbols()) > 0 {
		p.mu.Unlock()
		return false
	}
	p.deactivate()
	p.mu.Unlock()

	p.Metrics.SchedulerActive(false)
	p.Logger.Info("Price polling stopped")
	return true
}

// deactivate must be called with p.mu held.
func (p *PollScheduler) deactivate() {
	p.active = false
	p.gen++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// -----------------------------------------------------------------------------

func (p *PollScheduler) IsActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// -----------------------------------------------------------------------------

// Shutdown stops polling for good, aborts in-flight fetches and waits for the
// running cycle to return.
func (p *PollScheduler) Shutdown() {
	p.mu.Lock()
	p.closed = true
	wasActive := p.active
	p.deactivate()
	p.mu.Unlock()

	p.cancel()
	p.cycle.Lock()
	p.cycle.Unlock()

	if wasActive {
		p.Metrics.SchedulerActive(false)
	}
	p.Logger.Info("Price polling shut down")
}

// -----------------------------------------------------------------------------

func (p *PollScheduler) current(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gen == gen
}

// NextInterval is the closed interval outside the session, else the fastest
// tier among subscribed sessions.
func (p *PollScheduler) NextInterval(now time.Time) time.Duration {
	if !p.Clock.Status(now).IsOpen {
		return p.closedInterval
	}
	return p.Watchlist.FastestPollInterval().Duration
}

// -----------------------------------------------------------------------------

func (p *PollScheduler) run(gen uint64) {
	p.cycle.Lock()
	defer p.cycle.Unlock()

	if !p.current(gen) {
		return
	}

	symbols := p.Watchlist.Symbols()
	if len(symbols) == 0 {
		// re-read under the lock, a subscribe may have landed since
		p.mu.Lock()
		if p.gen != gen {
			p.mu.Unlock()
			return
		}
		symbols = p.Watchlist.Symbols()
		if len(symbols) == 0 {
			p.deactivate()
			p.mu.Unlock()
			p.Metrics.SchedulerActive(false)
			p.Logger.Info("No symbols watched, price polling stopped")
			return
		}
		p.mu.Unlock()
	}

	started := time.Now()
	for _, symbol := range symbols {
		snap, err := p.Fetcher.GetPrice(p.ctx, symbol)
		if !p.current(gen) {
			return
		}
		if err != nil {
			p.Errors.Handle(err, "poll "+symbol)
			continue
		}
		now := p.now()
		snap.MarketStatus = p.Clock.Status(now).Status
		snap.CapturedAt = now
		p.Publisher.Publish(snap)
	}
	p.Metrics.PollCycle(time.Since(started))

	interval := p.NextInterval(p.now())

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != gen {
		return
	}
	p.timer = time.AfterFunc(interval, func() { p.run(gen) })
	p.Logger.Debug("Polled %d symbols, next cycle in %s", len(symbols), interval)
}
