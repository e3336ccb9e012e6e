package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"quote-relay/src/broadcast"
	"quote-relay/src/logger"
	"quote-relay/src/models"
	"quote-relay/src/session"
	"quote-relay/src/session/sessiontest"
	"quote-relay/src/utils"
)

type fakeFetcher struct {
	mu       sync.Mutex
	calls    map[string]int
	errs     map[string]error
	price    int64
	inFlight int
	maxSeen  int
	// gate, when set, blocks every fetch until a value is received
	gate    chan struct{}
	entered chan string
}

func newFetcher() *fakeFetcher {
	return &fakeFetcher{calls: map[string]int{}, errs: map[string]error{}, price: 70000}
}

func (f *fakeFetcher) GetPrice(ctx context.Context, symbol string) (models.MPriceSnapshot, error) {
	f.mu.Lock()
	f.calls[symbol]++
	f.inFlight++
	if f.inFlight > f.maxSeen {
		f.maxSeen = f.inFlight
	}
	err := f.errs[symbol]
	price := f.price
	gate, entered := f.gate, f.entered
	f.mu.Unlock()

	if entered != nil {
		entered <- symbol
	}
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
	if err != nil {
		return models.MPriceSnapshot{}, err
	}
	return models.MPriceSnapshot{Symbol: symbol, Price: decimal.NewFromInt(price), Volume: 1}, nil
}

func (f *fakeFetcher) count(symbol string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[symbol]
}

// -----------------------------------------------------------------------------

type fixture struct {
	reg     *session.Registry
	engine  *broadcast.Engine
	fetcher *fakeFetcher
	poller  *PollScheduler
}

// Wednesday 2026-03-04 10:00 KST
var openInstant = time.Date(2026, 3, 4, 1, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, tiers map[models.Tier]models.MTierLimits) *fixture {
	t.Helper()
	log := logger.FromZap(zaptest.NewLogger(t), "scheduler")
	f := &fixture{reg: session.NewRegistry(tiers), fetcher: newFetcher()}
	f.engine = broadcast.NewEngine(f.reg, log, nil)
	f.poller = NewPollScheduler(models.MSchedulerConfig{}, f.reg, f.fetcher, f.engine, utils.NewWeekdayCalendar(nil), log, nil)
	f.poller.now = func() time.Time { return openInstant }
	t.Cleanup(f.poller.Shutdown)
	return f
}

func (f *fixture) subscribe(t *testing.T, id, plan string, symbols ...string) *sessiontest.Conn {
	t.Helper()
	conn := sessiontest.NewConn(id)
	f.reg.Add(conn)
	_, err := f.reg.Update(id, func(s session.State) (session.State, error) {
		s, err := s.Authenticate(models.MSubject{ID: id, Plan: plan})
		for _, sym := range symbols {
			if err != nil {
				break
			}
			s, _, err = s.Subscribe(sym, 20)
		}
		return s, err
	})
	require.NoError(t, err)
	return conn
}

func (f *fixture) unsubscribe(t *testing.T, id string, symbols ...string) {
	t.Helper()
	_, err := f.reg.Update(id, func(s session.State) (session.State, error) {
		for _, sym := range symbols {
			s, _ = s.Unsubscribe(sym)
		}
		return s, nil
	})
	require.NoError(t, err)
}

// -----------------------------------------------------------------------------

// Scenario 2
func TestCycleFetchesSharedSymbolOnce(t *testing.T) {
	f := newFixture(t, nil)
	free := f.subscribe(t, "free", "free", "005930")
	pro := f.subscribe(t, "pro", "pro", "005930", "000660")

	f.poller.Start()
	assert.True(t, f.poller.IsActive())

	require.Eventually(t, func() bool {
		return len(pro.OfType("price_update")) == 2
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, f.fetcher.count("005930"))
	assert.Equal(t, 1, f.fetcher.count("000660"))
	updates := free.OfType("price_update")
	require.Len(t, updates, 1)
	assert.Equal(t, "005930", updates[0]["symbol"])
	assert.Equal(t, "OPEN", updates[0]["marketStatus"])
	assert.Equal(t, float64(openInstant.UnixMilli()), updates[0]["time"])
}

func TestFetchErrorSkipsOnlyThatSymbol(t *testing.T) {
	f := newFixture(t, nil)
	f.fetcher.errs["000660"] = errors.New("upstream down")
	conn := f.subscribe(t, "a", "free", "000660", "005930")

	f.poller.Start()
	require.Eventually(t, func() bool {
		return len(conn.OfType("price_update")) == 1
	}, time.Second, 5*time.Millisecond)

	_, ok := f.engine.Latest("000660")
	assert.False(t, ok)
	_, ok = f.engine.Latest("005930")
	assert.True(t, ok)
}

func TestStopDiscardsInFlightResult(t *testing.T) {
	f := newFixture(t, nil)
	f.fetcher.gate = make(chan struct{})
	f.fetcher.entered = make(chan string, 1)
	conn := f.subscribe(t, "a", "free", "005930")

	f.poller.Start()
	<-f.fetcher.entered
	f.unsubscribe(t, "a", "005930")
	assert.True(t, f.poller.Stop())
	assert.False(t, f.poller.IsActive())
	close(f.fetcher.gate)

	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, conn.OfType("price_update"))
	assert.Equal(t, 0, f.engine.Len())
}

func TestStopRefusedWhileSymbolsWatched(t *testing.T) {
	f := newFixture(t, nil)
	f.fetcher.gate = make(chan struct{})
	f.fetcher.entered = make(chan string, 1)
	f.subscribe(t, "a", "free", "005930")

	f.poller.Start()
	<-f.fetcher.entered
	assert.False(t, f.poller.Stop())
	assert.True(t, f.poller.IsActive())
	close(f.fetcher.gate)
}

func TestDeactivatesWhenNothingWatched(t *testing.T) {
	f := newFixture(t, nil)
	f.poller.Start()
	require.Eventually(t, func() bool { return !f.poller.IsActive() }, time.Second, 5*time.Millisecond)
}

func TestCyclesRepeatWithoutOverlap(t *testing.T) {
	f := newFixture(t, map[models.Tier]models.MTierLimits{
		models.TierPro: {MaxSubscriptions: 20, PollInterval: models.Duration(10 * time.Millisecond)},
	})
	f.subscribe(t, "a", "pro", "005930", "000660")

	f.poller.Start()
	require.Eventually(t, func() bool { return f.fetcher.count("005930") >= 3 }, time.Second, 5*time.Millisecond)

	// restarting while a cycle may be in flight must not run two at once
	f.unsubscribe(t, "a", "005930", "000660")
	f.poller.Stop()
	f.subscribe(t, "b", "pro", "005930", "000660")
	f.poller.Start()
	require.Eventually(t, func() bool { return f.fetcher.count("005930") >= 5 }, time.Second, 5*time.Millisecond)

	f.fetcher.mu.Lock()
	defer f.fetcher.mu.Unlock()
	assert.Equal(t, 1, f.fetcher.maxSeen)
}

func TestNextInterval(t *testing.T) {
	f := newFixture(t, nil)
	f.subscribe(t, "a", "pro", "005930")

	assert.Equal(t, 10*time.Second, f.poller.NextInterval(openInstant))

	saturday := time.Date(2026, 3, 7, 1, 0, 0, 0, time.UTC)
	assert.Equal(t, defaultClosedInterval, f.poller.NextInterval(saturday))

	preMarket := time.Date(2026, 3, 4, 8, 30, 0, 0, utils.LoadLocation("Asia/Seoul"))
	assert.Equal(t, defaultClosedInterval, f.poller.NextInterval(preMarket))
}

func TestShutdownRefusesRestart(t *testing.T) {
	f := newFixture(t, nil)
	f.subscribe(t, "a", "free", "005930")
	f.poller.Shutdown()
	f.poller.Start()
	assert.False(t, f.poller.IsActive())
}

// -----------------------------------------------------------------------------

// gatedWatchlist parks the first armed Symbols call until released.
type gatedWatchlist struct {
	*session.Registry
	mu      sync.Mutex
	armed   bool
	entered chan struct{}
	release chan struct{}
}

func (w *gatedWatchlist) arm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.armed = true
}

func (w *gatedWatchlist) Symbols() []string {
	w.mu.Lock()
	armed := w.armed
	w.armed = false
	w.mu.Unlock()
	if armed {
		close(w.entered)
		<-w.release
	}
	return w.Registry.Symbols()
}

func TestSubscribeDuringStopKeepsPolling(t *testing.T) {
	reg := session.NewRegistry(nil)
	watch := &gatedWatchlist{Registry: reg, entered: make(chan struct{}), release: make(chan struct{})}
	log := logger.FromZap(zaptest.NewLogger(t), "scheduler")
	engine := broadcast.NewEngine(reg, log, nil)
	fetcher := newFetcher()
	poller := NewPollScheduler(models.MSchedulerConfig{}, watch, fetcher, engine, utils.NewWeekdayCalendar(nil), log, nil)
	poller.now = func() time.Time { return openInstant }
	t.Cleanup(poller.Shutdown)
	f := &fixture{reg: reg, engine: engine, fetcher: fetcher, poller: poller}

	f.subscribe(t, "a", "free", "005930")
	poller.Start()
	require.Eventually(t, func() bool { return fetcher.count("005930") >= 1 }, time.Second, 5*time.Millisecond)

	// a leaves the union empty and starts stopping; b subscribes meanwhile
	f.unsubscribe(t, "a", "005930")
	watch.arm()
	stopped := make(chan bool, 1)
	go func() { stopped <- poller.Stop() }()
	<-watch.entered

	f.subscribe(t, "b", "free", "000660")
	restarted := make(chan struct{})
	go func() {
		poller.Start()
		close(restarted)
	}()
	close(watch.release)

	assert.False(t, <-stopped)
	<-restarted
	assert.True(t, poller.IsActive())
	assert.Equal(t, []string{"000660"}, reg.Symbols())
}

func TestSubscribeAfterStopRestarts(t *testing.T) {
	f := newFixture(t, nil)
	f.subscribe(t, "a", "free", "005930")
	f.poller.Start()

	f.unsubscribe(t, "a", "005930")
	require.True(t, f.poller.Stop())

	f.subscribe(t, "b", "free", "000660")
	f.poller.Start()
	assert.True(t, f.poller.IsActive())
	require.Eventually(t, func() bool { return f.fetcher.count("000660") >= 1 }, time.Second, 5*time.Millisecond)
}
