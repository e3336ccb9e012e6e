package broadcast

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"quote-relay/src/logger"
	"quote-relay/src/metrics"
	"quote-relay/src/models"
	"quote-relay/src/session"
	"quote-relay/src/session/sessiontest"
)

func snap(price, volume int64) models.MPriceSnapshot {
	return models.MPriceSnapshot{Symbol: "005930", Name: "삼성전자", Price: decimal.NewFromInt(price), Volume: volume}
}

// setup returns a registry with a subscribed session "sub", an authenticated
// session "other" on another symbol and an unauthenticated "pending".
func setup(t *testing.T) (*session.Registry, map[string]*sessiontest.Conn) {
	t.Helper()
	reg := session.NewRegistry(nil)
	conns := map[string]*sessiontest.Conn{}
	for _, id := range []string{"sub", "other", "pending"} {
		conns[id] = sessiontest.NewConn(id)
		reg.Add(conns[id])
	}
	subscribe := func(id, symbol string) {
		_, err := reg.Update(id, func(s session.State) (session.State, error) {
			s, err := s.Authenticate(models.MSubject{ID: id})
			if err != nil {
				return s, err
			}
			s, _, err = s.Subscribe(symbol, 5)
			return s, err
		})
		require.NoError(t, err)
	}
	subscribe("sub", "005930")
	subscribe("other", "000660")
	return reg, conns
}

// Scenario 3
func TestPublishDedupsOnPriceAndVolume(t *testing.T) {
	reg, conns := setup(t)
	e := NewEngine(reg, logger.FromZap(zaptest.NewLogger(t), "broadcast"), nil)

	assert.Equal(t, 1, e.Publish(snap(70000, 100)))
	assert.Equal(t, 0, e.Publish(snap(70000, 100)))
	assert.Equal(t, 1, e.Publish(snap(70000, 150)))
	assert.Equal(t, 1, e.Publish(snap(70100, 150)))

	updates := conns["sub"].OfType("price_update")
	require.Len(t, updates, 3)
	assert.Empty(t, conns["other"].Messages())
	assert.Empty(t, conns["pending"].Messages())

	latest, ok := e.Latest("005930")
	require.True(t, ok)
	assert.True(t, latest.Price.Equal(decimal.NewFromInt(70100)))
	assert.Equal(t, 1, e.Len())
}

func TestPublishStoresEvenWithoutSubscribers(t *testing.T) {
	reg := session.NewRegistry(nil)
	e := NewEngine(reg, nil, nil)

	assert.Equal(t, 0, e.Publish(snap(70000, 1)))
	_, ok := e.Latest("005930")
	assert.True(t, ok)
	assert.Equal(t, 1, e.Len())
}

func TestSlowConsumerDoesNotBlockOthers(t *testing.T) {
	reg, conns := setup(t)
	fast := sessiontest.NewConn("fast")
	reg.Add(fast)
	_, err := reg.Update("fast", func(s session.State) (session.State, error) {
		s, _ = s.Authenticate(models.MSubject{ID: "fast"})
		s, _, err := s.Subscribe("005930", 5)
		return s, err
	})
	require.NoError(t, err)
	conns["sub"].SetFull(true)

	e := NewEngine(reg, nil, nil)
	assert.Equal(t, 1, e.Publish(snap(70000, 1)))
	assert.Len(t, fast.OfType("price_update"), 1)
}

func TestBroadcastMarketStatus(t *testing.T) {
	reg, conns := setup(t)
	m := metrics.New(prometheus.NewRegistry())
	e := NewEngine(reg, nil, m)

	n := e.BroadcastMarketStatus(models.MMarketStatus{Status: models.MarketClosed, NextEvent: "Opens Monday 09:00 KST"})
	assert.Equal(t, 2, n)
	for _, id := range []string{"sub", "other"} {
		msgs := conns[id].OfType("market_status")
		require.Len(t, msgs, 1, id)
		assert.Equal(t, "CLOSED", msgs[0]["status"])
	}
	assert.Empty(t, conns["pending"].Messages())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PushCounter("market_status")))
}
