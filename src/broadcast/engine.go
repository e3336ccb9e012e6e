package broadcast

import (
	"sync"

	"quote-relay/src/interfaces"
	"quote-relay/src/logger"
	"quote-relay/src/metrics"
	"quote-relay/src/models"
	"quote-relay/src/protocol"
)

// Engine keeps the last snapshot per symbol and pushes changes to subscribers.
// A snapshot is worth pushing when it is the first for its symbol or its price
// or volume moved.
type Engine struct {
	mu       sync.RWMutex
	last     map[string]models.MPriceSnapshot
	Audience interfaces.IAudience
	Logger   *logger.Logger
	Metrics  *metrics.Metrics
}

// -----------------------------------------------------------------------------

func NewEngine(audience interfaces.IAudience, log *logger.Logger, m *metrics.Metrics) *Engine {
	if log == nil {
		log = logger.Nop()
	}
	return &Engine{
		last:     make(map[string]models.MPriceSnapshot),
		Audience: audience,
		Logger:   log,
		Metrics:  m,
	}
}

// -----------------------------------------------------------------------------

// Publish records snap and fans it out if it changed. It returns the number of
// sessions the update was delivered to.
func (e *Engine) Publish(snap models.MPriceSnapshot) int {
	e.mu.Lock()
	prev, seen := e.last[snap.Symbol]
	e.last[snap.Symbol] = snap
	e.mu.Unlock()

	if seen && prev.SameTick(snap) {
		e.Metrics.Suppressed()
		return 0
	}

	data, err := protocol.Encode(protocol.NewPriceUpdate(snap))
	if err != nil {
		e.Logger.Error("Failed to encode price update for %s: %v", snap.Symbol, err)
		return 0
	}
	delivered := fanOut(e.Audience.Subscribers(snap.Symbol), data)
	e.Metrics.Pushed(string(protocol.KindPriceUpdate), delivered)
	return delivered
}

// -----------------------------------------------------------------------------

// BroadcastMarketStatus pushes status to every authenticated session.
func (e *Engine) BroadcastMarketStatus(status models.MMarketStatus) int {
	data, err := protocol.Encode(protocol.MarketStatus{MMarketStatus: status})
	if err != nil {
		e.Logger.Error("Failed to encode market status: %v", err)
		return 0
	}
	delivered := fanOut(e.Audience.Authenticated(), data)
	e.Metrics.Pushed(string(protocol.KindMarketStatus), delivered)
	return delivered
}

// fanOut enqueues without blocking; a connection that cannot take the frame
// closes itself.
func fanOut(conns []interfaces.IConnection, data []byte) int {
	delivered := 0
	for _, conn := range conns {
		if conn.Send(data) {
			delivered++
		}
	}
	return delivered
}

// -----------------------------------------------------------------------------

// Latest returns the last snapshot published for symbol.
func (e *Engine) Latest(symbol string) (models.MPriceSnapshot, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	snap, ok := e.last[symbol]
	return snap, ok
}

// Len reports the number of symbols with a stored snapshot.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.last)
}
