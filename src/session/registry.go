package session

import (
	"errors"
	"sync"
	"time"

	"quote-relay/src/interfaces"
	"quote-relay/src/models"
)

var ErrUnknownSession = errors.New("unknown session")

type entry struct {
	state     State
	conn      interfaces.IConnection
	authTimer *time.Timer
}

// -----------------------------------------------------------------------------

// Registry is the arena of live sessions keyed by connection id. Callers never
// hold a reference into it; every read returns copies and every write goes
// through Update.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
	tiers   map[models.Tier]models.MTierLimits
}

// -----------------------------------------------------------------------------

func NewRegistry(tiers map[models.Tier]models.MTierLimits) *Registry {
	merged := models.DefaultTierLimits()
	for tier, limits := range tiers {
		merged[tier] = limits
	}
	return &Registry{
		entries: make(map[string]*entry),
		tiers:   merged,
	}
}

// -----------------------------------------------------------------------------

// Limits returns the limits of tier, treating unknown tiers as free.
func (r *Registry) Limits(tier models.Tier) models.MTierLimits {
	if limits, ok := r.tiers[tier]; ok {
		return limits
	}
	return r.tiers[models.TierFree]
}

// -----------------------------------------------------------------------------

// Add registers conn in AWAITING_AUTH with alive set.
func (r *Registry) Add(conn interfaces.IConnection) State {
	state, _ := NewState().AwaitAuth()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[conn.ID()]; !exists {
		r.order = append(r.order, conn.ID())
	}
	r.entries[conn.ID()] = &entry{state: state, conn: conn}
	return state
}

// SetAuthTimer attaches the auth timer while the session is still awaiting
// auth. Otherwise the timer is stopped and false returned.
func (r *Registry) SetAuthTimer(id string, timer *time.Timer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || e.state.Phase != PhaseAwaitingAuth {
		timer.Stop()
		return false
	}
	e.authTimer = timer
	return true
}

// -----------------------------------------------------------------------------

// Remove drops the session and cancels its timer.
func (r *Registry) Remove(id string) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return State{}, false
	}
	if e.authTimer != nil {
		e.authTimer.Stop()
	}
	delete(r.entries, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return e.state.Close(), true
}

// -----------------------------------------------------------------------------

func (r *Registry) Get(id string) (State, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return State{}, false
	}
	return e.state, true
}

func (r *Registry) Connection(id string) (interfaces.IConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// -----------------------------------------------------------------------------

// Update applies fn to the session atomically. fn must be pure; a non-nil
// error leaves the session unchanged. Leaving AWAITING_AUTH cancels the
// auth timer.
func (r *Registry) Update(id string, fn func(State) (State, error)) (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return State{}, ErrUnknownSession
	}
	next, err := fn(e.state)
	if err != nil {
		return e.state, err
	}
	if e.authTimer != nil && next.Phase != PhaseAwaitingAuth {
		e.authTimer.Stop()
		e.authTimer = nil
	}
	e.state = next
	return next, nil
}

// -----------------------------------------------------------------------------

// Symbols returns the union of authenticated subscriptions, first seen first.
func (r *Registry) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	var union []string
	for _, id := range r.order {
		e := r.entries[id]
		if e.state.Phase != PhaseAuthenticated {
			continue
		}
		for _, symbol := range e.state.Symbols {
			if _, ok := seen[symbol]; !ok {
				seen[symbol] = struct{}{}
				union = append(union, symbol)
			}
		}
	}
	return union
}

// FastestPollInterval defaults to the free tier when nobody is subscribed.
func (r *Registry) FastestPollInterval() models.MDuration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fastest := r.Limits(models.TierFree).PollInterval
	for _, e := range r.entries {
		if e.state.Phase != PhaseAuthenticated || len(e.state.Symbols) == 0 {
			continue
		}
		if interval := r.Limits(e.state.Tier).PollInterval; interval.Duration < fastest.Duration {
			fastest = interval
		}
	}
	return fastest
}

// -----------------------------------------------------------------------------

func (r *Registry) Subscribers(symbol string) []interfaces.IConnection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var conns []interfaces.IConnection
	for _, id := range r.order {
		e := r.entries[id]
		if e.state.Phase == PhaseAuthenticated && e.state.Holds(symbol) {
			conns = append(conns, e.conn)
		}
	}
	return conns
}

func (r *Registry) Authenticated() []interfaces.IConnection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var conns []interfaces.IConnection
	for _, id := range r.order {
		if e := r.entries[id]; e.state.Phase == PhaseAuthenticated {
			conns = append(conns, e.conn)
		}
	}
	return conns
}

func (r *Registry) All() []interfaces.IConnection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]interfaces.IConnection, 0, len(r.order))
	for _, id := range r.order {
		conns = append(conns, r.entries[id].conn)
	}
	return conns
}

// -----------------------------------------------------------------------------

// Sweep probes every session: those that missed the previous ping are returned
// as dead, the rest have alive cleared and are returned for pinging.
func (r *Registry) Sweep() (probe, dead []interfaces.IConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		e := r.entries[id]
		next, wasAlive := e.state.Probe()
		if !wasAlive {
			dead = append(dead, e.conn)
			continue
		}
		e.state = next
		probe = append(probe, e.conn)
	}
	return probe, dead
}

// -----------------------------------------------------------------------------

func (r *Registry) Counts() (total, authenticated int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.state.Phase == PhaseAuthenticated {
			authenticated++
		}
	}
	return len(r.entries), authenticated
}
