package session

import (
	"errors"
	"fmt"

	"quote-relay/src/helpers"
	"quote-relay/src/models"
)

type Phase string

const (
	PhaseConnecting    Phase = "CONNECTING"
	PhaseAwaitingAuth  Phase = "AWAITING_AUTH"
	PhaseAuthenticated Phase = "AUTHENTICATED"
	PhaseClosed        Phase = "CLOSED"
)

var ErrInvalidTransition = errors.New("invalid session transition")

// -----------------------------------------------------------------------------

// State is the per-connection session value. Transitions are pure: they return
// a new State and never mutate the receiver.
type State struct {
	Phase   Phase
	Subject *models.MSubject
	Tier    models.Tier
	Symbols []string
	Alive   bool
}

// NewState returns a connecting session.
func NewState() State {
	return State{Phase: PhaseConnecting, Tier: models.TierFree, Alive: true}
}

// -----------------------------------------------------------------------------

func (s State) transitionError(to Phase) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Phase, to)
}

// AwaitAuth opens the authentication window.
func (s State) AwaitAuth() (State, error) {
	if s.Phase != PhaseConnecting {
		return s, s.transitionError(PhaseAwaitingAuth)
	}
	s.Phase = PhaseAwaitingAuth
	return s, nil
}

// Authenticate binds subject and its tier. Only valid while awaiting auth.
func (s State) Authenticate(subject models.MSubject) (State, error) {
	if s.Phase != PhaseAwaitingAuth {
		return s, s.transitionError(PhaseAuthenticated)
	}
	s.Phase = PhaseAuthenticated
	s.Subject = &subject
	s.Tier = subject.Tier()
	return s, nil
}

// Close is valid from any phase.
func (s State) Close() State {
	s.Phase = PhaseClosed
	return s
}

// -----------------------------------------------------------------------------

func (s State) Holds(symbol string) bool {
	for _, held := range s.Symbols {
		if held == symbol {
			return true
		}
	}
	return false
}

// Subscribe adds symbol, keeping insertion order. Re-subscribing a held symbol
// is a no-op and reports added=false. A full session yields a
// *helpers.LimitExceededError.
func (s State) Subscribe(symbol string, limit int) (next State, added bool, err error) {
	if s.Phase != PhaseAuthenticated {
		return s, false, s.transitionError(s.Phase)
	}
	if s.Holds(symbol) {
		return s, false, nil
	}
	if len(s.Symbols) >= limit {
		return s, false, helpers.NewLimitExceededError(limit,
			fmt.Sprintf("Maximum %d subscriptions (%s plan)", limit, s.Tier))
	}
	symbols := make([]string, len(s.Symbols), len(s.Symbols)+1)
	copy(symbols, s.Symbols)
	s.Symbols = append(symbols, symbol)
	return s, true, nil
}

// Unsubscribe removes symbol if held. It is idempotent.
func (s State) Unsubscribe(symbol string) (next State, removed bool) {
	if !s.Holds(symbol) {
		return s, false
	}
	symbols := make([]string, 0, len(s.Symbols)-1)
	for _, held := range s.Symbols {
		if held != symbol {
			symbols = append(symbols, held)
		}
	}
	s.Symbols = symbols
	return s, true
}

// -----------------------------------------------------------------------------

// Beat records a pong.
func (s State) Beat() State {
	s.Alive = true
	return s
}

// Probe clears the liveness flag ahead of a ping and reports whether the session
// answered the previous one.
func (s State) Probe() (next State, wasAlive bool) {
	wasAlive = s.Alive
	s.Alive = false
	return s, wasAlive
}
