package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"quote-relay/src/helpers"
	"quote-relay/src/interfaces"
	"quote-relay/src/logger"
	"quote-relay/src/metrics"
	"quote-relay/src/models"
	"quote-relay/src/protocol"
	"quote-relay/src/utils"
)

const defaultAuthTimeout = 10 * time.Second

var errAuthWindowClosed = errors.New("auth window closed")

// -----------------------------------------------------------------------------

// Manager drives the session lifecycle: connect, auth, subscription commands,
// heartbeat and disconnect. Messages of one connection must be delivered
// sequentially; different connections may call in concurrently.
type Manager struct {
	Registry  *Registry
	Resolver  interfaces.ISubjectResolver
	Clock     interfaces.IMarketClock
	Snapshots interfaces.ISnapshotSource
	Poller    interfaces.IPollControl
	Logger    *logger.Logger
	Metrics   *metrics.Metrics

	authTimeout time.Duration
	now         func() time.Time
}

// -----------------------------------------------------------------------------

func NewManager(cfg models.MSessionConfig, reg *Registry, resolver interfaces.ISubjectResolver, clock interfaces.IMarketClock,
	snapshots interfaces.ISnapshotSource, poller interfaces.IPollControl, log *logger.Logger, m *metrics.Metrics) *Manager {
	if log == nil {
		log = logger.Nop()
	}
	timeout := cfg.AuthTimeout.Duration
	if timeout <= 0 {
		timeout = defaultAuthTimeout
	}
	return &Manager{
		Registry:    reg,
		Resolver:    resolver,
		Clock:       clock,
		Snapshots:   snapshots,
		Poller:      poller,
		Logger:      log,
		Metrics:     m,
		authTimeout: timeout,
		now:         time.Now,
	}
}

// -----------------------------------------------------------------------------

func (m *Manager) send(conn interfaces.IConnection, msg protocol.Message) {
	data, err := protocol.Encode(msg)
	if err != nil {
		m.Logger.Error("Failed to encode %s: %v", msg.Kind(), err)
		return
	}
	if conn.Send(data) {
		m.Metrics.Pushed(string(msg.Kind()), 1)
	}
}

func (m *Manager) sendError(conn interfaces.IConnection, code, message string) {
	m.send(conn, protocol.Error{Code: code, Message: message})
}

func (m *Manager) updateGauges() {
	total, authenticated := m.Registry.Counts()
	m.Metrics.SetConnections(total, authenticated)
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Connect registers conn and starts its auth window.
func (m *Manager) Connect(conn interfaces.IConnection) {
	m.Registry.Add(conn)
	id := conn.ID()
	m.Registry.SetAuthTimer(id, time.AfterFunc(m.authTimeout, func() { m.expireAuth(id) }))
	m.updateGauges()
	m.Logger.Debug("Session %s connected", id)
}

// -----------------------------------------------------------------------------

func (m *Manager) expireAuth(id string) {
	_, err := m.Registry.Update(id, func(s State) (State, error) {
		if s.Phase != PhaseAwaitingAuth {
			return s, errAuthWindowClosed
		}
		return s.Close(), nil
	})
	if err != nil {
		return
	}
	conn, ok := m.Registry.Connection(id)
	if !ok {
		return
	}
	m.Logger.Debug("Session %s auth timeout", id)
	m.sendError(conn, protocol.CodeAuthTimeout, "Authentication timeout")
	conn.Close(protocol.CloseAuthFailed, "Authentication timeout")
}

// -----------------------------------------------------------------------------

// Disconnect removes the session. When the last subscriber leaves, polling stops.
func (m *Manager) Disconnect(id string) {
	state, ok := m.Registry.Remove(id)
	if !ok {
		return
	}
	m.updateGauges()

	who := "unauthenticated"
	if state.Subject != nil {
		who = state.Subject.Email
	}
	m.Logger.Info("Session %s disconnected (%s)", id, who)

	m.stopIfIdle()
}

// stopIfIdle leaves the emptiness check to the poller, which makes it under the
// same lock Start takes.
func (m *Manager) stopIfIdle() {
	if m.Poller != nil {
		m.Poller.Stop()
	}
}

// -----------------------------------------------------------------------------

// HandlePong marks the session alive.
func (m *Manager) HandlePong(id string) {
	_, _ = m.Registry.Update(id, func(s State) (State, error) { return s.Beat(), nil })
}

// -----------------------------------------------------------------------------

// Sweep is one heartbeat round. Sessions that missed the previous ping are
// terminated; the others are pinged.
func (m *Manager) Sweep() {
	probe, dead := m.Registry.Sweep()
	for _, conn := range dead {
		m.Logger.Debug("Session %s heartbeat timeout", conn.ID())
		conn.Terminate()
	}
	for _, conn := range probe {
		if err := conn.Ping(); err != nil {
			m.Logger.Debug("Session %s ping failed: %v", conn.ID(), err)
			conn.Terminate()
		}
	}
}

// -----------------------------------------------------------------------------

// Shutdown closes every connection with 1001.
func (m *Manager) Shutdown() {
	for _, conn := range m.Registry.All() {
		conn.Close(protocol.CloseGoingAway, "Server shutting down")
	}
}

// -----------------------------------------------------------------------------

// Stats reports the live relay state.
func (m *Manager) Stats() models.MRelayStats {
	total, authenticated := m.Registry.Counts()
	symbols := m.Registry.Symbols()
	if symbols == nil {
		symbols = []string{}
	}
	stats := models.MRelayStats{
		TotalConnections:         total,
		AuthenticatedConnections: authenticated,
		UniqueSymbolsWatched:     len(symbols),
		Symbols:                  symbols,
		GeneratedAt:              m.now(),
	}
	if m.Poller != nil {
		stats.IsPolling = m.Poller.IsActive()
	}
	if m.Snapshots != nil {
		stats.CachedPrices = m.Snapshots.Len()
	}
	return stats
}

// -----------------------------------------------------------------------------
// Messages
// -----------------------------------------------------------------------------

// HandleMessage processes one client frame.
func (m *Manager) HandleMessage(ctx context.Context, id string, data []byte) {
	state, ok := m.Registry.Get(id)
	if !ok || state.Phase == PhaseClosed {
		return
	}
	conn, ok := m.Registry.Connection(id)
	if !ok {
		return
	}

	in, err := protocol.Decode(data)
	if err != nil {
		m.sendError(conn, protocol.CodeParseError, "Invalid JSON")
		return
	}

	if state.Phase != PhaseAuthenticated {
		if in.Kind == protocol.KindAuth {
			m.handleAuth(ctx, conn, in.Token)
			return
		}
		m.sendError(conn, protocol.CodeAuthRequired, `Must authenticate first. Send: { type: "auth", token: "..." }`)
		return
	}

	switch in.Kind {
	case protocol.KindSubscribe:
		m.handleSubscribe(conn, in.Symbol)
	case protocol.KindUnsubscribe:
		m.handleUnsubscribe(conn, in.Symbol)
	case protocol.KindPing:
		m.send(conn, protocol.NewPong(m.now()))
	case protocol.KindAuth:
		m.sendError(conn, protocol.CodeUnknownType, "Already authenticated")
	case protocol.KindUnknown:
		m.sendError(conn, protocol.CodeUnknownType, "Unknown message type: "+in.RawType)
	}
}

// -----------------------------------------------------------------------------

func closeReason(code string) (int, string) {
	switch code {
	case protocol.CodeAuthBlocked:
		return protocol.CloseBlocked, "Account blocked"
	case protocol.CodeAuthRequired:
		return protocol.CloseAuthFailed, "Authentication required"
	default:
		return protocol.CloseAuthFailed, "Authentication failed"
	}
}

func (m *Manager) handleAuth(ctx context.Context, conn interfaces.IConnection, token string) {
	id := conn.ID()
	subject, err := m.Resolver.Resolve(ctx, token)
	if err != nil {
		code, message := protocol.CodeAuthFailed, "Authentication failed"
		var ae *helpers.AuthError
		if errors.As(err, &ae) && ae.Code != "" {
			code, message = ae.Code, ae.Message
		}
		// a timeout that fired during resolution already answered
		if _, err := m.Registry.Update(id, func(s State) (State, error) {
			if s.Phase != PhaseAwaitingAuth {
				return s, errAuthWindowClosed
			}
			return s.Close(), nil
		}); err != nil {
			return
		}
		m.Logger.Debug("Session %s auth rejected: %s", id, code)
		m.sendError(conn, code, message)
		conn.Close(closeReason(code))
		return
	}

	state, err := m.Registry.Update(id, func(s State) (State, error) { return s.Authenticate(subject) })
	if err != nil {
		m.Logger.Debug("Session %s auth completed after window closed", id)
		return
	}
	m.updateGauges()

	limits := m.Registry.Limits(state.Tier)
	m.send(conn, protocol.Authenticated{
		User: protocol.UserInfo{Name: subject.Name, Plan: string(state.Tier)},
		Limits: protocol.Limits{
			MaxSubscriptions: limits.MaxSubscriptions,
			PollInterval:     limits.PollInterval.Milliseconds(),
		},
	})
	m.send(conn, protocol.MarketStatus{MMarketStatus: m.Clock.Status(m.now())})

	m.Logger.Info("Session %s authenticated: %s (%s)", id, subject.Email, state.Tier)
}

// -----------------------------------------------------------------------------

func (m *Manager) handleSubscribe(conn interfaces.IConnection, symbol string) {
	if strings.TrimSpace(symbol) == "" {
		m.sendError(conn, protocol.CodeInvalidSymbol, "Symbol required")
		return
	}
	code, ok := utils.NormalizeSymbol(symbol)
	if !ok {
		m.sendError(conn, protocol.CodeInvalidSymbol, "Invalid Korean stock symbol (6 digits required)")
		return
	}

	var added bool
	state, err := m.Registry.Update(conn.ID(), func(s State) (State, error) {
		next, ok, err := s.Subscribe(code, m.Registry.Limits(s.Tier).MaxSubscriptions)
		added = ok
		return next, err
	})
	if err != nil {
		var le *helpers.LimitExceededError
		if errors.As(err, &le) {
			m.sendError(conn, protocol.CodeLimitExceeded, le.Message)
		}
		return
	}

	m.send(conn, protocol.Subscribed{Symbol: code, Subscriptions: state.Symbols})
	if m.Snapshots != nil {
		if snap, ok := m.Snapshots.Latest(code); ok {
			m.send(conn, protocol.NewPriceUpdate(snap))
		}
	}
	if added {
		m.Logger.Debug("Session %s subscribed %s", conn.ID(), code)
	}

	if m.Poller != nil {
		m.Poller.Start()
	}
}

// -----------------------------------------------------------------------------

func (m *Manager) handleUnsubscribe(conn interfaces.IConnection, symbol string) {
	if symbol == "" {
		m.sendError(conn, protocol.CodeInvalidSymbol, "Symbol required")
		return
	}
	code := strings.ToUpper(utils.StripSymbolSuffix(symbol))

	state, err := m.Registry.Update(conn.ID(), func(s State) (State, error) {
		next, _ := s.Unsubscribe(code)
		return next, nil
	})
	if err != nil {
		return
	}

	m.send(conn, protocol.Unsubscribed{Symbol: code, Subscriptions: state.Symbols})
	m.Logger.Debug("Session %s unsubscribed %s", conn.ID(), code)

	m.stopIfIdle()
}
