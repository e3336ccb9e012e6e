package interfaces

import (
	"context"
	"time"

	"quote-relay/src/models"
)

// -----------------------------------------------------------------------------
// IConnection is one client transport as seen by the session layer.
// -----------------------------------------------------------------------------

type IConnection interface {

	// ID returns the connection id.
	ID() string

	// -----------------------------------------------------------------------------

	// Send enqueues payload without blocking. It returns false when the
	// connection is gone or its buffer is full, in which case the connection
	// closes itself.
	Send(payload []byte) bool

	// -----------------------------------------------------------------------------

	// Ping sends a protocol-level ping.
	Ping() error

	// -----------------------------------------------------------------------------

	// Close flushes queued messages, then closes with code and reason.
	Close(code int, reason string)

	// -----------------------------------------------------------------------------

	// Terminate drops the transport immediately.
	Terminate()
}

// -----------------------------------------------------------------------------
// ISubjectResolver verifies a client token and loads its subject.
// -----------------------------------------------------------------------------

type ISubjectResolver interface {
	Resolve(ctx context.Context, token string) (models.MSubject, error)
}

// -----------------------------------------------------------------------------
// IPollControl is the handle sessions use to wake or park the poller.
// -----------------------------------------------------------------------------

type IPollControl interface {

	// Start wakes the poller. It is a no-op when already active.
	Start()

	// -----------------------------------------------------------------------------

	// Stop parks the poller unless some symbol is still watched, deciding under
	// the poller's own lock. It reports whether polling stopped.
	Stop() bool

	// -----------------------------------------------------------------------------

	IsActive() bool
}

// -----------------------------------------------------------------------------
// ISnapshotSource serves the last published snapshot of a symbol.
// -----------------------------------------------------------------------------

type ISnapshotSource interface {
	Latest(symbol string) (models.MPriceSnapshot, bool)
	Len() int
}

// -----------------------------------------------------------------------------
// IAudience resolves who receives a push.
// -----------------------------------------------------------------------------

type IAudience interface {

	// Subscribers returns authenticated connections holding symbol.
	Subscribers(symbol string) []IConnection

	// -----------------------------------------------------------------------------

	// Authenticated returns every authenticated connection.
	Authenticated() []IConnection
}

// -----------------------------------------------------------------------------
// IWatchlist is the scheduler's read view of the registry.
// -----------------------------------------------------------------------------

type IWatchlist interface {

	// Symbols returns the union of symbols held by authenticated sessions, in
	// insertion order.
	Symbols() []string

	// -----------------------------------------------------------------------------

	// FastestPollInterval returns the smallest tier interval among sessions with
	// at least one subscription.
	FastestPollInterval() models.MDuration
}

// -----------------------------------------------------------------------------
// IMarketClock classifies instants against the trading session.
// -----------------------------------------------------------------------------

type IMarketClock interface {
	Status(now time.Time) models.MMarketStatus
}
