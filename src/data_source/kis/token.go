package kis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"quote-relay/src/helpers"
	"quote-relay/src/logger"
	"quote-relay/src/metrics"
	"quote-relay/src/models"
)

// TokenState is the lifecycle position of the provider token.
type TokenState int

const (
	TokenUnset TokenState = iota
	TokenValid
	TokenNearExpiry
	TokenExpired
)

func (s TokenState) String() string {
	switch s {
	case TokenValid:
		return "VALID"
	case TokenNearExpiry:
		return "NEAR_EXPIRY"
	case TokenExpired:
		return "EXPIRED"
	default:
		return "UNSET"
	}
}

// ExchangeFunc performs the credential exchange with the provider.
type ExchangeFunc func(ctx context.Context) (models.MAccessToken, error)

// TokenManager owns the process-wide provider token. Concurrent callers share
// a single in-flight refresh.
type TokenManager struct {
	exchange         ExchangeFunc
	margin           time.Duration
	failureThreshold int
	now              func() time.Time
	logger           *logger.Logger
	metrics          *metrics.Metrics

	mu       sync.Mutex
	token    models.MAccessToken
	failures int

	group singleflight.Group
}

// -----------------------------------------------------------------------------

func NewTokenManager(exchange ExchangeFunc, margin time.Duration, failureThreshold int, log *logger.Logger, m *metrics.Metrics) *TokenManager {
	if failureThreshold <= 0 {
		failureThreshold = 3
	}
	if log == nil {
		log = logger.Nop()
	}
	return &TokenManager{
		exchange:         exchange,
		margin:           margin,
		failureThreshold: failureThreshold,
		now:              time.Now,
		logger:           log,
		metrics:          m,
	}
}

// -----------------------------------------------------------------------------

// State reports where the cached token sits relative to now.
func (tm *TokenManager) State(now time.Time) TokenState {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.stateLocked(now)
}

func (tm *TokenManager) stateLocked(now time.Time) TokenState {
	switch {
	case tm.token.Value == "":
		return TokenUnset
	case now.Before(tm.token.ExpiresAt.Add(-tm.margin)):
		return TokenValid
	case now.Before(tm.token.ExpiresAt):
		return TokenNearExpiry
	default:
		return TokenExpired
	}
}

// -----------------------------------------------------------------------------

// Token returns a token that is valid for at least the refresh margin,
// exchanging credentials when needed.
func (tm *TokenManager) Token(ctx context.Context) (string, error) {
	tm.mu.Lock()
	if tm.stateLocked(tm.now()) == TokenValid {
		value := tm.token.Value
		tm.mu.Unlock()
		return value, nil
	}
	tm.mu.Unlock()

	ch := tm.group.DoChan("token", func() (interface{}, error) {
		return tm.refresh()
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// -----------------------------------------------------------------------------

// refresh runs detached from any single caller's context so one cancelled
// request does not fail the others waiting on it.
func (tm *TokenManager) refresh() (string, error) {
	tm.mu.Lock()
	if tm.stateLocked(tm.now()) == TokenValid {
		value := tm.token.Value
		tm.mu.Unlock()
		return value, nil
	}
	tm.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	token, err := tm.exchange(ctx)
	if err == nil && token.Value == "" {
		err = fmt.Errorf("empty access token")
	}
	tm.metrics.TokenRefresh(err)

	tm.mu.Lock()
	defer tm.mu.Unlock()

	if err != nil {
		tm.failures++
		if tm.failures >= tm.failureThreshold {
			tm.metrics.TokenHealthy(false)
			tm.logger.Error("ALERT token exchange failed %d consecutive times: %v", tm.failures, err)
		} else {
			tm.logger.Warning("token exchange failed (%d/%d): %v", tm.failures, tm.failureThreshold, err)
		}
		return "", helpers.NewAuthError("", "kis token exchange failed", err)
	}

	if tm.failures >= tm.failureThreshold {
		tm.logger.Info("token exchange recovered after %d failures", tm.failures)
	}
	tm.failures = 0
	tm.metrics.TokenHealthy(true)
	tm.token = token
	tm.logger.Info("token refreshed, expires %s", token.ExpiresAt.Format(time.RFC3339))
	return token.Value, nil
}

// -----------------------------------------------------------------------------

// Invalidate drops the cached token after the provider rejected it.
func (tm *TokenManager) Invalidate() {
	tm.mu.Lock()
	tm.token = models.MAccessToken{}
	tm.mu.Unlock()
}

// -----------------------------------------------------------------------------

// Failures returns the count of consecutive failed exchanges.
func (tm *TokenManager) Failures() int {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.failures
}
