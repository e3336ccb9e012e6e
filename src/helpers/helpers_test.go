package helpers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"quote-relay/src/logger"
)

func TestRetryFixed(t *testing.T) {
	calls := 0
	err := RetryFixed(context.Background(), 2, time.Millisecond, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = RetryFixed(context.Background(), 1, time.Millisecond, func(ctx context.Context) error {
		calls++
		return errors.New("down")
	})
	assert.EqualError(t, err, "down")
	assert.Equal(t, 2, calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = RetryFixed(ctx, 3, time.Second, func(ctx context.Context) error { return errors.New("x") })
	assert.ErrorIs(t, err, context.Canceled)
}

// -----------------------------------------------------------------------------

func TestIsUpstream(t *testing.T) {
	assert.True(t, IsUpstream(NewUpstreamError("kis", 500, "boom", nil)))
	assert.True(t, IsUpstream(NewRateLimitError("kis", "slow")))
	assert.True(t, IsUpstream(NewAuthError("", "rejected", nil)))
	assert.False(t, IsUpstream(NewValidationError("bad")))
	assert.False(t, IsUpstream(context.Canceled))
}

// -----------------------------------------------------------------------------

func TestErrorHandlerLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	h := NewErrorHandler(logger.FromZap(zap.New(core), "test"))

	h.Handle(nil, "noop")
	h.Handle(NewRateLimitError("kis", "slow"), "poll")
	h.Handle(NewValidationError("bad symbol"), "subscribe")
	h.Handle(errors.New("boom"), "poll")

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, zapcore.DebugLevel, entries[1].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
}

// -----------------------------------------------------------------------------

func TestProxyManager(t *testing.T) {
	pm := NewProxyManager([]string{"10.0.0.1:8080", "", "socks5://10.0.0.2:1080", "ftp://nope"}, nil, nil)
	require.True(t, pm.HasProxies())

	first, err := pm.GetCurrentProxy()
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.1:8080", first)

	pm.RotateProxy()
	second, _ := pm.GetCurrentProxy()
	assert.Equal(t, "socks5://10.0.0.2:1080", second)

	pm.RotateProxy()
	again, _ := pm.GetCurrentProxy()
	assert.Equal(t, first, again)

	assert.NotEmpty(t, pm.GetUserAgent())
	assert.False(t, NewProxyManager(nil, nil, nil).HasProxies())
}
