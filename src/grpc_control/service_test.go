package grpc_control

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"quote-relay/src/logger"
	"quote-relay/src/models"
)

type fakeStats struct{}

func (fakeStats) Stats() models.MRelayStats {
	return models.MRelayStats{TotalConnections: 3, AuthenticatedConnections: 2, UniqueSymbolsWatched: 1, Symbols: []string{"005930"}, IsPolling: true}
}

type fakeClock struct{}

func (fakeClock) Status(time.Time) models.MMarketStatus {
	return models.MMarketStatus{IsOpen: true, Status: models.MarketOpen}
}

type fakeCache struct {
	prefixes []string
	err      error
}

func (f *fakeCache) InvalidateCache(ctx context.Context, prefix string) (int, error) {
	f.prefixes = append(f.prefixes, prefix)
	return 4, f.err
}

// -----------------------------------------------------------------------------

func dial(t *testing.T, cache *fakeCache) *grpc.ClientConn {
	t.Helper()
	log := logger.FromZap(zaptest.NewLogger(t), "grpc")
	lis := bufconn.Listen(1 << 20)

	srv := NewServer(NewControlService(fakeStats{}, fakeClock{}, cache, log), log)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// -----------------------------------------------------------------------------

func TestGetStats(t *testing.T) {
	client := NewControlClient(dial(t, &fakeCache{}))

	stats, err := client.GetStats(context.Background())
	require.NoError(t, err)
	fields := stats.AsMap()
	assert.EqualValues(t, 3, fields["totalConnections"])
	assert.EqualValues(t, 2, fields["authenticatedConnections"])
	assert.Equal(t, []interface{}{"005930"}, fields["symbols"])
	assert.Equal(t, true, fields["isPolling"])
}

func TestGetMarketStatus(t *testing.T) {
	client := NewControlClient(dial(t, &fakeCache{}))

	st, err := client.GetMarketStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, true, st.AsMap()["isOpen"])
	assert.Equal(t, string(models.MarketOpen), st.AsMap()["status"])
}

// -----------------------------------------------------------------------------

func TestPurgeCache(t *testing.T) {
	cache := &fakeCache{}
	client := NewControlClient(dial(t, cache))
	ctx := context.Background()

	n, err := client.PurgeCache(ctx, "kis_price_")
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)
	assert.Equal(t, []string{"kis_price_"}, cache.prefixes)

	_, err = client.PurgeCache(ctx, "")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	cache.err = errors.New("redis down")
	_, err = client.PurgeCache(ctx, "yq_")
	assert.Equal(t, codes.Internal, status.Code(err))
}

// -----------------------------------------------------------------------------

func TestHealthService(t *testing.T) {
	conn := dial(t, &fakeCache{})
	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}
