package network

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"quote-relay/src/helpers"
	"quote-relay/src/logger"
)

func newManager(t *testing.T) *NetworkManager {
	t.Helper()
	log := logger.FromZap(zaptest.NewLogger(t), "net")
	return NewNetworkManager("kis", 0, helpers.NewProxyManager(nil, []string{"relay-test"}, log), log)
}

// -----------------------------------------------------------------------------

func TestGetSendsParamsAndUserAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "005930", r.URL.Query().Get("FID_INPUT_ISCD"))
		assert.Equal(t, "relay-test", r.Header.Get("User-Agent"))
		assert.Equal(t, "FHKST01010100", r.Header.Get("tr_id"))
		w.Write([]byte(`{"rt_cd":"0"}`))
	}))
	defer srv.Close()

	body, err := newManager(t).Get(context.Background(), srv.URL, map[string]string{"FID_INPUT_ISCD": "005930"}, map[string]string{"tr_id": "FHKST01010100"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"rt_cd":"0"}`, string(body))
}

// -----------------------------------------------------------------------------

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		check  func(t *testing.T, err error)
	}{
		{http.StatusTooManyRequests, func(t *testing.T, err error) {
			var rl *helpers.RateLimitError
			assert.ErrorAs(t, err, &rl)
		}},
		{http.StatusForbidden, func(t *testing.T, err error) {
			var au *helpers.AuthError
			assert.ErrorAs(t, err, &au)
		}},
		{http.StatusInternalServerError, func(t *testing.T, err error) {
			var up *helpers.UpstreamError
			require.ErrorAs(t, err, &up)
			assert.Equal(t, http.StatusInternalServerError, up.Status)
			assert.Equal(t, "kis", up.Provider)
		}},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			_, err := newManager(t).Get(context.Background(), srv.URL, nil, nil)
			tc.check(t, err)
		})
	}
}

// -----------------------------------------------------------------------------

func TestPostJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.Header.Get("Content-Type"), "application/json")
		w.Write([]byte(`{"access_token":"t"}`))
	}))
	defer srv.Close()

	body, err := newManager(t).PostJSON(context.Background(), srv.URL, map[string]string{"grant_type": "client_credentials"}, nil)
	require.NoError(t, err)
	assert.Contains(t, string(body), "access_token")
}

// -----------------------------------------------------------------------------

func TestCancelledContextIsNotUpstream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newManager(t).Get(ctx, srv.URL, nil, nil)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, helpers.IsUpstream(err))
}
