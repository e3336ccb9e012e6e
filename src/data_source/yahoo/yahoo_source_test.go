package yahoo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"quote-relay/src/helpers"
	"quote-relay/src/logger"
	"quote-relay/src/models"
	"quote-relay/src/network"
)

const chartBody = `{
  "chart": {
    "result": [{
      "meta": {"currency": "KRW", "symbol": "005930.KS", "shortName": "SamsungElec", "regularMarketPrice": 71000, "chartPreviousClose": 69000},
      "timestamp": [1772496000, 1772582400, 1772668800],
      "indicators": {"quote": [{
        "open":   [69500, 70000, 70500],
        "high":   [70200, 70800, 71500],
        "low":    [69100, 69800, 70200],
        "close":  [69800, 70000, 71000],
        "volume": [9000000, 10000000, 12000000]
      }]}
    }],
    "error": null
  }
}`

func newTestSource(t *testing.T, handler http.HandlerFunc) *YahooFinanceSource {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	log := logger.FromZap(zaptest.NewLogger(t), "yahoo")
	proxies := helpers.NewProxyManager(nil, nil, log)
	return NewYahooFinanceSource(models.MYahooConfig{Enabled: true, BaseURL: srv.URL},
		network.NewNetworkManager(ProviderName, 2*time.Second, proxies, log), log, nil)
}

// -----------------------------------------------------------------------------

func TestFetchPriceNormalizesChart(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v8/finance/chart/005930.KS", r.URL.Path)
		assert.Equal(t, "5d", r.URL.Query().Get("range"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(chartBody))
	})

	snap, err := src.FetchPrice(context.Background(), "005930")
	require.NoError(t, err)
	assert.Equal(t, "005930", snap.Symbol)
	assert.Equal(t, "SamsungElec", snap.Name)
	assert.True(t, snap.Price.Equal(decimal.NewFromInt(71000)))
	assert.True(t, snap.PrevClose.Equal(decimal.NewFromInt(70000)), "previous bar wins over chartPreviousClose")
	assert.True(t, snap.Change.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, "1.43", snap.ChangePct.String())
	assert.Equal(t, "2", snap.ChangeSign)
	assert.Equal(t, int64(12000000), snap.Volume)
	assert.Equal(t, ProviderName, snap.Source)
}

// -----------------------------------------------------------------------------

func TestFetchPriceProviderError(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found"}}}`))
	})

	_, err := src.FetchPrice(context.Background(), "999999")
	var up *helpers.UpstreamError
	require.ErrorAs(t, err, &up)
	assert.Equal(t, http.StatusNotFound, up.Status)
}

// -----------------------------------------------------------------------------

func TestFetchDailyChartRangeAndWindow(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2y", r.URL.Query().Get("range"))
		assert.Equal(t, "1wk", r.URL.Query().Get("interval"))
		_, _ = w.Write([]byte(chartBody))
	})

	all, err := src.FetchDailyChart(context.Background(), "005930", models.MChartQuery{Period: "M"})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[0].Time.Before(all[2].Time))

	// 1772582400 is 2026-03-04 00:00 UTC, 09:00 KST
	window, err := src.FetchDailyChart(context.Background(), "005930", models.MChartQuery{Period: "M", Start: "20260304", End: "20260304"})
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.True(t, window[0].Close.Equal(decimal.NewFromInt(70000)))
}

// -----------------------------------------------------------------------------

func TestPointsSkipNullRows(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"chart":{"result":[{"meta":{"regularMarketPrice":0},
			"timestamp":[1,2],
			"indicators":{"quote":[{"open":[1,null],"high":[1,1],"low":[1,1],"close":[5,6],"volume":[10,10]}]}}]}}`))
	})

	snap, err := src.FetchPrice(context.Background(), "000660")
	require.NoError(t, err)
	assert.True(t, snap.Price.Equal(decimal.NewFromInt(5)), "falls back to the last complete close")
	assert.Equal(t, "000660", snap.Name)
}
