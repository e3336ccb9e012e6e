package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quote-relay/src/models"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Inbound
	}{
		{"auth", `{"type":"auth","token":"abc"}`, Inbound{Kind: KindAuth, RawType: "auth", Token: "abc"}},
		{"subscribe", `{"type":"subscribe","symbol":"005930.KS"}`, Inbound{Kind: KindSubscribe, RawType: "subscribe", Symbol: "005930.KS"}},
		{"non-string symbol", `{"type":"subscribe","symbol":5930}`, Inbound{Kind: KindSubscribe, RawType: "subscribe"}},
		{"ping", `{"type":"ping"}`, Inbound{Kind: KindPing, RawType: "ping"}},
		{"unknown", `{"type":"watch"}`, Inbound{Kind: KindUnknown, RawType: "watch"}},
		{"missing type", `{}`, Inbound{Kind: KindUnknown}},
		{"numeric type", `{"type":7}`, Inbound{Kind: KindUnknown, RawType: "7"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeRejectsNonObjects(t *testing.T) {
	for _, raw := range []string{`not json`, `[1,2]`, `"auth"`, `{"type":`} {
		_, err := Decode([]byte(raw))
		assert.Error(t, err, raw)
	}
}

// -----------------------------------------------------------------------------

func decodeMap(t *testing.T, m Message) map[string]interface{} {
	t.Helper()
	data, err := Encode(m)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestEncodeCarriesType(t *testing.T) {
	out := decodeMap(t, Authenticated{
		User:   UserInfo{Name: "Kim", Plan: "pro"},
		Limits: Limits{MaxSubscriptions: 20, PollInterval: 10000},
	})
	assert.Equal(t, "authenticated", out["type"])
	assert.Equal(t, map[string]interface{}{"name": "Kim", "plan": "pro"}, out["user"])
	assert.Equal(t, map[string]interface{}{"maxSubscriptions": float64(20), "pollInterval": float64(10000)}, out["limits"])

	out = decodeMap(t, MarketStatus{models.MMarketStatus{IsOpen: true, Status: models.MarketOpen, NextEvent: "Closes today 15:30 KST"}})
	assert.Equal(t, "market_status", out["type"])
	assert.Equal(t, true, out["isOpen"])
	assert.Equal(t, "OPEN", out["status"])
	assert.Equal(t, "Closes today 15:30 KST", out["nextEvent"])

	out = decodeMap(t, NewError(CodeLimitExceeded, "Maximum %d subscriptions (%s plan)", 5, "free"))
	assert.Equal(t, map[string]interface{}{"type": "error", "code": "LIMIT_EXCEEDED", "message": "Maximum 5 subscriptions (free plan)"}, out)
}

func TestEncodeEmptySubscriptionsAsArray(t *testing.T) {
	data, err := Encode(Unsubscribed{Symbol: "005930"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"unsubscribed","symbol":"005930","subscriptions":[]}`, string(data))
}

func TestPriceUpdateFromSnapshot(t *testing.T) {
	captured := time.Date(2026, 3, 4, 1, 0, 0, 0, time.UTC)
	up := NewPriceUpdate(models.MPriceSnapshot{
		Symbol:       "005930",
		Name:         "삼성전자",
		Price:        decimal.NewFromInt(71000),
		Change:       decimal.NewFromInt(1000),
		ChangePct:    decimal.RequireFromString("1.43"),
		ChangeSign:   "2",
		Volume:       1234,
		MarketStatus: models.MarketOpen,
		CapturedAt:   captured,
	})
	out := decodeMap(t, up)
	assert.Equal(t, "price_update", out["type"])
	assert.Equal(t, "005930", out["symbol"])
	assert.Equal(t, "2", out["changeSign"])
	assert.Equal(t, float64(captured.UnixMilli()), out["time"])
	assert.Equal(t, "OPEN", out["marketStatus"])
	assert.NotContains(t, out, "source")
}

func TestPong(t *testing.T) {
	now := time.UnixMilli(1772600000123)
	out := decodeMap(t, NewPong(now))
	assert.Equal(t, "pong", out["type"])
	assert.Equal(t, float64(1772600000123), out["time"])
}
