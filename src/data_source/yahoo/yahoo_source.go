package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"quote-relay/src/helpers"
	"quote-relay/src/interfaces"
	"quote-relay/src/logger"
	"quote-relay/src/metrics"
	"quote-relay/src/models"
	"quote-relay/src/utils"
)

const (
	ProviderName   = "yahoo"
	DefaultBaseURL = "https://query1.finance.yahoo.com"
)

type rangeSpec struct {
	Range    string
	Interval string
}

// Daily chart periods map onto chart ranges.
var periodRanges = map[string]rangeSpec{
	"D": {Range: "6mo", Interval: "1d"},
	"W": {Range: "1y", Interval: "1d"},
	"M": {Range: "2y", Interval: "1wk"},
	"Y": {Range: "5y", Interval: "1wk"},
}

// YahooFinanceSource is the fallback provider for quotes and daily bars.
type YahooFinanceSource struct {
	BaseURL string
	Network interfaces.INetworkManager
	Logger  *logger.Logger
	Metrics *metrics.Metrics

	location *time.Location
	now      func() time.Time
}

// -----------------------------------------------------------------------------

func (s *YahooFinanceSource) Name() string {
	return ProviderName
}

// -----------------------------------------------------------------------------

func NewYahooFinanceSource(cfg models.MYahooConfig, netMgr interfaces.INetworkManager, log *logger.Logger, m *metrics.Metrics) *YahooFinanceSource {
	if log == nil {
		log = logger.Nop()
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	return &YahooFinanceSource{
		BaseURL:  base,
		Network:  netMgr,
		Logger:   log,
		Metrics:  m,
		location: utils.LoadLocation(utils.DefaultTimezone),
		now:      time.Now,
	}
}

// -----------------------------------------------------------------------------

type YahooChartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Currency           string  `json:"currency"`
				Symbol             string  `json:"symbol"`
				ShortName          string  `json:"shortName"`
				LongName           string  `json:"longName"`
				ExchangeName       string  `json:"exchangeName"`
				RegularMarketTime  int64   `json:"regularMarketTime"`
				Gmtoffset          int     `json:"gmtoffset"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				ChartPreviousClose float64 `json:"chartPreviousClose"`
				PreviousClose      float64 `json:"previousClose"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					High   []*float64 `json:"high"`   // Use pointers to handle null
					Low    []*float64 `json:"low"`    // Use pointers to handle null
					Open   []*float64 `json:"open"`   // Use pointers to handle null
					Close  []*float64 `json:"close"`  // Use pointers to handle null
					Volume []*float64 `json:"volume"` // Use pointers to handle null
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type chartPoint struct {
	timestamp int64
	open      float64
	high      float64
	low       float64
	close     float64
	volume    float64
}

// -----------------------------------------------------------------------------

func (s *YahooFinanceSource) fetchChart(ctx context.Context, op, symbol string, rng rangeSpec) (*YahooChartResponse, error) {
	params := map[string]string{
		"range":          rng.Range,
		"interval":       rng.Interval,
		"includePrePost": "false",
	}

	url := fmt.Sprintf("%s/v8/finance/chart/%s", s.BaseURL, symbol)
	body, err := s.Network.Get(ctx, url, params, nil)
	if err != nil {
		s.Metrics.UpstreamRequest(ProviderName, op, err)
		return nil, err
	}

	var resp YahooChartResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		err = helpers.NewUpstreamError(ProviderName, 0, "json unmarshal failed", err)
		s.Metrics.UpstreamRequest(ProviderName, op, err)
		return nil, err
	}
	if resp.Chart.Error != nil {
		err = helpers.NewUpstreamError(ProviderName, 0, fmt.Sprintf("api error: %s - %s", resp.Chart.Error.Code, resp.Chart.Error.Description), nil)
		s.Metrics.UpstreamRequest(ProviderName, op, err)
		return nil, err
	}
	if len(resp.Chart.Result) == 0 {
		err = helpers.NewUpstreamError(ProviderName, 0, "no result in response for "+symbol, nil)
		s.Metrics.UpstreamRequest(ProviderName, op, err)
		return nil, err
	}

	s.Metrics.UpstreamRequest(ProviderName, op, nil)
	return &resp, nil
}

// -----------------------------------------------------------------------------

// points extracts complete OHLCV rows sorted by timestamp. Rows with a null
// field or a non-positive close are skipped.
func (s *YahooFinanceSource) points(symbol string, resp *YahooChartResponse) []chartPoint {
	result := resp.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil
	}
	quote := result.Indicators.Quote[0]

	at := func(values []*float64, i int) (float64, bool) {
		if i >= len(values) || values[i] == nil {
			return 0, false
		}
		return *values[i], true
	}

	var points []chartPoint
	for i, ts := range result.Timestamp {
		open, okO := at(quote.Open, i)
		high, okH := at(quote.High, i)
		low, okL := at(quote.Low, i)
		closeVal, okC := at(quote.Close, i)
		volume, okV := at(quote.Volume, i)
		if !okO || !okH || !okL || !okC || !okV {
			s.Logger.Debug("Incomplete OHLCV row for %s at index %d", symbol, i)
			continue
		}
		if closeVal <= 0 || volume < 0 {
			continue
		}
		points = append(points, chartPoint{timestamp: ts, open: open, high: high, low: low, close: closeVal, volume: volume})
	}

	sort.Slice(points, func(i, j int) bool {
		return points[i].timestamp < points[j].timestamp
	})
	return points
}

// -----------------------------------------------------------------------------

// FetchPrice builds a snapshot from the short daily chart, matching the shape
// the primary provider returns.
func (s *YahooFinanceSource) FetchPrice(ctx context.Context, code string) (models.MPriceSnapshot, error) {
	symbol := utils.YahooSymbol(code)
	resp, err := s.fetchChart(ctx, "price", symbol, rangeSpec{Range: "5d", Interval: "1d"})
	if err != nil {
		return models.MPriceSnapshot{}, err
	}
	meta := resp.Chart.Result[0].Meta
	points := s.points(symbol, resp)

	current := meta.RegularMarketPrice
	prevClose := meta.ChartPreviousClose
	if prevClose == 0 {
		prevClose = meta.PreviousClose
	}
	var last chartPoint
	if n := len(points); n > 0 {
		last = points[n-1]
		if current == 0 {
			current = last.close
		}
		if n > 1 {
			prevClose = points[n-2].close
		}
	}
	if current <= 0 {
		return models.MPriceSnapshot{}, helpers.NewUpstreamError(ProviderName, 0, "no price for "+symbol, nil)
	}

	price := decimal.NewFromFloat(current)
	prev := decimal.NewFromFloat(prevClose)
	change := price.Sub(prev)
	changePct := decimal.Zero
	if prev.IsPositive() {
		changePct = change.Div(prev).Mul(decimal.NewFromInt(100))
	}

	name := meta.ShortName
	if name == "" {
		name = meta.LongName
	}
	if name == "" {
		name = code
	}

	return models.MPriceSnapshot{
		Symbol:     code,
		Name:       name,
		Price:      price,
		Change:     change.Round(2),
		ChangePct:  changePct.Round(2),
		ChangeSign: changeSign(change),
		Volume:     int64(last.volume),
		High:       decimal.NewFromFloat(last.high),
		Low:        decimal.NewFromFloat(last.low),
		Open:       decimal.NewFromFloat(last.open),
		PrevClose:  prev,
		Source:     ProviderName,
		CapturedAt: s.now(),
	}, nil
}

// -----------------------------------------------------------------------------

// FetchDailyChart returns bars oldest first for the range matching the query
// period, trimmed to the requested dates when given.
func (s *YahooFinanceSource) FetchDailyChart(ctx context.Context, code string, query models.MChartQuery) ([]models.MCandle, error) {
	symbol := utils.YahooSymbol(code)
	rng, ok := periodRanges[strings.ToUpper(query.Period)]
	if !ok {
		rng = periodRanges["D"]
	}

	resp, err := s.fetchChart(ctx, "daily_chart", symbol, rng)
	if err != nil {
		return nil, err
	}

	var from, to time.Time
	if t, err := time.ParseInLocation(utils.KISDateLayout, query.Start, s.location); err == nil {
		from = t
	}
	if t, err := time.ParseInLocation(utils.KISDateLayout, query.End, s.location); err == nil {
		to = t.AddDate(0, 0, 1)
	}

	points := s.points(symbol, resp)
	candles := make([]models.MCandle, 0, len(points))
	for _, p := range points {
		ts := time.Unix(p.timestamp, 0).UTC()
		if !from.IsZero() && ts.Before(from) {
			continue
		}
		if !to.IsZero() && !ts.Before(to) {
			continue
		}
		candles = append(candles, models.MCandle{
			Time:   ts,
			Open:   decimal.NewFromFloat(p.open),
			High:   decimal.NewFromFloat(p.high),
			Low:    decimal.NewFromFloat(p.low),
			Close:  decimal.NewFromFloat(p.close),
			Volume: int64(p.volume),
		})
	}

	if len(candles) > 0 {
		s.Logger.Debug("Fetched %s: %d bars [%s -> %s]", symbol, len(candles),
			candles[0].Time.Format(time.DateOnly), candles[len(candles)-1].Time.Format(time.DateOnly))
	}
	return candles, nil
}

// -----------------------------------------------------------------------------

// changeSign uses the primary provider's codes: 2 rise, 3 flat, 5 fall.
func changeSign(change decimal.Decimal) string {
	switch change.Sign() {
	case 1:
		return "2"
	case -1:
		return "5"
	default:
		return "3"
	}
}
