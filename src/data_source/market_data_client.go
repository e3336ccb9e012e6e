package datasource

import (
	"context"
	"fmt"
	"strings"

	"quote-relay/src/cache"
	"quote-relay/src/helpers"
	"quote-relay/src/interfaces"
	"quote-relay/src/logger"
	"quote-relay/src/metrics"
	"quote-relay/src/models"
	"quote-relay/src/utils"
)

// TopCodes are the symbols of the market overview, with display names.
var TopCodes = []struct {
	Code string
	Name string
}{
	{"005930", "삼성전자"},
	{"000660", "SK하이닉스"},
	{"035420", "NAVER"},
	{"035720", "카카오"},
	{"005380", "현대차"},
	{"051910", "LG화학"},
	{"006400", "삼성SDI"},
	{"207940", "삼성바이오로직스"},
}

// MarketDataClient is the cached entry point to the upstream providers. Price
// and daily chart fall back to the secondary source once when the primary fails.
type MarketDataClient struct {
	Primary   interfaces.IMarketDataSource
	Secondary interfaces.IQuoteSource
	Cache     *cache.TTLCache
	TTL       models.MCacheTTLConfig
	Logger    *logger.Logger
	Metrics   *metrics.Metrics
}

// -----------------------------------------------------------------------------

// NewMarketDataClient wires the providers. secondary may be nil to disable fallback.
func NewMarketDataClient(primary interfaces.IMarketDataSource, secondary interfaces.IQuoteSource, c *cache.TTLCache, ttl models.MCacheTTLConfig, log *logger.Logger, m *metrics.Metrics) *MarketDataClient {
	if log == nil {
		log = logger.Nop()
	}
	return &MarketDataClient{
		Primary:   primary,
		Secondary: secondary,
		Cache:     c,
		TTL:       ttl,
		Logger:    log,
		Metrics:   m,
	}
}

// -----------------------------------------------------------------------------

func normalize(symbol string) (string, error) {
	code, ok := utils.NormalizeSymbol(symbol)
	if !ok {
		return "", helpers.NewValidationError(fmt.Sprintf("invalid symbol %q", symbol))
	}
	return code, nil
}

// -----------------------------------------------------------------------------

// fallback makes exactly one secondary attempt after the primary failed with
// primaryErr. When both fail the primary error is returned and the secondary one
// only logged.
func fallback[T any](ctx context.Context, mc *MarketDataClient, op string, primaryErr error, secondary func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if mc.Secondary == nil || ctx.Err() != nil {
		return zero, primaryErr
	}

	mc.Logger.Warning("%s: %s failed, trying %s: %v", op, mc.Primary.Name(), mc.Secondary.Name(), primaryErr)
	value, err := secondary(ctx)
	mc.Metrics.Fallback(op, err)
	if err != nil {
		mc.Logger.Error("%s: both providers failed: %s=%v, %s=%v", op, mc.Primary.Name(), primaryErr, mc.Secondary.Name(), err)
		return zero, primaryErr
	}
	return value, nil
}

// -----------------------------------------------------------------------------

// GetPrice returns the current snapshot for symbol.
func (mc *MarketDataClient) GetPrice(ctx context.Context, symbol string) (models.MPriceSnapshot, error) {
	code, err := normalize(symbol)
	if err != nil {
		return models.MPriceSnapshot{}, err
	}

	snap, _, err := cache.Remember(ctx, mc.Cache, "kis_price_"+code, mc.TTL.Price.Duration, func(ctx context.Context) (models.MPriceSnapshot, error) {
		return mc.Primary.FetchPrice(ctx, code)
	})
	if err == nil {
		return snap, nil
	}

	return fallback(ctx, mc, "price", err, func(ctx context.Context) (models.MPriceSnapshot, error) {
		quote, _, err := cache.Remember(ctx, mc.Cache, "yq_"+code, mc.TTL.YahooQuote.Duration, func(ctx context.Context) (models.MPriceSnapshot, error) {
			return mc.Secondary.FetchPrice(ctx, code)
		})
		return quote, err
	})
}

// -----------------------------------------------------------------------------

// GetDailyChart returns daily-or-longer bars oldest first.
func (mc *MarketDataClient) GetDailyChart(ctx context.Context, symbol string, query models.MChartQuery) ([]models.MCandle, error) {
	code, err := normalize(symbol)
	if err != nil {
		return nil, err
	}
	period := strings.ToUpper(query.Period)
	key := fmt.Sprintf("kis_chart_%s_%s_%s_%s", code, period, query.Start, query.End)

	candles, _, err := cache.Remember(ctx, mc.Cache, key, mc.TTL.DailyChart.Duration, func(ctx context.Context) ([]models.MCandle, error) {
		return mc.Primary.FetchDailyChart(ctx, code, query)
	})
	if err == nil {
		return candles, nil
	}

	return fallback(ctx, mc, "daily_chart", err, func(ctx context.Context) ([]models.MCandle, error) {
		history, _, err := cache.Remember(ctx, mc.Cache, fmt.Sprintf("yh_%s_%s_%s_%s", code, period, query.Start, query.End), mc.TTL.DailyChart.Duration,
			func(ctx context.Context) ([]models.MCandle, error) {
				return mc.Secondary.FetchDailyChart(ctx, code, query)
			})
		return history, err
	})
}

func isClock(s string) bool {
	if len(s) != 6 {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// -----------------------------------------------------------------------------

// GetMinuteChart returns intraday one-minute bars. There is no fallback.
func (mc *MarketDataClient) GetMinuteChart(ctx context.Context, symbol, startTime string, maxPages int) ([]models.MCandle, error) {
	code, err := normalize(symbol)
	if err != nil {
		return nil, err
	}
	if startTime != "" && !isClock(startTime) {
		return nil, helpers.NewValidationError(fmt.Sprintf("invalid start time %q, want HHMMSS", startTime))
	}
	bucket := startTime
	if len(bucket) >= 4 {
		bucket = bucket[:4]
	}

	candles, _, err := cache.Remember(ctx, mc.Cache, fmt.Sprintf("kis_min_%s_%s_%d", code, bucket, maxPages), mc.TTL.MinuteChart.Duration, func(ctx context.Context) ([]models.MCandle, error) {
		return mc.Primary.FetchMinuteChart(ctx, code, startTime, maxPages)
	})
	return candles, err
}

// -----------------------------------------------------------------------------

func (mc *MarketDataClient) GetTrades(ctx context.Context, symbol string) ([]models.MTrade, error) {
	code, err := normalize(symbol)
	if err != nil {
		return nil, err
	}
	trades, _, err := cache.Remember(ctx, mc.Cache, "kis_trades_"+code, mc.TTL.Trades.Duration, func(ctx context.Context) ([]models.MTrade, error) {
		return mc.Primary.FetchTrades(ctx, code)
	})
	return trades, err
}

// -----------------------------------------------------------------------------

func (mc *MarketDataClient) GetFluctuationRanking(ctx context.Context, sortType string) ([]models.MRankEntry, error) {
	if sortType == "" {
		sortType = "0"
	}
	if len(sortType) != 1 || sortType[0] < '0' || sortType[0] > '5' {
		return nil, helpers.NewValidationError(fmt.Sprintf("invalid ranking type %q", sortType))
	}
	entries, _, err := cache.Remember(ctx, mc.Cache, "kis_fluct_"+sortType, mc.TTL.Ranking.Duration, func(ctx context.Context) ([]models.MRankEntry, error) {
		return mc.Primary.FetchFluctuationRanking(ctx, sortType)
	})
	return entries, err
}

// -----------------------------------------------------------------------------

func (mc *MarketDataClient) GetVolumeRanking(ctx context.Context) ([]models.MRankEntry, error) {
	entries, _, err := cache.Remember(ctx, mc.Cache, "kis_vol_rank", mc.TTL.Ranking.Duration, mc.Primary.FetchVolumeRanking)
	return entries, err
}

// -----------------------------------------------------------------------------

func (mc *MarketDataClient) GetInvestor(ctx context.Context, symbol string) (models.MInvestorSummary, error) {
	code, err := normalize(symbol)
	if err != nil {
		return models.MInvestorSummary{}, err
	}
	summary, _, err := cache.Remember(ctx, mc.Cache, "kis_investor_"+code, mc.TTL.Investor.Duration, func(ctx context.Context) (models.MInvestorSummary, error) {
		return mc.Primary.FetchInvestor(ctx, code)
	})
	return summary, err
}

// -----------------------------------------------------------------------------

// GetIndex accepts 0001 (KOSPI) or 1001 (KOSDAQ).
func (mc *MarketDataClient) GetIndex(ctx context.Context, indexCode string) (models.MIndexQuote, error) {
	if indexCode == "" {
		indexCode = "0001"
	}
	if indexCode != "0001" && indexCode != "1001" {
		return models.MIndexQuote{}, helpers.NewValidationError(fmt.Sprintf("unknown index %q", indexCode))
	}
	quote, _, err := cache.Remember(ctx, mc.Cache, "kis_index_"+indexCode, mc.TTL.Index.Duration, func(ctx context.Context) (models.MIndexQuote, error) {
		return mc.Primary.FetchIndex(ctx, indexCode)
	})
	return quote, err
}

// -----------------------------------------------------------------------------

// GetMarketOverview quotes the top symbols one by one. A failing symbol is
// skipped; when the primary yields nothing the secondary is asked instead.
func (mc *MarketDataClient) GetMarketOverview(ctx context.Context) ([]models.MPriceSnapshot, error) {
	var cached []models.MPriceSnapshot
	if mc.Cache.Lookup(ctx, "kis_market_overview", mc.TTL.MarketOverview.Duration, &cached) {
		return cached, nil
	}

	results := mc.overviewFrom(ctx, mc.Primary)
	if len(results) == 0 && mc.Secondary != nil && ctx.Err() == nil {
		mc.Logger.Warning("market overview: %s returned nothing, trying %s", mc.Primary.Name(), mc.Secondary.Name())
		results = mc.overviewFrom(ctx, mc.Secondary)
		mc.Metrics.Fallback("market_overview", nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(results) > 0 {
		mc.Cache.Put(ctx, "kis_market_overview", results)
	}
	return results, nil
}

func (mc *MarketDataClient) overviewFrom(ctx context.Context, src interfaces.IQuoteSource) []models.MPriceSnapshot {
	results := make([]models.MPriceSnapshot, 0, len(TopCodes))
	for _, top := range TopCodes {
		if ctx.Err() != nil {
			break
		}
		snap, err := src.FetchPrice(ctx, top.Code)
		if err != nil {
			mc.Logger.Debug("market overview: skipping %s: %v", top.Code, err)
			continue
		}
		snap.Name = top.Name
		results = append(results, snap)
	}
	return results
}

// -----------------------------------------------------------------------------

// Health reports whether the primary provider can issue a token.
func (mc *MarketDataClient) Health(ctx context.Context) map[string]string {
	status := map[string]string{mc.Primary.Name(): "ok"}
	if err := mc.Primary.Health(ctx); err != nil {
		status[mc.Primary.Name()] = err.Error()
	}
	return status
}

// -----------------------------------------------------------------------------

// InvalidateCache drops every cached entry whose key starts with prefix.
func (mc *MarketDataClient) InvalidateCache(ctx context.Context, prefix string) (int, error) {
	return mc.Cache.DeleteByPrefix(ctx, prefix)
}

// -----------------------------------------------------------------------------

func (mc *MarketDataClient) CacheStats(ctx context.Context) models.MCacheStats {
	return mc.Cache.Stats(ctx)
}
