package interfaces

import (
	"context"

	"quote-relay/src/models"
)

// -----------------------------------------------------------------------------
// IQuoteSource is any provider that can answer the fallback-capable operations.
// -----------------------------------------------------------------------------

type IQuoteSource interface {

	// Name returns the unique identifier of the source
	Name() string

	// -----------------------------------------------------------------------------

	// FetchPrice returns the current snapshot for a 6-digit code.
	FetchPrice(ctx context.Context, code string) (models.MPriceSnapshot, error)

	// -----------------------------------------------------------------------------

	// FetchDailyChart returns bars oldest first.
	FetchDailyChart(ctx context.Context, code string, query models.MChartQuery) ([]models.MCandle, error)
}

// -----------------------------------------------------------------------------
// IMarketDataSource is the primary provider with the full operation set.
// -----------------------------------------------------------------------------

type IMarketDataSource interface {
	IQuoteSource

	// -----------------------------------------------------------------------------

	// FetchMinuteChart pages backwards from startTime (HHMMSS) and returns bars
	// oldest first. Partial results are returned when a later page fails.
	FetchMinuteChart(ctx context.Context, code string, startTime string, maxPages int) ([]models.MCandle, error)

	// -----------------------------------------------------------------------------

	FetchTrades(ctx context.Context, code string) ([]models.MTrade, error)

	// -----------------------------------------------------------------------------

	FetchFluctuationRanking(ctx context.Context, sortType string) ([]models.MRankEntry, error)

	// -----------------------------------------------------------------------------

	FetchVolumeRanking(ctx context.Context) ([]models.MRankEntry, error)

	// -----------------------------------------------------------------------------

	FetchInvestor(ctx context.Context, code string) (models.MInvestorSummary, error)

	// -----------------------------------------------------------------------------

	FetchIndex(ctx context.Context, indexCode string) (models.MIndexQuote, error)

	// -----------------------------------------------------------------------------

	// Health acquires a token to confirm connectivity.
	Health(ctx context.Context) error
}

// -----------------------------------------------------------------------------
// IThrottle spaces upstream request starts. Wait blocks, it never drops.
// -----------------------------------------------------------------------------

type IThrottle interface {
	Wait(ctx context.Context) error
}

// -----------------------------------------------------------------------------
// IPriceFetcher is what the polling scheduler needs from the upstream client.
// -----------------------------------------------------------------------------

type IPriceFetcher interface {
	GetPrice(ctx context.Context, symbol string) (models.MPriceSnapshot, error)
}
