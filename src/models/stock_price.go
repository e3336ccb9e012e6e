package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MPriceSnapshot is the most recent quote for one symbol.
type MPriceSnapshot struct {
	Symbol       string          `json:"symbol"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	Change       decimal.Decimal `json:"change"`
	ChangePct    decimal.Decimal `json:"changePct"`
	ChangeSign   string          `json:"changeSign,omitempty"`
	Volume       int64           `json:"volume"`
	High         decimal.Decimal `json:"high"`
	Low          decimal.Decimal `json:"low"`
	Open         decimal.Decimal `json:"open"`
	PrevClose    decimal.Decimal `json:"prevClose"`
	MarketStatus MarketState     `json:"marketStatus"`
	Source       string          `json:"source"`
	CapturedAt   time.Time       `json:"time"`
}

// SameTick reports whether two snapshots carry the same price and volume.
func (s MPriceSnapshot) SameTick(other MPriceSnapshot) bool {
	return s.Price.Equal(other.Price) && s.Volume == other.Volume
}

// MCandle is one OHLCV bar. Time is the bar start in UTC.
type MCandle struct {
	Time   time.Time       `json:"time"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
}

type MTrade struct {
	Time      string          `json:"time"`
	Price     decimal.Decimal `json:"price"`
	Change    decimal.Decimal `json:"change"`
	Volume    int64           `json:"volume"`
	AccVolume int64           `json:"accVolume"`
}

type MRankEntry struct {
	Rank         int             `json:"rank"`
	Symbol       string          `json:"symbol"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	Change       decimal.Decimal `json:"change"`
	ChangePct    decimal.Decimal `json:"changePct"`
	Volume       int64           `json:"volume"`
	TradingValue int64           `json:"tradingValue"`
}

type MInvestorFlow struct {
	Name       string `json:"name"`
	BuyVolume  int64  `json:"buyVolume"`
	SellVolume int64  `json:"sellVolume"`
	NetVolume  int64  `json:"netVolume"`
	NetAmount  int64  `json:"netAmount"`
}

type MInvestorDay struct {
	Date        string          `json:"date"`
	Close       decimal.Decimal `json:"price"`
	Individual  int64           `json:"prsn"`
	Foreign     int64           `json:"frgn"`
	Institution int64           `json:"orgn"`
}

type MInvestorSummary struct {
	Date      string          `json:"date"`
	Investors []MInvestorFlow `json:"investors"`
	History   []MInvestorDay  `json:"history"`
}

type MIndexQuote struct {
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	Price        decimal.Decimal `json:"price"`
	Change       decimal.Decimal `json:"change"`
	ChangePct    decimal.Decimal `json:"changePct"`
	Open         decimal.Decimal `json:"open"`
	High         decimal.Decimal `json:"high"`
	Low          decimal.Decimal `json:"low"`
	Volume       int64           `json:"volume"`
	TradingValue int64           `json:"tradingValue"`
}

// MAccessToken is the upstream provider credential, distinct from client tokens.
type MAccessToken struct {
	Value     string
	ExpiresAt time.Time
}

// MChartQuery selects a daily-or-longer bar series. Dates use YYYYMMDD; empty
// values fall back to a lookback derived from Period.
type MChartQuery struct {
	Period string `json:"period"` // D, W, M or Y
	Start  string `json:"start"`
	End    string `json:"end"`
}
