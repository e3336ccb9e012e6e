package models

type MarketState string

const (
	MarketOpen      MarketState = "OPEN"
	MarketPreMarket MarketState = "PRE_MARKET"
	MarketClosed    MarketState = "CLOSED"
)

// MMarketStatus is the calendar classification of one instant.
type MMarketStatus struct {
	IsOpen    bool        `json:"isOpen"`
	Status    MarketState `json:"status"`
	NextEvent string      `json:"nextEvent"`
}
