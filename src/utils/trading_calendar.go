package utils

import (
	"strings"
	"time"

	"github.com/scmhub/calendar"

	"quote-relay/src/logger"
	"quote-relay/src/models"
)

const (
	nextOpenMonday      = "Opens Monday 09:00 KST"
	nextOpenToday       = "Opens today 09:00 KST"
	nextCloseToday      = "Closes today 15:30 KST"
	nextOpenBusinessDay = "Opens next business day 09:00 KST"
)

// TradingCalendar classifies instants against the KRX regular session.
// Status is pure: the same instant always yields the same answer.
type TradingCalendar struct {
	Calendar *calendar.Calendar
	Fallback bool
	Timezone *time.Location
}

// -----------------------------------------------------------------------------

// NewTradingCalendar builds the calendar from config. Exchange holidays are only
// consulted when enabled and the MIC is known; otherwise Mon-Fri is used.
func NewTradingCalendar(cfg models.MCalendarConfig, log *logger.Logger) *TradingCalendar {
	if log == nil {
		log = logger.Nop()
	}
	loc := LoadLocation(cfg.Timezone)

	if !cfg.Holidays {
		return &TradingCalendar{Fallback: true, Timezone: loc}
	}

	mic := strings.ToLower(cfg.MIC)
	if mic == "" {
		mic = "xkrx"
	}
	cal := calendar.GetCalendar(mic)
	if cal == nil {
		log.Warning("Failed to load calendar for MIC '%s'. Using weekday fallback.", mic)
		return &TradingCalendar{Fallback: true, Timezone: loc}
	}
	return &TradingCalendar{Calendar: cal, Fallback: false, Timezone: loc}
}

// -----------------------------------------------------------------------------

// NewWeekdayCalendar ignores exchange holidays.
func NewWeekdayCalendar(loc *time.Location) *TradingCalendar {
	if loc == nil {
		loc = LoadLocation(DefaultTimezone)
	}
	return &TradingCalendar{Fallback: true, Timezone: loc}
}

// -----------------------------------------------------------------------------

// LoadLocation resolves name, falling back to a fixed UTC+9 zone. Korea has no
// daylight saving, so the fixed zone is exact.
func LoadLocation(name string) *time.Location {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("KST", 9*60*60)
	}
	return loc
}

// -----------------------------------------------------------------------------

func (tc *TradingCalendar) IsTradingDay(date time.Time) bool {
	date = date.In(tc.Timezone)

	weekday := date.Weekday()
	if weekday == time.Saturday || weekday == time.Sunday {
		return false
	}
	if tc.Fallback {
		return true
	}
	return tc.Calendar.IsBusinessDay(date)
}

// -----------------------------------------------------------------------------

// Status classifies now as OPEN, PRE_MARKET or CLOSED.
func (tc *TradingCalendar) Status(now time.Time) models.MMarketStatus {
	local := now.In(tc.Timezone)

	weekday := local.Weekday()
	if weekday == time.Saturday || weekday == time.Sunday {
		return models.MMarketStatus{IsOpen: false, Status: models.MarketClosed, NextEvent: nextOpenMonday}
	}
	if !tc.IsTradingDay(local) {
		return models.MMarketStatus{IsOpen: false, Status: models.MarketClosed, NextEvent: nextOpenBusinessDay}
	}

	minute := local.Hour()*60 + local.Minute()
	switch {
	case minute < SessionOpenMinute:
		return models.MMarketStatus{IsOpen: false, Status: models.MarketPreMarket, NextEvent: nextOpenToday}
	case minute < SessionCloseMinute:
		return models.MMarketStatus{IsOpen: true, Status: models.MarketOpen, NextEvent: nextCloseToday}
	default:
		return models.MMarketStatus{IsOpen: false, Status: models.MarketClosed, NextEvent: nextOpenBusinessDay}
	}
}
