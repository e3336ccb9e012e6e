package models

import (
	"strings"
	"time"
)

type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)

// TierFromPlan maps a subscription plan name to a tier. Unknown plans are free.
func TierFromPlan(plan string) Tier {
	if strings.EqualFold(strings.TrimSpace(plan), string(TierPro)) {
		return TierPro
	}
	return TierFree
}

// MTierLimits is what a tier is allowed: a subscription cap and a poll speed.
type MTierLimits struct {
	MaxSubscriptions int       `yaml:"max_subscriptions" json:"maxSubscriptions"`
	PollInterval     MDuration `yaml:"poll_interval" json:"-"`
}

// MSubject is the resolved identity behind a client token.
type MSubject struct {
	ID      string `yaml:"id" json:"id"`
	Email   string `yaml:"email" json:"email"`
	Name    string `yaml:"name" json:"name"`
	Plan    string `yaml:"plan" json:"plan"`
	Blocked bool   `yaml:"blocked" json:"-"`
}

func (s MSubject) Tier() Tier {
	return TierFromPlan(s.Plan)
}

// MRelayStats is the operational view of the relay.
type MRelayStats struct {
	TotalConnections         int       `json:"totalConnections"`
	AuthenticatedConnections int       `json:"authenticatedConnections"`
	UniqueSymbolsWatched     int       `json:"uniqueSymbolsWatched"`
	Symbols                  []string  `json:"symbols"`
	IsPolling                bool      `json:"isPolling"`
	CachedPrices             int       `json:"cachedPrices"`
	GeneratedAt              time.Time `json:"generatedAt"`
}

// DefaultTierLimits is the built-in tier table.
func DefaultTierLimits() map[Tier]MTierLimits {
	return map[Tier]MTierLimits{
		TierFree: {MaxSubscriptions: 5, PollInterval: Duration(30 * time.Second)},
		TierPro:  {MaxSubscriptions: 20, PollInterval: Duration(10 * time.Second)},
	}
}
