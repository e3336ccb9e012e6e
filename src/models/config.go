package models

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// MConfig Structure
type MConfig struct {
	Name      string           `yaml:"name"`
	Host      string           `yaml:"host"`
	Port      int              `yaml:"port"`
	LogLevel  string           `yaml:"log_level"`
	LogFormat string           `yaml:"log_format"`
	GrpcHost  string           `yaml:"grpc_host"`
	GrpcPort  int              `yaml:"grpc_port"`
	Storage   MStorageConfig   `yaml:"storage"`
	Cache     MCacheConfig     `yaml:"cache"`
	Network   MNetworkConfig   `yaml:"network"`
	Upstream  MUpstreamConfig  `yaml:"upstream"`
	Calendar  MCalendarConfig  `yaml:"calendar"`
	Sessions  MSessionConfig   `yaml:"sessions"`
	Scheduler MSchedulerConfig `yaml:"scheduler"`
	Identity  MIdentityConfig  `yaml:"identity"`
}

type MStorageConfig struct {
	DBType             string     `yaml:"db_type"`
	DBPath             string     `yaml:"db_path"`
	DBConnectionString string     `yaml:"db_connection_string"`
	Schema             string     `yaml:"schema"`
	Seed               []MSubject `yaml:"seed"`
}

type MCacheConfig struct {
	Backend         string          `yaml:"backend"` // memory | redis
	RedisAddr       string          `yaml:"redis_addr"`
	RedisDB         int             `yaml:"redis_db"`
	KeyPrefix       string          `yaml:"key_prefix"`
	CleanupInterval MDuration       `yaml:"cleanup_interval"`
	MaxAge          MDuration       `yaml:"max_age"`
	TTL             MCacheTTLConfig `yaml:"ttl"`
}

// MCacheTTLConfig names the freshness window of every read-through operation.
type MCacheTTLConfig struct {
	Price          MDuration `yaml:"price"`
	Trades         MDuration `yaml:"trades"`
	MinuteChart    MDuration `yaml:"minute_chart"`
	DailyChart     MDuration `yaml:"daily_chart"`
	Ranking        MDuration `yaml:"ranking"`
	Investor       MDuration `yaml:"investor"`
	Index          MDuration `yaml:"index"`
	MarketOverview MDuration `yaml:"market_overview"`
	YahooQuote     MDuration `yaml:"yahoo_quote"`
}

type MNetworkConfig struct {
	Proxies        []string  `yaml:"proxies"`
	RequestTimeout MDuration `yaml:"timeout"`
	UserAgents     []string  `yaml:"user_agents"`
}

type MUpstreamConfig struct {
	KIS   MKISConfig   `yaml:"kis"`
	Yahoo MYahooConfig `yaml:"yahoo"`
}

type MKISConfig struct {
	BaseURL               string    `yaml:"base_url"`
	AppKey                string    `yaml:"app_key"`
	AppSecret             string    `yaml:"app_secret"`
	Throttle              MDuration `yaml:"throttle"`
	TokenRefreshMargin    MDuration `yaml:"token_refresh_margin"`
	TokenFailureThreshold int       `yaml:"token_failure_threshold"`
	MinutePages           int       `yaml:"minute_pages"`
	PageRetries           int       `yaml:"page_retries"`
	PageRetryBackoff      MDuration `yaml:"page_retry_backoff"`
	PagePause             MDuration `yaml:"page_pause"`
}

type MYahooConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url"`
}

type MCalendarConfig struct {
	Timezone string `yaml:"timezone"`
	MIC      string `yaml:"mic"`
	Holidays bool   `yaml:"holidays"`
}

type MSessionConfig struct {
	AuthTimeout       MDuration            `yaml:"auth_timeout"`
	HeartbeatInterval MDuration            `yaml:"heartbeat_interval"`
	SendBuffer        int                  `yaml:"send_buffer"`
	Tiers             map[Tier]MTierLimits `yaml:"tiers"`
}

type MSchedulerConfig struct {
	ClosedInterval       MDuration `yaml:"closed_interval"`
	MarketStatusInterval MDuration `yaml:"market_status_interval"`
}

type MIdentityConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// -----------------------------------------------------------------------------

// MDuration is a time.Duration that reads and writes Go duration strings in YAML.
type MDuration struct {
	time.Duration
}

func Duration(d time.Duration) MDuration {
	return MDuration{Duration: d}
}

func (d *MDuration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

func (d MDuration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}
