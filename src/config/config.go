package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"quote-relay/src/models"
)

// -----------------------------------------------------------------------------

// Config wraps models.MConfig and provides business logic methods
type Config struct {
	*models.MConfig
}

// -----------------------------------------------------------------------------

// NewConfig creates a new MConfig instance from YAML file, then applies
// environment overrides and defaults.
func NewConfig(configPath string) (*Config, error) {
	// 1. Read the YAML file content
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", configPath, err)
	}

	// 2. Unmarshal data into the models struct
	var modelConfig models.MConfig
	if err := yaml.Unmarshal(data, &modelConfig); err != nil {
		return nil, fmt.Errorf("failed to parse config from YAML: %w", err)
	}

	config := &Config{MConfig: &modelConfig}

	// 3. Secrets come from the environment, optionally via .env
	_ = godotenv.Load()
	if err := config.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	config.ApplyDefaults()

	// 4. Validate the loaded configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// -----------------------------------------------------------------------------

// ApplyEnv overrides file values with non-empty environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	set := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}

	set("KIS_APP_KEY", &c.Upstream.KIS.AppKey)
	set("KIS_APP_SECRET", &c.Upstream.KIS.AppSecret)
	set("KIS_BASE_URL", &c.Upstream.KIS.BaseURL)
	set("JWT_SECRET", &c.Identity.JWTSecret)
	set("REDIS_ADDR", &c.Cache.RedisAddr)

	if dsn := strings.TrimSpace(getenv("DATABASE_URL")); dsn != "" {
		c.Storage.DBType = "postgres"
		c.Storage.DBConnectionString = dsn
	}
	if c.Cache.RedisAddr != "" && c.Cache.Backend == "" {
		c.Cache.Backend = "redis"
	}

	if raw := strings.TrimSpace(getenv("HTTP_PORT")); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid HTTP_PORT %q: %w", raw, err)
		}
		c.Port = port
	}
	return nil
}

// -----------------------------------------------------------------------------

func defaultDuration(d *models.MDuration, def time.Duration) {
	if d.Duration <= 0 {
		d.Duration = def
	}
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "quote-relay"
	}
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 5000
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.GrpcHost == "" {
		c.GrpcHost = "127.0.0.1"
	}

	// Storage
	if c.Storage.DBType == "" {
		c.Storage.DBType = "sqlite"
	}
	if c.Storage.DBType == "sqlite" && c.Storage.DBPath == "" {
		c.Storage.DBPath = "quote_relay.db"
	}

	// Cache
	if c.Cache.Backend == "" {
		c.Cache.Backend = "memory"
	}
	if c.Cache.KeyPrefix == "" {
		c.Cache.KeyPrefix = "quote-relay:"
	}
	defaultDuration(&c.Cache.CleanupInterval, 5*time.Minute)
	defaultDuration(&c.Cache.MaxAge, 30*time.Minute)
	ttl := &c.Cache.TTL
	defaultDuration(&ttl.Price, 30*time.Second)
	defaultDuration(&ttl.Trades, 15*time.Second)
	defaultDuration(&ttl.MinuteChart, time.Minute)
	defaultDuration(&ttl.DailyChart, 5*time.Minute)
	defaultDuration(&ttl.Ranking, time.Minute)
	defaultDuration(&ttl.Investor, 5*time.Minute)
	defaultDuration(&ttl.Index, 30*time.Second)
	defaultDuration(&ttl.MarketOverview, 2*time.Minute)
	defaultDuration(&ttl.YahooQuote, 5*time.Second)

	// Network
	defaultDuration(&c.Network.RequestTimeout, 8*time.Second)

	// Upstream
	kis := &c.Upstream.KIS
	if kis.BaseURL == "" {
		kis.BaseURL = "https://openapi.koreainvestment.com:9443"
	}
	defaultDuration(&kis.Throttle, 300*time.Millisecond)
	defaultDuration(&kis.TokenRefreshMargin, time.Hour)
	if kis.TokenFailureThreshold <= 0 {
		kis.TokenFailureThreshold = 3
	}
	if kis.MinutePages <= 0 {
		kis.MinutePages = 6
	}
	if kis.PageRetries <= 0 {
		kis.PageRetries = 1
	}
	defaultDuration(&kis.PageRetryBackoff, 800*time.Millisecond)
	defaultDuration(&kis.PagePause, 500*time.Millisecond)

	// Calendar
	if c.Calendar.Timezone == "" {
		c.Calendar.Timezone = "Asia/Seoul"
	}
	if c.Calendar.MIC == "" {
		c.Calendar.MIC = "XKRX"
	}

	// Sessions
	defaultDuration(&c.Sessions.AuthTimeout, 10*time.Second)
	defaultDuration(&c.Sessions.HeartbeatInterval, 30*time.Second)
	if c.Sessions.SendBuffer <= 0 {
		c.Sessions.SendBuffer = 256
	}
	tiers := models.DefaultTierLimits()
	for tier, limits := range c.Sessions.Tiers {
		merged := tiers[tier]
		if limits.MaxSubscriptions != 0 {
			merged.MaxSubscriptions = limits.MaxSubscriptions
		}
		if limits.PollInterval.Duration != 0 {
			merged.PollInterval = limits.PollInterval
		}
		tiers[tier] = merged
	}
	c.Sessions.Tiers = tiers

	// Scheduler
	defaultDuration(&c.Scheduler.ClosedInterval, 5*time.Minute)
	defaultDuration(&c.Scheduler.MarketStatusInterval, time.Minute)
}

// -----------------------------------------------------------------------------

// Validate performs basic configuration validation
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("application name cannot be empty")
	}

	// Validate Server configuration (Flattened)
	if c.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Port <= 1024 || c.Port > 65535 {
		return fmt.Errorf("invalid server port number: %d (must be between 1025 and 65535)", c.Port)
	}
	if c.GrpcPort != 0 && (c.GrpcPort <= 1024 || c.GrpcPort > 65535 || c.GrpcPort == c.Port) {
		return fmt.Errorf("invalid grpc port number: %d", c.GrpcPort)
	}

	// Validate Storage configuration
	switch c.Storage.DBType {
	case "sqlite":
		if c.Storage.DBPath == "" {
			return fmt.Errorf("database path cannot be empty for sqlite")
		}
	case "postgres":
		if c.Storage.DBConnectionString == "" {
			return fmt.Errorf("database connection string cannot be empty for postgres")
		}
	default:
		return fmt.Errorf("unsupported database type %q", c.Storage.DBType)
	}

	// Validate Cache configuration
	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("redis address cannot be empty for the redis cache")
		}
	default:
		return fmt.Errorf("unsupported cache backend %q", c.Cache.Backend)
	}

	// Identity
	if c.Identity.JWTSecret == "" {
		return fmt.Errorf("jwt secret cannot be empty (set JWT_SECRET)")
	}

	// Tiers
	for tier, limits := range c.Sessions.Tiers {
		if limits.MaxSubscriptions <= 0 {
			return fmt.Errorf("tier %s: max subscriptions must be greater than 0", tier)
		}
		if limits.PollInterval.Duration <= 0 {
			return fmt.Errorf("tier %s: poll interval must be greater than 0", tier)
		}
	}

	return nil
}

// -----------------------------------------------------------------------------

// Save persists the current configuration to the specified YAML file path
func (c *Config) Save(configPath string) error {
	// 1. Marshal the struct to YAML
	data, err := yaml.Marshal(c.MConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	// 2. Write to file (0644 permissions)
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config to file '%s': %w", configPath, err)
	}

	return nil
}
