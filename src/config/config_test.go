package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quote-relay/src/models"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func envMap(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

// -----------------------------------------------------------------------------

func TestNewConfigAppliesDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "from-env")
	path := writeConfig(t, `
name: relay
port: 6000
sessions:
  tiers:
    pro:
      max_subscriptions: 50
`)

	cfg, err := NewConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "relay", cfg.Name)
	assert.Equal(t, 6000, cfg.Port)
	assert.Equal(t, "from-env", cfg.Identity.JWTSecret)
	assert.Equal(t, "sqlite", cfg.Storage.DBType)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, 10*time.Second, cfg.Sessions.AuthTimeout.Duration)
	assert.Equal(t, 30*time.Minute, cfg.Cache.MaxAge.Duration)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL.Price.Duration)

	pro := cfg.Sessions.Tiers[models.TierPro]
	assert.Equal(t, 50, pro.MaxSubscriptions)
	assert.Equal(t, 10*time.Second, pro.PollInterval.Duration)
	assert.Equal(t, 5, cfg.Sessions.Tiers[models.TierFree].MaxSubscriptions)
}

// -----------------------------------------------------------------------------

func TestShippedConfigLoads(t *testing.T) {
	t.Setenv("JWT_SECRET", "x")
	cfg, err := NewConfig(filepath.Join("..", "..", "config", "default.yaml"))
	require.NoError(t, err)
	assert.Len(t, cfg.Storage.Seed, 2)
	assert.Equal(t, 5051, cfg.GrpcPort)
	assert.Equal(t, time.Minute, cfg.Scheduler.MarketStatusInterval.Duration)
}

// -----------------------------------------------------------------------------

func TestApplyEnv(t *testing.T) {
	cfg := &Config{MConfig: &models.MConfig{}}
	err := cfg.ApplyEnv(envMap(map[string]string{
		"KIS_APP_KEY":    "key",
		"KIS_APP_SECRET": "secret",
		"DATABASE_URL":   "postgres://relay@localhost/relay",
		"REDIS_ADDR":     "localhost:6379",
		"HTTP_PORT":      "7000",
	}))
	require.NoError(t, err)

	assert.Equal(t, "key", cfg.Upstream.KIS.AppKey)
	assert.Equal(t, "secret", cfg.Upstream.KIS.AppSecret)
	assert.Equal(t, "postgres", cfg.Storage.DBType)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, 7000, cfg.Port)

	err = cfg.ApplyEnv(envMap(map[string]string{"HTTP_PORT": "http"}))
	assert.Error(t, err)
}

// -----------------------------------------------------------------------------

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{MConfig: &models.MConfig{Identity: models.MIdentityConfig{JWTSecret: "s"}}}
		cfg.ApplyDefaults()
		return cfg
	}
	require.NoError(t, valid().Validate())

	cases := map[string]func(c *Config){
		"low port":           func(c *Config) { c.Port = 80 },
		"grpc same port":     func(c *Config) { c.GrpcPort = c.Port },
		"unknown db":         func(c *Config) { c.Storage.DBType = "mongo" },
		"postgres no dsn":    func(c *Config) { c.Storage.DBType = "postgres" },
		"redis no addr":      func(c *Config) { c.Cache.Backend = "redis" },
		"unknown cache":      func(c *Config) { c.Cache.Backend = "memcached" },
		"no secret":          func(c *Config) { c.Identity.JWTSecret = "" },
		"zero subscriptions": func(c *Config) { c.Sessions.Tiers[models.TierFree] = models.MTierLimits{PollInterval: models.Duration(time.Second)} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

// -----------------------------------------------------------------------------

func TestSaveRoundTrip(t *testing.T) {
	t.Setenv("JWT_SECRET", "s")
	path := writeConfig(t, "name: relay\n")
	cfg, err := NewConfig(path)
	require.NoError(t, err)

	cfg.Port = 6100
	require.NoError(t, cfg.Save(path))

	reloaded, err := NewConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 6100, reloaded.Port)
	assert.Equal(t, cfg.Cache.TTL.Index.Duration, reloaded.Cache.TTL.Index.Duration)
}
