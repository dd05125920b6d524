package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Cache.Backend = "memcached" }},
		{"redis without addr", func(c *Config) { c.Cache.Backend = "redis"; c.Cache.RedisAddr = "" }},
		{"badger without path", func(c *Config) { c.Cache.Backend = "badger"; c.Cache.BadgerPath = "" }},
		{"unknown sink", func(c *Config) { c.Clicks.Sink = "kafka" }},
		{"nats without url", func(c *Config) { c.Clicks.Sink = "nats"; c.Clicks.NATSURL = "" }},
		{"zero read timeout", func(c *Config) { c.Cache.ReadTimeout = 0 }},
		{"zero tombstone ttl", func(c *Config) { c.Cache.TombstoneTTL = 0 }},
		{"no workers", func(c *Config) { c.Clicks.Workers = 0 }},
		{"breaker ratio", func(c *Config) { c.Store.BreakerRatio = 1.5 }},
		{"default secret in production", func(c *Config) { c.Server.Env = "production" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"PORT":                          "server.port",
		"JWT_SECRET":                    "auth.jwt_secret",
		"DATABASE_URL":                  "database.url",
		"CACHE_READ_TIMEOUT":            "cache.read_timeout",
		"STORE_BREAKER_FAILURE_RATIO":   "store.breaker_failure_ratio",
		"MAINTENANCE_SWEEP_SCHEDULE":    "maintenance.sweep_schedule",
		"PROJECTOR_DELETE_MAX_ATTEMPTS": "projector.delete_max_attempts",
		"HOME":                          "",
		"CACHE_":                        "",
	}
	for in, want := range tests {
		assert.Equal(t, want, envKey(in), in)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "7000"
  env: staging
cache:
  backend: badger
  badger_path: /var/lib/edge
  ttl: 48h
clicks:
  workers: 8
`), 0o600))

	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("PORT", "9090")
	t.Setenv("CACHE_READ_TIMEOUT", "5ms")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("ALLOWED_EMAILS", "a@example.com, b@example.com,")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port, "environment beats the file")
	assert.Equal(t, "staging", cfg.Server.Env)
	assert.Equal(t, "badger", cfg.Cache.Backend)
	assert.Equal(t, "/var/lib/edge", cfg.Cache.BadgerPath)
	assert.Equal(t, 48*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 5*time.Millisecond, cfg.Cache.ReadTimeout)
	assert.Equal(t, 8, cfg.Clicks.Workers)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, cfg.Auth.AllowedEmails)

	// untouched values keep their defaults
	assert.Equal(t, Default().Store, cfg.Store)
	assert.Equal(t, "lr_ab", cfg.AB.CookieName)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("CACHE_BACKEND", "memcached")

	_, err := Load()
	assert.ErrorContains(t, err, "cache.backend")
}
