package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const ConfigPathEnvVar = "CONFIG_PATH"

var defaultConfigPaths = []string{"config.yaml", "config.yml"}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "8080",
			Env:          "local",
			BaseURL:      "http://localhost:8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			AdminRPM:     120,
		},
		Database: DatabaseConfig{URL: "file:db.sqlite"},
		Cache: CacheConfig{
			Backend:      "memory",
			RedisAddr:    "localhost:6379",
			BadgerPath:   "data/edge",
			KeyPrefix:    "link:",
			ReadTimeout:  3 * time.Millisecond,
			TTL:          30 * 24 * time.Hour,
			GuestTTL:     24 * time.Hour,
			TombstoneTTL: time.Hour,
		},
		Store: StoreConfig{
			FallbackTimeout: 250 * time.Millisecond,
			FallbackRPS:     200,
			FallbackBurst:   50,
			BreakerTimeout:  10 * time.Second,
			BreakerMinReqs:  20,
			BreakerRatio:    0.5,
		},
		Projector: ProjectorConfig{
			WriteTimeout:       500 * time.Millisecond,
			DeleteMaxAttempts:  6,
			DeleteInitialDelay: 50 * time.Millisecond,
			DeleteMaxElapsed:   5 * time.Second,
			RepopulateTimeout:  2 * time.Second,
		},
		Clicks: ClicksConfig{
			QueueSize:    4096,
			Workers:      4,
			WriteTimeout: 2 * time.Second,
			Sink:         "store",
			NATSURL:      "nats://127.0.0.1:4222",
			NATSSubject:  "clicks",
		},
		AB: ABConfig{
			CookieName:   "lr_ab",
			CookieMaxAge: 90 * 24 * time.Hour,
		},
		Auth: AuthConfig{
			JWTSecret:         "secret",
			GoogleRedirectURL: "http://localhost:8080/auth/google/callback",
			FrontendURL:       "http://localhost:8080/dashboard",
		},
		Log:         LogConfig{Level: "info", Format: "json"},
		Maintenance: MaintenanceConfig{SweepSchedule: "*/15 * * * *"},
	}
}

// Load layers defaults, an optional YAML file and the environment, in that
// order of precedence. A .env file in the working directory is read first
// and never overrides variables that are already set.
func Load() (*Config, error) {
	_ = godotenv.Load() // Ignore error if .env not found (e.g. prod)

	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if raw, ok := k.Get("auth.allowed_emails").(string); ok {
		if err := k.Set("auth.allowed_emails", splitList(raw)); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range defaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// legacyEnv keeps the variable names older deployments already set.
var legacyEnv = map[string]string{
	"port":                 "server.port",
	"app_env":              "server.env",
	"base_url":             "server.base_url",
	"database_url":         "database.url",
	"jwt_secret":           "auth.jwt_secret",
	"google_client_id":     "auth.google_client_id",
	"google_client_secret": "auth.google_client_secret",
	"google_redirect_url":  "auth.google_redirect_url",
	"frontend_url":         "auth.frontend_url",
	"allowed_emails":       "auth.allowed_emails",
	"redis_addr":           "cache.redis_addr",
}

var sections = []string{"server", "database", "cache", "store", "projector", "clicks", "ab", "auth", "log", "maintenance"}

// envKey maps CACHE_READ_TIMEOUT to cache.read_timeout. Unknown variables
// are ignored.
func envKey(key string) string {
	key = strings.ToLower(key)
	if mapped, ok := legacyEnv[key]; ok {
		return mapped
	}
	for _, s := range sections {
		if rest, ok := strings.CutPrefix(key, s+"_"); ok && rest != "" {
			return s + "." + rest
		}
	}
	return ""
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
