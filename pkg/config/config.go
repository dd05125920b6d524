package config

import (
	"fmt"
	"time"
)

type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Database    DatabaseConfig    `koanf:"database"`
	Cache       CacheConfig       `koanf:"cache"`
	Store       StoreConfig       `koanf:"store"`
	Projector   ProjectorConfig   `koanf:"projector"`
	Clicks      ClicksConfig      `koanf:"clicks"`
	AB          ABConfig          `koanf:"ab"`
	Auth        AuthConfig        `koanf:"auth"`
	Log         LogConfig         `koanf:"log"`
	Maintenance MaintenanceConfig `koanf:"maintenance"`
}

type ServerConfig struct {
	Port         string        `koanf:"port"`
	Env          string        `koanf:"env"`
	BaseURL      string        `koanf:"base_url"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	AdminRPM     int           `koanf:"admin_rpm"`
}

type DatabaseConfig struct {
	URL string `koanf:"url"` // file:..., libsql://... or wss://...
}

type CacheConfig struct {
	Backend       string        `koanf:"backend"` // redis, badger, memory
	RedisAddr     string        `koanf:"redis_addr"`
	RedisPassword string        `koanf:"redis_password"`
	RedisDB       int           `koanf:"redis_db"`
	BadgerPath    string        `koanf:"badger_path"`
	KeyPrefix     string        `koanf:"key_prefix"`
	ReadTimeout   time.Duration `koanf:"read_timeout"`
	TTL           time.Duration `koanf:"ttl"`
	GuestTTL      time.Duration `koanf:"guest_ttl"`
	TombstoneTTL  time.Duration `koanf:"tombstone_ttl"`
}

type StoreConfig struct {
	FallbackTimeout time.Duration `koanf:"fallback_timeout"`
	FallbackRPS     float64       `koanf:"fallback_rps"`
	FallbackBurst   int           `koanf:"fallback_burst"`
	BreakerTimeout  time.Duration `koanf:"breaker_timeout"`
	BreakerMinReqs  uint32        `koanf:"breaker_min_requests"`
	BreakerRatio    float64       `koanf:"breaker_failure_ratio"`
}

type ProjectorConfig struct {
	WriteTimeout       time.Duration `koanf:"write_timeout"`
	DeleteMaxAttempts  uint          `koanf:"delete_max_attempts"`
	DeleteInitialDelay time.Duration `koanf:"delete_initial_delay"`
	DeleteMaxElapsed   time.Duration `koanf:"delete_max_elapsed"`
	RepopulateTimeout  time.Duration `koanf:"repopulate_timeout"`
}

type ClicksConfig struct {
	QueueSize    int           `koanf:"queue_size"`
	Workers      int           `koanf:"workers"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	Sink         string        `koanf:"sink"` // store or nats
	NATSURL      string        `koanf:"nats_url"`
	NATSSubject  string        `koanf:"nats_subject"`
}

type ABConfig struct {
	CookieName   string        `koanf:"cookie_name"`
	CookieMaxAge time.Duration `koanf:"cookie_max_age"`
}

type AuthConfig struct {
	JWTSecret          string   `koanf:"jwt_secret"`
	GoogleClientID     string   `koanf:"google_client_id"`
	GoogleClientSecret string   `koanf:"google_client_secret"`
	GoogleRedirectURL  string   `koanf:"google_redirect_url"`
	FrontendURL        string   `koanf:"frontend_url"`
	AllowedEmails      []string `koanf:"allowed_emails"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type MaintenanceConfig struct {
	SweepSchedule string `koanf:"sweep_schedule"`
}

func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Validate rejects configurations the resolver cannot run with.
func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case "redis":
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("cache.redis_addr is required for the redis backend")
		}
	case "badger":
		if c.Cache.BadgerPath == "" {
			return fmt.Errorf("cache.badger_path is required for the badger backend")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown cache.backend %q", c.Cache.Backend)
	}
	switch c.Clicks.Sink {
	case "store":
	case "nats":
		if c.Clicks.NATSURL == "" {
			return fmt.Errorf("clicks.nats_url is required for the nats sink")
		}
	default:
		return fmt.Errorf("unknown clicks.sink %q", c.Clicks.Sink)
	}
	if c.Cache.ReadTimeout <= 0 || c.Store.FallbackTimeout <= 0 {
		return fmt.Errorf("cache.read_timeout and store.fallback_timeout must be positive")
	}
	if c.Cache.TTL <= 0 || c.Cache.GuestTTL <= 0 || c.Cache.TombstoneTTL <= 0 {
		return fmt.Errorf("cache ttls must be positive")
	}
	if c.Clicks.Workers < 1 || c.Clicks.QueueSize < 1 {
		return fmt.Errorf("clicks.workers and clicks.queue_size must be at least 1")
	}
	if c.Store.BreakerRatio <= 0 || c.Store.BreakerRatio > 1 {
		return fmt.Errorf("store.breaker_failure_ratio must be in (0, 1]")
	}
	if c.IsProduction() && (c.Auth.JWTSecret == "" || c.Auth.JWTSecret == "secret") {
		return fmt.Errorf("auth.jwt_secret must be set in production")
	}
	return nil
}
