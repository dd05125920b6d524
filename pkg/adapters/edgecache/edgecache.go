// Package edgecache holds the edge cache backends. Every backend enforces
// the same write rule inside the store: a Put lands only when its version is
// newer than what the key holds, and a Delete leaves a tombstone so a late
// Put carrying an older version cannot bring the key back.
package edgecache

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/wadjakorntonsri/go-link-resolver/pkg/config"
	"github.com/wadjakorntonsri/go-link-resolver/pkg/ports"
)

// Cache is an edge cache backend that owns resources.
type Cache interface {
	ports.EdgeCache
	io.Closer
	Ping(ctx context.Context) error
}

// New opens the backend selected by cfg.Backend.
func New(ctx context.Context, cfg config.CacheConfig) (Cache, error) {
	switch cfg.Backend {
	case "redis":
		return NewRedis(ctx, RedisOptions{
			Addr:         cfg.RedisAddr,
			Password:     cfg.RedisPassword,
			DB:           cfg.RedisDB,
			KeyPrefix:    cfg.KeyPrefix,
			TombstoneTTL: cfg.TombstoneTTL,
		})
	case "badger":
		return NewBadger(BadgerOptions{
			Path:         cfg.BadgerPath,
			KeyPrefix:    cfg.KeyPrefix,
			TombstoneTTL: cfg.TombstoneTTL,
		})
	case "memory", "":
		return NewMemory(cfg.TombstoneTTL), nil
	default:
		return nil, fmt.Errorf("unknown edge cache backend %q", cfg.Backend)
	}
}

const defaultTombstoneTTL = time.Hour

func tombstoneTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultTombstoneTTL
	}
	return d
}
