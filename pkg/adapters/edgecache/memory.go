package edgecache

import (
	"context"
	"sync"
	"time"

	"github.com/wadjakorntonsri/go-link-resolver/pkg/core/domain"
)

type memEntry struct {
	value     []byte
	version   int64
	tombstone bool
	expires   time.Time
}

// Memory is a process-local edge cache for single-node deployments and
// tests.
type Memory struct {
	mu           sync.Mutex
	entries      map[string]memEntry
	tombstoneTTL time.Duration
	now          func() time.Time
}

func NewMemory(tombstone time.Duration) *Memory {
	return &Memory{
		entries:      make(map[string]memEntry),
		tombstoneTTL: tombstoneTTL(tombstone),
		now:          time.Now,
	}
}

// WithClock replaces the time source, for tests.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.live(key)
	if !ok || e.tombstone {
		return nil, domain.ErrCacheMiss
	}
	return append([]byte(nil), e.value...), nil
}

func (m *Memory) Put(ctx context.Context, key string, value []byte, version int64, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.live(key); ok && !accepts(cur.version, cur.tombstone, version) {
		return false, nil
	}
	m.entries[key] = memEntry{
		value:   append([]byte(nil), value...),
		version: version,
		expires: m.now().Add(ttl),
	}
	return true, nil
}

func (m *Memory) Delete(ctx context.Context, key string, version int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.live(key); ok && cur.version > version {
		return nil
	}
	m.entries[key] = memEntry{
		version:   version,
		tombstone: true,
		expires:   m.now().Add(m.tombstoneTTL),
	}
	return nil
}

// Version returns the version held for key and whether it is a tombstone.
func (m *Memory) Version(key string) (version int64, tombstone, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live(key)
	return e.version, e.tombstone, ok
}

func (m *Memory) Ping(ctx context.Context) error { return ctx.Err() }

func (m *Memory) Close() error { return nil }

// live returns the entry for key, dropping it if expired. m.mu must be held.
func (m *Memory) live(key string) (memEntry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return memEntry{}, false
	}
	if !m.now().Before(e.expires) {
		delete(m.entries, key)
		return memEntry{}, false
	}
	return e, true
}

// accepts reports whether a put at version may replace an entry. A live value
// yields to an equal or newer version; a tombstone only to a strictly newer
// one.
func accepts(curVersion int64, curTombstone bool, version int64) bool {
	if curTombstone {
		return version > curVersion
	}
	return version >= curVersion
}
