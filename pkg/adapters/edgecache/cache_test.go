package edgecache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wadjakorntonsri/go-link-resolver/pkg/config"
	"github.com/wadjakorntonsri/go-link-resolver/pkg/core/domain"
)

// base is a realistic nanosecond version, well past what a float64 holds
// exactly.
const base int64 = 1_760_000_000_123_456_789

// testVersionGuard runs the write rules every backend must enforce.
func testVersionGuard(t *testing.T, c Cache) {
	t.Helper()
	ctx := context.Background()
	const key = "go2.gg:promo"
	ttl := time.Hour

	get := func() string {
		t.Helper()
		v, err := c.Get(ctx, key)
		if errors.Is(err, domain.ErrCacheMiss) {
			return ""
		}
		require.NoError(t, err)
		return string(v)
	}
	put := func(version int64, value string) bool {
		t.Helper()
		ok, err := c.Put(ctx, key, []byte(value), version, ttl)
		require.NoError(t, err)
		return ok
	}

	_, err := c.Get(ctx, key)
	assert.ErrorIs(t, err, domain.ErrCacheMiss)

	assert.True(t, put(base+10, "v10"))
	assert.Equal(t, "v10", get())

	assert.False(t, put(base+5, "v5"), "older versions are discarded")
	assert.Equal(t, "v10", get())

	assert.True(t, put(base+10, "v10"), "replaying the current version is accepted")
	assert.True(t, put(base+11, "v11"))
	assert.Equal(t, "v11", get())

	require.NoError(t, c.Delete(ctx, key, base+9))
	assert.Equal(t, "v11", get(), "a delete older than the value is ignored")

	require.NoError(t, c.Delete(ctx, key, base+12))
	assert.Equal(t, "", get())

	assert.False(t, put(base+12, "late"), "a tombstone blocks writes at its own version")
	assert.False(t, put(base+11, "late"))
	assert.Equal(t, "", get())

	assert.True(t, put(base+13, "v13"), "a newer write replaces the tombstone")
	assert.Equal(t, "v13", get())

	// versions of different decimal length still compare numerically
	const other = "go2.gg:digits"
	ok, err := c.Put(ctx, other, []byte("small"), 999, ttl)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = c.Put(ctx, other, []byte("large"), 1000, ttl)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = c.Put(ctx, other, []byte("small"), 999, ttl)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, c.Ping(ctx))
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	c, err := New(ctx, config.CacheConfig{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, c)

	c, err = New(ctx, config.CacheConfig{})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, c)

	c, err = New(ctx, config.CacheConfig{Backend: "badger"})
	require.NoError(t, err)
	assert.IsType(t, &Badger{}, c)
	require.NoError(t, c.Close())

	_, err = New(ctx, config.CacheConfig{Backend: "memcached"})
	assert.Error(t, err)
}

func TestMemory_VersionGuard(t *testing.T) {
	testVersionGuard(t, NewMemory(time.Hour))
}

func TestMemory_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	m := NewMemory(time.Minute).WithClock(func() time.Time { return now })

	ok, err := m.Put(ctx, "k", []byte("v"), base, 10*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(11 * time.Second)
	_, err = m.Get(ctx, "k")
	assert.ErrorIs(t, err, domain.ErrCacheMiss)

	require.NoError(t, m.Delete(ctx, "k", base+5))
	version, tomb, ok := m.Version("k")
	require.True(t, ok)
	assert.True(t, tomb)
	assert.Equal(t, base+5, version)

	// once the tombstone lapses the key is free again
	now = now.Add(2 * time.Minute)
	ok, err = m.Put(ctx, "k", []byte("old"), base, time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemory_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := NewMemory(0)

	_, err := m.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = m.Put(ctx, "k", nil, 1, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, m.Delete(ctx, "k", 1), context.Canceled)
}

func TestBadger_VersionGuard(t *testing.T) {
	b, err := NewBadger(BadgerOptions{KeyPrefix: "test:"})
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	testVersionGuard(t, b)
}

func TestBadger_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	b, err := NewBadger(BadgerOptions{Path: dir})
	require.NoError(t, err)
	_, err = b.Put(ctx, "k", []byte("v"), base, time.Hour)
	require.NoError(t, err)
	require.NoError(t, b.Delete(ctx, "gone", base))
	require.NoError(t, b.Close())
	assert.Error(t, b.Ping(ctx))

	b, err = NewBadger(BadgerOptions{Path: dir})
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	v, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(v))

	ok, err := b.Put(ctx, "gone", []byte("late"), base-1, time.Hour)
	require.NoError(t, err)
	assert.False(t, ok, "tombstones survive a restart")
}
