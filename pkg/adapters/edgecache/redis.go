package edgecache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wadjakorntonsri/go-link-resolver/pkg/core/domain"
)

type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	KeyPrefix    string
	TombstoneTTL time.Duration
}

// Redis stores each projection as a hash {v, d} and a tombstone as {v, t}.
// Version comparison runs inside a Lua script, so concurrent writers from
// any number of nodes are ordered by version alone.
type Redis struct {
	client       *redis.Client
	prefix       string
	tombstoneTTL time.Duration
	put          *redis.Script
	del          *redis.Script
}

// Versions are unix nanoseconds and do not fit a Lua double, so they are
// compared as decimal strings.
const luaNewer = `
local function newer(a, b)
  if #a ~= #b then return #a > #b end
  return a > b
end
`

// KEYS[1] key, ARGV[1] version, ARGV[2] value, ARGV[3] ttl ms.
// Returns 1 when written, 0 when a newer version (or an equal tombstone) is held.
var putScript = redis.NewScript(luaNewer + `
local cur = redis.call('HGET', KEYS[1], 'v')
if cur then
  local tomb = redis.call('HEXISTS', KEYS[1], 't') == 1
  if tomb and not newer(ARGV[1], cur) then return 0 end
  if not tomb and newer(cur, ARGV[1]) then return 0 end
end
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], 'v', ARGV[1], 'd', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// KEYS[1] key, ARGV[1] version, ARGV[2] tombstone ttl ms.
var deleteScript = redis.NewScript(luaNewer + `
local cur = redis.call('HGET', KEYS[1], 'v')
if cur and newer(cur, ARGV[1]) then return 0 end
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1], 'v', ARGV[1], 't', '1')
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 1
`)

func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", opts.Addr, err)
	}
	return NewRedisFromClient(client, opts.KeyPrefix, opts.TombstoneTTL), nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *redis.Client, prefix string, tombstone time.Duration) *Redis {
	return &Redis{
		client:       client,
		prefix:       prefix,
		tombstoneTTL: tombstoneTTL(tombstone),
		put:          putScript,
		del:          deleteScript,
	}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	vals, err := r.client.HMGet(ctx, r.prefix+key, "d", "t").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrCacheMiss
		}
		return nil, err
	}
	if len(vals) != 2 || vals[0] == nil || vals[1] != nil {
		return nil, domain.ErrCacheMiss
	}
	s, ok := vals[0].(string)
	if !ok {
		return nil, domain.ErrCacheMiss
	}
	return []byte(s), nil
}

func (r *Redis) Put(ctx context.Context, key string, value []byte, version int64, ttl time.Duration) (bool, error) {
	n, err := r.put.Run(ctx, r.client, []string{r.prefix + key},
		strconv.FormatInt(version, 10), value, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *Redis) Delete(ctx context.Context, key string, version int64) error {
	return r.del.Run(ctx, r.client, []string{r.prefix + key},
		strconv.FormatInt(version, 10), r.tombstoneTTL.Milliseconds()).Err()
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
