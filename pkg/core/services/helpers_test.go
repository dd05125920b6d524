package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wadjakorntonsri/go-link-resolver/pkg/adapters/edgecache"
	"github.com/wadjakorntonsri/go-link-resolver/pkg/adapters/repository/sqlite"
	"github.com/wadjakorntonsri/go-link-resolver/pkg/core/domain"
)

var errCacheDown = errors.New("edge cache unavailable")

// newRepo opens a private in-memory database for the calling test.
func newRepo(t *testing.T) *sqlite.SQLiteRepository {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	repo, err := sqlite.NewSQLiteRepository(fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

// flakyCache is an in-memory edge cache that fails on demand. A failure
// count below zero fails forever.
type flakyCache struct {
	*edgecache.Memory

	mu          sync.Mutex
	failGets    bool
	putFails    int
	deleteFails int
	puts        int
	deletes     int
}

func newFlakyCache() *flakyCache {
	return &flakyCache{Memory: edgecache.NewMemory(time.Hour)}
}

func (c *flakyCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	fail := c.failGets
	c.mu.Unlock()
	if fail {
		return nil, errCacheDown
	}
	return c.Memory.Get(ctx, key)
}

func (c *flakyCache) Put(ctx context.Context, key string, value []byte, version int64, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	c.puts++
	fail := take(&c.putFails)
	c.mu.Unlock()
	if fail {
		return false, errCacheDown
	}
	return c.Memory.Put(ctx, key, value, version, ttl)
}

func (c *flakyCache) Delete(ctx context.Context, key string, version int64) error {
	c.mu.Lock()
	c.deletes++
	fail := take(&c.deleteFails)
	c.mu.Unlock()
	if fail {
		return errCacheDown
	}
	return c.Memory.Delete(ctx, key, version)
}

func (c *flakyCache) setFailGets(v bool) {
	c.mu.Lock()
	c.failGets = v
	c.mu.Unlock()
}

func (c *flakyCache) setFails(puts, deletes int) {
	c.mu.Lock()
	c.putFails, c.deleteFails = puts, deletes
	c.mu.Unlock()
}

func (c *flakyCache) counts() (puts, deletes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.puts, c.deletes
}

// projection decodes what the cache holds for key, or nil on a miss.
func (c *flakyCache) projection(t *testing.T, key string) *domain.CachedLink {
	t.Helper()
	data, err := c.Memory.Get(context.Background(), key)
	if errors.Is(err, domain.ErrCacheMiss) {
		return nil
	}
	require.NoError(t, err)
	cl, err := domain.UnmarshalCachedLink(data)
	require.NoError(t, err)
	return cl
}

func take(n *int) bool {
	if *n == 0 {
		return false
	}
	if *n > 0 {
		*n--
	}
	return true
}

type clickLog struct {
	mu     sync.Mutex
	clicks []domain.Click
}

func (l *clickLog) Record(c domain.Click) {
	l.mu.Lock()
	l.clicks = append(l.clicks, c)
	l.mu.Unlock()
}

func (l *clickLog) all() []domain.Click {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.Click(nil), l.clicks...)
}

func testProjectorOptions() ProjectorOptions {
	return ProjectorOptions{
		TTL:                time.Hour,
		GuestTTL:           10 * time.Minute,
		WriteTimeout:       100 * time.Millisecond,
		DeleteMaxAttempts:  3,
		DeleteInitialDelay: time.Millisecond,
		DeleteMaxElapsed:   time.Second,
	}
}

func testFallbackOptions() FallbackOptions {
	return FallbackOptions{
		Timeout:        time.Second,
		RPS:            10000,
		Burst:          10000,
		BreakerTimeout: time.Minute,
		MinRequests:    1000,
		FailureRatio:   0.5,
	}
}

func testResolverOptions() ResolverOptions {
	return ResolverOptions{
		CacheReadTimeout:  100 * time.Millisecond,
		RepopulateTimeout: time.Second,
	}
}

// harness wires the services the way the application does, on an in-memory
// database and a failure-injecting cache.
type harness struct {
	repo      *sqlite.SQLiteRepository
	cache     *flakyCache
	projector *Projector
	clicks    *clickLog
	resolver  *Resolver
	links     *LinkService
	tests     *ABTestService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		repo:   newRepo(t),
		cache:  newFlakyCache(),
		clicks: &clickLog{},
	}
	h.projector = NewProjector(h.cache, h.repo, testProjectorOptions())
	h.resolver = NewResolver(ResolverDeps{
		Cache:     h.cache,
		Store:     NewGuardedStore(h.repo, testFallbackOptions()),
		Counter:   h.repo,
		Projector: h.projector,
		Selector:  NewVariantSelector(rand.New(rand.NewPCG(1, 2))),
		Clicks:    h.clicks,
	}, testResolverOptions())
	h.links = NewLinkService(h.repo, h.projector, h.repo)
	h.tests = NewABTestService(h.repo, h.repo, h.projector)
	return h
}

func (h *harness) create(t *testing.T, in domain.LinkInput) *domain.LinkRecord {
	t.Helper()
	if in.OwnerID == nil {
		in.OwnerID = ptr("owner@example.com")
	}
	res, err := h.links.Create(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, domain.SyncApplied, res.Cache)
	return res.Link
}

func (h *harness) resolve(t *testing.T, domainName, slug string, rc domain.RequestContext) domain.ResolutionResult {
	t.Helper()
	res, err := h.resolver.Resolve(context.Background(), domainName, slug, rc)
	require.NoError(t, err)
	return res
}

func ptr[T any](v T) *T { return &v }
