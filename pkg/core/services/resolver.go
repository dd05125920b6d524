package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/wadjakorntonsri/go-link-resolver/pkg/core/domain"
	"github.com/wadjakorntonsri/go-link-resolver/pkg/logging"
	"github.com/wadjakorntonsri/go-link-resolver/pkg/metrics"
	"github.com/wadjakorntonsri/go-link-resolver/pkg/ports"
)

type ResolverOptions struct {
	CacheReadTimeout  time.Duration
	RepopulateTimeout time.Duration
}

func DefaultResolverOptions() ResolverOptions {
	return ResolverOptions{
		CacheReadTimeout:  3 * time.Millisecond,
		RepopulateTimeout: 2 * time.Second,
	}
}

// Repopulator is the slice of the projector the resolver needs on a miss.
type Repopulator interface {
	OnCreate(ctx context.Context, rec *domain.LinkRecord) domain.SyncStatus
}

// Resolver turns a (domain, slug) pair and the visitor's context into a
// redirect decision. It reads only the edge cache on the hot path and
// holds no locks across requests.
type Resolver struct {
	cache    ports.EdgeCache
	store    *GuardedStore
	counter  ports.ClickCounter
	repop    Repopulator
	selector *VariantSelector
	clicks   ports.ClickRecorder
	targets  TargetChain
	opts     ResolverOptions
	now      func() time.Time
}

type ResolverDeps struct {
	Cache     ports.EdgeCache
	Store     *GuardedStore
	Counter   ports.ClickCounter
	Projector Repopulator
	Selector  *VariantSelector
	Clicks    ports.ClickRecorder
}

func NewResolver(deps ResolverDeps, opts ResolverOptions) *Resolver {
	sel := deps.Selector
	if sel == nil {
		sel = NewVariantSelector(nil)
	}
	return &Resolver{
		cache:    deps.Cache,
		store:    deps.Store,
		counter:  deps.Counter,
		repop:    deps.Projector,
		selector: sel,
		clicks:   deps.Clicks,
		targets:  DefaultTargeting,
		opts:     opts,
		now:      time.Now,
	}
}

// WithClock replaces the time source, for tests.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// Resolve runs the pipeline. Every expected outcome is returned as a value;
// the error is reserved for infrastructure failures, and is always
// domain.ErrUpstreamUnavailable when both the cache and the store failed.
func (r *Resolver) Resolve(ctx context.Context, domainName, slug string, rc domain.RequestContext) (domain.ResolutionResult, error) {
	start := time.Now()
	res, err := r.resolve(ctx, domainName, slug, rc)
	metrics.ResolveDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.Resolutions.WithLabelValues("error").Inc()
		return domain.ResolutionResult{}, err
	}
	metrics.Resolutions.WithLabelValues(res.Outcome.String()).Inc()
	return res, nil
}

func (r *Resolver) resolve(ctx context.Context, domainName, slug string, rc domain.RequestContext) (domain.ResolutionResult, error) {
	if !domain.ValidKey(domainName, slug) {
		return domain.Terminal(domain.OutcomeNotFound), nil
	}
	now := r.now()

	// 1. lookup
	rec, test, err := r.lookup(ctx, domainName, slug)
	if err != nil {
		return domain.ResolutionResult{}, err
	}
	if rec == nil {
		return domain.Terminal(domain.OutcomeNotFound), nil
	}

	// 2. archived links look exactly like missing ones
	if rec.IsArchived {
		return domain.Terminal(domain.OutcomeNotFound), nil
	}

	// 3. expiry
	if rec.Expired(now) {
		return domain.Terminal(domain.OutcomeExpired), nil
	}

	// 4. click limit, against the authoritative counter
	if rec.ClickLimit != nil {
		count, err := r.counter.ClickCount(ctx, rec.ID)
		if err != nil {
			logging.Ctx(ctx).Error().Err(err).Str("link_id", rec.ID).Msg("click counter unavailable")
			return domain.ResolutionResult{}, fmt.Errorf("%w: click counter: %v", domain.ErrUpstreamUnavailable, err)
		}
		if count >= *rec.ClickLimit {
			return domain.Terminal(domain.OutcomeLimitReached), nil
		}
	}

	// 5. password gate
	if rec.PasswordHash != "" && !passwordMatches(rec.PasswordHash, rc.Password) {
		return domain.Terminal(domain.OutcomePasswordRequired), nil
	}

	// 6. A/B variant
	dest := rec.DestinationURL
	var variantID string
	var assignment *domain.Assignment
	if test != nil && test.Status == domain.ABTestRunning && len(test.Variants) > 0 {
		v, a := r.selector.Select(test, rc.AssignmentCookie)
		dest, variantID, assignment = v.URL, v.ID, a
	}

	// 7. targeting overrides
	dest, _ = r.targets.Apply(rec, rc, dest)

	// The reservation below is what makes the limit exact under concurrency:
	// the step 4 read only fails fast.
	counted := false
	if rec.ClickLimit != nil {
		_, ok, err := r.counter.TryIncrementClickCount(ctx, rec.ID, *rec.ClickLimit)
		if err != nil {
			logging.Ctx(ctx).Error().Err(err).Str("link_id", rec.ID).Msg("click reservation failed")
			return domain.ResolutionResult{}, fmt.Errorf("%w: click counter: %v", domain.ErrUpstreamUnavailable, err)
		}
		if !ok {
			return domain.Terminal(domain.OutcomeLimitReached), nil
		}
		counted = true
	}

	// 8. redirect, then record the click without waiting on it
	if r.clicks != nil {
		r.clicks.Record(domain.Click{
			LinkID:    rec.ID,
			VariantID: variantID,
			Country:   rc.Country,
			Device:    rc.Device,
			Counted:   counted,
			At:        now,
		})
	}

	return domain.ResolutionResult{
		Outcome:    domain.OutcomeRedirect,
		URL:        dest,
		LinkID:     rec.ID,
		VariantID:  variantID,
		Assignment: assignment,
		ResolvedAt: now,
	}, nil
}

// lookup reads the edge cache and falls back to the store on a miss.
func (r *Resolver) lookup(ctx context.Context, domainName, slug string) (*domain.LinkRecord, *domain.ABTest, error) {
	key := domain.CacheKey(domainName, slug)

	cached, cacheErr := r.readCache(ctx, key)
	if cached != nil {
		return cached.Record(), cached.RunningTest(), nil
	}

	rec, err := r.store.GetByDomainSlug(ctx, domainName, slug)
	if err != nil {
		if cacheErr != nil {
			logging.Ctx(ctx).Error().Err(err).AnErr("cache_err", cacheErr).Str("key", key).Msg("edge cache and store both failed")
		} else {
			logging.Ctx(ctx).Error().Err(err).Str("key", key).Msg("store fallback failed")
		}
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
	}
	if rec == nil {
		return nil, nil, nil
	}
	if !rec.Resolvable(r.now()) {
		return rec, nil, nil
	}

	test, err := r.store.GetRunningABTest(ctx, rec.ID)
	if err != nil {
		// The plain destination is still a correct answer.
		logging.Ctx(ctx).Warn().Err(err).Str("link_id", rec.ID).Msg("running ab test lookup failed")
		test = nil
	} else {
		r.repopulate(rec)
	}
	return rec, test, nil
}

// readCache returns nil on any miss. The error is non-nil only when the
// cache itself failed or timed out.
func (r *Resolver) readCache(ctx context.Context, key string) (*domain.CachedLink, error) {
	cctx, cancel := context.WithTimeout(ctx, r.opts.CacheReadTimeout)
	defer cancel()

	data, err := r.cache.Get(cctx, key)
	switch {
	case errors.Is(err, domain.ErrCacheMiss):
		metrics.EdgeCacheReads.WithLabelValues("miss").Inc()
		return nil, nil
	case err != nil:
		result := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			result = "timeout"
		}
		metrics.EdgeCacheReads.WithLabelValues(result).Inc()
		logging.Ctx(ctx).Debug().Err(err).Str("key", key).Msg("edge cache read failed, treating as miss")
		return nil, err
	}

	cl, err := domain.UnmarshalCachedLink(data)
	if err != nil {
		metrics.EdgeCacheReads.WithLabelValues("corrupt").Inc()
		logging.Ctx(ctx).Warn().Err(err).Str("key", key).Msg("undecodable projection, treating as miss")
		return nil, nil
	}
	metrics.EdgeCacheReads.WithLabelValues("hit").Inc()
	return cl, nil
}

// repopulate rewrites the projection in the background. The request that
// triggered it never waits.
func (r *Resolver) repopulate(rec *domain.LinkRecord) {
	if r.repop == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.opts.RepopulateTimeout)
		defer cancel()
		r.repop.OnCreate(ctx, rec)
	}()
}

func passwordMatches(hash, password string) bool {
	if password == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
