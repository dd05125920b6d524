package services

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/wadjakorntonsri/go-link-resolver/pkg/core/domain"
	"github.com/wadjakorntonsri/go-link-resolver/pkg/logging"
	"github.com/wadjakorntonsri/go-link-resolver/pkg/metrics"
	"github.com/wadjakorntonsri/go-link-resolver/pkg/ports"
)

// ProjectorOptions tunes TTLs and the write and delete retry policy.
type ProjectorOptions struct {
	TTL                time.Duration
	GuestTTL           time.Duration
	WriteTimeout       time.Duration
	DeleteMaxAttempts  uint
	DeleteInitialDelay time.Duration
	DeleteMaxElapsed   time.Duration
}

func DefaultProjectorOptions() ProjectorOptions {
	return ProjectorOptions{
		TTL:                30 * 24 * time.Hour,
		GuestTTL:           24 * time.Hour,
		WriteTimeout:       500 * time.Millisecond,
		DeleteMaxAttempts:  6,
		DeleteInitialDelay: 50 * time.Millisecond,
		DeleteMaxElapsed:   5 * time.Second,
	}
}

// Projector derives CachedLink projections from link records and writes
// them to the edge cache. It never reads a projection back to modify it;
// ordering between writers is settled by the version each write carries.
type Projector struct {
	cache ports.EdgeCache
	tests ABTestLookup
	opts  ProjectorOptions
	log   zerolog.Logger
}

// ABTestLookup finds the running test to embed in a projection.
type ABTestLookup interface {
	GetRunningABTest(ctx context.Context, linkID string) (*domain.ABTest, error)
}

func NewProjector(cache ports.EdgeCache, tests ABTestLookup, opts ProjectorOptions) *Projector {
	return &Projector{
		cache: cache,
		tests: tests,
		opts:  opts,
		log:   logging.Component("projector"),
	}
}

// TTL returns the projection lifetime for rec.
func (p *Projector) TTL(rec *domain.LinkRecord) time.Duration {
	if rec.IsGuest() {
		return p.opts.GuestTTL
	}
	return p.opts.TTL
}

func (p *Projector) OnCreate(ctx context.Context, rec *domain.LinkRecord) domain.SyncStatus {
	if rec.IsArchived {
		return p.OnArchiveOrDelete(ctx, rec)
	}
	return p.put(ctx, rec)
}

// OnUpdate rewrites the projection. When the key changed the old key is
// removed first, under the delete policy, so it cannot keep resolving.
func (p *Projector) OnUpdate(ctx context.Context, before, after *domain.LinkRecord) domain.SyncStatus {
	if before != nil && before.Key() != after.Key() {
		if st := p.delete(ctx, before.Key(), after.Version()); st == domain.SyncDegraded {
			// still write the new key; the caller sees the degraded rotation
			p.put(ctx, after)
			return domain.SyncDegraded
		}
	}
	if after.IsArchived {
		return p.OnArchiveOrDelete(ctx, after)
	}
	return p.put(ctx, after)
}

// OnArchiveOrDelete removes the projection, retrying with backoff until the
// delete is confirmed or the retry budget runs out.
func (p *Projector) OnArchiveOrDelete(ctx context.Context, rec *domain.LinkRecord) domain.SyncStatus {
	return p.delete(ctx, rec.Key(), rec.Version())
}

// OnBulkMutation applies each mutation in order. Every record is projected
// right after its own store write; nothing is batched across records.
func (p *Projector) OnBulkMutation(ctx context.Context, mutations []domain.Mutation) []domain.SyncStatus {
	out := make([]domain.SyncStatus, len(mutations))
	for i, m := range mutations {
		switch m.Kind {
		case domain.MutationCreate:
			out[i] = p.OnCreate(ctx, m.Record)
		case domain.MutationUpdate:
			out[i] = p.OnUpdate(ctx, m.Before, m.Record)
		case domain.MutationArchiveOrDelete:
			out[i] = p.OnArchiveOrDelete(ctx, m.Record)
		default:
			out[i] = domain.SyncSkipped
		}
	}
	return out
}

func (p *Projector) put(ctx context.Context, rec *domain.LinkRecord) domain.SyncStatus {
	log := p.log.With().Str("key", rec.Key()).Str("link_id", rec.ID).Logger()

	var running *domain.ABTest
	if p.tests != nil {
		t, err := p.tests.GetRunningABTest(ctx, rec.ID)
		if err != nil {
			// Without the test the projection would silently drop the split.
			log.Warn().Err(err).Msg("running ab test lookup failed, projection not written")
			metrics.ProjectorWrites.WithLabelValues("put", domain.SyncDegraded.String()).Inc()
			p.invalidate(ctx, rec)
			return domain.SyncDegraded
		}
		running = t
	}

	cl := domain.Project(rec, running)
	data, err := cl.Marshal()
	if err != nil {
		log.Error().Err(err).Msg("encode projection")
		metrics.ProjectorWrites.WithLabelValues("put", domain.SyncDegraded.String()).Inc()
		return domain.SyncDegraded
	}

	ttl := p.TTL(rec)
	var applied bool
	for attempt := 0; attempt < 2; attempt++ {
		applied, err = p.putOnce(ctx, rec.Key(), data, cl.Version, ttl)
		if err == nil {
			break
		}
		log.Warn().Err(err).Int("attempt", attempt+1).Msg("edge cache put failed")
	}

	status := domain.SyncApplied
	switch {
	case err != nil:
		log.Error().Err(err).Msg("edge cache put failed after retry, invalidating projection")
		status = domain.SyncDegraded
	case !applied:
		log.Debug().Int64("version", cl.Version).Msg("stale projection discarded")
		status = domain.SyncStale
	}
	metrics.ProjectorWrites.WithLabelValues("put", status.String()).Inc()
	if status == domain.SyncDegraded {
		p.invalidate(ctx, rec)
	}
	return status
}

// invalidate removes whatever older projection the key still holds, so the
// next resolution falls back to the store. The tombstone sits one below
// rec's version: older writes stay blocked while the fallback can still
// repopulate the key with rec itself.
func (p *Projector) invalidate(ctx context.Context, rec *domain.LinkRecord) {
	if st := p.delete(ctx, rec.Key(), rec.Version()-1); st != domain.SyncApplied {
		p.log.Error().Str("key", rec.Key()).Str("link_id", rec.ID).
			Msg("stale projection could not be invalidated, it may resolve until ttl")
	}
}

func (p *Projector) putOnce(ctx context.Context, key string, data []byte, version int64, ttl time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.WriteTimeout)
	defer cancel()
	return p.cache.Put(ctx, key, data, version, ttl)
}

func (p *Projector) delete(ctx context.Context, key string, version int64) domain.SyncStatus {
	attempts := 0
	op := func() (struct{}, error) {
		attempts++
		dctx, cancel := context.WithTimeout(ctx, p.opts.WriteTimeout)
		defer cancel()
		err := p.cache.Delete(dctx, key, version)
		if err != nil && ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.opts.DeleteInitialDelay

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(p.opts.DeleteMaxAttempts),
		backoff.WithMaxElapsedTime(p.opts.DeleteMaxElapsed),
		backoff.WithNotify(func(err error, next time.Duration) {
			p.log.Warn().Err(err).Str("key", key).Dur("retry_in", next).Msg("edge cache delete failed, retrying")
		}),
	)
	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Unwrap()
		}
		p.log.Error().Err(err).Str("key", key).Int("attempts", attempts).
			Msg("edge cache delete not confirmed, dead link may resolve until ttl")
		metrics.ProjectorWrites.WithLabelValues("delete", domain.SyncDegraded.String()).Inc()
		return domain.SyncDegraded
	}
	metrics.ProjectorWrites.WithLabelValues("delete", domain.SyncApplied.String()).Inc()
	return domain.SyncApplied
}
