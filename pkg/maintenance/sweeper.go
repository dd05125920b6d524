// Package maintenance runs periodic jobs that keep the edge cache tidy.
package maintenance

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/wadjakorntonsri/go-link-resolver/pkg/core/domain"
	"github.com/wadjakorntonsri/go-link-resolver/pkg/logging"
	"github.com/wadjakorntonsri/go-link-resolver/pkg/metrics"
)

// ExpiredLister finds links whose expiry passed within a window.
type ExpiredLister interface {
	ListExpiredBetween(ctx context.Context, from, to time.Time) ([]domain.LinkRecord, error)
}

// Remover drops the projection of a link.
type Remover interface {
	OnArchiveOrDelete(ctx context.Context, rec *domain.LinkRecord) domain.SyncStatus
}

// Sweeper deletes projections of links that expired since the previous run.
// Expired links already resolve as expired; sweeping frees the cache before
// the projection TTL runs out.
type Sweeper struct {
	links    ExpiredLister
	remover  Remover
	schedule string
	log      zerolog.Logger
	now      func() time.Time

	mu   sync.Mutex
	last time.Time
}

// NewSweeper builds a sweeper. lookback bounds the first window, and should
// cover the longest projection TTL.
func NewSweeper(links ExpiredLister, remover Remover, schedule string, lookback time.Duration) *Sweeper {
	s := &Sweeper{
		links:    links,
		remover:  remover,
		schedule: schedule,
		log:      logging.Component("sweeper"),
		now:      time.Now,
	}
	s.last = s.now().Add(-lookback)
	return s
}

// Serve runs the cron schedule until ctx is cancelled. It implements
// suture.Service.
func (s *Sweeper) Serve(ctx context.Context) error {
	c := cron.New(cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow)), cron.WithChain(
		cron.SkipIfStillRunning(cron.DiscardLogger),
	))
	if _, err := c.AddFunc(s.schedule, func() { s.Sweep(ctx) }); err != nil {
		return err
	}
	c.Start()
	s.log.Info().Str("schedule", s.schedule).Msg("expiry sweeper started")

	// sweep once at startup
	go s.Sweep(ctx)

	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}

func (s *Sweeper) String() string { return "expiry-sweeper" }

// Sweep removes projections of links that expired since the last sweep and
// returns how many were removed.
func (s *Sweeper) Sweep(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	from, to := s.last, s.now()
	links, err := s.links.ListExpiredBetween(ctx, from, to)
	if err != nil {
		s.log.Error().Err(err).Msg("list expired links")
		return 0
	}

	removed := 0
	for i := range links {
		if ctx.Err() != nil {
			return removed
		}
		if st := s.remover.OnArchiveOrDelete(ctx, &links[i]); st == domain.SyncDegraded {
			// keep the window open so the next run tries again
			s.log.Warn().Str("key", links[i].Key()).Msg("expired projection not removed")
			continue
		}
		removed++
	}
	metrics.SweptProjections.Add(float64(removed))

	if removed == len(links) {
		s.last = to
	}
	if removed > 0 {
		s.log.Info().Int("removed", removed).Time("from", from).Time("to", to).Msg("expired projections swept")
	}
	return removed
}
