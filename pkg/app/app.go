// Package app wires the resolver's components from configuration. The
// server, the serverless entry point and the CLI all build through it.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/wadjakorntonsri/go-link-resolver/pkg/adapters/clicksink"
	"github.com/wadjakorntonsri/go-link-resolver/pkg/adapters/edgecache"
	"github.com/wadjakorntonsri/go-link-resolver/pkg/adapters/handler"
	"github.com/wadjakorntonsri/go-link-resolver/pkg/adapters/repository/sqlite"
	"github.com/wadjakorntonsri/go-link-resolver/pkg/config"
	"github.com/wadjakorntonsri/go-link-resolver/pkg/core/services"
	"github.com/wadjakorntonsri/go-link-resolver/pkg/logging"
	"github.com/wadjakorntonsri/go-link-resolver/pkg/maintenance"
	"github.com/wadjakorntonsri/go-link-resolver/pkg/ports"
)

// App holds every long-lived component.
type App struct {
	Config    *config.Config
	Repo      *sqlite.SQLiteRepository
	Cache     edgecache.Cache
	Projector *services.Projector
	Recorder  *services.ClickRecorder
	Resolver  *services.Resolver
	Links     *services.LinkService
	ABTests   *services.ABTestService
	Sweeper   *maintenance.Sweeper
	Handler   http.Handler

	closers []io.Closer
}

// New builds the application. On error everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config) (a *App, err error) {
	a = &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = a.Close()
			a = nil
		}
	}()

	a.Repo, err = sqlite.NewSQLiteRepository(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	a.closers = append(a.closers, a.Repo)

	a.Cache, err = edgecache.New(ctx, cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("open edge cache: %w", err)
	}
	a.closers = append(a.closers, a.Cache)

	var sink ports.ClickSink = a.Repo
	var stats ports.ClickStats = a.Repo
	if cfg.Clicks.Sink == "nats" {
		ns, err := clicksink.NewNATS(cfg.Clicks.NATSURL, cfg.Clicks.NATSSubject)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, ns)
		sink, stats = ns, nil
	}

	a.Projector = services.NewProjector(a.Cache, a.Repo, services.ProjectorOptions{
		TTL:                cfg.Cache.TTL,
		GuestTTL:           cfg.Cache.GuestTTL,
		WriteTimeout:       cfg.Projector.WriteTimeout,
		DeleteMaxAttempts:  cfg.Projector.DeleteMaxAttempts,
		DeleteInitialDelay: cfg.Projector.DeleteInitialDelay,
		DeleteMaxElapsed:   cfg.Projector.DeleteMaxElapsed,
	})

	a.Recorder = services.NewClickRecorder(a.Repo, sink, services.ClickRecorderOptions{
		QueueSize:    cfg.Clicks.QueueSize,
		Workers:      cfg.Clicks.Workers,
		WriteTimeout: cfg.Clicks.WriteTimeout,
	})

	guarded := services.NewGuardedStore(a.Repo, services.FallbackOptions{
		Timeout:        cfg.Store.FallbackTimeout,
		RPS:            cfg.Store.FallbackRPS,
		Burst:          cfg.Store.FallbackBurst,
		BreakerTimeout: cfg.Store.BreakerTimeout,
		MinRequests:    cfg.Store.BreakerMinReqs,
		FailureRatio:   cfg.Store.BreakerRatio,
	})

	a.Resolver = services.NewResolver(services.ResolverDeps{
		Cache:     a.Cache,
		Store:     guarded,
		Counter:   a.Repo,
		Projector: a.Projector,
		Clicks:    a.Recorder,
	}, services.ResolverOptions{
		CacheReadTimeout:  cfg.Cache.ReadTimeout,
		RepopulateTimeout: cfg.Projector.RepopulateTimeout,
	})

	a.Links = services.NewLinkService(a.Repo, a.Projector, stats)
	a.ABTests = services.NewABTestService(a.Repo, a.Repo, a.Projector)
	a.Sweeper = maintenance.NewSweeper(a.Repo, a.Projector, cfg.Maintenance.SweepSchedule, cfg.Cache.TTL)

	a.Handler = handler.NewRouter(cfg, handler.Services{
		Resolver: a.Resolver,
		Links:    a.Links,
		ABTests:  a.ABTests,
		Health: []handler.HealthCheck{
			{Name: "database", Check: a.Repo.Ping},
			{Name: "edge_cache", Check: a.Cache.Ping},
		},
	})

	logging.Info().
		Str("cache", cfg.Cache.Backend).
		Str("click_sink", cfg.Clicks.Sink).
		Msg("application wired")
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
