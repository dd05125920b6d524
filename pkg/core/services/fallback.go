package services

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/wadjakorntonsri/go-link-resolver/pkg/core/domain"
	"github.com/wadjakorntonsri/go-link-resolver/pkg/logging"
	"github.com/wadjakorntonsri/go-link-resolver/pkg/metrics"
)

// ErrFallbackRejected is returned when the limiter or the open breaker
// refuses a store read.
var ErrFallbackRejected = errors.New("store fallback rejected")

// LinkReader is the read side of the link store used on a cache miss.
type LinkReader interface {
	GetByDomainSlug(ctx context.Context, domainName, slug string) (*domain.LinkRecord, error)
	GetRunningABTest(ctx context.Context, linkID string) (*domain.ABTest, error)
}

type FallbackOptions struct {
	Timeout        time.Duration
	RPS            float64
	Burst          int
	BreakerTimeout time.Duration
	MinRequests    uint32
	FailureRatio   float64
}

func DefaultFallbackOptions() FallbackOptions {
	return FallbackOptions{
		Timeout:        250 * time.Millisecond,
		RPS:            200,
		Burst:          50,
		BreakerTimeout: 10 * time.Second,
		MinRequests:    20,
		FailureRatio:   0.5,
	}
}

// GuardedStore bounds the cold path so an edge cache outage cannot turn
// into a flood of store reads: each read is rate limited, runs behind a
// circuit breaker and has its own deadline.
type GuardedStore struct {
	reader  LinkReader
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker[any]
	timeout time.Duration
}

const breakerName = "link-store-fallback"

func NewGuardedStore(reader LinkReader, opts FallbackOptions) *GuardedStore {
	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < opts.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= opts.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state change")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
		},
		// A missing link is an answer, not a failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return &GuardedStore{
		reader:  reader,
		limiter: rate.NewLimiter(rate.Limit(opts.RPS), opts.Burst),
		cb:      cb,
		timeout: opts.Timeout,
	}
}

func (g *GuardedStore) GetByDomainSlug(ctx context.Context, domainName, slug string) (*domain.LinkRecord, error) {
	v, err := g.execute(ctx, func(ctx context.Context) (any, error) {
		return g.reader.GetByDomainSlug(ctx, domainName, slug)
	})
	if err != nil {
		return nil, err
	}
	rec, _ := v.(*domain.LinkRecord)
	if rec == nil {
		metrics.StoreFallbacks.WithLabelValues("not_found").Inc()
	} else {
		metrics.StoreFallbacks.WithLabelValues("hit").Inc()
	}
	return rec, nil
}

func (g *GuardedStore) GetRunningABTest(ctx context.Context, linkID string) (*domain.ABTest, error) {
	v, err := g.execute(ctx, func(ctx context.Context) (any, error) {
		return g.reader.GetRunningABTest(ctx, linkID)
	})
	if err != nil {
		return nil, err
	}
	t, _ := v.(*domain.ABTest)
	return t, nil
}

func (g *GuardedStore) execute(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	if !g.limiter.Allow() {
		metrics.StoreFallbacks.WithLabelValues("rejected").Inc()
		return nil, ErrFallbackRejected
	}
	v, err := g.cb.Execute(func() (any, error) {
		ctx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()
		return fn(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.StoreFallbacks.WithLabelValues("rejected").Inc()
			return nil, errors.Join(ErrFallbackRejected, err)
		}
		metrics.StoreFallbacks.WithLabelValues("error").Inc()
		return nil, err
	}
	return v, nil
}

// State exposes the breaker state, for health reporting.
func (g *GuardedStore) State() gobreaker.State {
	return g.cb.State()
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
