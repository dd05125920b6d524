package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/wadjakorntonsri/go-link-resolver/pkg/core/domain"
	"github.com/wadjakorntonsri/go-link-resolver/pkg/logging"
	"github.com/wadjakorntonsri/go-link-resolver/pkg/metrics"
	"github.com/wadjakorntonsri/go-link-resolver/pkg/ports"
)

type ClickRecorderOptions struct {
	QueueSize    int
	Workers      int
	WriteTimeout time.Duration
}

func DefaultClickRecorderOptions() ClickRecorderOptions {
	return ClickRecorderOptions{
		QueueSize:    4096,
		Workers:      4,
		WriteTimeout: 2 * time.Second,
	}
}

// ClickRecorder records clicks off the redirect path. Record never blocks:
// when the queue is full the click is dropped. Each click increments the
// counter at most once and is never retried.
type ClickRecorder struct {
	counter ports.ClickCounter
	sink    ports.ClickSink
	queue   chan domain.Click
	opts    ClickRecorderOptions
	log     zerolog.Logger
}

func NewClickRecorder(counter ports.ClickCounter, sink ports.ClickSink, opts ClickRecorderOptions) *ClickRecorder {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &ClickRecorder{
		counter: counter,
		sink:    sink,
		queue:   make(chan domain.Click, opts.QueueSize),
		opts:    opts,
		log:     logging.Component("click_recorder"),
	}
}

func (r *ClickRecorder) Record(click domain.Click) {
	select {
	case r.queue <- click:
		metrics.ClickQueueDepth.Set(float64(len(r.queue)))
	default:
		metrics.ClickEvents.WithLabelValues("dropped").Inc()
		r.log.Warn().Str("link_id", click.LinkID).Msg("click queue full, click dropped")
	}
}

// Serve runs the workers until ctx is cancelled, then drains whatever is
// already queued. It implements suture.Service.
func (r *ClickRecorder) Serve(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < r.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.work(ctx)
		}()
	}
	wg.Wait()
	r.drain()
	return ctx.Err()
}

func (r *ClickRecorder) String() string { return "click-recorder" }

func (r *ClickRecorder) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-r.queue:
			metrics.ClickQueueDepth.Set(float64(len(r.queue)))
			r.process(c)
		}
	}
}

func (r *ClickRecorder) drain() {
	for {
		select {
		case c := <-r.queue:
			r.process(c)
		default:
			metrics.ClickQueueDepth.Set(0)
			return
		}
	}
}

// process detaches from the request: the redirect has already been sent.
func (r *ClickRecorder) process(c domain.Click) {
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.WriteTimeout)
	defer cancel()

	log := r.log.With().Str("link_id", c.LinkID).Logger()

	if !c.Counted && r.counter != nil {
		if _, err := r.counter.IncrementClickCount(ctx, c.LinkID); err != nil {
			metrics.ClickEvents.WithLabelValues("increment_failed").Inc()
			log.Error().Err(err).Msg("click count increment failed, click not counted")
		}
	}

	if r.sink == nil {
		metrics.ClickEvents.WithLabelValues("recorded").Inc()
		return
	}
	ev := &domain.ClickEvent{
		ID:         uuid.NewString(),
		LinkID:     c.LinkID,
		VariantID:  c.VariantID,
		Country:    c.Country,
		DeviceType: c.Device,
		Timestamp:  c.At,
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if err := r.sink.Append(ctx, ev); err != nil {
		metrics.ClickEvents.WithLabelValues("append_failed").Inc()
		log.Warn().Err(err).Msg("click event dropped")
		return
	}
	metrics.ClickEvents.WithLabelValues("recorded").Inc()
}
