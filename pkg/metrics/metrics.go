// Package metrics holds the prometheus collectors of the resolver.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Resolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "link_resolutions_total",
			Help: "Resolution outcomes by result",
		},
		[]string{"outcome"}, // redirect, not_found, expired, limit_reached, password_required, error
	)

	ResolveDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "link_resolve_duration_seconds",
			Help:    "Time spent deciding a redirect",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		},
	)

	EdgeCacheReads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edge_cache_reads_total",
			Help: "Edge cache reads by result",
		},
		[]string{"result"}, // hit, miss, timeout, error, corrupt
	)

	StoreFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "link_store_fallback_reads_total",
			Help: "Link store reads on edge cache miss",
		},
		[]string{"result"}, // hit, not_found, rejected, error
	)

	ProjectorWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edge_projector_writes_total",
			Help: "Projection writes by operation and sync status",
		},
		[]string{"op", "status"}, // op: put, delete
	)

	ClickEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "click_events_total",
			Help: "Click recorder results",
		},
		[]string{"result"}, // recorded, dropped, increment_failed, append_failed
	)

	ClickQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "click_queue_depth",
			Help: "Clicks waiting for a recorder worker",
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "0 closed, 1 half-open, 2 open",
		},
		[]string{"name"},
	)

	SweptProjections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "expired_projections_swept_total",
			Help: "Projections removed by the expiry sweeper",
		},
	)
)
