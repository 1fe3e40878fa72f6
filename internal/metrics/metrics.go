// Package metrics exposes Prometheus instrumentation for the rating stores.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the service's metrics on a private registry. A nil
// *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	StoreOperations  *prometheus.CounterVec
	StoreDuration    *prometheus.HistogramVec
	RatingsSubmitted *prometheus.CounterVec
	PartialListings  *prometheus.CounterVec
}

// NewCollector creates and registers the metrics under namespace.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		StoreOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_operations_total",
				Help:      "Rating store operations by origin, operation and outcome.",
			},
			[]string{"origin", "op", "outcome"},
		),
		StoreDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "store_operation_duration_seconds",
				Help:      "Rating store operation latency.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"origin", "op"},
		),
		RatingsSubmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ratings_submitted_total",
				Help:      "Ratings accepted, by the store that accepted them.",
			},
			[]string{"origin"},
		),
		PartialListings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "partial_listings_total",
				Help:      "Merged listings served without one of the sources.",
			},
			[]string{"missing_origin"},
		),
	}

	registry.MustRegister(
		c.StoreOperations,
		c.StoreDuration,
		c.RatingsSubmitted,
		c.PartialListings,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// ObserveStore records one adapter call.
func (c *Collector) ObserveStore(origin, op, outcome string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.StoreOperations.WithLabelValues(origin, op, outcome).Inc()
	c.StoreDuration.WithLabelValues(origin, op).Observe(elapsed.Seconds())
}

// RatingSubmitted counts an accepted write.
func (c *Collector) RatingSubmitted(origin string) {
	if c == nil {
		return
	}
	c.RatingsSubmitted.WithLabelValues(origin).Inc()
}

// PartialListing counts a listing served without missingOrigin.
func (c *Collector) PartialListing(missingOrigin string) {
	if c == nil {
		return
	}
	c.PartialListings.WithLabelValues(missingOrigin).Inc()
}

// RegisterPoolGauges exposes connection pool figures sampled at scrape time.
func (c *Collector) RegisterPoolGauges(namespace string, acquired, idle, total func() int32) {
	if c == nil {
		return
	}
	gauge := func(name, help string, fn func() int32) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "db_pool",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(fn()) })
	}
	c.registry.MustRegister(
		gauge("acquired_conns", "Connections currently in use.", acquired),
		gauge("idle_conns", "Idle connections.", idle),
		gauge("total_conns", "Total connections.", total),
	)
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
