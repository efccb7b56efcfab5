// Package metrics exposes sync health as Prometheus metrics.
//
// A Recorder owns its registry, so tests and multiple agents in one process
// never collide on the global default. All methods are safe on a nil
// *Recorder, which records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "diptrack"

// Recorder collects sync, network and facade metrics.
type Recorder struct {
	registry *prometheus.Registry

	pending      prometheus.Gauge
	deadLettered prometheus.Gauge
	online       prometheus.Gauge
	actions      *prometheus.CounterVec
	passes       *prometheus.CounterVec
	passDuration prometheus.Histogram
	fetches      *prometheus.CounterVec
	queued       *prometheus.CounterVec
}

// New creates a Recorder with a fresh registry, including Go runtime and
// process collectors.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "pending_actions",
			Help:      "Unsynced actions waiting for replay, excluding dead letters.",
		}),
		deadLettered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "dead_lettered_actions",
			Help:      "Actions that will not be replayed until requeued.",
		}),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "network",
			Name:      "online",
			Help:      "1 when the API is believed reachable.",
		}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "actions_total",
			Help:      "Replayed actions by kind and outcome.",
		}, []string{"kind", "outcome"}),
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "passes_total",
			Help:      "Sync passes by result.",
		}, []string{"result"}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "pass_duration_seconds",
			Help:      "Wall time of completed sync passes.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "facade",
			Name:      "fetches_total",
			Help:      "Facade reads by kind and data source.",
		}, []string{"kind", "source"}),
		queued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "facade",
			Name:      "queued_writes_total",
			Help:      "Writes diverted to the offline queue by kind and verb.",
		}, []string{"kind", "verb"}),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.pending,
		r.deadLettered,
		r.online,
		r.actions,
		r.passes,
		r.passDuration,
		r.fetches,
		r.queued,
	)
	return r
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ObserveAction counts one replayed action.
func (r *Recorder) ObserveAction(kind, outcome string) {
	if r == nil {
		return
	}
	r.actions.WithLabelValues(kind, outcome).Inc()
}

// ObservePass records a finished pass, or a dropped one.
func (r *Recorder) ObservePass(d time.Duration, dropped bool) {
	if r == nil {
		return
	}
	if dropped {
		r.passes.WithLabelValues("dropped").Inc()
		return
	}
	r.passes.WithLabelValues("completed").Inc()
	r.passDuration.Observe(d.Seconds())
}

// SetQueueDepth updates the pending and dead-letter gauges.
func (r *Recorder) SetQueueDepth(pending, deadLettered int) {
	if r == nil {
		return
	}
	r.pending.Set(float64(pending))
	r.deadLettered.Set(float64(deadLettered))
}

// SetOnline updates the connectivity gauge.
func (r *Recorder) SetOnline(online bool) {
	if r == nil {
		return
	}
	if online {
		r.online.Set(1)
	} else {
		r.online.Set(0)
	}
}

// ObserveFetch counts one facade read.
func (r *Recorder) ObserveFetch(kind, source string) {
	if r == nil {
		return
	}
	r.fetches.WithLabelValues(kind, source).Inc()
}

// ObserveQueued counts one write diverted to the offline queue.
func (r *Recorder) ObserveQueued(kind, verb string) {
	if r == nil {
		return
	}
	r.queued.WithLabelValues(kind, verb).Inc()
}
