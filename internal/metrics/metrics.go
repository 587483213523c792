// Package metrics exposes Prometheus collectors for entry persistence and the HTTP API.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "todotree"

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	RecordsLoaded    prometheus.Counter
	RecordsSkipped   prometheus.Counter
	RecordsWritten   prometheus.Counter
	WriteFailures    prometheus.Counter
	OrphansRemoved   prometheus.Counter
	OrphanFailures   prometheus.Counter
	Requests         *prometheus.CounterVec
	IndexSyncSeconds prometheus.Histogram
}

// New creates the collectors and registers them on a fresh registry
// together with the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		RecordsLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "records_loaded_total",
			Help: "Record files decoded into root entries.",
		}),
		RecordsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "records_skipped_total",
			Help: "Record files skipped on load because they were empty, unreadable or malformed.",
		}),
		RecordsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "records_written_total",
			Help: "Record files written on save.",
		}),
		WriteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "record_write_failures_total",
			Help: "Record files that could not be written on save.",
		}),
		OrphansRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "orphans_removed_total",
			Help: "Record files deleted because their id was no longer live.",
		}),
		OrphanFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "store", Name: "orphan_remove_failures_total",
			Help: "Orphaned record files that could not be deleted.",
		}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by route, status code and method.",
		}, []string{"route", "code", "method"}),
		IndexSyncSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "index", Name: "sync_duration_seconds",
			Help:    "Time spent rebuilding the title index.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RecordsLoaded, m.RecordsSkipped, m.RecordsWritten, m.WriteFailures,
		m.OrphansRemoved, m.OrphanFailures, m.Requests, m.IndexSyncSeconds,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Instrument counts requests served by h under the given route label.
func (m *Metrics) Instrument(route string, h http.Handler) http.Handler {
	if m == nil {
		return h
	}
	return promhttp.InstrumentHandlerCounter(m.Requests.MustCurryWith(prometheus.Labels{"route": route}), h)
}

func (m *Metrics) Loaded() {
	if m != nil {
		m.RecordsLoaded.Inc()
	}
}

func (m *Metrics) Skipped() {
	if m != nil {
		m.RecordsSkipped.Inc()
	}
}

func (m *Metrics) Written() {
	if m != nil {
		m.RecordsWritten.Inc()
	}
}

func (m *Metrics) WriteFailed() {
	if m != nil {
		m.WriteFailures.Inc()
	}
}

func (m *Metrics) OrphanRemoved() {
	if m != nil {
		m.OrphansRemoved.Inc()
	}
}

func (m *Metrics) OrphanFailed() {
	if m != nil {
		m.OrphanFailures.Inc()
	}
}

// ObserveIndexSync records how long an index rebuild took, in seconds.
func (m *Metrics) ObserveIndexSync(seconds float64) {
	if m != nil {
		m.IndexSyncSeconds.Observe(seconds)
	}
}
