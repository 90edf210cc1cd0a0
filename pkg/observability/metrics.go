// Package observability holds the prometheus collector and the tracer used
// around history actions.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds all Prometheus metrics for the engine. It owns a private
// registry so several collectors can coexist in tests.
type Collector struct {
	registry *prometheus.Registry

	// History metrics
	Actions      *prometheus.CounterVec
	Failures     *prometheus.CounterVec
	Duration     *prometheus.HistogramVec
	UndoDepth    prometheus.Gauge
	RedoDepth    prometheus.Gauge
	HistoryClear prometheus.Counter

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Journal metrics
	JournalWrites *prometheus.CounterVec
}

// NewCollector creates a collector with metrics under namespace.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		Actions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "history_actions_total",
				Help:      "Commands executed, undone and redone",
			},
			[]string{"action", "command"},
		),
		Failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "history_failures_total",
				Help:      "Failed history actions by error type",
			},
			[]string{"action", "type"},
		),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "command_duration_seconds",
				Help:      "Time spent in command Do and Undo",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"action", "command"},
		),
		UndoDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "history_undo_depth",
			Help:      "Entries available for undo",
		}),
		RedoDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "history_redo_depth",
			Help:      "Entries available for redo",
		}),
		HistoryClear: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_cleared_total",
			Help:      "Times the history was cleared",
		}),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		JournalWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "journal_writes_total",
				Help:      "Journal appends by store and status",
			},
			[]string{"store", "status"},
		),
	}

	registry.MustRegister(
		c.Actions,
		c.Failures,
		c.Duration,
		c.UndoDepth,
		c.RedoDepth,
		c.HistoryClear,
		c.HTTPRequests,
		c.HTTPDuration,
		c.JournalWrites,
	)
	return c
}

// Registry returns the private registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collector's metrics in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// RecordAction counts one history action and its duration.
func (c *Collector) RecordAction(action, command string, d time.Duration) {
	if c == nil {
		return
	}
	c.Actions.WithLabelValues(action, command).Inc()
	c.Duration.WithLabelValues(action, command).Observe(d.Seconds())
}

// RecordFailure counts a failed history action.
func (c *Collector) RecordFailure(action, errType string) {
	if c == nil {
		return
	}
	c.Failures.WithLabelValues(action, errType).Inc()
}

// SetDepth publishes the current undo and redo depth.
func (c *Collector) SetDepth(undo, redo int) {
	if c == nil {
		return
	}
	c.UndoDepth.Set(float64(undo))
	c.RedoDepth.Set(float64(redo))
}

// RecordClear counts a history reset.
func (c *Collector) RecordClear() {
	if c == nil {
		return
	}
	c.HistoryClear.Inc()
}

// RecordHTTPRequest records an HTTP request.
func (c *Collector) RecordHTTPRequest(method, route, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(method, route, status).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordJournalWrite records one journal append.
func (c *Collector) RecordJournalWrite(store string, err error) {
	if c == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	c.JournalWrites.WithLabelValues(store, status).Inc()
}
