// Package metrics exposes loader progress as Prometheus metrics. A Metrics
// value is both an ingest.Reporter and an entitycache.Observer.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/lobbygraph/backend/pkg/entitycache"
	"github.com/lobbygraph/backend/pkg/ingest"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "lobbygraph"

const (
	MetricRecordsTotal    = "records_total"
	MetricRecordSeconds   = "record_duration_seconds"
	MetricSourcesTotal    = "sources_total"
	MetricCacheEvents     = "cache_events_total"
	MetricRunsTotal       = "runs_total"
	MetricLastRunDuration = "last_run_duration_seconds"
)

type Metrics struct {
	registry *prometheus.Registry

	records     *prometheus.CounterVec
	recordTime  prometheus.Histogram
	sources     prometheus.Counter
	cacheEvents *prometheus.CounterVec
	runs        *prometheus.CounterVec
	lastRun     prometheus.Gauge
}

// New registers the loader metrics on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		records: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      MetricRecordsTotal,
				Help:      "Filing records processed, by outcome.",
			},
			[]string{"outcome"},
		),
		recordTime: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      MetricRecordSeconds,
				Help:      "Time spent loading one filing record.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
			},
		),
		sources: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      MetricSourcesTotal,
				Help:      "Logical sources (archive entries) completed.",
			},
		),
		cacheEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      MetricCacheEvents,
				Help:      "Entity cache events, by cache and event.",
			},
			[]string{"cache", "event"},
		),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      MetricRunsTotal,
				Help:      "Loader runs, by status.",
			},
			[]string{"status"},
		),
		lastRun: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      MetricLastRunDuration,
				Help:      "Duration of the most recent loader run.",
			},
		),
	}
	m.registry.MustRegister(m.records, m.recordTime, m.sources, m.cacheEvents, m.runs, m.lastRun)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RecordDone(outcome ingest.Outcome, elapsed time.Duration) {
	m.records.WithLabelValues(outcome.String()).Inc()
	m.recordTime.Observe(elapsed.Seconds())
}

func (m *Metrics) SourceDone(ingest.SourceSummary) {
	m.sources.Inc()
}

// ObserveCache matches entitycache.Observer.
func (m *Metrics) ObserveCache(cache string, event entitycache.Event) {
	m.cacheEvents.WithLabelValues(cache, event.String()).Inc()
}

// RunDone records the end of a run. A run with an Error counts as aborted.
func (m *Metrics) RunDone(summary ingest.RunSummary) {
	status := "completed"
	if summary.Error != "" {
		status = "aborted"
	}
	m.runs.WithLabelValues(status).Inc()
	m.lastRun.Set(summary.Elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Push sends the current values to a Pushgateway, grouped by run id.
func (m *Metrics) Push(ctx context.Context, gatewayURL, job, runID string) error {
	p := push.New(gatewayURL, job).Gatherer(m.registry)
	if runID != "" {
		p = p.Grouping("run", runID)
	}
	return p.PushContext(ctx)
}
