// Package metrics bundles the Prometheus collectors for pipeline runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles Prometheus collectors for the pipeline. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry       *prometheus.Registry
	runsTotal      *prometheus.CounterVec
	runDuration    prometheus.Histogram
	handlesFailed  prometheus.Counter
	postsFetched   prometheus.Counter
	postOutcomes   *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	assetsCreated  prometheus.Counter
	assetsLinked   prometheus.Counter
	sessionLogins  prometheus.Counter
	fetchRequests  *prometheus.CounterVec
	lastRunSuccess prometheus.Gauge
}

// New registers all collectors on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kolwatch",
			Name:      "runs_total",
			Help:      "Pipeline runs by result",
		}, []string{"result"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kolwatch",
			Name:      "run_duration_seconds",
			Help:      "Histogram of pipeline run durations",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		handlesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kolwatch",
			Name:      "handles_failed_total",
			Help:      "Handles skipped because their stream failed",
		}),
		postsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kolwatch",
			Name:      "posts_fetched_total",
			Help:      "Raw posts pulled from the source",
		}),
		postOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kolwatch",
			Name:      "post_outcomes_total",
			Help:      "Posts by terminal stage and outcome",
		}, []string{"stage", "outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kolwatch",
			Name:      "stage_duration_seconds",
			Help:      "Histogram of per-post stage durations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),
		assetsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kolwatch",
			Name:      "assets_created_total",
			Help:      "Assets created in the catalog",
		}),
		assetsLinked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kolwatch",
			Name:      "asset_links_total",
			Help:      "New post to asset links",
		}),
		sessionLogins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kolwatch",
			Name:      "session_logins_total",
			Help:      "Interactive logins performed because stored cookies were unusable",
		}),
		fetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kolwatch",
			Name:      "fetch_requests_total",
			Help:      "Source page requests by status",
		}, []string{"status"}),
		lastRunSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kolwatch",
			Name:      "last_run_success_timestamp_seconds",
			Help:      "Unix time of the last run that completed",
		}),
	}

	registry.MustRegister(
		m.runsTotal,
		m.runDuration,
		m.handlesFailed,
		m.postsFetched,
		m.postOutcomes,
		m.stageDuration,
		m.assetsCreated,
		m.assetsLinked,
		m.sessionLogins,
		m.fetchRequests,
		m.lastRunSuccess,
	)
	return m
}

// Handler returns an HTTP handler exposing the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveRun records a finished run. result is "ok", "auth_error", "skipped" or "error".
func (m *Metrics) ObserveRun(result string, dur time.Duration) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(result).Inc()
	if result == "skipped" {
		return
	}
	m.runDuration.Observe(dur.Seconds())
	if result == "ok" {
		m.lastRunSuccess.SetToCurrentTime()
	}
}

// IncHandleFailed counts a skipped handle.
func (m *Metrics) IncHandleFailed() {
	if m == nil {
		return
	}
	m.handlesFailed.Inc()
}

// IncPostsFetched counts a raw post.
func (m *Metrics) IncPostsFetched() {
	if m == nil {
		return
	}
	m.postsFetched.Inc()
}

// ObservePost records where a post ended up.
func (m *Metrics) ObservePost(stage, outcome string) {
	if m == nil {
		return
	}
	m.postOutcomes.WithLabelValues(stage, outcome).Inc()
}

// ObserveStage records a stage's duration.
func (m *Metrics) ObserveStage(stage string, dur time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(dur.Seconds())
}

// IncAssetsCreated counts a new catalog entry.
func (m *Metrics) IncAssetsCreated() {
	if m == nil {
		return
	}
	m.assetsCreated.Inc()
}

// IncAssetsLinked counts a new post to asset link.
func (m *Metrics) IncAssetsLinked() {
	if m == nil {
		return
	}
	m.assetsLinked.Inc()
}

// IncSessionLogins counts an interactive login.
func (m *Metrics) IncSessionLogins() {
	if m == nil {
		return
	}
	m.sessionLogins.Inc()
}

// IncFetchRequests counts a source page request by status.
func (m *Metrics) IncFetchRequests(status string) {
	if m == nil {
		return
	}
	m.fetchRequests.WithLabelValues(status).Inc()
}
