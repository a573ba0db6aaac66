// Package metrics exposes Prometheus collectors for the comment and activity engine.
package metrics

import (
	"log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors registered on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	cacheRequestsTotal  *prometheus.CounterVec
	hookFailuresTotal   *prometheus.CounterVec
	activitiesTotal     *prometheus.CounterVec
	toggleOutcomesTotal *prometheus.CounterVec
	cascadeDeletedTotal *prometheus.CounterVec
}

// New creates and registers the application metrics.
func New() (*Metrics, error) {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry registers the collectors on registry.
func NewWithRegistry(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.cacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskflow_cache_requests_total",
			Help: "Cache lookups by key family and result",
		},
		[]string{"family", "result"}, // result: hit, miss, error
	)
	m.hookFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskflow_postcommit_hook_failures_total",
			Help: "Best-effort post-commit hooks that failed",
		},
		[]string{"hook"},
	)
	m.activitiesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskflow_activities_recorded_total",
			Help: "Activity log entries written by action",
		},
		[]string{"action"},
	)
	m.toggleOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskflow_toggle_outcomes_total",
			Help: "Like and reaction toggle outcomes",
		},
		[]string{"kind", "outcome"},
	)
	m.cascadeDeletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskflow_comments_deleted_total",
			Help: "Comments removed by soft or hard delete",
		},
		[]string{"kind", "mode"},
	)
}

// Describe implements the Collector interface
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.cacheRequestsTotal.Describe(ch)
	m.hookFailuresTotal.Describe(ch)
	m.activitiesTotal.Describe(ch)
	m.toggleOutcomesTotal.Describe(ch)
	m.cascadeDeletedTotal.Describe(ch)
}

// Collect implements the Collector interface
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.cacheRequestsTotal.Collect(ch)
	m.hookFailuresTotal.Collect(ch)
	m.activitiesTotal.Collect(ch)
	m.toggleOutcomesTotal.Collect(ch)
	m.cascadeDeletedTotal.Collect(ch)
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorLog:      log.New(os.Stderr, "metrics handler: ", log.LstdFlags),
		ErrorHandling: promhttp.HTTPErrorOnError,
	})
}

func (m *Metrics) RecordCacheHit(family string) {
	if m == nil {
		return
	}
	m.cacheRequestsTotal.WithLabelValues(family, "hit").Inc()
}

func (m *Metrics) RecordCacheMiss(family string) {
	if m == nil {
		return
	}
	m.cacheRequestsTotal.WithLabelValues(family, "miss").Inc()
}

func (m *Metrics) RecordCacheError(family string) {
	if m == nil {
		return
	}
	m.cacheRequestsTotal.WithLabelValues(family, "error").Inc()
}

// HookFailed satisfies postcommit.FailureRecorder.
func (m *Metrics) HookFailed(hook string) {
	if m == nil {
		return
	}
	m.hookFailuresTotal.WithLabelValues(hook).Inc()
}

func (m *Metrics) RecordActivity(action string) {
	if m == nil {
		return
	}
	m.activitiesTotal.WithLabelValues(action).Inc()
}

func (m *Metrics) RecordToggle(kind, outcome string) {
	if m == nil {
		return
	}
	m.toggleOutcomesTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) RecordCommentsDeleted(kind, mode string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.cascadeDeletedTotal.WithLabelValues(kind, mode).Add(float64(count))
}
