// Package metrics exposes Prometheus collectors for ingestion, refresh and
// type editing. A nil *Metrics records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ipm"

// Metrics groups the collectors of one process.
type Metrics struct {
	gatherer prometheus.Gatherer

	ingestDuration prometheus.Histogram
	treeNodes      prometheus.Gauge
	mergeChanges   *prometheus.CounterVec
	refreshes      *prometheus.CounterVec
	typeChanges    *prometheus.CounterVec
}

// New registers the collectors with a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		ingestDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Time spent building a tree from the filesystem.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		}),
		treeNodes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tree_nodes",
			Help:      "Number of nodes in the live tree.",
		}),
		mergeChanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "merge_changes_total",
			Help:      "Locations reconciled by merges, by status.",
		}, []string{"status"}),
		refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refreshes_total",
			Help:      "Refresh runs by outcome.",
		}, []string{"outcome"}),
		typeChanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "type_changes_total",
			Help:      "Requested node type changes by outcome.",
		}, []string{"outcome"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Gatherer returns the underlying registry.
func (m *Metrics) Gatherer() prometheus.Gatherer { return m.gatherer }

func (m *Metrics) ObserveIngest(d time.Duration, nodes int) {
	if m == nil {
		return
	}
	m.ingestDuration.Observe(d.Seconds())
	m.treeNodes.Set(float64(nodes))
}

func (m *Metrics) SetTreeSize(nodes int) {
	if m == nil {
		return
	}
	m.treeNodes.Set(float64(nodes))
}

// ObserveMerge counts reconciled locations keyed by status name.
func (m *Metrics) ObserveMerge(counts map[string]int) {
	if m == nil {
		return
	}
	for status, n := range counts {
		m.mergeChanges.WithLabelValues(status).Add(float64(n))
	}
}

// ObserveRefresh records one refresh; outcome is changed, unchanged or error.
func (m *Metrics) ObserveRefresh(outcome string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(outcome).Inc()
}

// ObserveTypeChange records one change request; outcome is ok, illegal or error.
func (m *Metrics) ObserveTypeChange(outcome string) {
	if m == nil {
		return
	}
	m.typeChanges.WithLabelValues(outcome).Inc()
}
