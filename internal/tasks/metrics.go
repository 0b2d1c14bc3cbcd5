package tasks

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors updated by the [Engine].
// A nil *Metrics records nothing.
type Metrics struct {
	SourcesSynced  *prometheus.CounterVec
	SourceFailures *prometheus.CounterVec
	TracksAdded    *prometheus.CounterVec
	TracksRemoved  *prometheus.CounterVec
	ProviderCalls  *prometheus.CounterVec
	SyncDuration   prometheus.Histogram
}

// NewMetrics registers the engine collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SourcesSynced: f.NewCounterVec(prometheus.CounterOpts{
			Name: "universal_sync_sources_total",
			Help: "Sources processed by sync runs, by provider and outcome",
		}, []string{"provider", "status"}),
		SourceFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "universal_sync_source_failures_total",
			Help: "Failed source syncs by provider and error kind",
		}, []string{"provider", "kind"}),
		TracksAdded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "universal_sync_tracks_added_total",
			Help: "Tracks appended to playlists by sync runs",
		}, []string{"provider"}),
		TracksRemoved: f.NewCounterVec(prometheus.CounterOpts{
			Name: "universal_sync_tracks_removed_total",
			Help: "Tracks removed from playlists by sync runs",
		}, []string{"provider"}),
		ProviderCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "universal_provider_operations_total",
			Help: "Authorized provider operations by provider, operation and outcome",
		}, []string{"provider", "op", "kind"}),
		SyncDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "universal_sync_duration_seconds",
			Help:    "Duration of playlist sync runs in seconds",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) observeSource(r SourceReport) {
	if m == nil {
		return
	}
	m.SourcesSynced.WithLabelValues(r.Provider, string(r.Status)).Inc()
	if r.Status == StatusFailed {
		m.SourceFailures.WithLabelValues(r.Provider, r.Kind).Inc()
	}
	m.TracksAdded.WithLabelValues(r.Provider).Add(float64(r.Added))
	m.TracksRemoved.WithLabelValues(r.Provider).Add(float64(r.Removed))
}

// observeCall records one authorized operation; kind is empty on success.
func (m *Metrics) observeCall(provider, op, kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "ok"
	}
	m.ProviderCalls.WithLabelValues(provider, op, kind).Inc()
}

func (m *Metrics) observeRun(d time.Duration) {
	if m == nil {
		return
	}
	m.SyncDuration.Observe(d.Seconds())
}
