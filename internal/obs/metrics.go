package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the process-wide gauges/histograms the store and shard
// tree report into, grounded on contextd's internal/vectorstore/metrics.go
// promauto.NewGaugeVec/NewHistogram shape (namespace/subsystem/name,
// DefBuckets for latency histograms).
type Metrics struct {
	CollectionsTotal prometheus.Gauge
	ShardsTotal       *prometheus.GaugeVec
	VectorsTotal      *prometheus.GaugeVec
	SplitsTotal       *prometheus.CounterVec
	MergesTotal       *prometheus.CounterVec
	SearchDuration    *prometheus.HistogramVec
	SnapshotDuration  prometheus.Histogram
}

// NewMetrics registers every gauge/counter/histogram against reg (pass
// prometheus.DefaultRegisterer in production, a fresh *prometheus.Registry
// in tests to avoid duplicate-registration panics across test runs).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CollectionsTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "vectorcore", Subsystem: "store", Name: "collections_total",
			Help: "Number of collections currently registered.",
		}),
		ShardsTotal: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "vectorcore", Subsystem: "collection", Name: "shards_total",
			Help: "Number of leaf shards, per collection.",
		}, []string{"collection"}),
		VectorsTotal: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "vectorcore", Subsystem: "collection", Name: "vectors_total",
			Help: "Number of live vectors, per collection.",
		}, []string{"collection"}),
		SplitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vectorcore", Subsystem: "shardtree", Name: "splits_total",
			Help: "Number of shard splits completed, per collection.",
		}, []string{"collection"}),
		MergesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vectorcore", Subsystem: "shardtree", Name: "merges_total",
			Help: "Number of shard merges completed, per collection.",
		}, []string{"collection"}),
		SearchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "vectorcore", Subsystem: "collection", Name: "search_duration_seconds",
			Help: "Search latency, per collection.", Buckets: prometheus.DefBuckets,
		}, []string{"collection"}),
		SnapshotDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "vectorcore", Subsystem: "store", Name: "snapshot_duration_seconds",
			Help: "Duration of Store.Snapshot archive creation.", Buckets: prometheus.DefBuckets,
		}),
	}
}
