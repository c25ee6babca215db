package objgraph

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics reports engine activity to Prometheus. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	entitiesStored *prometheus.CounterVec
	entitiesLoaded *prometheus.CounterVec
	legacyMappings *prometheus.CounterVec
	commitDuration prometheus.Histogram
	committedBytes prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	f := promauto.With(reg)
	return &Metrics{
		entitiesStored: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "objgraph",
			Name:      "entities_stored_total",
			Help:      "Entities encoded, by type name",
		}, []string{"type"}),
		entitiesLoaded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "objgraph",
			Name:      "entities_loaded_total",
			Help:      "Entities decoded, by type name",
		}, []string{"type"}),
		legacyMappings: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "objgraph",
			Name:      "legacy_mappings_total",
			Help:      "Legacy layout mappings computed, by type name and outcome",
		}, []string{"type", "outcome"}),
		commitDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "objgraph",
			Name:      "store_commit_duration_seconds",
			Help:      "Time spent writing one Store call to the backend",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		committedBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: "objgraph",
			Name:      "store_committed_bytes_total",
			Help:      "Entity bytes written to the backend",
		}),
	}
}

func (m *Metrics) entityStored(typeName string) {
	if m != nil {
		m.entitiesStored.WithLabelValues(typeName).Inc()
	}
}

func (m *Metrics) entityLoaded(typeName string) {
	if m != nil {
		m.entitiesLoaded.WithLabelValues(typeName).Inc()
	}
}

func (m *Metrics) legacyMapping(typeName string, ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.legacyMappings.WithLabelValues(typeName, outcome).Inc()
}

func (m *Metrics) committed(d time.Duration, bytes int) {
	if m != nil {
		m.commitDuration.Observe(d.Seconds())
		m.committedBytes.Add(float64(bytes))
	}
}

// StoreStats summarizes the contents of a store.
type StoreStats struct {
	Entities   int
	Types      int
	EntityData int
	TypeData   int
	ByType     map[string]TypeStats
}

type TypeStats struct {
	Entities int
	Bytes    int
}

func (ss *StoreStats) TotalSize() int {
	return ss.EntityData + ss.TypeData
}
