package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts chunks and payload bytes per direction. A nil *Metrics
// records nothing.
type Metrics struct {
	chunks *prometheus.CounterVec
	bytes  *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}
	f := promauto.With(reg)
	return &Metrics{
		chunks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "objgraph",
			Subsystem: "transport",
			Name:      "chunks_total",
			Help:      "Chunks transferred, by direction",
		}, []string{"direction"}),
		bytes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "objgraph",
			Subsystem: "transport",
			Name:      "chunk_bytes_total",
			Help:      "Chunk payload bytes transferred, by direction",
		}, []string{"direction"}),
	}
}

func (m *Metrics) chunk(direction string, n int) {
	if m != nil {
		m.chunks.WithLabelValues(direction).Inc()
		m.bytes.WithLabelValues(direction).Add(float64(n))
	}
}
