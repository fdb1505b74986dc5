package limitorder

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the protocol's prometheus collectors
type Metrics struct {
	fills         *prometheus.CounterVec
	failures      *prometheus.CounterVec
	cancellations *prometheus.CounterVec
	fillDuration  prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg when it is not nil.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	m := &Metrics{
		fills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fills_total",
			Help:      "Committed fills by order kind",
		}, []string{"kind"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fill_failures_total",
			Help:      "Aborted fills by failure category",
		}, []string{"category"}),
		cancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cancellations_total",
			Help:      "Order cancellations by order kind",
		}, []string{"kind"}),
		fillDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fill_duration_seconds",
			Help:      "Time spent settling committed fills",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.fills, m.failures, m.cancellations, m.fillDuration)
	}
	return m
}

func (m *Metrics) observeFill(kind OrderKind, started time.Time, err error) {
	if err != nil {
		m.failures.WithLabelValues(Classify(err).String()).Inc()
		return
	}
	m.fills.WithLabelValues(string(kind)).Inc()
	m.fillDuration.Observe(time.Since(started).Seconds())
}

func (m *Metrics) observeCancel(kind OrderKind) {
	m.cancellations.WithLabelValues(string(kind)).Inc()
}
