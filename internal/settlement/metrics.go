package settlement

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Klingon-tech/klingnet-custody/pkg/types"
)

// Metrics collects settlement telemetry. A nil *Metrics records nothing.
type Metrics struct {
	operations    *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	volume        *prometheus.CounterVec
	compensations prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "custody",
				Subsystem: "settlement",
				Name:      "operations_total",
				Help:      "Settlement operations by operation and result kind",
			},
			[]string{"op", "result"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "custody",
				Subsystem: "settlement",
				Name:      "operation_duration_seconds",
				Help:      "Settlement operation latency",
				Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"op"},
		),
		volume: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "custody",
				Subsystem: "settlement",
				Name:      "volume_coins_total",
				Help:      "Coins moved by successful operations",
			},
			[]string{"op"},
		),
		compensations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "custody",
				Subsystem: "settlement",
				Name:      "compensations_total",
				Help:      "Withdrawals reverted after a chain failure",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.operations, m.latency, m.volume, m.compensations)
	}
	return m
}

func (m *Metrics) observe(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = Kind(err)
	}
	m.operations.WithLabelValues(op, result).Inc()
	m.latency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *Metrics) addVolume(op string, amount types.Amount) {
	if m == nil {
		return
	}
	m.volume.WithLabelValues(op).Add(amount.Float())
}

func (m *Metrics) compensated() {
	if m == nil {
		return
	}
	m.compensations.Inc()
}
