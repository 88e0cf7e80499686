package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Fantasim/tappos/internal/config"
)

// Label keys understood by the Prometheus recorder. Missing keys are recorded
// as empty strings.
const (
	LabelChain   = "chain"
	LabelOutcome = "outcome"
)

type PrometheusRecorder struct {
	counters  *prometheus.CounterVec
	histogram *prometheus.HistogramVec
}

// NewPrometheusRecorder registers the terminal collectors on reg.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	counters := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: config.MetricsNamespace,
			Name:      "events_total",
			Help:      "Terminal event counters",
		},
		[]string{"type", LabelChain, LabelOutcome},
	)

	histogram := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: config.MetricsNamespace,
			Name:      "latency_seconds",
			Help:      "Terminal operation latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation", LabelChain, LabelOutcome},
	)

	reg.MustRegister(counters, histogram)

	return &PrometheusRecorder{
		counters:  counters,
		histogram: histogram,
	}
}

func (p *PrometheusRecorder) IncCounter(name string, labels map[string]string) {
	p.counters.With(prometheus.Labels{
		"type":       name,
		LabelChain:   labels[LabelChain],
		LabelOutcome: labels[LabelOutcome],
	}).Inc()
}

func (p *PrometheusRecorder) ObserveLatency(name string, d time.Duration, labels map[string]string) {
	p.histogram.With(prometheus.Labels{
		"operation":  name,
		LabelChain:   labels[LabelChain],
		LabelOutcome: labels[LabelOutcome],
	}).Observe(d.Seconds())
}
