// Package metrics defines the Prometheus collectors for the receipt pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "receipt_scanner"

// Metrics groups the pipeline collectors. A nil *Metrics records nothing.
type Metrics struct {
	extractions  *prometheus.CounterVec
	fallbacks    *prometheus.CounterVec
	recognitions *prometheus.CounterVec
	ocrDuration  *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractions_total",
			Help:      "Extractions by source (image, email) and outcome.",
		}, []string{"source", "outcome"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ocr_fallbacks_total",
			Help:      "Times the cloud engine was consulted, by reason.",
		}, []string{"reason"}),
		recognitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ocr_recognitions_total",
			Help:      "OCR calls by engine and outcome.",
		}, []string{"engine", "outcome"}),
		ocrDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ocr_duration_seconds",
			Help:      "OCR call latency by engine.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}, []string{"engine"}),
	}
	reg.MustRegister(m.extractions, m.fallbacks, m.recognitions, m.ocrDuration)
	return m
}

// Extraction counts a finished extraction.
func (m *Metrics) Extraction(source, outcome string) {
	if m == nil {
		return
	}
	m.extractions.WithLabelValues(source, outcome).Inc()
}

// Fallback counts a switch to the cloud engine.
func (m *Metrics) Fallback(reason string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(reason).Inc()
}

// Recognition records one OCR call.
func (m *Metrics) Recognition(engine, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.recognitions.WithLabelValues(engine, outcome).Inc()
	m.ocrDuration.WithLabelValues(engine).Observe(d.Seconds())
}
