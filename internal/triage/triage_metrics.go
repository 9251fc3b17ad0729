package triage

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the triage subsystem.
type Metrics struct {
	AssessmentsTotal   *prometheus.CounterVec
	AICallsTotal       *prometheus.CounterVec
	AICallDuration     prometheus.Histogram
	AIFallbacksTotal   *prometheus.CounterVec
	VitalsChecksTotal  *prometheus.CounterVec
	StorageErrorsTotal *prometheus.CounterVec
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AssessmentsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tflow_assessments_total",
			Help: "Total assessments by resolved urgency level and classification source.",
		}, []string{"level", "source"}),
		AICallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tflow_ai_calls_total",
			Help: "Total completion calls by outcome.",
		}, []string{"outcome"}),
		AICallDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tflow_ai_call_duration_seconds",
			Help:    "Duration of completion calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 8), // 50ms .. ~6.4s
		}),
		AIFallbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tflow_ai_fallbacks_total",
			Help: "Total rule-based fallbacks after an AI request, by reason.",
		}, []string{"reason"}),
		VitalsChecksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tflow_vitals_checks_total",
			Help: "Total vitals evaluations by flag state.",
		}, []string{"flagged"}),
		StorageErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tflow_storage_errors_total",
			Help: "Total persistence failures by operation.",
		}, []string{"op"}),
	}

	reg.MustRegister(
		m.AssessmentsTotal,
		m.AICallsTotal,
		m.AICallDuration,
		m.AIFallbacksTotal,
		m.VitalsChecksTotal,
		m.StorageErrorsTotal,
	)

	return m
}

// Hooks returns EngineHooks that increment the corresponding metrics.
func (m *Metrics) Hooks() EngineHooks {
	return EngineHooks{
		OnAICall: func(duration float64, outcome string) {
			m.AICallsTotal.WithLabelValues(outcome).Inc()
			m.AICallDuration.Observe(duration)
		},
		OnFallback: func(reason string) {
			m.AIFallbacksTotal.WithLabelValues(reason).Inc()
		},
	}
}

func (m *Metrics) observeAssessment(level Level, source Source) {
	if m == nil {
		return
	}
	m.AssessmentsTotal.WithLabelValues(string(level), string(source)).Inc()
}

func (m *Metrics) observeVitals(flagged bool) {
	if m == nil {
		return
	}
	label := "false"
	if flagged {
		label = "true"
	}
	m.VitalsChecksTotal.WithLabelValues(label).Inc()
}

func (m *Metrics) observeStorageErrors(errs []error) {
	if m == nil {
		return
	}
	for _, err := range errs {
		var se *StorageError
		if errors.As(err, &se) {
			m.StorageErrorsTotal.WithLabelValues(se.Op).Inc()
		}
	}
}
