// Package metrics exposes Prometheus instrumentation for the conversion
// engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Set holds the engine's Prometheus collectors. A nil *Set disables
// instrumentation; every method is nil-safe.
type Set struct {
	ConversionsStarted   prometheus.Counter
	ConversionsCompleted prometheus.Counter
	ConversionsFailed    prometheus.Counter
	CorrectionCycles     prometheus.Counter
	ValidationOutcomes   *prometheus.CounterVec
	LanguageCalls        *prometheus.CounterVec
}

// NewSet registers the engine collectors with the given registerer.
func NewSet(reg prometheus.Registerer) *Set {
	factory := promauto.With(reg)
	return &Set{
		ConversionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "conversant",
			Name:      "conversions_started_total",
			Help:      "Conversions accepted for processing.",
		}),
		ConversionsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "conversant",
			Name:      "conversions_completed_total",
			Help:      "Conversions that reached the completed status.",
		}),
		ConversionsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "conversant",
			Name:      "conversions_failed_total",
			Help:      "Conversions that reached the failed status.",
		}),
		CorrectionCycles: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "conversant",
			Name:      "correction_cycles_total",
			Help:      "Correction cycles started.",
		}),
		ValidationOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conversant",
			Name:      "validation_outcomes_total",
			Help:      "Validation runs by outcome.",
		}, []string{"outcome"}),
		LanguageCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "conversant",
			Name:      "language_calls_total",
			Help:      "Language service calls by operation and result.",
		}, []string{"operation", "result"}),
	}
}

// ObserveStart records an accepted conversion.
func (s *Set) ObserveStart() {
	if s == nil {
		return
	}
	s.ConversionsStarted.Inc()
}

// ObserveFinal records a terminal status.
func (s *Set) ObserveFinal(failed bool) {
	if s == nil {
		return
	}
	if failed {
		s.ConversionsFailed.Inc()
	} else {
		s.ConversionsCompleted.Inc()
	}
}

// ObserveCorrectionCycle records a started correction cycle.
func (s *Set) ObserveCorrectionCycle() {
	if s == nil {
		return
	}
	s.CorrectionCycles.Inc()
}

// ObserveValidation records a validation run by outcome.
func (s *Set) ObserveValidation(outcome string) {
	if s == nil {
		return
	}
	s.ValidationOutcomes.WithLabelValues(outcome).Inc()
}

// ObserveLanguageCall records a language service call.
func (s *Set) ObserveLanguageCall(operation, result string) {
	if s == nil {
		return
	}
	s.LanguageCalls.WithLabelValues(operation, result).Inc()
}
