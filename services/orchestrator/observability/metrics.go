// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics for the chat pipeline.
//
// # Description
//
// This package implements Prometheus metrics for monitoring chat turns.
// Metrics include:
//   - Turn counters (by query type and outcome)
//   - Stage latency histograms (classify, retrieve, generate, ...)
//   - Degradation counters (classifier fallbacks, retrieval and store errors)
//   - Guardrail interventions by direction
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "aleutian"

// Subsystem for assistant metrics
const assistSubsystem = "assist"

// Stage names a pipeline step for latency labeling.
type Stage string

const (
	StageHistory   Stage = "history"
	StageClassify  Stage = "classify"
	StageGuardrail Stage = "guardrail"
	StageRetrieve  Stage = "retrieve"
	StageAssemble  Stage = "assemble"
	StageGenerate  Stage = "generate"
	StagePersist   Stage = "persist"
)

// Outcome is the user-visible result of a turn.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeFallback Outcome = "fallback"
	OutcomeBlocked  Outcome = "blocked"
	OutcomeError    Outcome = "error"
)

// AssistMetrics holds all Prometheus metrics for the chat pipeline.
//
// # Fields
//
//   - TurnsTotal: Counter of turns by query type and outcome
//   - StageDurationSeconds: Histogram of per-stage latency
//   - ClassifierFallbacksTotal: Counter of classifier fallbacks by reason
//   - GuardrailInterventionsTotal: Counter of blocks by direction
//   - GuardrailErrorsTotal: Counter of fail-open checks by direction
//   - RetrievalErrorsTotal: Counter of searcher failures
//   - RetrievedPassages: Histogram of passage counts before and after filtering
//   - StoreErrorsTotal: Counter of conversation store failures by operation
//   - RateLimitedTotal: Counter of requests rejected by the limiter
//   - ActiveTurns: Gauge of turns in flight
//
// # Thread Safety
//
// All operations are thread-safe.
type AssistMetrics struct {
	TurnsTotal                  *prometheus.CounterVec
	StageDurationSeconds        *prometheus.HistogramVec
	ClassifierFallbacksTotal    *prometheus.CounterVec
	GuardrailInterventionsTotal *prometheus.CounterVec
	GuardrailErrorsTotal        *prometheus.CounterVec
	RetrievalErrorsTotal        prometheus.Counter
	RetrievedPassages           *prometheus.HistogramVec
	StoreErrorsTotal            *prometheus.CounterVec
	RateLimitedTotal            prometheus.Counter
	ActiveTurns                 prometheus.Gauge
}

// NewAssistMetrics creates and registers the metrics with reg. A nil reg
// uses the default Prometheus registerer.
//
// # Limitations
//
//   - Panics if called twice against the same registerer (duplicate
//     registration).
func NewAssistMetrics(reg prometheus.Registerer) *AssistMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &AssistMetrics{
		TurnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: assistSubsystem,
				Name:      "turns_total",
				Help:      "Total chat turns by query type and outcome",
			},
			[]string{"query_type", "outcome"},
		),

		StageDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: assistSubsystem,
				Name:      "stage_duration_seconds",
				Help:      "Pipeline stage duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"stage"},
		),

		ClassifierFallbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: assistSubsystem,
				Name:      "classifier_fallbacks_total",
				Help:      "Classifications that fell back to knowledge_base, by reason",
			},
			[]string{"reason"},
		),

		GuardrailInterventionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: assistSubsystem,
				Name:      "guardrail_interventions_total",
				Help:      "Guardrail blocks by direction",
			},
			[]string{"direction"},
		),

		GuardrailErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: assistSubsystem,
				Name:      "guardrail_errors_total",
				Help:      "Guardrail checks that failed open, by direction",
			},
			[]string{"direction"},
		),

		RetrievalErrorsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: assistSubsystem,
				Name:      "retrieval_errors_total",
				Help:      "Vector search calls that failed or timed out",
			},
		),

		RetrievedPassages: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: assistSubsystem,
				Name:      "retrieved_passages",
				Help:      "Passages per turn before and after relevance filtering",
				Buckets:   []float64{0, 1, 2, 3, 5, 8, 10},
			},
			[]string{"phase"},
		),

		StoreErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: assistSubsystem,
				Name:      "store_errors_total",
				Help:      "Conversation store failures by operation",
			},
			[]string{"operation"},
		),

		RateLimitedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: assistSubsystem,
				Name:      "rate_limited_total",
				Help:      "Chat requests rejected by the rate limiter",
			},
		),

		ActiveTurns: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: assistSubsystem,
				Name:      "active_turns",
				Help:      "Chat turns currently being processed",
			},
		),
	}
}

// =============================================================================
// Helper Methods
// =============================================================================
//
// All helpers are no-ops on a nil receiver so components can run without
// metrics in tests and in the CLI.

// RecordTurn records a finished turn.
func (m *AssistMetrics) RecordTurn(queryType string, outcome Outcome) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(queryType, string(outcome)).Inc()
}

// ObserveStage records how long a stage took.
func (m *AssistMetrics) ObserveStage(stage Stage, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDurationSeconds.WithLabelValues(string(stage)).Observe(d.Seconds())
}

// RecordClassifierFallback counts a classifier fallback.
func (m *AssistMetrics) RecordClassifierFallback(reason string) {
	if m == nil {
		return
	}
	m.ClassifierFallbacksTotal.WithLabelValues(reason).Inc()
}

// RecordGuardrail counts an intervention or a fail-open error.
func (m *AssistMetrics) RecordGuardrail(direction string, intervened, failed bool) {
	if m == nil {
		return
	}
	if intervened {
		m.GuardrailInterventionsTotal.WithLabelValues(direction).Inc()
	}
	if failed {
		m.GuardrailErrorsTotal.WithLabelValues(direction).Inc()
	}
}

// RecordRetrieval records passage counts and whether the search failed.
func (m *AssistMetrics) RecordRetrieval(raw, kept int, failed bool) {
	if m == nil {
		return
	}
	if failed {
		m.RetrievalErrorsTotal.Inc()
	}
	m.RetrievedPassages.WithLabelValues("raw").Observe(float64(raw))
	m.RetrievedPassages.WithLabelValues("filtered").Observe(float64(kept))
}

// RecordStoreError counts a store failure.
func (m *AssistMetrics) RecordStoreError(operation string) {
	if m == nil {
		return
	}
	m.StoreErrorsTotal.WithLabelValues(operation).Inc()
}

// RecordRateLimited counts a rejected request.
func (m *AssistMetrics) RecordRateLimited() {
	if m == nil {
		return
	}
	m.RateLimitedTotal.Inc()
}

// TurnStarted increments the active turns gauge.
func (m *AssistMetrics) TurnStarted() {
	if m == nil {
		return
	}
	m.ActiveTurns.Inc()
}

// TurnEnded decrements the active turns gauge.
func (m *AssistMetrics) TurnEnded() {
	if m == nil {
		return
	}
	m.ActiveTurns.Dec()
}
