// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the debate
// orchestrator. Metrics cover debate lifecycle (started, completed, failed,
// early-stopped), per-round latency by role, retrieval latency, queue depth,
// and template usage. Exposed via /metrics for Prometheus scraping.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "debatearena"
	debateSubsystem  = "debate"
)

// Metrics holds every Prometheus collector the orchestrator and HTTP layer
// report against. Construct once via NewMetrics and share the instance.
type Metrics struct {
	// DebatesTotal counts finished debates by outcome.
	// Labels: outcome (completed, failed, early_stopped)
	DebatesTotal *prometheus.CounterVec

	// ActiveDebates tracks debates currently holding a concurrency slot.
	ActiveDebates prometheus.Gauge

	// QueueDepth tracks admitted-but-not-yet-running requests.
	QueueDepth prometheus.Gauge

	// RoundsPerDebate histograms the total round count at completion.
	RoundsPerDebate prometheus.Histogram

	// RoundLatencySeconds measures a single role's call latency within a round.
	// Labels: role (proposer, skeptic, synthesizer)
	RoundLatencySeconds *prometheus.HistogramVec

	// DebateDurationSeconds measures wall-clock time from the orchestrator
	// starting the debate (after it holds a concurrency slot) to its terminal event.
	// Labels: outcome (completed, failed, early_stopped)
	DebateDurationSeconds *prometheus.HistogramVec

	// RetrievalLatencySeconds measures template retrieval (RAG) latency.
	RetrievalLatencySeconds prometheus.Histogram

	// ErrorsTotal counts failures by stage and kind.
	// Labels: stage (rag, proposer, skeptic, synthesizer, scoring), kind
	ErrorsTotal *prometheus.CounterVec

	// TemplateUsesTotal counts how often a template is selected by retrieval.
	// Labels: template_id
	TemplateUsesTotal *prometheus.CounterVec

	// BusyRejectionsTotal counts requests rejected because the admission
	// queue was full.
	BusyRejectionsTotal prometheus.Counter
}

// NewMetrics registers and returns a fresh Metrics instance against reg.
// Pass prometheus.DefaultRegisterer in production; pass a fresh
// prometheus.NewRegistry() in tests to avoid duplicate-registration panics
// across test runs.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		DebatesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: debateSubsystem,
				Name:      "debates_total",
				Help:      "Total number of debates by terminal outcome",
			},
			[]string{"outcome"},
		),

		ActiveDebates: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: debateSubsystem,
				Name:      "active_debates",
				Help:      "Number of debates currently holding a concurrency slot",
			},
		),

		QueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: debateSubsystem,
				Name:      "queue_depth",
				Help:      "Number of admitted debates waiting for a concurrency slot",
			},
		),

		RoundsPerDebate: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: debateSubsystem,
				Name:      "rounds_per_debate",
				Help:      "Total rounds run before termination",
				Buckets:   []float64{1, 2, 3, 4, 5, 6, 8},
			},
		),

		RoundLatencySeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: debateSubsystem,
				Name:      "round_latency_seconds",
				Help:      "Latency of a single role's inference call within a round",
				Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"role"},
		),

		DebateDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: debateSubsystem,
				Name:      "duration_seconds",
				Help:      "Total debate duration from orchestrator start to terminal event",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"outcome"},
		),

		RetrievalLatencySeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: debateSubsystem,
				Name:      "retrieval_latency_seconds",
				Help:      "Template retrieval latency",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: debateSubsystem,
				Name:      "errors_total",
				Help:      "Total errors by stage and kind",
			},
			[]string{"stage", "kind"},
		),

		TemplateUsesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: debateSubsystem,
				Name:      "template_uses_total",
				Help:      "Total times a template was selected by retrieval",
			},
			[]string{"template_id"},
		),

		BusyRejectionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: debateSubsystem,
				Name:      "busy_rejections_total",
				Help:      "Total requests rejected because the admission queue was full",
			},
		),
	}
}

// RecordOutcome records a finished debate's outcome, round count, and duration.
func (m *Metrics) RecordOutcome(outcome string, rounds int, seconds float64) {
	m.DebatesTotal.WithLabelValues(outcome).Inc()
	m.RoundsPerDebate.Observe(float64(rounds))
	m.DebateDurationSeconds.WithLabelValues(outcome).Observe(seconds)
}

// RecordRoundLatency records a single role call's latency within a round.
func (m *Metrics) RecordRoundLatency(role string, seconds float64) {
	m.RoundLatencySeconds.WithLabelValues(role).Observe(seconds)
}

// RecordError increments the error counter for a pipeline stage and kind.
func (m *Metrics) RecordError(stage, kind string) {
	m.ErrorsTotal.WithLabelValues(stage, kind).Inc()
}

// RecordTemplateUse increments the per-template selection counter.
func (m *Metrics) RecordTemplateUse(templateID string) {
	m.TemplateUsesTotal.WithLabelValues(templateID).Inc()
}

// DebateStarted increments the active-debate gauge.
func (m *Metrics) DebateStarted() { m.ActiveDebates.Inc() }

// DebateFinished decrements the active-debate gauge.
func (m *Metrics) DebateFinished() { m.ActiveDebates.Dec() }

// RecordBusyRejection increments the admission-queue rejection counter.
func (m *Metrics) RecordBusyRejection() { m.BusyRejectionsTotal.Inc() }
