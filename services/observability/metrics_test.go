// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"testing"

	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	return NewMetrics(prometheus.NewRegistry())
}

func TestRecordOutcome_IncrementsCountersAndObservesHistograms(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordOutcome("completed", 3, 12.5)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.DebatesTotal.WithLabelValues("completed")))
	assert.Equal(t, uint64(1), countHistogram(t, m.RoundsPerDebate))
}

func TestDebateStartedAndFinished_TogglesActiveGauge(t *testing.T) {
	m := newTestMetrics(t)

	m.DebateStarted()
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ActiveDebates))

	m.DebateFinished()
	assert.Equal(t, float64(0), testutil.ToFloat64(m.ActiveDebates))
}

func TestRecordError_IncrementsLabelledCounter(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordError("skeptic", "timeout")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("skeptic", "timeout")))
}

func TestRecordTemplateUse_IncrementsPerTemplateCounter(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordTemplateUse("general-reasoning")
	m.RecordTemplateUse("general-reasoning")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.TemplateUsesTotal.WithLabelValues("general-reasoning")))
}

func TestRecordBusyRejection_IncrementsCounter(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordBusyRejection()
	m.RecordBusyRejection()

	assert.Equal(t, float64(2), testutil.ToFloat64(m.BusyRejectionsTotal))
}

// countHistogram returns the sample count recorded by a histogram, to
// confirm an Observe call landed without asserting on bucket boundaries.
func countHistogram(t *testing.T, h prometheus.Histogram) uint64 {
	t.Helper()
	var metric dto.Metric
	require.NoError(t, h.Write(&metric))
	return metric.GetHistogram().GetSampleCount()
}
