// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aleutianai/debatearena/pkg/domain"
	"github.com/aleutianai/debatearena/services/broker"
	"github.com/aleutianai/debatearena/services/inference"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeOrchestrator struct {
	events []domain.Event
}

func (f *fakeOrchestrator) Run(_ context.Context, _, _ string, _ domain.DebateConfig) <-chan domain.Event {
	out := make(chan domain.Event, len(f.events))
	for i, ev := range f.events {
		ev.Seq = i
		out <- ev
	}
	close(out)
	return out
}

type fakeTraces struct {
	mu     sync.Mutex
	traces map[string]domain.DebateTrace
}

func newFakeTraces() *fakeTraces { return &fakeTraces{traces: map[string]domain.DebateTrace{}} }

func (f *fakeTraces) put(t domain.DebateTrace) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.traces[t.ID] = t
}

func (f *fakeTraces) Get(_ context.Context, id string) (*domain.DebateTrace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.traces[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (f *fakeTraces) List(_ context.Context, _ domain.ListQuery) (domain.ListResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.DebateTrace
	for _, t := range f.traces {
		out = append(out, t)
	}
	return domain.ListResult{Traces: out, Stats: domain.Stats{Count: len(out)}}, nil
}

func (f *fakeTraces) Rate(_ context.Context, id string, score int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.traces[id]
	if !ok {
		return &domain.NotFoundError{Kind: "trace", ID: id}
	}
	t.UserRating = &score
	f.traces[id] = t
	return nil
}

type fakeTemplateLister struct{ refs []domain.TemplateRef }

func (f *fakeTemplateLister) List() []domain.TemplateRef { return f.refs }

type fakeInferenceClient struct {
	modelsErr error
}

func (c *fakeInferenceClient) StreamChat(context.Context, string, []inference.Message, float64, time.Duration) (<-chan inference.StreamChunk, error) {
	ch := make(chan inference.StreamChunk)
	close(ch)
	return ch, nil
}

func (c *fakeInferenceClient) Embed(context.Context, string, string) ([]float32, error) {
	return []float32{1}, nil
}

func (c *fakeInferenceClient) ListModels(context.Context) ([]inference.ModelInfo, error) {
	if c.modelsErr != nil {
		return nil, c.modelsErr
	}
	return []inference.ModelInfo{{Name: "llama3.1"}}, nil
}

func testConfig() domain.DebateConfig {
	return domain.DebateConfig{
		MinRounds: 1, MaxRounds: 4, EarlyStopScore: 8,
		ProposerModel: "p", SkepticModel: "s", SynthesizerModel: "z",
		ProposerTemp: 0.7, SkepticTemp: 0.7, SynthesizerTemp: 0.3,
		RAGTopK: 3, SimilarityFloor: 0.3, PerCallTimeout: time.Second,
	}
}

func TestHealth_ReportsDegradedWhenBackendUnreachable(t *testing.T) {
	b := broker.New(0, 0, 0, nil)
	s := New(&fakeOrchestrator{}, b, newFakeTraces(), &fakeTemplateLister{}, &fakeInferenceClient{modelsErr: assertErr{}}, testConfig(), 2, "test", nil)

	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "degraded", body.Status)
	assert.False(t, body.Backend)
}

type assertErr struct{}

func (assertErr) Error() string { return "backend unreachable" }

func TestGetTrace_UnknownIDReturns404(t *testing.T) {
	b := broker.New(0, 0, 0, nil)
	s := New(&fakeOrchestrator{}, b, newFakeTraces(), &fakeTemplateLister{}, &fakeInferenceClient{}, testConfig(), 2, "test", nil)

	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/traces/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRateTrace_OutOfRangeRejected(t *testing.T) {
	b := broker.New(0, 0, 0, nil)
	traces := newFakeTraces()
	traces.put(domain.DebateTrace{ID: "t1"})
	s := New(&fakeOrchestrator{}, b, traces, &fakeTemplateLister{}, &fakeInferenceClient{}, testConfig(), 2, "test", nil)

	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/traces/t1/rate", "application/json", bytes.NewBufferString(`{"rating": 99}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRateTrace_RoundTrip(t *testing.T) {
	b := broker.New(0, 0, 0, nil)
	traces := newFakeTraces()
	traces.put(domain.DebateTrace{ID: "t1"})
	s := New(&fakeOrchestrator{}, b, traces, &fakeTemplateLister{}, &fakeInferenceClient{}, testConfig(), 2, "test", nil)

	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/traces/t1/rate", "application/json", bytes.NewBufferString(`{"rating": 7}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	got, _ := traces.Get(context.Background(), "t1")
	require.NotNil(t, got.UserRating)
	assert.Equal(t, 7, *got.UserRating)
}

func TestRateTrace_UnpersistedTraceReturns404(t *testing.T) {
	// Scenario: rating a debate whose trace has not yet committed (still
	// streaming) must 404, not silently create a row.
	b := broker.New(0, 0, 0, nil)
	s := New(&fakeOrchestrator{}, b, newFakeTraces(), &fakeTemplateLister{}, &fakeInferenceClient{}, testConfig(), 2, "test", nil)

	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/traces/in-flight/rate", "application/json", bytes.NewBufferString(`{"rating": 7}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReasonAndStream_FullFlow(t *testing.T) {
	trace := domain.DebateTrace{ID: "placeholder", FinalAnswer: "42"}
	orch := &fakeOrchestrator{events: []domain.Event{
		{Type: domain.EventRAGStarted},
		{Type: domain.EventCompleted, Trace: &trace},
	}}
	b := broker.New(0, 0, 0, nil)
	s := New(orch, b, newFakeTraces(), &fakeTemplateLister{}, &fakeInferenceClient{}, testConfig(), 2, "test", nil)

	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/reason", "application/json", bytes.NewBufferString(`{"query": "why is the sky blue"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var reasoned reasonResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&reasoned))
	require.NotEmpty(t, reasoned.TraceID)

	streamResp, err := http.Get(srv.URL + "/api/reason/" + reasoned.TraceID + "/stream")
	require.NoError(t, err)
	defer streamResp.Body.Close()

	raw, err := io.ReadAll(streamResp.Body)
	require.NoError(t, err)

	body := string(raw)
	assert.Contains(t, body, string(domain.EventRAGStarted))
	assert.Contains(t, body, string(domain.EventCompleted))
	assert.True(t, strings.Count(body, "data: ") >= 2)
}

func TestReasonStream_UnknownIDReturns404(t *testing.T) {
	b := broker.New(0, 0, 0, nil)
	s := New(&fakeOrchestrator{}, b, newFakeTraces(), &fakeTemplateLister{}, &fakeInferenceClient{}, testConfig(), 2, "test", nil)

	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/reason/missing/stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReasonRequest_RejectsEmptyQuery(t *testing.T) {
	b := broker.New(0, 0, 0, nil)
	s := New(&fakeOrchestrator{}, b, newFakeTraces(), &fakeTemplateLister{}, &fakeInferenceClient{}, testConfig(), 2, "test", nil)

	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/reason", "application/json", bytes.NewBufferString(`{"query": ""}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
