// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package server

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aleutianai/debatearena/pkg/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig builds a Config that wires every component without touching
// the network: an empty OTel endpoint skips tracer setup, an empty
// Weaviate URL falls back to the in-process cosine index, and template
// watching is disabled so no fsnotify goroutine outlives the test.
func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		HTTPHost:             "127.0.0.1",
		HTTPPort:             0,
		InferenceBackendType: "ollama",
		BackendBaseURL:       "http://127.0.0.1:0",
		BackendTimeout:       time.Second,
		ProposerModel:        "llama3.1",
		SkepticModel:         "llama3.1",
		SynthesizerModel:     "llama3.1",
		EmbeddingModel:       "nomic-embed-text",
		ProposerTemp:         0.7,
		SkepticTemp:          0.7,
		SynthesizerTemp:      0.3,
		MinRounds:            2,
		MaxRounds:            4,
		EarlyStopScore:       8,
		PerCallTimeout:       time.Second,
		RAGTopK:              3,
		SimilarityFloor:      0.3,
		TemplateDirs:         []string{filepath.Join(t.TempDir(), "missing")},
		TemplateWatch:        false,
		WeaviateURL:          "",
		TraceStorePath:       t.TempDir(),
		ConcurrencyCap:       2,
		QueueCap:             16,
		OTelEndpoint:         "",
		MetricsEnable:        true,
	}
}

func TestNew_WiresRouterWithoutNetworkDependencies(t *testing.T) {
	svc, err := New(testConfig(t))
	require.NoError(t, err)
	defer func() { _ = svc.Shutdown(context.Background()) }()

	router := svc.Router()
	require.NotNil(t, router)

	var paths []string
	for _, r := range router.Routes() {
		paths = append(paths, r.Path)
	}
	assert.Contains(t, paths, "/api/health")
	assert.Contains(t, paths, "/api/reason")
	assert.Contains(t, paths, "/api/reason/:id/stream")
	assert.Contains(t, paths, "/metrics")
}

func TestNew_DisablesMetricsRouteWhenConfigured(t *testing.T) {
	cfg := testConfig(t)
	cfg.MetricsEnable = false

	svc, err := New(cfg)
	require.NoError(t, err)
	defer func() { _ = svc.Shutdown(context.Background()) }()

	var paths []string
	for _, r := range svc.Router().Routes() {
		paths = append(paths, r.Path)
	}
	assert.NotContains(t, paths, "/metrics")
}

func TestNew_RejectsUnknownInferenceBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.InferenceBackendType = "bogus"

	_, err := New(cfg)
	require.Error(t, err)
}
