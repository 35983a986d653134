// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config reads the process environment into a typed Config, read
// once at startup.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/aleutianai/debatearena/pkg/logging"
)

// Config holds every environment-tunable setting the service needs.
type Config struct {
	// HTTP surface
	HTTPHost string
	HTTPPort int

	// Inference backend (C1)
	InferenceBackendType     string // "ollama" | "openai"
	BackendBaseURL           string
	BackendTimeout           time.Duration
	OpenAIAPIKey             string
	StreamRateLimitPerSecond float64 // 0 disables pacing

	// Per-role models and temperatures
	ProposerModel      string
	SkepticModel       string
	SynthesizerModel   string
	EmbeddingModel     string
	ProposerTemp       float64
	SkepticTemp        float64
	SynthesizerTemp    float64

	// Debate defaults
	MinRounds      int
	MaxRounds      int
	EarlyStopScore int
	PerCallTimeout time.Duration

	// Retrieval (C2)
	RAGTopK          int
	SimilarityFloor  float64
	TemplateDirs     []string
	TemplateWatch    bool
	WeaviateURL      string

	// Trace store (C3)
	TraceStorePath string

	// Concurrency (§5)
	ConcurrencyCap int
	QueueCap       int

	// Observability
	LogLevel      logging.Level
	OTelEndpoint  string
	MetricsEnable bool
}

// Load reads the environment into a Config, applying the defaults documented
// alongside each field below.
func Load() Config {
	return Config{
		HTTPHost: getString("HTTP_HOST", "0.0.0.0"),
		HTTPPort: getInt("HTTP_PORT", 8080),

		InferenceBackendType:     getString("INFERENCE_BACKEND_TYPE", "ollama"),
		BackendBaseURL:           getString("INFERENCE_BACKEND_URL", "http://localhost:11434"),
		BackendTimeout:           getDuration("INFERENCE_BACKEND_TIMEOUT", 60*time.Second),
		OpenAIAPIKey:             getString("OPENAI_API_KEY", ""),
		StreamRateLimitPerSecond: getFloat("INFERENCE_STREAM_RATE_LIMIT", 0),

		ProposerModel:    getString("PROPOSER_MODEL", "llama3.1"),
		SkepticModel:     getString("SKEPTIC_MODEL", "llama3.1"),
		SynthesizerModel: getString("SYNTHESIZER_MODEL", "llama3.1"),
		EmbeddingModel:   getString("EMBEDDING_MODEL", "nomic-embed-text"),
		ProposerTemp:     getFloat("PROPOSER_TEMPERATURE", 0.8),
		SkepticTemp:      getFloat("SKEPTIC_TEMPERATURE", 0.5),
		SynthesizerTemp:  getFloat("SYNTHESIZER_TEMPERATURE", 0.3),

		MinRounds:      getInt("DEBATE_MIN_ROUNDS", 2),
		MaxRounds:      getInt("DEBATE_MAX_ROUNDS", 4),
		EarlyStopScore: getInt("DEBATE_EARLY_STOP_SCORE", 8),
		PerCallTimeout: getDuration("DEBATE_PER_CALL_TIMEOUT", 90*time.Second),

		RAGTopK:         getInt("RAG_TOP_K", 3),
		SimilarityFloor: getFloat("RAG_SIMILARITY_FLOOR", 0.3),
		TemplateDirs:    getStringList("TEMPLATE_DIRS", []string{"./templates"}),
		TemplateWatch:   getBool("TEMPLATE_WATCH", true),
		WeaviateURL:     getString("WEAVIATE_SERVICE_URL", ""),

		TraceStorePath: getString("TRACE_STORE_PATH", "./data/traces"),

		ConcurrencyCap: getInt("CONCURRENCY_CAP", 2),
		QueueCap:       getInt("CONCURRENCY_QUEUE_CAP", 16),

		LogLevel:      parseLevel(getString("LOG_LEVEL", "info")),
		OTelEndpoint:  getString("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		MetricsEnable: getBool("METRICS_ENABLED", true),
	}
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getStringList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	start := 0
	for i := 0; i <= len(v); i++ {
		if i == len(v) || v[i] == ',' {
			if i > start {
				out = append(out, v[start:i])
			}
			start = i + 1
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func parseLevel(s string) logging.Level {
	switch s {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}
