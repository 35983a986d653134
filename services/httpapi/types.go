// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package httpapi is the thin HTTP adapter described by spec.md §4.7: it
// validates requests, registers with the broker, spawns the
// orchestrator, writes SSE lines, and translates errors. It contains no
// debate logic of its own.
package httpapi

import (
	"github.com/go-playground/validator/v10"

	"github.com/aleutianai/debatearena/pkg/domain"
)

var validate = validator.New()

// reasonRequest is the POST /api/reason request body. Query is required
// and bounded per spec.md §3; Config is optional and, when omitted,
// defaults are filled in by the server from its own DebateConfig.
type reasonRequest struct {
	Query  string         `json:"query" validate:"required,min=1,max=4000"`
	Config *configRequest `json:"config"`
}

// configRequest mirrors domain.DebateConfig as partial, client-supplied
// overrides; any zero field falls back to the server default.
type configRequest struct {
	MinRounds        int     `json:"minRounds" validate:"omitempty,min=1"`
	MaxRounds        int     `json:"maxRounds" validate:"omitempty,min=1"`
	EarlyStopScore   int     `json:"earlyStopScore" validate:"omitempty,min=1,max=10"`
	ProposerModel    string  `json:"proposerModel"`
	SkepticModel     string  `json:"skepticModel"`
	SynthesizerModel string  `json:"synthesizerModel"`
	ProposerTemp     float64 `json:"proposerTemp" validate:"omitempty,min=0,max=2"`
	SkepticTemp      float64 `json:"skepticTemp" validate:"omitempty,min=0,max=2"`
	SynthesizerTemp  float64 `json:"synthesizerTemp" validate:"omitempty,min=0,max=2"`
	RAGTopK          int     `json:"ragTopK" validate:"omitempty,min=1"`
	SimilarityFloor  float64 `json:"similarityFloor" validate:"omitempty,min=0,max=1"`
}

// applyOverrides returns base with every non-zero field of r substituted in.
func (r *configRequest) applyOverrides(base domain.DebateConfig) domain.DebateConfig {
	if r == nil {
		return base
	}
	if r.MinRounds != 0 {
		base.MinRounds = r.MinRounds
	}
	if r.MaxRounds != 0 {
		base.MaxRounds = r.MaxRounds
	}
	if r.EarlyStopScore != 0 {
		base.EarlyStopScore = r.EarlyStopScore
	}
	if r.ProposerModel != "" {
		base.ProposerModel = r.ProposerModel
	}
	if r.SkepticModel != "" {
		base.SkepticModel = r.SkepticModel
	}
	if r.SynthesizerModel != "" {
		base.SynthesizerModel = r.SynthesizerModel
	}
	if r.ProposerTemp != 0 {
		base.ProposerTemp = r.ProposerTemp
	}
	if r.SkepticTemp != 0 {
		base.SkepticTemp = r.SkepticTemp
	}
	if r.SynthesizerTemp != 0 {
		base.SynthesizerTemp = r.SynthesizerTemp
	}
	if r.RAGTopK != 0 {
		base.RAGTopK = r.RAGTopK
	}
	if r.SimilarityFloor != 0 {
		base.SimilarityFloor = r.SimilarityFloor
	}
	return base
}

// reasonResponse is the POST /api/reason response: the debate's id and
// the fully-resolved config it will run under.
type reasonResponse struct {
	TraceID string             `json:"traceId"`
	Config  domain.DebateConfig `json:"config"`
}

// rateRequest is the POST /api/traces/:id/rate request body.
type rateRequest struct {
	Rating int `json:"rating" validate:"required,min=1,max=10"`
}

// healthResponse is the GET /api/health response.
type healthResponse struct {
	Status    string `json:"status"`
	Backend   bool   `json:"backend"`
	Version   string `json:"version"`
	Templates int    `json:"templates"`
}

// errorResponse is the shared JSON error body for every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
}

// retryAfterResponse is the 503 body for a full admission queue.
type retryAfterResponse struct {
	Error             string `json:"error"`
	RetryAfterSeconds int    `json:"retryAfterSeconds"`
}
