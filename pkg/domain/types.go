// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package domain holds the data types shared by every component of a
// debate: templates, configuration, rounds, traces, and the event sequence
// the orchestrator produces.
package domain

import "time"

// TemplateRef is a reasoning template retrieved by the template store.
type TemplateRef struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Score       float64 `json:"score"`
	Description string  `json:"description"`
	Body        string  `json:"body"`
}

// DebateConfig is immutable for the life of one debate.
type DebateConfig struct {
	MinRounds        int           `json:"minRounds"`
	MaxRounds        int           `json:"maxRounds"`
	EarlyStopScore   int           `json:"earlyStopScore"`
	ProposerModel    string        `json:"proposerModel"`
	SkepticModel     string        `json:"skepticModel"`
	SynthesizerModel string        `json:"synthesizerModel"`
	ProposerTemp     float64       `json:"proposerTemp"`
	SkepticTemp      float64       `json:"skepticTemp"`
	SynthesizerTemp  float64       `json:"synthesizerTemp"`
	RAGTopK          int           `json:"ragTopK"`
	SimilarityFloor  float64       `json:"similarityFloor"`
	PerCallTimeout   time.Duration `json:"perCallTimeout"`
}

// Validate enforces the ranges spec.md §3 names for DebateConfig.
func (c DebateConfig) Validate() error {
	switch {
	case c.MinRounds < 1:
		return ValidationErrorf("minRounds must be >= 1")
	case c.MaxRounds < c.MinRounds:
		return ValidationErrorf("maxRounds must be >= minRounds")
	case c.EarlyStopScore < 1 || c.EarlyStopScore > 10:
		return ValidationErrorf("earlyStopScore must be in [1,10]")
	case c.ProposerTemp < 0 || c.ProposerTemp > 2:
		return ValidationErrorf("proposerTemp must be in [0,2]")
	case c.SkepticTemp < 0 || c.SkepticTemp > 2:
		return ValidationErrorf("skepticTemp must be in [0,2]")
	case c.SynthesizerTemp < 0 || c.SynthesizerTemp > 2:
		return ValidationErrorf("synthesizerTemp must be in [0,2]")
	case c.RAGTopK < 1:
		return ValidationErrorf("ragTopK must be >= 1")
	case c.SimilarityFloor < 0 || c.SimilarityFloor > 1:
		return ValidationErrorf("similarityFloor must be in [0,1]")
	}
	return nil
}

// Round is one Proposer turn immediately followed by one Skeptic turn.
// Both text fields are present iff the round completed; never mutated
// after creation.
type Round struct {
	Round              int    `json:"round"`
	ProposerText       string `json:"proposerText"`
	SkepticText        string `json:"skepticText"`
	ProposerDurationMs int64  `json:"proposerDurationMs"`
	SkepticDurationMs  int64  `json:"skepticDurationMs"`
}

// ModelSet records which model served each role of a trace.
type ModelSet struct {
	Proposer    string `json:"proposer"`
	Skeptic     string `json:"skeptic"`
	Synthesizer string `json:"synthesizer"`
	Embedding   string `json:"embedding"`
}

// Timing records the wall-clock duration of each phase of a debate.
type Timing struct {
	TotalMs    int64   `json:"totalMs"`
	RAGMs      int64   `json:"ragMs"`
	RoundsMs   []int64 `json:"roundsMs"`
	SynthesisMs int64  `json:"synthesisMs"`
}

// DebateTrace is the durable record of a completed debate. UserRating is
// the only field mutable after persistence.
type DebateTrace struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"createdAt"`
	Query          string    `json:"query"`
	TemplatesUsed  []string  `json:"templatesUsed"`
	Rounds         []Round   `json:"rounds"`
	FinalAnswer    string    `json:"finalAnswer"`
	TotalRounds    int       `json:"totalRounds"`
	EarlyStopped   bool      `json:"earlyStopped"`
	AutoScore      *int      `json:"autoScore"`
	UserRating     *int      `json:"userRating"`
	Models         ModelSet  `json:"models"`
	Timing         Timing    `json:"timing"`
}

// FineTuneCandidate is a derived view, not itself stored.
type FineTuneCandidate struct {
	TraceID string `json:"traceId"`
}

// MaxScore returns max(userRating, autoScore), or nil if neither is set.
func (t DebateTrace) MaxScore() *int {
	switch {
	case t.UserRating != nil && t.AutoScore != nil:
		if *t.UserRating >= *t.AutoScore {
			return t.UserRating
		}
		return t.AutoScore
	case t.UserRating != nil:
		return t.UserRating
	case t.AutoScore != nil:
		return t.AutoScore
	default:
		return nil
	}
}

// IsFineTuneCandidate reports whether MaxScore() >= threshold.
func (t DebateTrace) IsFineTuneCandidate(threshold int) bool {
	m := t.MaxScore()
	return m != nil && *m >= threshold
}

// Stats summarizes the trace store's contents.
type Stats struct {
	Count           int     `json:"count"`
	MeanQuality     float64 `json:"meanQuality"`
	CandidatesCount int     `json:"candidatesCount"`
}

// ListQuery parameters for Store.List.
type ListQuery struct {
	Limit      int
	Offset     int
	MinQuality *int
	SearchText string
}

// ListResult is the paged response of Store.List.
type ListResult struct {
	Traces []DebateTrace `json:"traces"`
	Stats  Stats         `json:"stats"`
}
