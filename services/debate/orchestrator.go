// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package debate implements the RAG → N×(Proposer, Skeptic) →
// Synthesizer → Score → Persist pipeline as a lazy event sequence. This
// is the core of the service: everything else is a collaborator it
// drives or a surface that exposes it.
package debate

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aleutianai/debatearena/pkg/domain"
	"github.com/aleutianai/debatearena/pkg/logging"
	"github.com/aleutianai/debatearena/services/inference"
	"github.com/aleutianai/debatearena/services/prompts"
)

// Retriever is the subset of the template store the orchestrator needs.
type Retriever interface {
	Search(ctx context.Context, query string, k int, similarityFloor float64) ([]domain.TemplateRef, error)
	RecordUse(id string)
}

// Persister is the subset of the trace store the orchestrator needs.
type Persister interface {
	Save(ctx context.Context, trace domain.DebateTrace) error
}

// Orchestrator drives one debate's pipeline end to end.
type Orchestrator struct {
	client         inference.Client
	retriever      Retriever
	persister      Persister
	prompts        prompts.PromptSource
	embeddingModel string
	logger         *logging.Logger
}

// New builds an Orchestrator from its collaborators. embeddingModel is
// recorded on each trace's ModelSet; it is not used by the orchestrator
// itself (the retriever owns embedding).
func New(client inference.Client, retriever Retriever, persister Persister, source prompts.PromptSource, embeddingModel string, logger *logging.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.Default()
	}
	return &Orchestrator{client: client, retriever: retriever, persister: persister, prompts: source, embeddingModel: embeddingModel, logger: logger}
}

// Run executes the full pipeline for query under config, emitting a
// totally-ordered sequence of domain.Event on the returned channel. The
// channel is closed after the terminal event. Run never blocks its
// caller; all work happens on an internally spawned goroutine, honoring
// ctx cancellation at the coarse points named in spec.md §5.
func (o *Orchestrator) Run(ctx context.Context, traceID string, query string, config domain.DebateConfig) <-chan domain.Event {
	out := make(chan domain.Event, 64)
	go o.run(ctx, traceID, query, config, out)
	return out
}

type emitter struct {
	out chan<- domain.Event
	seq int
}

func (e *emitter) emit(ev domain.Event) {
	ev.Seq = e.seq
	e.seq++
	e.out <- ev
}

func (o *Orchestrator) run(ctx context.Context, traceID, query string, config domain.DebateConfig, out chan<- domain.Event) {
	defer close(out)
	e := &emitter{out: out}
	start := time.Now()

	if err := config.Validate(); err != nil {
		e.emit(domain.Event{Type: domain.EventFailed, Message: err.Error(), Kind: domain.FailureInternal})
		return
	}

	if ctx.Err() != nil {
		e.emit(domain.Event{Type: domain.EventFailed, Message: "cancelled before start", Kind: domain.FailureCancelled})
		return
	}

	// (a) RAG
	e.emit(domain.Event{Type: domain.EventRAGStarted})
	ragStart := time.Now()
	templates, err := o.retriever.Search(ctx, query, config.RAGTopK, config.SimilarityFloor)
	if err != nil {
		e.emit(domain.Event{Type: domain.EventFailed, Message: "template search: " + err.Error(), Kind: domain.FailureInternal})
		return
	}
	ragMs := time.Since(ragStart).Milliseconds()
	e.emit(domain.Event{Type: domain.EventRAGCompleted, Templates: templates})

	templateIDs := make([]string, len(templates))
	for i, t := range templates {
		templateIDs[i] = t.ID
		o.retriever.RecordUse(t.ID)
	}

	// (b) Rounds
	var rounds []domain.Round
	var roundsMs []int64
	earlyStopped := false

	for round := 1; round <= config.MaxRounds; round++ {
		if ctx.Err() != nil {
			e.emit(domain.Event{Type: domain.EventFailed, Message: "cancelled", Round: round, Kind: domain.FailureCancelled})
			return
		}

		e.emit(domain.Event{Type: domain.EventRoundStarted, Round: round})

		proposerPair, err := prompts.Proposer(o.prompts, query, templates, rounds)
		if err != nil {
			e.emit(domain.Event{Type: domain.EventFailed, Message: err.Error(), Round: round, Kind: domain.FailureInternal})
			return
		}

		roundStart := time.Now()
		e.emit(domain.Event{Type: domain.EventProposerStarted, Round: round})
		proposerText, proposerMs, failEv, ok := o.relay(ctx, config.ProposerModel, proposerPair, config.ProposerTemp, config.PerCallTimeout, round, domain.EventProposerDelta, e)
		if !ok {
			e.emit(failEv)
			return
		}
		e.emit(domain.Event{Type: domain.EventProposerCompleted, Round: round, Text: proposerText, DurationMs: proposerMs})

		if ctx.Err() != nil {
			e.emit(domain.Event{Type: domain.EventFailed, Message: "cancelled", Round: round, Kind: domain.FailureCancelled})
			return
		}

		skepticPair, err := prompts.Skeptic(o.prompts, proposerText, rounds, round, config.MaxRounds)
		if err != nil {
			e.emit(domain.Event{Type: domain.EventFailed, Message: err.Error(), Round: round, Kind: domain.FailureInternal})
			return
		}

		e.emit(domain.Event{Type: domain.EventSkepticStarted, Round: round})
		skepticText, skepticMs, failEv, ok := o.relay(ctx, config.SkepticModel, skepticPair, config.SkepticTemp, config.PerCallTimeout, round, domain.EventSkepticDelta, e)
		if !ok {
			e.emit(failEv)
			return
		}
		e.emit(domain.Event{Type: domain.EventSkepticCompleted, Round: round, Text: skepticText, DurationMs: skepticMs})

		rounds = append(rounds, domain.Round{
			Round:              round,
			ProposerText:       proposerText,
			SkepticText:        skepticText,
			ProposerDurationMs: proposerMs,
			SkepticDurationMs:  skepticMs,
		})
		roundsMs = append(roundsMs, time.Since(roundStart).Milliseconds())

		if terminate, stopped := evaluateTermination(skepticText, round, config.MinRounds, config.MaxRounds); terminate {
			earlyStopped = stopped
			if stopped {
				e.emit(domain.Event{Type: domain.EventEarlyStop, Round: round})
			}
			break
		}
	}

	// (c) Synthesis
	synthesisPair, err := prompts.Synthesizer(o.prompts, query, rounds)
	if err != nil {
		e.emit(domain.Event{Type: domain.EventFailed, Message: err.Error(), Kind: domain.FailureInternal})
		return
	}

	e.emit(domain.Event{Type: domain.EventSynthesisStarted})
	finalAnswer, synthesisMs, failEv, ok := o.relay(ctx, config.SynthesizerModel, synthesisPair, config.SynthesizerTemp, config.PerCallTimeout, 0, domain.EventSynthesisDelta, e)
	if !ok {
		e.emit(failEv)
		return
	}
	e.emit(domain.Event{Type: domain.EventSynthesisCompleted, Text: finalAnswer, DurationMs: synthesisMs})

	// (d) Auto-score: never fatal.
	autoScore := o.runAutoScore(ctx, config, query, finalAnswer)

	// (e) Persist
	if ctx.Err() != nil {
		e.emit(domain.Event{Type: domain.EventFailed, Message: "cancelled before persistence", Kind: domain.FailureCancelled})
		return
	}

	trace := domain.DebateTrace{
		ID:            traceID,
		CreatedAt:     time.Now(),
		Query:         query,
		TemplatesUsed: templateIDs,
		Rounds:        rounds,
		FinalAnswer:   finalAnswer,
		TotalRounds:   len(rounds),
		EarlyStopped:  earlyStopped,
		AutoScore:     autoScore,
		Models: domain.ModelSet{
			Proposer:    config.ProposerModel,
			Skeptic:     config.SkepticModel,
			Synthesizer: config.SynthesizerModel,
			Embedding:   o.embeddingModel,
		},
		Timing: domain.Timing{
			TotalMs:     time.Since(start).Milliseconds(),
			RAGMs:       ragMs,
			RoundsMs:    roundsMs,
			SynthesisMs: synthesisMs,
		},
	}

	if err := o.persister.Save(ctx, trace); err != nil {
		e.emit(domain.Event{Type: domain.EventFailed, Message: "save: " + err.Error(), Kind: domain.FailureInternal})
		return
	}

	e.emit(domain.Event{Type: domain.EventCompleted, Trace: &trace})
}

// relay opens a streaming chat call, forwarding each delta as deltaType,
// and returns the concatenated text and elapsed milliseconds. ok is false
// if the call failed; failEv then carries the terminal failed event to
// emit (not yet emitted, so the caller can return immediately after).
func (o *Orchestrator) relay(ctx context.Context, model string, pair prompts.Pair, temperature float64, deadline time.Duration, round int, deltaType domain.EventType, e *emitter) (text string, durationMs int64, failEv domain.Event, ok bool) {
	start := time.Now()
	messages := []inference.Message{
		{Role: inference.RoleSystem, Content: pair.System},
		{Role: inference.RoleUser, Content: pair.User},
	}

	chunks, err := o.client.StreamChat(ctx, model, messages, temperature, deadline)
	if err != nil {
		return "", 0, failureEvent(err, round), false
	}

	var b strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			return "", 0, failureEvent(chunk.Err, round), false
		}
		if chunk.Text == "" {
			continue
		}
		b.WriteString(chunk.Text)
		e.emit(domain.Event{Type: deltaType, Round: round, Text: chunk.Text})
	}

	return b.String(), time.Since(start).Milliseconds(), domain.Event{}, true
}

func failureEvent(err error, round int) domain.Event {
	if infErr, ok := domain.IsInferenceError(err); ok {
		return domain.Event{Type: domain.EventFailed, Message: infErr.Error(), Round: round, Kind: domain.FailureKind(infErr.Kind)}
	}
	return domain.Event{Type: domain.EventFailed, Message: err.Error(), Round: round, Kind: domain.FailureInternal}
}

// evaluateTermination applies the termination predicate from spec.md
// §4.5 after round R with Skeptic text S.
func evaluateTermination(skepticText string, round, minRounds, maxRounds int) (terminate, earlyStopped bool) {
	if strings.Contains(skepticText, domain.ReadinessSentinel) {
		return true, true
	}
	if round == maxRounds {
		return true, false
	}
	if round >= minRounds && !strings.Contains(skepticText, domain.CriticalSeverityMarker) {
		return true, true
	}
	return false, false
}

// runAutoScore performs the non-streaming auto-score call. Failure is
// never fatal to the debate: a nil result records no score rather than
// aborting.
func (o *Orchestrator) runAutoScore(ctx context.Context, config domain.DebateConfig, query, finalAnswer string) *int {
	pair, err := prompts.AutoScorer(o.prompts, query, finalAnswer)
	if err != nil {
		o.logger.Warn("auto-score prompt build failed", "error", err.Error())
		return nil
	}

	messages := []inference.Message{
		{Role: inference.RoleSystem, Content: pair.System},
		{Role: inference.RoleUser, Content: pair.User},
	}

	chunks, err := o.client.StreamChat(ctx, config.SynthesizerModel, messages, 0, config.PerCallTimeout)
	if err != nil {
		o.logger.Warn("auto-score call failed, using neutral default", "error", err.Error())
		neutral := prompts.NeutralScore
		return &neutral
	}

	var b strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			o.logger.Warn("auto-score stream failed, using neutral default", "error", chunk.Err.Error())
			neutral := prompts.NeutralScore
			return &neutral
		}
		b.WriteString(chunk.Text)
	}

	score, parsedJSON := prompts.ParseAutoScore(b.String())
	if !parsedJSON {
		o.logger.Debug("auto-score fell back to heuristic or neutral default", "score", score)
	}
	return &score
}

// NewTraceID returns a fresh, globally unique trace id.
func NewTraceID() string {
	return uuid.NewString()
}
