// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package domain

// EventType discriminates the tagged variants of a debate's event sequence,
// per spec.md §4.5.
type EventType string

const (
	EventRAGStarted         EventType = "rag_started"
	EventRAGCompleted       EventType = "rag_completed"
	EventRoundStarted       EventType = "round_started"
	EventProposerStarted    EventType = "proposer_started"
	EventProposerDelta      EventType = "proposer_delta"
	EventProposerCompleted  EventType = "proposer_completed"
	EventSkepticStarted     EventType = "skeptic_started"
	EventSkepticDelta       EventType = "skeptic_delta"
	EventSkepticCompleted   EventType = "skeptic_completed"
	EventEarlyStop          EventType = "early_stop"
	EventSynthesisStarted   EventType = "synthesis_started"
	EventSynthesisDelta     EventType = "synthesis_delta"
	EventSynthesisCompleted EventType = "synthesis_completed"
	EventCompleted          EventType = "completed"
	EventFailed             EventType = "failed"
)

// FailureKind classifies a failed event's cause. It widens
// InferenceErrorKind with one control-flow cause that never originates
// from C1: an internal (store/parse) error. A cancelled debate can
// originate either from C1 (ctx cancelled mid-stream, surfaced as
// InferenceCancelled) or from the orchestrator's own coarse-point checks
// between rounds; both share the same "cancelled" wire literal.
type FailureKind string

const (
	FailureTimeout            FailureKind = FailureKind(InferenceTimeout)
	FailureBackendUnreachable FailureKind = FailureKind(InferenceBackendUnreachable)
	FailureModelMissing       FailureKind = FailureKind(InferenceModelMissing)
	FailureBackendError       FailureKind = FailureKind(InferenceBackendError)
	FailureCancelled          FailureKind = FailureKind(InferenceCancelled)
	FailureInternal           FailureKind = "internal"
)

// Event is one totally-ordered element of a debate's event sequence. Only
// the fields relevant to Type are populated; the rest are left as their
// zero value and omitted from the JSON wire form.
type Event struct {
	Type EventType `json:"type"`

	// Seq is the event's position (0-based) in the debate's sequence. The
	// broker replays by log position and does not read it; it is not part
	// of spec.md's wire variants but is harmless additive metadata on the
	// envelope.
	Seq int `json:"seq"`

	Round      int           `json:"round,omitempty"`
	Templates  []TemplateRef `json:"templates,omitempty"`
	Text       string        `json:"text,omitempty"`
	DurationMs int64         `json:"durationMs,omitempty"`
	Trace      *DebateTrace  `json:"trace,omitempty"`
	Message    string        `json:"message,omitempty"`
	Kind       FailureKind   `json:"kind,omitempty"`
}

// Terminal reports whether this event ends the sequence (completed or
// failed never has a successor).
func (e Event) Terminal() bool {
	return e.Type == EventCompleted || e.Type == EventFailed
}

// ForceDelivered reports whether a slow subscriber's backpressure policy
// must never drop this event, per spec.md §5: completed, failed, and
// early_stop are force-delivered even though early_stop does not end the
// sequence (synthesis still follows it).
func (e Event) ForceDelivered() bool {
	return e.Terminal() || e.Type == EventEarlyStop
}

// ReadinessSentinel is the fixed, case-sensitive literal the Skeptic is
// instructed to emit when it has no further unresolved objections. Its
// presence in Skeptic text ends the debate early per the termination
// predicate in spec.md §4.5. Changing this string requires updating the
// Skeptic system prompt in the same release.
const ReadinessSentinel = "READY_FOR_SYNTHESIS"

// CriticalSeverityMarker is the fixed literal the Skeptic is instructed to
// emit alongside any objection it considers blocking. Its absence after
// minRounds also ends the debate early.
const CriticalSeverityMarker = "[CRITICAL]"
