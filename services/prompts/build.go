// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package prompts

import (
	"fmt"
	"strings"

	"github.com/aleutianai/debatearena/pkg/domain"
)

// Pair is the {system, user} input a role consumes for one C1 call.
type Pair struct {
	System string
	User   string
}

// Proposer builds the Proposer's input. On round 1, user contains the
// retrieved templates and the query; on later rounds it digests prior
// rounds and the most recent Skeptic critique.
func Proposer(source PromptSource, query string, templates []domain.TemplateRef, rounds []domain.Round) (Pair, error) {
	system, err := source.System(RoleProposer)
	if err != nil {
		return Pair{}, err
	}

	var b strings.Builder
	if len(rounds) == 0 {
		if len(templates) > 0 {
			b.WriteString("Relevant reasoning templates:\n\n")
			for _, t := range templates {
				fmt.Fprintf(&b, "- %s (score=%.2f): %s\n%s\n\n", t.Name, t.Score, t.Description, t.Body)
			}
		}
		b.WriteString("Query: ")
		b.WriteString(query)
	} else {
		b.WriteString("Prior rounds:\n\n")
		writeRoundDigest(&b, rounds)
		last := rounds[len(rounds)-1]
		b.WriteString("\nThe Skeptic's most recent critique:\n")
		b.WriteString(last.SkepticText)
		b.WriteString("\n\nRevise your answer to the original query, addressing each point above.\nQuery: ")
		b.WriteString(query)
	}

	return Pair{System: system, User: b.String()}, nil
}

// Skeptic builds the Skeptic's input for round. Wording escalates from a
// full critique on round 1, to a focus on unresolved items on middle
// rounds, to final-round framing when round == maxRounds.
func Skeptic(source PromptSource, proposerText string, rounds []domain.Round, round, maxRounds int) (Pair, error) {
	system, err := source.System(RoleSkeptic)
	if err != nil {
		return Pair{}, err
	}

	var framing string
	switch {
	case round == maxRounds:
		framing = "This is the final round. Either confirm readiness with READY_FOR_SYNTHESIS, or list only the objections that must be resolved before synthesis."
	case round == 1:
		framing = "Give a full critique of the Proposer's answer."
	default:
		framing = "Focus only on points raised in earlier rounds that remain unresolved; do not re-raise settled objections."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Round %d of %d.\n%s\n\n", round, maxRounds, framing)
	if len(rounds) > 0 {
		b.WriteString("Prior rounds:\n\n")
		writeRoundDigest(&b, rounds)
		b.WriteString("\n")
	}
	b.WriteString("Proposer's current answer:\n")
	b.WriteString(proposerText)

	return Pair{System: system, User: b.String()}, nil
}

// Synthesizer builds the Synthesizer's input: the query and the full
// round-by-round transcript.
func Synthesizer(source PromptSource, query string, rounds []domain.Round) (Pair, error) {
	system, err := source.System(RoleSynthesizer)
	if err != nil {
		return Pair{}, err
	}

	var b strings.Builder
	b.WriteString("Query: ")
	b.WriteString(query)
	b.WriteString("\n\nFull transcript:\n\n")
	writeRoundDigest(&b, rounds)

	return Pair{System: system, User: b.String()}, nil
}

// AutoScorer builds the auto-scoring input: the query and the final
// answer. Its system prompt requires a JSON reply.
func AutoScorer(source PromptSource, query, finalAnswer string) (Pair, error) {
	system, err := source.System(RoleAutoScorer)
	if err != nil {
		return Pair{}, err
	}

	user := fmt.Sprintf("Query: %s\n\nFinal answer: %s", query, finalAnswer)
	return Pair{System: system, User: user}, nil
}

func writeRoundDigest(b *strings.Builder, rounds []domain.Round) {
	for _, r := range rounds {
		fmt.Fprintf(b, "Round %d:\nProposer: %s\nSkeptic: %s\n\n", r.Round, r.ProposerText, r.SkepticText)
	}
}
