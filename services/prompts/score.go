// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package prompts

import (
	"encoding/json"
	"regexp"
	"strconv"
)

// NeutralScore is used when the auto-scorer's reply cannot be parsed by
// any means.
const NeutralScore = 5

type scoreReply struct {
	Score     json.Number `json:"score"`
	Reasoning string      `json:"reasoning"`
}

var jsonObjectPattern = regexp.MustCompile(`\{[^{}]*\}`)

var numericKeywordPattern = regexp.MustCompile(`\b(10|[1-9])\s*(?:/\s*10)?\b`)

// ParseAutoScore extracts an integer score in [1,10] from the auto-
// scorer's raw reply. It first looks for the first JSON object matching
// {"score": integer, ...}; if that fails, it falls back to the first
// bare 1-10 number in the text; if that also fails, it returns
// NeutralScore. The returned bool is true only when a JSON object was
// successfully parsed (the orchestrator can use this to decide whether
// to log a fallback).
func ParseAutoScore(raw string) (score int, parsedJSON bool) {
	for _, match := range jsonObjectPattern.FindAllString(raw, -1) {
		var reply scoreReply
		if err := json.Unmarshal([]byte(match), &reply); err == nil {
			if n, err := reply.Score.Int64(); err == nil {
				return clamp(int(n)), true
			}
		}
	}

	if match := numericKeywordPattern.FindStringSubmatch(raw); len(match) > 1 {
		if n, err := strconv.Atoi(match[1]); err == nil {
			return clamp(n), false
		}
	}

	return NeutralScore, false
}

func clamp(n int) int {
	if n < 1 {
		return 1
	}
	if n > 10 {
		return 10
	}
	return n
}
