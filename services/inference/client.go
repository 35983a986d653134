// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package inference exposes an abstract streaming-chat backend: stream
// tokens from a chat endpoint, embed text, and enumerate installed models.
package inference

import (
	"context"
	"time"
)

// Role is a chat message's role, per spec.md §6.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a chat request's message list.
type Message struct {
	Role    Role
	Content string
}

// ModelInfo describes one installed model, as returned by ListModels.
type ModelInfo struct {
	Name       string
	SizeBytes  int64
	ModifiedAt time.Time
}

// StreamChunk is one element of a StreamChat response channel. A chunk
// carries either a non-empty Text delta, or a non-nil Err marking the
// terminal (and final) element before the channel is closed. The channel
// is never sent to after Err is set.
type StreamChunk struct {
	Text string
	Err  error
}

// Client is the abstract streaming-chat backend every debate role talks
// to. Implementations must produce deltas in arrival order such that their
// concatenation equals the full reply (P2), and must classify every
// failure as a *domain.InferenceError.
type Client interface {
	// StreamChat opens a streamed chat completion. The returned channel
	// yields StreamChunk values until either the backend signals
	// completion (channel closed, no error chunk) or a failure occurs
	// (final chunk carries Err, then the channel closes). deadline bounds
	// the time from the backend's response arriving to the first delta,
	// and also the time between any two successive deltas; the wait for
	// that response is bounded only by the HTTP client's timeout.
	StreamChat(ctx context.Context, model string, messages []Message, temperature float64, deadline time.Duration) (<-chan StreamChunk, error)

	// Embed returns a fixed-dimension embedding vector for text.
	Embed(ctx context.Context, model string, text string) ([]float32, error)

	// ListModels enumerates models installed on the backend.
	ListModels(ctx context.Context) ([]ModelInfo, error)
}
