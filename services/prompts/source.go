// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package prompts builds the role-specific {system, user} input pairs the
// debate orchestrator hands to the inference client. System prompts are
// opaque strings loaded once from a PromptSource; user prompts are pure
// functions of debate state.
package prompts

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Role identifies which debate participant a prompt is being built for.
type Role string

const (
	RoleProposer    Role = "proposer"
	RoleSkeptic     Role = "skeptic"
	RoleSynthesizer Role = "synthesizer"
	RoleAutoScorer  Role = "autoscorer"
)

//go:embed defaults/proposer.txt
var defaultProposer string

//go:embed defaults/skeptic.txt
var defaultSkeptic string

//go:embed defaults/synthesizer.txt
var defaultSynthesizer string

//go:embed defaults/autoscorer.txt
var defaultAutoScorer string

// PromptSource supplies the opaque system prompt text for a role. The
// orchestrator treats the returned string as unstructured; it never
// inspects or transforms it beyond forwarding it as the chat system
// message.
type PromptSource interface {
	System(role Role) (string, error)
}

// FilePromptSource loads a system prompt from `<dir>/<role>.txt`, falling
// back to a baked-in default when the directory is empty or the file for
// a role is missing. This lets operators override prompt text without a
// rebuild while guaranteeing the service always has something to send.
type FilePromptSource struct {
	dir string
}

// NewFilePromptSource returns a source rooted at dir. An empty dir uses
// only the embedded defaults.
func NewFilePromptSource(dir string) *FilePromptSource {
	return &FilePromptSource{dir: dir}
}

var _ PromptSource = (*FilePromptSource)(nil)

func (s *FilePromptSource) System(role Role) (string, error) {
	def, ok := defaults[role]
	if !ok {
		return "", fmt.Errorf("prompts: unknown role %q", role)
	}

	if s.dir == "" {
		return def, nil
	}

	path := filepath.Join(s.dir, string(role)+".txt")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return def, nil
	}
	if err != nil {
		return "", fmt.Errorf("prompts: read %s: %w", path, err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}

var defaults = map[Role]string{
	RoleProposer:    strings.TrimRight(defaultProposer, "\n"),
	RoleSkeptic:     strings.TrimRight(defaultSkeptic, "\n"),
	RoleSynthesizer: strings.TrimRight(defaultSynthesizer, "\n"),
	RoleAutoScorer:  strings.TrimRight(defaultAutoScorer, "\n"),
}
