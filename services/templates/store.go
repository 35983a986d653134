// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package templates

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/aleutianai/debatearena/pkg/domain"
	"github.com/aleutianai/debatearena/pkg/logging"
)

// Embedder is the subset of the inference client the Store needs: a text
// embedding call. Kept as a local interface so this package doesn't import
// the inference package, avoiding a dependency cycle with higher layers
// that wire both together.
type Embedder interface {
	Embed(ctx context.Context, model string, text string) ([]float32, error)
}

// FallbackTemplateID is the stable, documented id of the template returned
// when no template clears the similarity floor.
const FallbackTemplateID = "general-reasoning"

// Store holds the parsed template collection, its vector index, and the
// embedding model used to index and query it.
type Store struct {
	mu sync.RWMutex

	embedder   Embedder
	embedModel string
	index      Index

	refs      map[string]domain.TemplateRef
	useCounts map[string]int

	similarityFloor float64
	logger          *logging.Logger
}

// NewStore builds an empty Store. Call Reindex to populate it.
func NewStore(embedder Embedder, index Index, embedModel string, similarityFloor float64, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{
		embedder:        embedder,
		embedModel:      embedModel,
		index:           index,
		refs:            make(map[string]domain.TemplateRef),
		useCounts:       make(map[string]int),
		similarityFloor: similarityFloor,
		logger:          logger,
	}
}

// Reindex scans directories for template documents, upserts every parsed
// template, and replaces prior embeddings. It fully rebuilds the in-memory
// and vector-index state, so it is idempotent: repeating with unchanged
// inputs yields the same index (P6). Parse failures skip the offending
// file with a logged warning rather than aborting the whole scan.
func (s *Store) Reindex(ctx context.Context, directories []string) (int, error) {
	fresh := make(map[string]domain.TemplateRef)
	composites := make(map[string]string)

	for _, dir := range directories {
		entries, err := os.ReadDir(dir)
		if err != nil {
			s.logger.Warn("template directory unreadable", "dir", dir, "error", err.Error())
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			ref, composite, err := s.parseFile(path)
			if err != nil {
				s.logger.Warn("skipping template file", "path", path, "error", err.Error())
				continue
			}
			fresh[ref.ID] = ref
			composites[ref.ID] = composite
		}
	}

	if err := s.index.Reset(ctx); err != nil {
		return 0, &domain.InternalError{Op: "reindex", Err: err}
	}

	for id, composite := range composites {
		vec, err := s.embedder.Embed(ctx, s.embedModel, composite)
		if err != nil {
			s.logger.Warn("embedding failed during reindex", "template", id, "error", err.Error())
			continue
		}
		if err := s.index.Upsert(ctx, id, vec); err != nil {
			return 0, &domain.InternalError{Op: "reindex", Err: err}
		}
	}

	s.mu.Lock()
	s.refs = fresh
	s.mu.Unlock()

	return len(fresh), nil
}

// parseFile parses a template document, returning both its domain
// reference and the composite string used to embed it.
func (s *Store) parseFile(path string) (domain.TemplateRef, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.TemplateRef{}, "", err
	}

	rawHeader, body, err := splitDocument(string(data))
	if err != nil {
		return domain.TemplateRef{}, "", err
	}

	var h header
	if err := yaml.Unmarshal([]byte(rawHeader), &h); err != nil {
		return domain.TemplateRef{}, "", fmt.Errorf("parse metadata header: %w", err)
	}
	if h.Name == "" {
		return domain.TemplateRef{}, "", fmt.Errorf("metadata header missing name")
	}

	ref := domain.TemplateRef{
		ID:          slugify(h.Name),
		Name:        h.Name,
		Description: h.Description,
		Body:        body,
	}
	return ref, compositeString(h, body), nil
}

// Search embeds query and returns the k nearest templates whose similarity
// clears floor, ranked by descending similarity with lexicographic id as
// the tie-break. floor <= 0 falls back to the floor the Store was
// constructed with, so a request that doesn't set SimilarityFloor still
// gets the operator-configured default. If none clear the floor, it
// returns a single-element slice containing the fallback template at
// score 0.5; if the fallback is itself absent, it returns an empty slice.
func (s *Store) Search(ctx context.Context, query string, k int, floor float64) ([]domain.TemplateRef, error) {
	if floor <= 0 {
		floor = s.similarityFloor
	}

	vec, err := s.embedder.Embed(ctx, s.embedModel, query)
	if err != nil {
		return nil, err
	}

	matches, err := s.index.Search(ctx, vec, k)
	if err != nil {
		return nil, &domain.InternalError{Op: "template search", Err: err}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]domain.TemplateRef, 0, len(matches))
	for _, m := range matches {
		if m.Similarity < floor {
			continue
		}
		ref, ok := s.refs[m.ID]
		if !ok {
			continue // stale index entry; template was removed since last reindex
		}
		ref.Score = m.Similarity
		results = append(results, ref)
	}

	if len(results) > 0 {
		return results, nil
	}

	if fallback, ok := s.refs[FallbackTemplateID]; ok {
		fallback.Score = 0.5
		return []domain.TemplateRef{fallback}, nil
	}
	return nil, nil
}

// AddOne parses and indexes a single template file without a full reindex.
func (s *Store) AddOne(ctx context.Context, path string) error {
	ref, composite, err := s.parseFile(path)
	if err != nil {
		return err
	}

	vec, err := s.embedder.Embed(ctx, s.embedModel, composite)
	if err != nil {
		return err
	}
	if err := s.index.Upsert(ctx, ref.ID, vec); err != nil {
		return &domain.InternalError{Op: "add_one", Err: err}
	}

	s.mu.Lock()
	s.refs[ref.ID] = ref
	s.mu.Unlock()
	return nil
}

// List returns every indexed template, in no particular order.
func (s *Store) List() []domain.TemplateRef {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.TemplateRef, 0, len(s.refs))
	for _, ref := range s.refs {
		out = append(out, ref)
	}
	return out
}

// RecordUse increments the usage counter for id. Unknown ids are a no-op:
// templates may be removed between retrieval and the orchestrator
// recording use of them (I5).
func (s *Store) RecordUse(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.refs[id]; ok {
		s.useCounts[id]++
	}
}

// UseCount returns how many times id has been recorded as used.
func (s *Store) UseCount(id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.useCounts[id]
}
