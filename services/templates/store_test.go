// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package templates

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aleutianai/debatearena/pkg/domain"
)

// fakeEmbedder returns the vector mapped to the exact text, or else a
// deterministic vector derived from the sum of the text's runes, letting
// tests control similarity without a real inference backend.
type fakeEmbedder struct {
	vectors map[string][]float32 // keyed by exact text, for precise control
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string, text string) ([]float32, error) {
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	// Default: a stable hash-derived vector so unmapped text never
	// accidentally collides with a mapped one.
	var sum float32
	for _, r := range text {
		sum += float32(r)
	}
	return []float32{sum, 1}, nil
}

func writeTemplate(t *testing.T, dir, filename, name, description, body string) {
	t.Helper()
	content := "---\nname: " + name + "\ndescription: " + description + "\n---\n" + body
	require.NoError(t, os.WriteFile(filepath.Join(dir, filename), []byte(content), 0o644))
}

func TestStore_ReindexIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "a.md", "First Principles", "break down assumptions", "body a")
	writeTemplate(t, dir, "b.md", "Steelman", "argue the strongest case", "body b")

	embedder := &fakeEmbedder{}
	store := NewStore(embedder, NewCosineIndex(), "embed-model", 0, nil)

	n1, err := store.Reindex(context.Background(), []string{dir})
	require.NoError(t, err)
	assert.Equal(t, 2, n1)
	first := store.List()

	n2, err := store.Reindex(context.Background(), []string{dir})
	require.NoError(t, err)
	assert.Equal(t, 2, n2)
	second := store.List()

	assert.ElementsMatch(t, idsOf(first), idsOf(second))
}

func idsOf(refs []domain.TemplateRef) []string {
	ids := make([]string, len(refs))
	for i, r := range refs {
		ids[i] = r.ID
	}
	return ids
}

func TestStore_SearchFallsBackWhenNoneClearFloor(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "general.md", "General Reasoning", "default catch-all template", "think it through")
	writeTemplate(t, dir, "niche.md", "Niche Heuristic", "unrelated to the query", "niche body")

	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"General Reasoning\ndefault catch-all template\n\n\n\nthink it through": {1, 0},
		"Niche Heuristic\nunrelated to the query\n\n\n\nniche body":             {0, 1},
		"the query": {1, 1}, // equidistant-ish; floor set high enough to reject both below
	}}

	store := NewStore(embedder, NewCosineIndex(), "embed-model", 0.99, nil)
	_, err := store.Reindex(context.Background(), []string{dir})
	require.NoError(t, err)

	results, err := store.Search(context.Background(), "the query", 5, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, FallbackTemplateID, results[0].ID)
	assert.Equal(t, 0.5, results[0].Score)
}

func TestStore_SearchReturnsEmptyWhenFallbackAbsent(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, "niche.md", "Niche Heuristic", "unrelated to the query", "niche body")

	embedder := &fakeEmbedder{vectors: map[string][]float32{
		"Niche Heuristic\nunrelated to the query\n\n\n\nniche body": {0, 1},
		"the query": {1, 0},
	}}

	store := NewStore(embedder, NewCosineIndex(), "embed-model", 0.99, nil)
	_, err := store.Reindex(context.Background(), []string{dir})
	require.NoError(t, err)

	results, err := store.Search(context.Background(), "the query", 5, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestStore_RecordUseIgnoresUnknownID(t *testing.T) {
	store := NewStore(&fakeEmbedder{}, NewCosineIndex(), "embed-model", 0, nil)
	store.RecordUse("does-not-exist")
	assert.Equal(t, 0, store.UseCount("does-not-exist"))
}

func TestCosineIndex_SearchBreaksTiesByAscendingID(t *testing.T) {
	idx := NewCosineIndex()
	ctx := context.Background()
	require.NoError(t, idx.Upsert(ctx, "zebra", []float32{1, 0}))
	require.NoError(t, idx.Upsert(ctx, "alpha", []float32{1, 0}))
	require.NoError(t, idx.Upsert(ctx, "mango", []float32{1, 0}))

	matches, err := idx.Search(ctx, []float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, []string{"alpha", "mango", "zebra"}, []string{matches[0].ID, matches[1].ID, matches[2].ID})
}

func TestSplitDocument_RejectsMissingHeader(t *testing.T) {
	_, _, err := splitDocument("no fence here")
	assert.Error(t, err)
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "first-principles", slugify("First Principles!"))
	assert.Equal(t, "a-b", slugify("  A -- B  "))
}
