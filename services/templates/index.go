// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package templates parses reasoning-template documents, maintains their
// vector index, and returns top-K matches above a similarity floor.
package templates

import "context"

// Match is one nearest-neighbor hit from an Index.
type Match struct {
	ID         string
	Similarity float64
}

// Index is the opaque nearest-neighbor backend the Store is built on. The
// default implementation is an in-process cosine index; a Weaviate-backed
// implementation is available for production deployments. Index itself is
// floor-agnostic: Store applies the similarity floor to whatever Search
// returns.
type Index interface {
	// Upsert stores or replaces the embedding for id.
	Upsert(ctx context.Context, id string, embedding []float32) error

	// Delete removes id from the index, if present.
	Delete(ctx context.Context, id string) error

	// Search returns up to k nearest neighbors of embedding, ordered by
	// descending similarity, ties broken by ascending id.
	Search(ctx context.Context, embedding []float32, k int) ([]Match, error)

	// Reset clears the entire index, used at the start of a full reindex.
	Reset(ctx context.Context) error
}
