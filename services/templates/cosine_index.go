// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package templates

import (
	"context"
	"math"
	"sort"
	"sync"
)

// CosineIndex is an in-process nearest-neighbor index scored by cosine
// similarity. It holds every vector in memory and scans linearly, which is
// appropriate for the template collection sizes this service targets
// (hundreds, not millions, of reasoning templates).
type CosineIndex struct {
	mu      sync.RWMutex
	vectors map[string][]float32
}

// NewCosineIndex returns an empty index.
func NewCosineIndex() *CosineIndex {
	return &CosineIndex{vectors: make(map[string][]float32)}
}

var _ Index = (*CosineIndex)(nil)

func (idx *CosineIndex) Upsert(_ context.Context, id string, embedding []float32) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.vectors[id] = embedding
	return nil
}

func (idx *CosineIndex) Delete(_ context.Context, id string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.vectors, id)
	return nil
}

func (idx *CosineIndex) Reset(_ context.Context) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.vectors = make(map[string][]float32)
	return nil
}

func (idx *CosineIndex) Search(_ context.Context, query []float32, k int) ([]Match, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	matches := make([]Match, 0, len(idx.vectors))
	for id, vec := range idx.vectors {
		matches = append(matches, Match{ID: id, Similarity: normalizeCosine(cosineSimilarity(query, vec))})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].ID < matches[j].ID // deterministic tie-break
	})

	if k < len(matches) {
		matches = matches[:k]
	}
	return matches, nil
}

// cosineSimilarity computes cos(theta) between two equal-length vectors.
// A length mismatch or zero-magnitude vector yields 0 similarity rather
// than a division error.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// normalizeCosine rescales cos(theta) in [-1,1] to [0,1] via (1+cos)/2, the
// same scale Weaviate's cosine `certainty` uses. Keeping both Index
// backends on this scale means similarityFloor filters identically
// regardless of which backend is active.
func normalizeCosine(cos float64) float64 {
	return (1 + cos) / 2
}
