// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package templates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/aleutianai/debatearena/pkg/logging"
)

// TemplateClassName is the Weaviate class backing the template index.
const TemplateClassName = "ReasoningTemplate"

// WeaviateIndex implements Index against a Weaviate class, for deployments
// that want a production vector database instead of the in-process
// CosineIndex. Construction degrades to an error (callers fall back to
// CosineIndex) rather than partial operation.
type WeaviateIndex struct {
	client *weaviate.Client
	logger *logging.Logger
}

var _ Index = (*WeaviateIndex)(nil)

// NewWeaviateIndex validates rawURL and connects a Weaviate client. Callers
// should treat a non-nil error as "fall back to the in-process index" per
// the lightweight-mode pattern this service's composition root follows
// elsewhere.
func NewWeaviateIndex(rawURL string, logger *logging.Logger) (*WeaviateIndex, error) {
	if logger == nil {
		logger = logging.Default()
	}

	trimmed := strings.Trim(rawURL, " /")
	if trimmed == "" {
		return nil, fmt.Errorf("weaviate url is empty")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid weaviate url %q", rawURL)
	}

	cfg := weaviate.Config{Scheme: parsed.Scheme, Host: parsed.Host}
	client := weaviate.New(cfg)

	idx := &WeaviateIndex{client: client, logger: logger}
	if err := idx.ensureSchema(context.Background()); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return idx, nil
}

func (idx *WeaviateIndex) ensureSchema(ctx context.Context) error {
	class := &models.Class{
		Class:      TemplateClassName,
		Vectorizer: "none",
		Properties: []*models.Property{
			{Name: "templateId", DataType: []string{"text"}},
		},
	}
	err := idx.client.Schema().ClassCreator().WithClass(class).Do(ctx)
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return err
	}
	return nil
}

func (idx *WeaviateIndex) Upsert(ctx context.Context, id string, embedding []float32) error {
	_ = idx.Delete(ctx, id)
	_, err := idx.client.Data().Creator().
		WithClassName(TemplateClassName).
		WithID(templateUUID(id)).
		WithProperties(map[string]interface{}{"templateId": id}).
		WithVector(embedding).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("upsert template %s: %w", id, err)
	}
	return nil
}

func (idx *WeaviateIndex) Delete(ctx context.Context, id string) error {
	err := idx.client.Data().Deleter().
		WithClassName(TemplateClassName).
		WithID(templateUUID(id)).
		Do(ctx)
	if err != nil && !strings.Contains(err.Error(), "not found") {
		return fmt.Errorf("delete template %s: %w", id, err)
	}
	return nil
}

func (idx *WeaviateIndex) Reset(ctx context.Context) error {
	err := idx.client.Schema().ClassDeleter().WithClassName(TemplateClassName).Do(ctx)
	if err != nil && !strings.Contains(err.Error(), "not found") {
		return fmt.Errorf("reset template class: %w", err)
	}
	return idx.ensureSchema(ctx)
}

func (idx *WeaviateIndex) Search(ctx context.Context, embedding []float32, k int) ([]Match, error) {
	nearVector := idx.client.GraphQL().NearVectorArgBuilder().WithVector(embedding)

	fields := []graphql.Field{
		{Name: "templateId"},
		{Name: "_additional", Fields: []graphql.Field{{Name: "certainty"}}},
	}

	result, err := idx.client.GraphQL().Get().
		WithClassName(TemplateClassName).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate search: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("weaviate search: %s", result.Errors[0].Message)
	}

	return parseTemplateMatches(result)
}

// templateSearchResponse mirrors the GraphQL Get shape for TemplateClassName,
// following the marshal-Data-then-unmarshal-into-a-typed-struct pattern this
// codebase uses for every Weaviate query result.
type templateSearchResponse struct {
	Get struct {
		ReasoningTemplate []struct {
			TemplateID string `json:"templateId"`
			Additional struct {
				Certainty float64 `json:"certainty"`
			} `json:"_additional"`
		} `json:"ReasoningTemplate"`
	} `json:"Get"`
}

func parseTemplateMatches(resp *models.GraphQLResponse) ([]Match, error) {
	if resp == nil {
		return nil, nil
	}
	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal graphql response: %w", err)
	}

	var parsed templateSearchResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal graphql response: %w", err)
	}

	matches := make([]Match, 0, len(parsed.Get.ReasoningTemplate))
	for _, row := range parsed.Get.ReasoningTemplate {
		matches = append(matches, Match{ID: row.TemplateID, Similarity: row.Additional.Certainty})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].ID < matches[j].ID
	})
	return matches, nil
}

// templateUUID derives a stable UUID-shaped id from a template slug so
// Weaviate's ID field (which requires UUID form) can key on it
// deterministically; re-upserting the same slug always targets the same
// object.
func templateUUID(id string) string {
	var sum uint64
	for _, r := range id {
		sum = sum*31 + uint64(r)
	}
	h := strconv.FormatUint(sum, 16)
	for len(h) < 12 {
		h = "0" + h
	}
	h = h[len(h)-12:]
	return fmt.Sprintf("00000000-0000-4000-8000-%s", h)
}
