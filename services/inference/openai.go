// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package inference

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/aleutianai/debatearena/pkg/domain"
	"github.com/aleutianai/debatearena/pkg/logging"
)

// OpenAIClient is a second Client implementation, selected via
// INFERENCE_BACKEND_TYPE=openai. It satisfies the same streaming-chat
// contract as OllamaClient against any OpenAI-compatible API.
type OpenAIClient struct {
	client *openai.Client
	logger *logging.Logger
}

// NewOpenAIClient builds a client from an API key. An empty baseURL uses
// the default OpenAI endpoint; a non-empty one targets a compatible proxy.
// timeout bounds the underlying HTTP client, separately from the
// per-delta idle deadline StreamChat is called with.
func NewOpenAIClient(apiKey, baseURL string, timeout time.Duration, logger *logging.Logger) *OpenAIClient {
	if logger == nil {
		logger = logging.Default()
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if timeout > 0 {
		cfg.HTTPClient = &http.Client{Timeout: timeout}
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg), logger: logger}
}

var _ Client = (*OpenAIClient)(nil)

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		out[i] = openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content}
	}
	return out
}

// StreamChat streams a chat completion via the OpenAI streaming API. The
// same retry-before-first-delta policy applies as OllamaClient.
func (c *OpenAIClient) StreamChat(ctx context.Context, model string, messages []Message, temperature float64, deadline time.Duration) (<-chan StreamChunk, error) {
	stream, err := c.openStream(ctx, model, messages, temperature)
	if err != nil {
		if ie, ok := domain.IsInferenceError(err); ok && ie.Retryable() {
			c.logger.Warn("retrying openai stream after transient failure", "model", model)
			time.Sleep(250 * time.Millisecond)
			stream, err = c.openStream(ctx, model, messages, temperature)
		}
		if err != nil {
			return nil, err
		}
	}

	out := make(chan StreamChunk, 16)
	go c.relay(ctx, stream, out, deadline)
	return out, nil
}

func (c *OpenAIClient) openStream(ctx context.Context, model string, messages []Message, temperature float64) (*openai.ChatCompletionStream, error) {
	stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    toOpenAIMessages(messages),
		Temperature: float32(temperature),
		Stream:      true,
	})
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	return stream, nil
}

func (c *OpenAIClient) relay(ctx context.Context, stream *openai.ChatCompletionStream, out chan<- StreamChunk, deadline time.Duration) {
	defer close(out)
	defer stream.Close()

	deltaCh := make(chan StreamChunk)
	go func() {
		defer close(deltaCh)
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				deltaCh <- StreamChunk{Err: classifyOpenAIError(err)}
				return
			}
			if len(resp.Choices) > 0 {
				if text := resp.Choices[0].Delta.Content; text != "" {
					deltaCh <- StreamChunk{Text: text}
				}
			}
		}
	}()

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			out <- StreamChunk{Err: &domain.InferenceError{Kind: cancellationKind(ctx), Err: ctx.Err()}}
			return
		case <-timer.C:
			out <- StreamChunk{Err: &domain.InferenceError{Kind: domain.InferenceTimeout, Err: errDeadlineExceeded(deadline)}}
			return
		case chunk, ok := <-deltaCh:
			if !ok {
				return
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(deadline)
			out <- chunk
			if chunk.Err != nil {
				return
			}
		}
	}
}

// Embed returns an embedding vector via the OpenAI embeddings endpoint.
func (c *OpenAIClient) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: []string{text},
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	if len(resp.Data) == 0 {
		return nil, &domain.InferenceError{Kind: domain.InferenceBackendError, Err: errEmptyEmbedding}
	}
	return resp.Data[0].Embedding, nil
}

// ListModels enumerates models visible to this API key.
func (c *OpenAIClient) ListModels(ctx context.Context) ([]ModelInfo, error) {
	resp, err := c.client.ListModels(ctx)
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	models := make([]ModelInfo, len(resp.Models))
	for i, m := range resp.Models {
		models[i] = ModelInfo{
			Name:       m.ID,
			ModifiedAt: time.Unix(m.Created, 0),
		}
	}
	return models, nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 404:
			return &domain.InferenceError{Kind: domain.InferenceModelMissing, Err: err}
		case 408, 504:
			return &domain.InferenceError{Kind: domain.InferenceTimeout, Err: err}
		}
		return &domain.InferenceError{Kind: domain.InferenceBackendError, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &domain.InferenceError{Kind: domain.InferenceBackendUnreachable, Err: err}
	}
	return &domain.InferenceError{Kind: domain.InferenceBackendUnreachable, Err: err}
}
