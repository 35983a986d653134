// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package inference

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/aleutianai/debatearena/pkg/domain"
	"github.com/aleutianai/debatearena/pkg/logging"
)

// OllamaClient talks to a local Ollama-compatible NDJSON streaming backend.
type OllamaClient struct {
	httpClient  *http.Client
	baseURL     string
	logger      *logging.Logger
	rateLimiter *rate.Limiter

	tracer trace.Tracer
}

// OllamaOption configures optional OllamaClient behavior beyond the
// required constructor arguments.
type OllamaOption func(*OllamaClient)

// WithStreamRateLimit paces delivered text deltas to at most perSecond per
// second, smoothing bursty local-model output before it reaches the SSE
// writer. A non-positive value disables pacing (the default).
func WithStreamRateLimit(perSecond float64) OllamaOption {
	return func(c *OllamaClient) {
		if perSecond > 0 {
			c.rateLimiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		}
	}
}

// WithHTTPTimeout overrides the default 5-minute HTTP client timeout,
// which bounds an entire request including however long its streaming
// body takes to fully drain. A non-positive value leaves the default.
func WithHTTPTimeout(d time.Duration) OllamaOption {
	return func(c *OllamaClient) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// NewOllamaClient builds a client against baseURL (e.g. http://localhost:11434).
func NewOllamaClient(baseURL string, logger *logging.Logger, opts ...OllamaOption) *OllamaClient {
	if logger == nil {
		logger = logging.Default()
	}
	c := &OllamaClient{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		baseURL:    baseURL,
		logger:     logger,
		tracer:     otel.Tracer("debatearena.inference.ollama"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ Client = (*OllamaClient)(nil)

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string               `json:"model"`
	Messages []ollamaChatMessage  `json:"messages"`
	Stream   bool                 `json:"stream"`
	Options  ollamaOptions        `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
}

type ollamaChatChunk struct {
	Model     string             `json:"model"`
	CreatedAt string             `json:"created_at"`
	Message   ollamaChatMessage  `json:"message"`
	Done      bool               `json:"done"`
	DoneReason string            `json:"done_reason"`
	Error     string             `json:"error"`
}

var (
	streamMetricsOnce  sync.Once
	streamTokenCount   metric.Int64Counter
	streamErrorCount   metric.Int64Counter
	streamDuration     metric.Float64Histogram
)

func initStreamMetrics() {
	streamMetricsOnce.Do(func() {
		meter := otel.Meter("debatearena.inference.ollama")
		streamTokenCount, _ = meter.Int64Counter("inference.stream.deltas")
		streamErrorCount, _ = meter.Int64Counter("inference.stream.errors")
		streamDuration, _ = meter.Float64Histogram("inference.stream.duration_seconds")
	})
}

// StreamChat streams a chat completion. Per spec.md §4.1: one automatic
// retry for backend_unreachable before the first delta is yielded; never
// retried afterward, and timeout/model_missing are never retried.
func (c *OllamaClient) StreamChat(ctx context.Context, model string, messages []Message, temperature float64, deadline time.Duration) (<-chan StreamChunk, error) {
	initStreamMetrics()

	ctx, span := c.tracer.Start(ctx, "OllamaClient.StreamChat")
	span.SetAttributes(attribute.String("model", model), attribute.Float64("temperature", temperature))

	req := buildChatRequest(model, messages, temperature)

	resp, err := c.executeStreamRequest(ctx, req)
	if err != nil {
		if ie, ok := domain.IsInferenceError(err); ok && ie.Retryable() {
			c.logger.Warn("retrying chat stream after transient failure", "model", model)
			time.Sleep(250 * time.Millisecond)
			resp, err = c.executeStreamRequest(ctx, req)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			streamErrorCount.Add(ctx, 1)
			return nil, err
		}
	}

	out := make(chan StreamChunk, 16)
	go c.readStreamResponse(ctx, resp, out, deadline, span)
	return out, nil
}

func buildChatRequest(model string, messages []Message, temperature float64) ollamaChatRequest {
	msgs := make([]ollamaChatMessage, len(messages))
	for i, m := range messages {
		msgs[i] = ollamaChatMessage{Role: string(m.Role), Content: m.Content}
	}
	return ollamaChatRequest{
		Model:    model,
		Messages: msgs,
		Stream:   true,
		Options:  ollamaOptions{Temperature: temperature},
	}
}

func (c *OllamaClient) executeStreamRequest(ctx context.Context, body ollamaChatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &domain.InferenceError{Kind: domain.InferenceBackendError, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, &domain.InferenceError{Kind: domain.InferenceBackendError, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &domain.InferenceError{Kind: domain.InferenceBackendUnreachable, Err: err}
	}

	if resp.StatusCode == http.StatusNotFound {
		defer resp.Body.Close()
		return nil, &domain.InferenceError{Kind: domain.InferenceModelMissing, Err: fmt.Errorf("model %q not found", body.Model)}
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &domain.InferenceError{Kind: domain.InferenceBackendError, Err: fmt.Errorf("backend returned %d: %s", resp.StatusCode, string(data))}
	}
	return resp, nil
}

// readStreamResponse scans NDJSON lines off resp.Body, forwarding each
// incremental content field as a StreamChunk. It does not retry: by the
// time it runs, at least the connection has succeeded, and any mid-stream
// failure may already have produced deltas (P8).
func (c *OllamaClient) readStreamResponse(ctx context.Context, resp *http.Response, out chan<- StreamChunk, deadline time.Duration, span trace.Span) {
	defer close(out)
	defer resp.Body.Close()
	defer span.End()

	start := time.Now()
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	deltaCh := make(chan StreamChunk)
	go func() {
		defer close(deltaCh)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			chunk, perr := parseChatChunk(line)
			if perr != nil {
				continue // malformed line: skip, matching the Ollama client's no-retry policy
			}
			if chunk.Error != "" {
				deltaCh <- StreamChunk{Err: &domain.InferenceError{Kind: domain.InferenceBackendError, Err: fmt.Errorf("%s", chunk.Error)}}
				return
			}
			if chunk.Message.Content != "" {
				deltaCh <- StreamChunk{Text: chunk.Message.Content}
			}
			if chunk.Done {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			deltaCh <- StreamChunk{Err: &domain.InferenceError{Kind: domain.InferenceBackendError, Err: err}}
		}
	}()

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			out <- StreamChunk{Err: &domain.InferenceError{Kind: cancellationKind(ctx), Err: ctx.Err()}}
			streamDuration.Record(ctx, time.Since(start).Seconds())
			return
		case <-timer.C:
			out <- StreamChunk{Err: &domain.InferenceError{Kind: domain.InferenceTimeout, Err: fmt.Errorf("no delta within %s", deadline)}}
			streamDuration.Record(ctx, time.Since(start).Seconds())
			return
		case chunk, ok := <-deltaCh:
			if !ok {
				streamDuration.Record(ctx, time.Since(start).Seconds())
				return
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(deadline)
			if chunk.Err != nil {
				out <- chunk
				streamDuration.Record(ctx, time.Since(start).Seconds())
				return
			}
			if c.rateLimiter != nil {
				if err := c.rateLimiter.Wait(ctx); err != nil {
					out <- StreamChunk{Err: &domain.InferenceError{Kind: cancellationKind(ctx), Err: err}}
					streamDuration.Record(ctx, time.Since(start).Seconds())
					return
				}
			}
			streamTokenCount.Add(ctx, 1)
			out <- chunk
		}
	}
}

// cancellationKind distinguishes a caller-initiated cancellation from the
// deadline this package itself enforces between deltas, so a mid-stream
// ctx cancellation surfaces as InferenceCancelled rather than
// InferenceTimeout.
func cancellationKind(ctx context.Context) domain.InferenceErrorKind {
	if errors.Is(ctx.Err(), context.Canceled) {
		return domain.InferenceCancelled
	}
	return domain.InferenceTimeout
}

func parseChatChunk(line []byte) (ollamaChatChunk, error) {
	var chunk ollamaChatChunk
	if err := json.Unmarshal(line, &chunk); err != nil {
		return ollamaChatChunk{}, err
	}
	return chunk, nil
}

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed requests a fixed-dimension embedding for text.
func (c *OllamaClient) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	ctx, span := c.tracer.Start(ctx, "OllamaClient.Embed")
	defer span.End()

	payload, err := json.Marshal(ollamaEmbedRequest{Model: model, Input: text})
	if err != nil {
		return nil, &domain.InferenceError{Kind: domain.InferenceBackendError, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, &domain.InferenceError{Kind: domain.InferenceBackendError, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &domain.InferenceError{Kind: domain.InferenceBackendUnreachable, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, &domain.InferenceError{Kind: domain.InferenceBackendError, Err: fmt.Errorf("embed returned %d: %s", resp.StatusCode, string(data))}
	}

	var out ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &domain.InferenceError{Kind: domain.InferenceBackendError, Err: err}
	}
	if len(out.Embeddings) == 0 {
		return nil, &domain.InferenceError{Kind: domain.InferenceBackendError, Err: fmt.Errorf("empty embedding response")}
	}
	return out.Embeddings[0], nil
}

type ollamaTagsResponse struct {
	Models []struct {
		Name       string    `json:"name"`
		Size       int64     `json:"size"`
		ModifiedAt time.Time `json:"modified_at"`
	} `json:"models"`
}

// ListModels enumerates models installed on the backend.
func (c *OllamaClient) ListModels(ctx context.Context) ([]ModelInfo, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, &domain.InferenceError{Kind: domain.InferenceBackendError, Err: err}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &domain.InferenceError{Kind: domain.InferenceBackendUnreachable, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &domain.InferenceError{Kind: domain.InferenceBackendError, Err: fmt.Errorf("tags returned %d", resp.StatusCode)}
	}

	var out ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &domain.InferenceError{Kind: domain.InferenceBackendError, Err: err}
	}

	models := make([]ModelInfo, len(out.Models))
	for i, m := range out.Models {
		models[i] = ModelInfo{Name: m.Name, SizeBytes: m.Size, ModifiedAt: m.ModifiedAt}
	}
	return models, nil
}
