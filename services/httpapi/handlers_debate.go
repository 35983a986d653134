// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aleutianai/debatearena/pkg/domain"
)

// handleReason serves POST /api/reason. It validates, admits the request
// onto the bounded queue, registers the debate with the broker, and
// launches the orchestrator on a worker — returning the trace id
// immediately without waiting on the debate itself, per spec.md §6.
func (s *Server) handleReason(c *gin.Context) {
	var req reasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, domain.ValidationErrorf("invalid reason request: %v", err))
		return
	}
	if err := validate.Struct(&req); err != nil {
		respondError(c, domain.ValidationErrorf("invalid reason request: %v", err))
		return
	}

	config := req.Config.applyOverrides(s.defaultConfig)
	if err := config.Validate(); err != nil {
		respondError(c, err)
		return
	}

	if s.queued.Load() >= s.queueCap {
		respondError(c, &domain.BusyError{RetryAfterSeconds: 1})
		return
	}
	s.queued.Add(1)

	traceID := uuid.NewString()
	producer, err := s.broker.Register(traceID)
	if err != nil {
		s.queued.Add(-1)
		respondError(c, err)
		return
	}

	go s.runDebate(traceID, req.Query, config, producer)

	c.JSON(http.StatusOK, reasonResponse{TraceID: traceID, Config: config})
}

// eventProducer is the narrow slice of *broker.Producer this file needs.
type eventProducer interface {
	Emit(ev domain.Event) error
}

// runDebate acquires a concurrency-cap slot, drives the orchestrator to
// completion, and forwards every event to the broker. It runs detached
// from any single HTTP request's lifetime: the debate outlives the POST
// that started it and is unaffected by a later subscriber disconnecting.
func (s *Server) runDebate(traceID, query string, config domain.DebateConfig, producer eventProducer) {
	defer s.queued.Add(-1)

	ctx := context.Background()
	if err := s.runSem.Acquire(ctx, 1); err != nil {
		return
	}
	defer s.runSem.Release(1)

	events := s.orchestrator.Run(ctx, traceID, query, config)
	for ev := range events {
		if err := producer.Emit(ev); err != nil {
			s.logger.Warn("broker emit failed", "traceId", traceID, "error", err.Error())
		}
	}
}

// handleReasonStream serves GET /api/reason/:id/stream.
func (s *Server) handleReasonStream(c *gin.Context) {
	id := c.Param("id")

	events, err := s.broker.Subscribe(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	setSSEHeaders(c.Writer)
	writer, err := newSSEWriter(c.Writer)
	if err != nil {
		respondError(c, err)
		return
	}

	ctx := c.Request.Context()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if werr := writer.writeEvent(ev); werr != nil {
				s.logger.Warn("sse write failed", "traceId", id, "error", werr.Error())
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
