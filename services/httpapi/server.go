// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package httpapi

import (
	"context"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/semaphore"

	"github.com/aleutianai/debatearena/pkg/domain"
	"github.com/aleutianai/debatearena/pkg/logging"
	"github.com/aleutianai/debatearena/services/broker"
	"github.com/aleutianai/debatearena/services/inference"
)

// OrchestratorRunner is the subset of debate.Orchestrator the HTTP layer
// drives. It never inspects debate logic, only launches and forwards.
type OrchestratorRunner interface {
	Run(ctx context.Context, traceID, query string, config domain.DebateConfig) <-chan domain.Event
}

// TraceStore is the subset of tracestore.Store the HTTP layer queries.
type TraceStore interface {
	Get(ctx context.Context, id string) (*domain.DebateTrace, error)
	List(ctx context.Context, query domain.ListQuery) (domain.ListResult, error)
	Rate(ctx context.Context, id string, score int) error
}

// TemplateLister is the subset of templates.Store the health endpoint needs.
type TemplateLister interface {
	List() []domain.TemplateRef
}

// Server is the composed set of dependencies every handler closes over.
// It contains no debate logic: each handler validates, delegates to a
// collaborator, and shapes the response.
type Server struct {
	orchestrator  OrchestratorRunner
	broker        *broker.Broker
	traces        TraceStore
	templates     TemplateLister
	client        inference.Client
	defaultConfig domain.DebateConfig
	version       string
	logger        *logging.Logger

	runSem   *semaphore.Weighted
	queueCap int32
	queued   atomic.Int32
}

// Option configures optional Server fields beyond the required constructor
// arguments.
type Option func(*Server)

// WithQueueCap overrides the default admission queue capacity (16).
func WithQueueCap(n int32) Option {
	return func(s *Server) { s.queueCap = n }
}

// New builds a Server. concurrencyCap bounds how many debates may run their
// orchestrator pipeline simultaneously (spec.md §5; a value below 1 falls
// back to the default of 2); further admitted requests wait behind a
// semaphore. queueCap (default 16) bounds the admitted debates that have not
// finished, running and waiting together; a request beyond it is rejected
// with Busy.
func New(orchestrator OrchestratorRunner, b *broker.Broker, traces TraceStore, tmpl TemplateLister, client inference.Client, defaultConfig domain.DebateConfig, concurrencyCap int, version string, logger *logging.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = logging.Default()
	}
	if concurrencyCap < 1 {
		concurrencyCap = 2
	}
	s := &Server{
		orchestrator:  orchestrator,
		broker:        b,
		traces:        traces,
		templates:     tmpl,
		client:        client,
		defaultConfig: defaultConfig,
		version:       version,
		logger:        logger,
		runSem:        semaphore.NewWeighted(int64(concurrencyCap)),
		queueCap:      16,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the gin.Engine with every route from spec.md §6 wired to
// this Server's handlers.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/models", s.handleModels)
		api.POST("/reason", s.handleReason)
		api.GET("/reason/:id/stream", s.handleReasonStream)
		api.GET("/traces", s.handleListTraces)
		api.GET("/traces/:id", s.handleGetTrace)
		api.POST("/traces/:id/rate", s.handleRateTrace)
	}

	return r
}
