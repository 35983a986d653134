// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package server is the composition root: it wires config into concrete
// inference, retrieval, storage, broker, and orchestrator implementations,
// then hands the assembled dependencies to httpapi and runs the HTTP
// server.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/aleutianai/debatearena/pkg/config"
	"github.com/aleutianai/debatearena/pkg/domain"
	"github.com/aleutianai/debatearena/pkg/logging"
	"github.com/aleutianai/debatearena/services/broker"
	"github.com/aleutianai/debatearena/services/debate"
	"github.com/aleutianai/debatearena/services/httpapi"
	"github.com/aleutianai/debatearena/services/inference"
	"github.com/aleutianai/debatearena/services/observability"
	"github.com/aleutianai/debatearena/services/prompts"
	"github.com/aleutianai/debatearena/services/templates"
	"github.com/aleutianai/debatearena/services/tracestore"
	"github.com/aleutianai/debatearena/services/tracestore/badgerstore"
)

// Service owns every long-lived component started by New and stopped by
// Shutdown: the trace database, the template watcher, the event broker,
// and the tracer's span exporter.
type Service struct {
	cfg config.Config

	router *gin.Engine
	http   *http.Server

	db      *badgerstore.DB
	watcher *templates.DirWatcher
	broker  *broker.Broker

	tracerCleanup func(context.Context)
	logger        *logging.Logger
}

// New wires every component described by SPEC_FULL.md into a ready-to-run
// Service. It never blocks; call Run to start serving.
func New(cfg config.Config) (*Service, error) {
	logger := logging.New(logging.Config{
		Level:   cfg.LogLevel,
		Service: "debatearena",
	})

	s := &Service{cfg: cfg, logger: logger}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	client, err := s.initInferenceClient()
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("init inference client: %w", err)
	}

	db, err := badgerstore.Open(badgerstore.Config{Path: cfg.TraceStorePath})
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("open trace store: %w", err)
	}
	s.db = db

	traces, err := tracestore.Open(db, logger)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("init trace store: %w", err)
	}

	templateStore, err := s.initTemplateStore(client)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("init template store: %w", err)
	}

	promptSource := prompts.NewFilePromptSource("")

	var metrics *observability.Metrics
	if cfg.MetricsEnable {
		metrics = observability.NewMetrics(prometheus.DefaultRegisterer)
	}

	b := broker.New(0, 0, 0, logger)
	b.Start(context.Background())
	s.broker = b

	orchestrator := debate.New(client, templateStore, traces, promptSource, cfg.EmbeddingModel, logger)

	defaultConfig := domain.DebateConfig{
		MinRounds:        cfg.MinRounds,
		MaxRounds:        cfg.MaxRounds,
		EarlyStopScore:   cfg.EarlyStopScore,
		ProposerModel:    cfg.ProposerModel,
		SkepticModel:     cfg.SkepticModel,
		SynthesizerModel: cfg.SynthesizerModel,
		ProposerTemp:     cfg.ProposerTemp,
		SkepticTemp:      cfg.SkepticTemp,
		SynthesizerTemp:  cfg.SynthesizerTemp,
		RAGTopK:          cfg.RAGTopK,
		SimilarityFloor:  cfg.SimilarityFloor,
		PerCallTimeout:   cfg.PerCallTimeout,
	}

	httpServer := httpapi.New(
		orchestratorAdapter{orchestrator, metrics},
		b,
		traces,
		templateStore,
		client,
		defaultConfig,
		cfg.ConcurrencyCap,
		version,
		logger,
		httpapi.WithQueueCap(int32(cfg.QueueCap)),
	)

	s.router = s.buildRouter(httpServer)

	return s, nil
}

// version is stamped into /api/health responses.
const version = "0.1.0"

// buildRouter assembles the gin.Engine: the httpapi route group, tracing
// middleware, and an optional Prometheus scrape endpoint. gin attaches
// middleware only to routes registered after Use, so the otelgin
// middleware covers /metrics and not the /api routes, which h.Router()
// has already registered.
func (s *Service) buildRouter(h *httpapi.Server) *gin.Engine {
	r := h.Router()
	r.Use(otelgin.Middleware("debatearena"))
	if s.cfg.MetricsEnable {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
	return r
}

// Run binds the configured host:port and blocks until the server stops.
func (s *Service) Run() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.HTTPHost, s.cfg.HTTPPort)
	s.http = &http.Server{Addr: addr, Handler: s.router}

	s.logger.Info("starting debatearena server", "addr", addr)
	err := s.http.ListenAndServe()
	s.cleanup()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Router exposes the assembled gin.Engine for integration testing.
func (s *Service) Router() *gin.Engine {
	return s.router
}

// Shutdown gracefully stops the HTTP listener and releases resources.
func (s *Service) Shutdown(ctx context.Context) error {
	var err error
	if s.http != nil {
		err = s.http.Shutdown(ctx)
	}
	s.cleanup()
	return err
}

func (s *Service) cleanup() {
	if s.watcher != nil {
		s.watcher.Stop()
	}
	if s.broker != nil {
		s.broker.Stop()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// initTracer wires OpenTelemetry tracing to an OTLP/gRPC collector, mirroring
// the teacher's insecure-local-collector setup. A misconfigured endpoint is
// not fatal to startup — spans simply fail to export.
func (s *Service) initTracer() (func(context.Context), error) {
	if s.cfg.OTelEndpoint == "" {
		return func(context.Context) {}, nil
	}

	ctx := context.Background()

	conn, err := grpc.NewClient(s.cfg.OTelEndpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial: %w", err)
	}

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("trace exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceNameKey.String("debatearena")))
	if err != nil {
		return nil, fmt.Errorf("resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("tracer shutdown failed", "error", err.Error())
		}
	}, nil
}

// initInferenceClient selects the backend client by cfg.InferenceBackendType.
func (s *Service) initInferenceClient() (inference.Client, error) {
	switch s.cfg.InferenceBackendType {
	case "openai":
		return inference.NewOpenAIClient(s.cfg.OpenAIAPIKey, s.cfg.BackendBaseURL, s.cfg.BackendTimeout, s.logger), nil
	case "ollama", "":
		return inference.NewOllamaClient(
			s.cfg.BackendBaseURL,
			s.logger,
			inference.WithStreamRateLimit(s.cfg.StreamRateLimitPerSecond),
			inference.WithHTTPTimeout(s.cfg.BackendTimeout),
		), nil
	default:
		return nil, fmt.Errorf("unknown inference backend type %q", s.cfg.InferenceBackendType)
	}
}

// initTemplateStore builds the vector index (Weaviate if configured,
// in-process cosine index otherwise), reindexes configured template
// directories, and — if enabled — starts a filesystem watcher that keeps
// the index current as templates are edited.
func (s *Service) initTemplateStore(client inference.Client) (*templates.Store, error) {
	var index templates.Index
	if s.cfg.WeaviateURL != "" {
		weaviateIndex, err := templates.NewWeaviateIndex(s.cfg.WeaviateURL, s.logger)
		if err != nil {
			s.logger.Warn("weaviate index unavailable, falling back to in-process index", "error", err.Error())
			index = templates.NewCosineIndex()
		} else {
			index = weaviateIndex
		}
	} else {
		index = templates.NewCosineIndex()
	}

	store := templates.NewStore(client, index, s.cfg.EmbeddingModel, s.cfg.SimilarityFloor, s.logger)

	ctx := context.Background()
	n, err := store.Reindex(ctx, s.cfg.TemplateDirs)
	if err != nil {
		s.logger.Warn("initial template reindex failed", "error", err.Error())
	} else {
		s.logger.Info("templates indexed", "count", n)
	}

	if s.cfg.TemplateWatch {
		watcher, err := templates.NewDirWatcher(store, s.cfg.TemplateDirs, s.logger)
		if err != nil {
			s.logger.Warn("template watcher unavailable", "error", err.Error())
		} else {
			watcher.Start(ctx)
			s.watcher = watcher
		}
	}

	return store, nil
}

// orchestratorAdapter satisfies httpapi.OrchestratorRunner while recording
// debate-lifecycle metrics around the orchestrator's event stream, keeping
// the debate package itself free of an observability dependency.
type orchestratorAdapter struct {
	orchestrator *debate.Orchestrator
	metrics      *observability.Metrics
}

func (a orchestratorAdapter) Run(ctx context.Context, traceID, query string, cfg domain.DebateConfig) <-chan domain.Event {
	events := a.orchestrator.Run(ctx, traceID, query, cfg)
	if a.metrics == nil {
		return events
	}

	out := make(chan domain.Event, cap(events))
	go func() {
		defer close(out)
		a.metrics.DebateStarted()
		defer a.metrics.DebateFinished()

		start := time.Now()
		stage := "rag"
		for ev := range events {
			switch ev.Type {
			case domain.EventProposerStarted:
				stage = "proposer"
			case domain.EventSkepticStarted:
				stage = "skeptic"
			case domain.EventSynthesisStarted:
				stage = "synthesizer"
			case domain.EventSynthesisCompleted:
				stage = "scoring"
			}
			if ev.Terminal() {
				outcome := "completed"
				if ev.Type == domain.EventFailed {
					outcome = "failed"
					a.metrics.RecordError(stage, string(ev.Kind))
				} else if ev.Trace != nil && ev.Trace.EarlyStopped {
					outcome = "early_stopped"
				}
				rounds := 0
				if ev.Trace != nil {
					rounds = ev.Trace.TotalRounds
				}
				a.metrics.RecordOutcome(outcome, rounds, time.Since(start).Seconds())
			}
			out <- ev
		}
	}()
	return out
}
