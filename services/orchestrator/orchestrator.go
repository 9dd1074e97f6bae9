// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator provides the assistant's HTTP service.
//
// The Orchestrator owns the lifecycle of every component: tracing, metrics,
// the conversation store, LLM and search clients, and the gin router that
// fronts the chat pipeline.
//
// # Usage
//
//	cfg := orchestrator.Config{Port: 12210, KnowledgeBaseID: "SchoolDocs"}
//	svc, err := orchestrator.New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
//
// Custom audit sinks are passed through extensions.ServiceOptions:
//
//	opts := extensions.DefaultOptions().WithAudit(myAudit)
//	svc, err := orchestrator.New(cfg, &opts)
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AleutianAI/AleutianAssist/pkg/extensions"
	"github.com/AleutianAI/AleutianAssist/services/orchestrator/generator"
	"github.com/AleutianAI/AleutianAssist/services/orchestrator/middleware"
	"github.com/AleutianAI/AleutianAssist/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianAssist/services/orchestrator/routes"
	"github.com/AleutianAI/AleutianAssist/services/orchestrator/services"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the orchestrator service.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and should
// only be called once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until SIGINT/SIGTERM or a server
	// error. Resources are released before it returns.
	Run() error

	// Router returns the configured gin engine, primarily for tests.
	Router() *gin.Engine

	// Close releases resources without running the server.
	Close() error
}

// =============================================================================
// Configuration
// =============================================================================

// Timeouts bounds each external call of a turn. Zero fields take the
// defaults from applyConfigDefaults.
type Timeouts struct {
	History   time.Duration
	Classify  time.Duration
	Guardrail time.Duration
	Retrieve  time.Duration
	Presign   time.Duration
	Generate  time.Duration
	Persist   time.Duration
}

// DefaultTimeouts returns the production deadlines.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		History:   3 * time.Second,
		Classify:  5 * time.Second,
		Guardrail: 5 * time.Second,
		Retrieve:  10 * time.Second,
		Presign:   2 * time.Second,
		Generate:  60 * time.Second,
		Persist:   5 * time.Second,
	}
}

// Config holds orchestrator configuration options.
//
// # Description
//
// Values come from environment variables (cmd/orchestrator), the assist CLI
// config file, or tests. All fields are optional; New applies defaults.
//
// # Examples
//
//	// In-memory store, Chroma retrieval, policy guardrail
//	cfg := Config{
//	    StorePath:        store.InMemoryPath,
//	    KnowledgeBaseID:  "school_docs",
//	    RetrievalBackend: "chroma",
//	    GuardrailID:      "school-safety",
//	}
type Config struct {
	// Port is the HTTP server port. Default: 12210
	Port int

	// Region is recorded on every span. Default: us-west-2
	Region string

	// GinMode sets the gin framework mode. Empty keeps gin's own default.
	GinMode string

	// StorePath is the badger directory or store.InMemoryPath.
	// Default: ./data/conversations
	StorePath string

	// StoreTable namespaces store keys. Default: conversations
	StoreTable string

	// KnowledgeBaseID is the Weaviate class or Chroma collection. Empty
	// disables retrieval.
	KnowledgeBaseID string

	// RetrievalBackend is "weaviate" or "chroma". Default: weaviate
	RetrievalBackend string
	WeaviateURL      string
	ChromaURL        string

	// MaxResults caps retrieved passages before filtering. Default: 10
	MaxResults int

	// HistoryTurns is how many prior turns feed the dialogue. Default: 3
	HistoryTurns int

	// GuardrailID selects the guardrail. Empty disables it.
	GuardrailID string
	// GuardrailVersion defaults to "1".
	GuardrailVersion string
	// GuardrailBackend is "policy" or "openai". Default: policy
	GuardrailBackend string

	// LLMBackend is anthropic, openai, ollama or gemini. Default: ollama
	LLMBackend      string
	LLMModel        string
	LLMBaseURL      string
	ClassifierModel string

	// GCSCredentialsFile enables signed source URLs.
	GCSCredentialsFile string
	// URLExpiry is the signed URL lifetime. Default: 1h
	URLExpiry time.Duration

	// RateLimitRPS and RateLimitBurst bound the chat endpoints.
	// Defaults: 10 and 20. A negative RPS disables limiting.
	RateLimitRPS   float64
	RateLimitBurst int

	Timeouts Timeouts

	// Profile is the assistant identity used in canned replies and prompts.
	Profile generator.Profile

	// OTelEndpoint enables OTLP gRPC export when set.
	OTelEndpoint string
	// OTelStdout exports spans to stdout when no endpoint is set.
	OTelStdout bool
	// ServiceName labels spans and the otelgin middleware.
	// Default: assist-orchestrator
	ServiceName string
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New() returns.
type service struct {
	config        Config
	opts          extensions.ServiceOptions
	router        *gin.Engine
	registry      *prometheus.Registry
	metrics       *observability.AssistMetrics
	components    *Components
	tracerCleanup func(context.Context)
	logger        *slog.Logger
}

// =============================================================================
// Constructor
// =============================================================================

// New creates a new orchestrator Service with the given configuration.
//
// # Description
//
// New initializes all orchestrator components:
//  1. Applies default configuration for missing values
//  2. Initializes OpenTelemetry tracing
//  3. Registers Prometheus metrics on a private registry
//  4. Wires the chat pipeline (store, LLM, guardrail, search, signing)
//  5. Sets up HTTP routes
//
// If opts is nil, DefaultOptions() with a slog audit logger is used.
//
// # Outputs
//
//   - Service: Ready-to-run orchestrator service
//   - error: Non-nil if initialization fails. Nothing is left open.
func New(cfg Config, opts *extensions.ServiceOptions) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
		logger: slog.Default().With("component", "orchestrator"),
	}

	if opts != nil {
		s.opts = *opts
	} else {
		s.opts = extensions.DefaultOptions().WithAudit(extensions.NewSlogAuditLogger(nil))
	}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metrics = observability.NewAssistMetrics(s.registry)

	s.components, err = BuildComponents(context.Background(), s.config, s.opts, s.metrics, slog.Default())
	if err != nil {
		s.cleanup()
		return nil, err
	}

	s.initRouter()
	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until shutdown or error.
func (s *service) Run() error {
	defer s.cleanup()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting orchestrator server", "port", s.config.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Timeouts.Generate+5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Router returns the underlying gin engine.
func (s *service) Router() *gin.Engine {
	return s.router
}

// Close releases resources without serving.
func (s *service) Close() error {
	s.cleanup()
	return nil
}

// WithDefaults returns c with every unset field defaulted, as New does.
// Callers of BuildComponents outside New use it first.
func (c Config) WithDefaults() Config {
	return applyConfigDefaults(c)
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12210
	}
	if cfg.Region == "" {
		cfg.Region = "us-west-2"
	}
	if cfg.StorePath == "" {
		cfg.StorePath = "./data/conversations"
	}
	if cfg.StoreTable == "" {
		cfg.StoreTable = "conversations"
	}
	if cfg.RetrievalBackend == "" {
		cfg.RetrievalBackend = RetrievalWeaviate
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 10
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = services.DefaultHistoryTurns
	}
	if cfg.GuardrailVersion == "" {
		cfg.GuardrailVersion = "1"
	}
	if cfg.GuardrailBackend == "" {
		cfg.GuardrailBackend = GuardrailPolicy
	}
	if cfg.LLMBackend == "" {
		cfg.LLMBackend = "ollama"
	}
	if cfg.URLExpiry <= 0 {
		cfg.URLExpiry = time.Hour
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 10
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 20
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "assist-orchestrator"
	}

	def := DefaultTimeouts()
	t := &cfg.Timeouts
	for _, f := range []struct {
		v *time.Duration
		d time.Duration
	}{
		{&t.History, def.History},
		{&t.Classify, def.Classify},
		{&t.Guardrail, def.Guardrail},
		{&t.Retrieve, def.Retrieve},
		{&t.Presign, def.Presign},
		{&t.Generate, def.Generate},
		{&t.Persist, def.Persist},
	} {
		if *f.v <= 0 {
			*f.v = f.d
		}
	}

	profile := generator.DefaultProfile()
	if cfg.Profile.Name == "" {
		cfg.Profile.Name = profile.Name
	}
	if cfg.Profile.Organization == "" {
		cfg.Profile.Organization = profile.Organization
	}
	if len(cfg.Profile.Topics) == 0 {
		cfg.Profile.Topics = profile.Topics
	}
	return cfg
}

// initTracer installs the global tracer provider.
//
// # Description
//
// Exports over OTLP gRPC when OTelEndpoint is set, to stdout when OTelStdout
// is true, and nowhere otherwise. Spans carry the service name and region.
//
// # Outputs
//
//   - func(context.Context): Flushes and shuts down the provider.
//   - error: Non-nil if the exporter cannot be built.
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	var exporter sdktrace.SpanExporter
	switch {
	case s.config.OTelEndpoint != "":
		conn, err := grpc.NewClient(s.config.OTelEndpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
		}
		exporter, err = otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
	case s.config.OTelStdout:
		var err error
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(s.config.ServiceName),
			semconv.CloudRegionKey.String(s.config.Region),
		))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	providerOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
	}
	if exporter != nil {
		providerOpts = append(providerOpts, sdktrace.WithBatcher(exporter))
	}
	provider := sdktrace.NewTracerProvider(providerOpts...)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown tracer provider", "error", err)
		}
	}, nil
}

// initRouter creates the gin engine with recovery, tracing and routes.
func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.New()
	s.router.Use(middleware.Recovery(s.logger), gin.Logger())
	s.router.Use(otelgin.Middleware(s.config.ServiceName))

	routes.SetupRoutes(s.router, routes.Deps{
		Processor: s.components.Pipeline,
		Turns:     s.components.Turns,
		Metrics:   s.metrics,
		Gatherer:  s.registry,
		RateLimit: routes.RateLimit{RPS: s.config.RateLimitRPS, Burst: s.config.RateLimitBurst},
	})
}

// cleanup releases all resources held by the service. Safe to call twice.
func (s *service) cleanup() {
	if s.components != nil {
		if err := s.components.Close(); err != nil {
			s.logger.Warn("component close error", "error", err)
		}
	}
	if err := s.opts.Audit().Flush(context.Background()); err != nil {
		s.logger.Warn("audit flush error", "error", err)
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
		s.tracerCleanup = nil
	}
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
