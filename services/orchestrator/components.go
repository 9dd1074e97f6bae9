// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/AleutianAssist/pkg/extensions"
	"github.com/AleutianAI/AleutianAssist/services/llm"
	"github.com/AleutianAI/AleutianAssist/services/orchestrator/assembler"
	"github.com/AleutianAI/AleutianAssist/services/orchestrator/blobstore"
	"github.com/AleutianAI/AleutianAssist/services/orchestrator/classifier"
	"github.com/AleutianAI/AleutianAssist/services/orchestrator/generator"
	"github.com/AleutianAI/AleutianAssist/services/orchestrator/guardrail"
	"github.com/AleutianAI/AleutianAssist/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianAssist/services/orchestrator/retrieval"
	"github.com/AleutianAI/AleutianAssist/services/orchestrator/services"
	"github.com/AleutianAI/AleutianAssist/services/orchestrator/store"
)

// Retrieval and guardrail backends accepted in Config.
const (
	RetrievalWeaviate = "weaviate"
	RetrievalChroma   = "chroma"
	GuardrailPolicy   = "policy"
	GuardrailOpenAI   = "openai"
)

// Components is a fully wired chat pipeline plus the handles it owns.
//
// # Description
//
// Both the HTTP server and the assist CLI build their pipeline through
// BuildComponents so a turn behaves identically in either.
//
// # Thread Safety
//
// Pipeline and Turns are safe for concurrent use. Close must be called
// exactly once, after the last turn.
type Components struct {
	Pipeline *services.ChatPipeline
	Turns    store.TurnStore

	closers []func() error
}

// Close releases the database, search client and signing client.
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

// BuildComponents wires every pipeline component from cfg.
//
// # Description
//
// Construction order is store, LLM, classifier, guardrail, retriever,
// assembler, generator. Optional parts degrade instead of failing: an empty
// KnowledgeBaseID skips the search client, an empty GuardrailID yields a
// pass-through gate and an empty GCSCredentialsFile disables signed URLs.
//
// # Inputs
//
//   - ctx: Bounds client construction only.
//   - cfg: Configuration with defaults applied.
//   - opts: Extension options (audit logger).
//   - metrics: Pipeline metrics. May be nil.
//   - logger: Base logger. Nil uses slog.Default().
//
// # Outputs
//
//   - *Components: Ready pipeline. Call Close when done.
//   - error: Non-nil when a required component cannot be built. Anything
//     already opened is closed before returning.
func BuildComponents(ctx context.Context, cfg Config, opts extensions.ServiceOptions,
	metrics *observability.AssistMetrics, logger *slog.Logger) (*Components, error) {

	if logger == nil {
		logger = slog.Default()
	}
	c := &Components{}
	fail := func(err error) (*Components, error) {
		_ = c.Close()
		return nil, err
	}

	// Store
	storeCfg := store.DefaultConfig(cfg.StorePath)
	if cfg.StorePath == store.InMemoryPath {
		storeCfg = store.InMemoryConfig()
	}
	storeCfg.Table = cfg.StoreTable
	storeCfg.Logger = logger
	db, err := store.Open(storeCfg)
	if err != nil {
		return fail(fmt.Errorf("failed to open conversation store: %w", err))
	}
	c.closers = append(c.closers, db.Close)
	c.Turns = store.NewBadgerTurnStore(db, cfg.StoreTable, logger)

	// LLM
	llmClient, err := llm.NewClient(ctx, llm.ClientConfig{
		Backend: cfg.LLMBackend,
		Model:   cfg.LLMModel,
		BaseURL: cfg.LLMBaseURL,
	})
	if err != nil {
		return fail(fmt.Errorf("failed to initialize LLM client: %w", err))
	}
	logger.Info("LLM backend ready", "backend", cfg.LLMBackend, "model", cfg.LLMModel)

	// Classifier
	clsCfg := classifier.DefaultConfig()
	clsCfg.AssistantName = cfg.Profile.Name
	clsCfg.Model = cfg.ClassifierModel
	clsCfg.Timeout = cfg.Timeouts.Classify
	cls := classifier.New(llmClient, clsCfg, logger)

	// Guardrail
	moderator, err := buildModerator(cfg, logger)
	if err != nil {
		return fail(err)
	}
	gate := guardrail.NewGate(moderator, guardrail.Config{
		GuardrailID: cfg.GuardrailID,
		Version:     cfg.GuardrailVersion,
		Timeout:     cfg.Timeouts.Guardrail,
	}, logger)
	if !gate.Enabled() {
		logger.Warn("guardrail disabled, all text is allowed")
	}

	// Retriever
	searcher, closeSearcher, err := buildSearcher(cfg)
	if err != nil {
		return fail(err)
	}
	if closeSearcher != nil {
		c.closers = append(c.closers, closeSearcher)
	}
	retriever := retrieval.NewRetriever(searcher, retrieval.RetrieverConfig{
		MaxResults: cfg.MaxResults,
		Timeout:    cfg.Timeouts.Retrieve,
	}, logger)

	// Assembler
	var presigner blobstore.Presigner
	if cfg.GCSCredentialsFile != "" {
		gcs, err := blobstore.NewGCSPresigner(ctx, cfg.GCSCredentialsFile)
		if err != nil {
			logger.Warn("signed URLs disabled", "error", err)
		} else {
			presigner = gcs
			c.closers = append(c.closers, gcs.Close)
		}
	}
	asm := assembler.New(presigner, assembler.Config{
		URLExpiry:      cfg.URLExpiry,
		PresignTimeout: cfg.Timeouts.Presign,
	}, logger)

	// Generator
	gen := generator.New(llmClient, generator.Config{
		Profile: cfg.Profile,
		Timeout: cfg.Timeouts.Generate,
	}, logger)

	c.Pipeline, err = services.NewChatPipeline(services.Dependencies{
		Classifier: cls,
		Guardrail:  gate,
		Retriever:  retriever,
		Assembler:  asm,
		Generator:  gen,
		Store:      c.Turns,
		Metrics:    metrics,
		Options:    opts,
		Logger:     logger,
	}, services.PipelineConfig{
		KnowledgeBaseID: cfg.KnowledgeBaseID,
		HistoryTurns:    cfg.HistoryTurns,
		HistoryTimeout:  cfg.Timeouts.History,
		PersistTimeout:  cfg.Timeouts.Persist,
	})
	if err != nil {
		return fail(err)
	}
	return c, nil
}

// buildModerator returns nil when the guardrail is disabled.
func buildModerator(cfg Config, logger *slog.Logger) (guardrail.Moderator, error) {
	if cfg.GuardrailID == "" {
		return nil, nil
	}
	switch strings.ToLower(cfg.GuardrailBackend) {
	case GuardrailPolicy, "":
		m, err := guardrail.NewPolicyModerator(nil, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to load guardrail policy: %w", err)
		}
		if err := m.Supports(cfg.GuardrailID, cfg.GuardrailVersion); err != nil {
			return nil, fmt.Errorf("guardrail %q is not defined in the policy: %w", cfg.GuardrailID, err)
		}
		return m, nil
	case GuardrailOpenAI:
		api, err := llm.NewOpenAIAPI(llm.ClientConfig{})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize moderation client: %w", err)
		}
		return guardrail.NewOpenAIModerator(api, ""), nil
	default:
		return nil, fmt.Errorf("unknown guardrail backend %q", cfg.GuardrailBackend)
	}
}

// buildSearcher returns a nil searcher when no knowledge base is configured;
// the retriever never reaches it then.
func buildSearcher(cfg Config) (retrieval.Searcher, func() error, error) {
	if cfg.KnowledgeBaseID == "" {
		return nil, nil, nil
	}
	switch strings.ToLower(cfg.RetrievalBackend) {
	case RetrievalWeaviate, "":
		s, err := retrieval.NewWeaviateSearcher(cfg.WeaviateURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize weaviate searcher: %w", err)
		}
		return s, nil, nil
	case RetrievalChroma:
		s, err := retrieval.NewChromaSearcher(cfg.ChromaURL)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown retrieval backend %q", cfg.RetrievalBackend)
	}
}
