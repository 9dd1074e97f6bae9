// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieval queries the knowledge service for candidate passages and
// filters them by statistical relevance.
package retrieval

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianAssist/services/orchestrator/datatypes"
)

var tracer = otel.Tracer("aleutian.assist.retrieval")

// ErrKnowledgeBaseMissing is reported when retrieval is skipped because no
// knowledge base is configured.
var ErrKnowledgeBaseMissing = errors.New("no knowledge base configured")

// Searcher issues one semantic search against a vector store.
//
// Implementations return results in the store's native order; the Retriever
// sorts and caps them.
type Searcher interface {
	Search(ctx context.Context, query, knowledgeBaseID string, limit int) ([]datatypes.RetrievalResult, error)
}

// RetrieverConfig configures the Retriever.
type RetrieverConfig struct {
	// MaxResults caps the number of candidates. Default 10.
	MaxResults int

	// Timeout bounds a single search call. Default 10s.
	Timeout time.Duration
}

// DefaultRetrieverConfig returns the production defaults.
func DefaultRetrieverConfig() RetrieverConfig {
	return RetrieverConfig{
		MaxResults: 10,
		Timeout:    10 * time.Second,
	}
}

// Retrieval is the outcome of one retrieve call.
//
// Results is empty (never nil) whenever Err is set. Err is informational only;
// the caller proceeds with whatever Results holds.
type Retrieval struct {
	Results []datatypes.RetrievalResult
	Err     error
	Elapsed time.Duration
}

// Retriever runs best-effort semantic retrieval.
type Retriever struct {
	searcher Searcher
	config   RetrieverConfig
	logger   *slog.Logger
}

// NewRetriever creates a Retriever.
//
// Description:
//
//	Wraps a Searcher with result capping, descending score ordering, a per-call
//	timeout, and error suppression. Zero config fields take defaults.
//
// Inputs:
//
//	searcher - Vector store backend. Must not be nil.
//	config - Limits and timeout.
//	logger - Optional; slog.Default() when nil.
//
// Thread Safety: Retrieve is safe for concurrent use if the Searcher is.
func NewRetriever(searcher Searcher, config RetrieverConfig, logger *slog.Logger) *Retriever {
	defaults := DefaultRetrieverConfig()
	if config.MaxResults <= 0 {
		config.MaxResults = defaults.MaxResults
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{searcher: searcher, config: config, logger: logger}
}

// Retrieve returns at most MaxResults passages ranked by score descending.
//
// Description:
//
//	An empty knowledgeBaseID skips the call and reports
//	ErrKnowledgeBaseMissing. Search errors and timeouts are logged and yield
//	an empty result set. Retrieve never panics on searcher failure.
//
// Inputs:
//
//	ctx - Parent context; a per-call deadline is derived from it.
//	query - The user's question.
//	knowledgeBaseID - Class or collection to search.
//
// Outputs:
//
//	Retrieval - Results plus the suppressed error, if any.
func (r *Retriever) Retrieve(ctx context.Context, query, knowledgeBaseID string) Retrieval {
	start := time.Now()
	if knowledgeBaseID == "" {
		return Retrieval{Results: []datatypes.RetrievalResult{}, Err: ErrKnowledgeBaseMissing}
	}

	ctx, span := tracer.Start(ctx, "Retriever.Retrieve")
	defer span.End()
	span.SetAttributes(
		attribute.String("retrieval.knowledge_base", knowledgeBaseID),
		attribute.Int("retrieval.limit", r.config.MaxResults),
	)

	callCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	results, err := r.searcher.Search(callCtx, query, knowledgeBaseID, r.config.MaxResults)
	elapsed := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search failed")
		r.logger.Warn("knowledge retrieval failed, continuing without context",
			"knowledge_base", knowledgeBaseID,
			"elapsed_ms", elapsed.Milliseconds(),
			"error", err)
		return Retrieval{Results: []datatypes.RetrievalResult{}, Err: err, Elapsed: elapsed}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > r.config.MaxResults {
		results = results[:r.config.MaxResults]
	}
	if results == nil {
		results = []datatypes.RetrievalResult{}
	}

	span.SetAttributes(attribute.Int("retrieval.count", len(results)))
	r.logger.Debug("knowledge retrieval complete",
		"knowledge_base", knowledgeBaseID,
		"count", len(results),
		"elapsed_ms", elapsed.Milliseconds())
	return Retrieval{Results: results, Elapsed: elapsed}
}
