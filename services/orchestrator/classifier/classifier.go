// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package classifier decides which response path a user message takes.
//
// The classifier asks a small LLM call to pick one of the three
// classification labels. It never fails: every error path resolves to
// knowledge_base with Fallback set.
package classifier

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianAssist/services/llm"
	"github.com/AleutianAI/AleutianAssist/services/orchestrator/datatypes"
	"github.com/tmc/langchaingo/prompts"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
)

var tracer = otel.Tracer("aleutian.assist.classifier")

// Fallback reasons reported in Result.Reason.
const (
	ReasonCallFailed   = "call_failed"
	ReasonEmptyOutput  = "empty_output"
	ReasonUnrecognized = "unrecognized_label"
	ReasonTimeout      = "timeout"
)

const classificationTemplate = `You are a query classifier for the {{.assistant}} chatbot. Your job is to classify user messages into one of these categories:

CATEGORIES:
1. "greeting" - Initial hellos, good morning/afternoon/evening, introductory messages
2. "farewell" - Thank you messages, goodbye, see you later, closing statements
3. "knowledge_base" - Any questions or requests for information ({{.domain}}-related or otherwise)

EXAMPLES:
- "Hi there" → greeting
- "Hello, how are you?" → greeting
- "Good morning!" → greeting
- "Thanks for your help" → farewell
- "Goodbye" → farewell
- "Thank you, that's all I needed" → farewell
- "What are the school hours?" → knowledge_base
- "How do I enroll my child?" → knowledge_base
- "Tell me about the math program" → knowledge_base
- "What's the weather like?" → knowledge_base
- "Can you help me with homework?" → knowledge_base
- "I need information about buses" → knowledge_base

USER MESSAGE: "{{.message}}"

Respond with ONLY the category name (greeting, farewell, or knowledge_base). No explanation needed.`

// Config tunes the classification call.
type Config struct {
	// AssistantName appears in the instruction prompt.
	AssistantName string
	// Domain names what the assistant covers ("school").
	Domain string
	// Model overrides the client's default model. Empty uses the default.
	Model   string
	Timeout time.Duration
}

// DefaultConfig returns the school help desk settings.
func DefaultConfig() Config {
	return Config{
		AssistantName: "Orcutt Schools Assistant",
		Domain:        "school",
		Timeout:       5 * time.Second,
	}
}

// Result is the outcome of one classification.
type Result struct {
	Label    datatypes.QueryType
	Fallback bool
	Reason   string
}

// LLMClassifier classifies messages with a short LLM completion.
//
// # Thread Safety
//
// Safe for concurrent use. Identical texts classified at the same time share
// one upstream call.
type LLMClassifier struct {
	client   llm.LLMClient
	template prompts.PromptTemplate
	config   Config
	logger   *slog.Logger
	group    singleflight.Group
}

// New creates a classifier over client.
func New(client llm.LLMClient, cfg Config, logger *slog.Logger) *LLMClassifier {
	def := DefaultConfig()
	if cfg.AssistantName == "" {
		cfg.AssistantName = def.AssistantName
	}
	if cfg.Domain == "" {
		cfg.Domain = def.Domain
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMClassifier{
		client:   client,
		template: prompts.NewPromptTemplate(classificationTemplate, []string{"assistant", "domain", "message"}),
		config:   cfg,
		logger:   logger,
	}
}

// Prompt renders the instruction prompt for text.
func (c *LLMClassifier) Prompt(text string) (string, error) {
	return c.template.Format(map[string]any{
		"assistant": c.config.AssistantName,
		"domain":    c.config.Domain,
		"message":   text,
	})
}

// Params returns the generation parameters used for classification.
func (c *LLMClassifier) Params() llm.GenerationParams {
	return llm.GenerationParams{
		MaxTokens:   llm.Int(10),
		Temperature: llm.Float32(0.1),
		TopP:        llm.Float32(0.9),
		Model:       c.config.Model,
	}
}

// Classify labels text. It always returns a label in the classification set.
//
// # Description
//
// Renders the few-shot prompt, calls the LLM under the configured timeout,
// and normalizes the reply. Any failure falls back to knowledge_base.
//
// # Inputs
//
//   - ctx: Request context. Cancellation ends the wait, not the shared call.
//   - text: The raw user message.
//
// # Outputs
//
//   - Result: Label plus whether and why the fallback was used.
func (c *LLMClassifier) Classify(ctx context.Context, text string) Result {
	ctx, span := tracer.Start(ctx, "LLMClassifier.Classify")
	defer span.End()

	ch := c.group.DoChan(text, func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.Timeout)
		defer cancel()
		return c.classify(callCtx, text), nil
	})

	var res Result
	select {
	case r := <-ch:
		res = r.Val.(Result)
	case <-ctx.Done():
		res = Result{Label: datatypes.QueryTypeKnowledgeBase, Fallback: true, Reason: ReasonTimeout}
	}

	span.SetAttributes(
		attribute.String("classifier.label", string(res.Label)),
		attribute.Bool("classifier.fallback", res.Fallback),
	)
	if res.Fallback {
		c.logger.Warn("classification fell back to knowledge_base", "reason", res.Reason)
	}
	return res
}

func (c *LLMClassifier) classify(ctx context.Context, text string) Result {
	prompt, err := c.Prompt(text)
	if err != nil {
		c.logger.Error("failed to render classification prompt", "error", err)
		return Result{Label: datatypes.QueryTypeKnowledgeBase, Fallback: true, Reason: ReasonCallFailed}
	}

	out, err := c.client.Generate(ctx, prompt, c.Params())
	if err != nil {
		reason := ReasonCallFailed
		if ctx.Err() != nil {
			reason = ReasonTimeout
		}
		c.logger.Warn("classification call failed", "error", err)
		return Result{Label: datatypes.QueryTypeKnowledgeBase, Fallback: true, Reason: reason}
	}

	label := Normalize(out)
	switch {
	case label == "":
		return Result{Label: datatypes.QueryTypeKnowledgeBase, Fallback: true, Reason: ReasonEmptyOutput}
	case !datatypes.QueryType(label).IsClassificationLabel():
		c.logger.Debug("unrecognized classifier output", "output", out)
		return Result{Label: datatypes.QueryTypeKnowledgeBase, Fallback: true, Reason: ReasonUnrecognized}
	}
	return Result{Label: datatypes.QueryType(label)}
}

// Normalize trims whitespace, surrounding quotes and one trailing period,
// then lower-cases.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ".")
	s = strings.Trim(s, "\"'`")
	s = strings.TrimSuffix(strings.TrimSpace(s), ".")
	return strings.ToLower(strings.TrimSpace(s))
}
