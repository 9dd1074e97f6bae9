// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package generator produces the assistant's reply for a classified message.
//
// Greetings and farewells are fixed texts. Knowledge-base questions are
// answered by the LLM from a prompt carrying the dialogue and the retrieved
// passages. Generation never returns an error: a failed call yields the
// fixed apology with Failed set.
package generator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianAssist/services/llm"
	"github.com/AleutianAI/AleutianAssist/services/orchestrator/datatypes"
	"github.com/tmc/langchaingo/prompts"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("aleutian.assist.generator")

// =============================================================================
// Strategies
// =============================================================================

// Strategy selects how a reply is produced. The set of implementations is
// closed: Greeting, Farewell and KnowledgeBase.
type Strategy interface {
	Label() datatypes.QueryType
	isStrategy()
}

// Greeting answers with the profile's greeting text.
type Greeting struct{}

// Farewell answers with the profile's farewell text.
type Farewell struct{}

// KnowledgeBase answers a question from dialogue and retrieved knowledge.
type KnowledgeBase struct {
	Question  string
	Dialogue  string
	Knowledge string
	Sources   []datatypes.Source
}

func (Greeting) Label() datatypes.QueryType      { return datatypes.QueryTypeGreeting }
func (Farewell) Label() datatypes.QueryType      { return datatypes.QueryTypeFarewell }
func (KnowledgeBase) Label() datatypes.QueryType { return datatypes.QueryTypeKnowledgeBase }

func (Greeting) isStrategy()      {}
func (Farewell) isStrategy()      {}
func (KnowledgeBase) isStrategy() {}

// StrategyFor maps a classification label to its strategy. Anything other
// than greeting or farewell is answered from the knowledge base.
func StrategyFor(label datatypes.QueryType, question, dialogue, knowledge string, sources []datatypes.Source) Strategy {
	switch label {
	case datatypes.QueryTypeGreeting:
		return Greeting{}
	case datatypes.QueryTypeFarewell:
		return Farewell{}
	default:
		return KnowledgeBase{
			Question:  question,
			Dialogue:  dialogue,
			Knowledge: knowledge,
			Sources:   sources,
		}
	}
}

// =============================================================================
// Generator
// =============================================================================

const knowledgeBaseTemplate = `
You are an intelligent assistant for {{.organization}} that provides helpful information to students, parents, staff, and community members.

Today's date is {{.date}}. Answer according to today's date

Recent conversation context:
{{.dialogue}}

Knowledge Base Context:
{{.knowledge}}

Current User Question: {{.question}}

Use retrieved context to provide accurate, detailed responses
If information is insufficient, clearly state "I don't have specific information about [topic]"
Suggest contacting {{.organization}} directly when appropriate
NEVER say "The provided context does not relate to your question"
If the meeting_date for sources is given, use the source with the latest meeting_date but do not mention the meeting_date in your answer

STEP-BY-STEP GUIDANCE:
For complex processes (enrollment, registration, applications), provide complete information first
At the end of complex responses, ask: "Would you like me to walk you through this step-by-step instead?"
If user requests step-by-step guidance, break down the previous response into individual steps
Strictly Present one step at a time and wait for user confirmation before continuing
Handle topic changes gracefully - if user asks new questions, start fresh

RESPONSE GUIDELINES:
Be conversational and helpful, not robotic
Provide specific details when available (dates, contact info, requirements)
Structure responses clearly with relevant details
Double-check contact information for accuracy
Suggest related resources or next steps when appropriate
Always prioritize accuracy, helpfulness, and user experience in your responses.
Do not explain your reasoning of the response
`

// Config tunes generation.
type Config struct {
	Profile Profile
	// Model overrides the client's default model.
	Model   string
	Timeout time.Duration
	// Now is the clock used for the prompt date and latency.
	Now func() time.Time
}

// Response is the generated reply.
type Response struct {
	Text    string
	Sources []datatypes.Source
	Latency datatypes.Latency
	// Failed is set when the LLM call failed and Text is the apology.
	Failed bool
}

// Generator renders replies for each strategy.
type Generator struct {
	client   llm.LLMClient
	template prompts.PromptTemplate
	config   Config
	logger   *slog.Logger
}

// New creates a generator. client may be nil when only canned replies are
// needed; knowledge-base generation then always fails over to the apology.
func New(client llm.LLMClient, cfg Config, logger *slog.Logger) *Generator {
	cfg.Profile = cfg.Profile.withDefaults()
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		client: client,
		template: prompts.NewPromptTemplate(knowledgeBaseTemplate,
			[]string{"organization", "date", "dialogue", "knowledge", "question"}),
		config: cfg,
		logger: logger,
	}
}

// Profile returns the assistant profile in use.
func (g *Generator) Profile() Profile { return g.config.Profile }

// Params returns the parameters for knowledge-base answers.
func (g *Generator) Params() llm.GenerationParams {
	return llm.GenerationParams{
		MaxTokens:   llm.Int(2000),
		Temperature: llm.Float32(0.3),
		TopP:        llm.Float32(0.9),
		Model:       g.config.Model,
	}
}

// Prompt renders the knowledge-base prompt.
func (g *Generator) Prompt(kb KnowledgeBase) (string, error) {
	return g.template.Format(map[string]any{
		"organization": g.config.Profile.Organization,
		"date":         g.config.Now().Format("2006-01-02"),
		"dialogue":     kb.Dialogue,
		"knowledge":    kb.Knowledge,
		"question":     kb.Question,
	})
}

// Generate produces the reply for s.
//
// # Description
//
// Greeting and Farewell return fixed texts immediately. KnowledgeBase calls
// the LLM under the configured timeout and carries the strategy's sources
// through on success.
//
// # Outputs
//
//   - Response: On failure Text is GenerationFallback, Latency is zero,
//     Sources is empty and Failed is true.
func (g *Generator) Generate(ctx context.Context, s Strategy) Response {
	start := g.config.Now()
	switch st := s.(type) {
	case Greeting:
		return Response{Text: g.config.Profile.Greeting(), Latency: g.since(start)}
	case Farewell:
		return Response{Text: g.config.Profile.Farewell(), Latency: g.since(start)}
	case KnowledgeBase:
		return g.generateKnowledge(ctx, st, start)
	default:
		g.logger.Error("unknown response strategy", "strategy", fmt.Sprintf("%T", s))
		return failed()
	}
}

func (g *Generator) generateKnowledge(ctx context.Context, kb KnowledgeBase, start time.Time) Response {
	ctx, span := tracer.Start(ctx, "Generator.KnowledgeBase")
	defer span.End()
	span.SetAttributes(attribute.Int("generator.sources", len(kb.Sources)))

	if g.client == nil {
		span.SetStatus(codes.Error, "no llm client")
		return failed()
	}

	prompt, err := g.Prompt(kb)
	if err != nil {
		span.RecordError(err)
		g.logger.Error("failed to render knowledge prompt", "error", err)
		return failed()
	}

	callCtx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	text, err := g.client.Generate(callCtx, prompt, g.Params())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.logger.Error("response generation failed", "error", err)
		return failed()
	}
	if text == "" {
		span.SetStatus(codes.Error, llm.ErrEmptyCompletion.Error())
		return failed()
	}

	sources := kb.Sources
	if sources == nil {
		sources = []datatypes.Source{}
	}
	return Response{Text: text, Sources: sources, Latency: g.since(start)}
}

func (g *Generator) since(start time.Time) datatypes.Latency {
	return datatypes.LatencyFromDuration(g.config.Now().Sub(start))
}

func failed() Response {
	return Response{Text: GenerationFallback, Sources: []datatypes.Source{}, Failed: true}
}
