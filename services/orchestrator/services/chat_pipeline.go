// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package services provides business logic services for the orchestrator.
//
// ChatPipeline sequences one chat turn: history read, classification, input
// guardrail, retrieval with relevance filtering and context assembly,
// generation, output guardrail, and persistence. Components never call each
// other; only the pipeline orders them.
//
// Services are designed to be:
//   - Testable: Dependencies are injected via constructors
//   - Traceable: All methods accept context for distributed tracing
package services

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/AleutianAI/AleutianAssist/pkg/extensions"
	"github.com/AleutianAI/AleutianAssist/services/orchestrator/assembler"
	"github.com/AleutianAI/AleutianAssist/services/orchestrator/classifier"
	"github.com/AleutianAI/AleutianAssist/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianAssist/services/orchestrator/generator"
	"github.com/AleutianAI/AleutianAssist/services/orchestrator/guardrail"
	"github.com/AleutianAI/AleutianAssist/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianAssist/services/orchestrator/retrieval"
	"github.com/AleutianAI/AleutianAssist/services/orchestrator/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var pipelineTracer = otel.Tracer("aleutian.assist.services.chat_pipeline")

// =============================================================================
// Interfaces
// =============================================================================

// QueryClassifier labels a user message.
type QueryClassifier interface {
	Classify(ctx context.Context, text string) classifier.Result
}

// GuardrailGate screens text in one direction.
type GuardrailGate interface {
	Check(ctx context.Context, text string, dir guardrail.Direction) guardrail.Verdict
}

// KnowledgeRetriever fetches ranked passages for a question.
type KnowledgeRetriever interface {
	Retrieve(ctx context.Context, query, knowledgeBaseID string) retrieval.Retrieval
}

// ContextAssembler renders dialogue and knowledge context.
type ContextAssembler interface {
	DialogueContext(turns []datatypes.Turn) string
	KnowledgeContext(ctx context.Context, results []datatypes.RetrievalResult) assembler.Knowledge
}

// ResponseGenerator produces the reply for a strategy.
type ResponseGenerator interface {
	Generate(ctx context.Context, s generator.Strategy) generator.Response
}

var (
	_ QueryClassifier    = (*classifier.LLMClassifier)(nil)
	_ GuardrailGate      = (*guardrail.Gate)(nil)
	_ KnowledgeRetriever = (*retrieval.Retriever)(nil)
	_ ContextAssembler   = (*assembler.Assembler)(nil)
	_ ResponseGenerator  = (*generator.Generator)(nil)
)

// =============================================================================
// Configuration
// =============================================================================

// DefaultHistoryTurns is how many prior turns feed the dialogue context.
const DefaultHistoryTurns = 3

// PipelineConfig tunes the pipeline's own calls. Component timeouts live in
// each component's config.
type PipelineConfig struct {
	// KnowledgeBaseID selects the search class or collection. Empty disables
	// retrieval.
	KnowledgeBaseID string
	HistoryTurns    int
	HistoryTimeout  time.Duration
	PersistTimeout  time.Duration
}

// Dependencies are the components a pipeline sequences. All are required
// except Metrics, which may be nil.
type Dependencies struct {
	Classifier QueryClassifier
	Guardrail  GuardrailGate
	Retriever  KnowledgeRetriever
	Assembler  ContextAssembler
	Generator  ResponseGenerator
	Store      store.TurnStore
	Metrics    *observability.AssistMetrics
	Options    extensions.ServiceOptions
	Logger     *slog.Logger
	// Now overrides the clock. Nil uses time.Now.
	Now func() time.Time
}

// ChatPipeline runs single chat turns.
//
// # Thread Safety
//
// Safe for concurrent use. Each Process call is independent; the store
// serializes sequence assignment per session.
type ChatPipeline struct {
	deps   Dependencies
	config PipelineConfig
	audit  extensions.AuditLogger
	logger *slog.Logger
	now    func() time.Time
}

// NewChatPipeline wires a pipeline.
//
// # Outputs
//
//   - *ChatPipeline: Ready pipeline.
//   - error: Non-nil when a required dependency is missing.
func NewChatPipeline(deps Dependencies, cfg PipelineConfig) (*ChatPipeline, error) {
	switch {
	case deps.Classifier == nil:
		return nil, fmt.Errorf("chat pipeline: classifier is required")
	case deps.Guardrail == nil:
		return nil, fmt.Errorf("chat pipeline: guardrail is required")
	case deps.Retriever == nil:
		return nil, fmt.Errorf("chat pipeline: retriever is required")
	case deps.Assembler == nil:
		return nil, fmt.Errorf("chat pipeline: assembler is required")
	case deps.Generator == nil:
		return nil, fmt.Errorf("chat pipeline: generator is required")
	case deps.Store == nil:
		return nil, fmt.Errorf("chat pipeline: store is required")
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = DefaultHistoryTurns
	}
	if cfg.HistoryTimeout <= 0 {
		cfg.HistoryTimeout = 3 * time.Second
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 5 * time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &ChatPipeline{
		deps:   deps,
		config: cfg,
		audit:  deps.Options.Audit(),
		logger: logger.With("component", "chat_pipeline"),
		now:    now,
	}, nil
}

// =============================================================================
// Process
// =============================================================================

// Process handles one user message for one session.
//
// # Description
//
// Runs the turn end to end and always returns an outcome. Upstream failures
// degrade to safe defaults inside the components; a panic anywhere in the
// turn becomes the error outcome. Exactly one turn is persisted per call
// unless the store itself fails; a panic after the turn was written leaves
// that turn in place.
//
// # Inputs
//
//   - ctx: Request context. Persistence survives cancellation of ctx.
//   - message: Validated, non-blank user text.
//   - sessionID: Non-empty session id.
//
// # Outputs
//
//   - *datatypes.ChatOutcome: Never nil.
func (p *ChatPipeline) Process(ctx context.Context, message, sessionID string) (out *datatypes.ChatOutcome) {
	start := p.now()
	p.deps.Metrics.TurnStarted()
	defer p.deps.Metrics.TurnEnded()

	ctx, span := pipelineTracer.Start(ctx, "ChatPipeline.Process")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	var write turnWrite
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic in chat pipeline: %v", r)
			span.RecordError(err)
			span.SetStatus(codes.Error, "panic")
			p.logger.Error("chat pipeline panicked",
				"session_id", sessionID,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
			out = p.errorOutcome(ctx, message, sessionID, start, err, &write)
		}
		span.SetAttributes(
			attribute.String("chat.query_type", string(out.QueryType)),
			attribute.Bool("chat.success", out.Success),
		)
	}()

	// 1. History
	history := p.history(ctx, sessionID)

	// 2. Classify
	stageStart := p.now()
	cls := p.deps.Classifier.Classify(ctx, message)
	p.deps.Metrics.ObserveStage(observability.StageClassify, p.now().Sub(stageStart))
	if cls.Fallback {
		p.deps.Metrics.RecordClassifierFallback(cls.Reason)
	}
	label := cls.Label

	// 3. Input guardrail
	if v := p.check(ctx, message, guardrail.DirectionInput); !v.Allowed {
		return p.blockedOutcome(ctx, message, sessionID, start, guardrail.DirectionInput, &write)
	}

	// 4. Retrieve, filter, assemble
	var knowledge assembler.Knowledge
	var dialogue string
	if label == datatypes.QueryTypeKnowledgeBase {
		dialogue = p.deps.Assembler.DialogueContext(history)
		if p.config.KnowledgeBaseID != "" {
			knowledge = p.knowledge(ctx, message)
		}
	}

	// 5. Generate
	stageStart = p.now()
	strategy := generator.StrategyFor(label, message, dialogue, knowledge.Text, knowledge.Sources)
	resp := p.deps.Generator.Generate(ctx, strategy)
	p.deps.Metrics.ObserveStage(observability.StageGenerate, p.now().Sub(stageStart))

	// 6. Output guardrail on generated text
	if label == datatypes.QueryTypeKnowledgeBase && !resp.Failed {
		if v := p.check(ctx, resp.Text, guardrail.DirectionOutput); !v.Allowed {
			return p.blockedOutcome(ctx, message, sessionID, start, guardrail.DirectionOutput, &write)
		}
	}

	// 7. Persist
	total := datatypes.LatencyFromDuration(p.now().Sub(start))
	persisted := p.persist(ctx, &datatypes.Turn{
		SessionID:         sessionID,
		UserMessage:       message,
		AssistantResponse: resp.Text,
		QueryType:         label,
		Latency:           total,
	}, &write)

	outcome := observability.OutcomeSuccess
	if resp.Failed {
		outcome = observability.OutcomeFallback
	}
	p.deps.Metrics.RecordTurn(string(label), outcome)
	p.logger.Info("chat turn complete",
		"session_id", sessionID,
		"query_type", string(label),
		"classifier_fallback", cls.Fallback,
		"generation_fallback", resp.Failed,
		"sources", len(resp.Sources),
		"latency_ms", p.now().Sub(start).Milliseconds())

	return &datatypes.ChatOutcome{
		Success:   true,
		Answer:    resp.Text,
		SessionID: sessionID,
		QueryType: label,
		Latency:   total,
		Sources:   resp.Sources,
		Fallback:  resp.Failed,
		Persisted: persisted,
	}
}

// =============================================================================
// Stages
// =============================================================================

func (p *ChatPipeline) history(ctx context.Context, sessionID string) []datatypes.Turn {
	start := p.now()
	defer func() { p.deps.Metrics.ObserveStage(observability.StageHistory, p.now().Sub(start)) }()

	hctx, cancel := context.WithTimeout(ctx, p.config.HistoryTimeout)
	defer cancel()

	turns, err := p.deps.Store.RecentTurns(hctx, sessionID, p.config.HistoryTurns)
	if err != nil {
		p.deps.Metrics.RecordStoreError("read")
		p.logger.Warn("history read failed, continuing without history",
			"session_id", sessionID,
			"error", err)
		return nil
	}
	return turns
}

func (p *ChatPipeline) check(ctx context.Context, text string, dir guardrail.Direction) guardrail.Verdict {
	start := p.now()
	v := p.deps.Guardrail.Check(ctx, text, dir)
	p.deps.Metrics.ObserveStage(observability.StageGuardrail, p.now().Sub(start))
	p.deps.Metrics.RecordGuardrail(string(dir), v.Intervened, v.Err != nil)
	return v
}

func (p *ChatPipeline) knowledge(ctx context.Context, question string) assembler.Knowledge {
	start := p.now()
	r := p.deps.Retriever.Retrieve(ctx, question, p.config.KnowledgeBaseID)
	p.deps.Metrics.ObserveStage(observability.StageRetrieve, p.now().Sub(start))

	filtered, stats := retrieval.ApplyRelevanceFilter(r.Results)
	p.deps.Metrics.RecordRetrieval(stats.Total, stats.Kept, r.Err != nil)
	p.logger.Debug("relevance filter applied",
		"total", stats.Total,
		"kept", stats.Kept,
		"mean", stats.Mean,
		"std_dev", stats.StdDev)

	start = p.now()
	k := p.deps.Assembler.KnowledgeContext(ctx, filtered)
	p.deps.Metrics.ObserveStage(observability.StageAssemble, p.now().Sub(start))
	return k
}

// turnWrite records whether a Process call has already tried to store its
// turn, so a later panic does not store a second one.
type turnWrite struct {
	attempted bool
	ok        bool
}

// persist writes the turn with a deadline detached from request
// cancellation. Failures, including panics from the store, are logged and
// reported as false.
func (p *ChatPipeline) persist(ctx context.Context, turn *datatypes.Turn, w *turnWrite) (ok bool) {
	start := p.now()
	w.attempted = true
	defer func() {
		if r := recover(); r != nil {
			p.deps.Metrics.RecordStoreError("append")
			p.logger.Error("conversation store panicked", "session_id", turn.SessionID, "panic", fmt.Sprint(r))
			ok = false
		}
		w.ok = ok
		p.deps.Metrics.ObserveStage(observability.StagePersist, p.now().Sub(start))
	}()

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.config.PersistTimeout)
	defer cancel()

	if err := p.deps.Store.Append(pctx, turn); err != nil {
		p.deps.Metrics.RecordStoreError("append")
		p.logger.Error("failed to persist turn",
			"session_id", turn.SessionID,
			"query_type", string(turn.QueryType),
			"error", err)
		return false
	}
	return true
}

// =============================================================================
// Terminal outcomes
// =============================================================================

func (p *ChatPipeline) blockedOutcome(ctx context.Context, message, sessionID string, start time.Time, dir guardrail.Direction, w *turnWrite) *datatypes.ChatOutcome {
	text := generator.BlockedMessage
	if dir == guardrail.DirectionOutput {
		text = generator.OutputBlockedMessage
	}
	turn := &datatypes.Turn{
		SessionID:         sessionID,
		UserMessage:       message,
		AssistantResponse: text,
		QueryType:         datatypes.QueryTypeBlocked,
	}
	persisted := p.persist(ctx, turn, w)
	p.deps.Metrics.RecordTurn(string(datatypes.QueryTypeBlocked), observability.OutcomeBlocked)
	p.auditTurn(ctx, extensions.EventChatBlocked, "blocked", turn, map[string]any{"direction": string(dir)})
	p.logger.Info("chat turn blocked by guardrail",
		"session_id", sessionID,
		"direction", string(dir))

	return &datatypes.ChatOutcome{
		Success:   false,
		Answer:    text,
		SessionID: sessionID,
		QueryType: datatypes.QueryTypeBlocked,
		Latency:   datatypes.LatencyFromDuration(p.now().Sub(start)),
		Sources:   []datatypes.Source{},
		Persisted: persisted,
	}
}

// errorOutcome stores the error turn unless w shows the call already stored
// (or tried to store) its turn.
func (p *ChatPipeline) errorOutcome(ctx context.Context, message, sessionID string, start time.Time, cause error, w *turnWrite) *datatypes.ChatOutcome {
	turn := &datatypes.Turn{
		SessionID:         sessionID,
		UserMessage:       message,
		AssistantResponse: generator.ErrorMessage,
		QueryType:         datatypes.QueryTypeError,
	}
	persisted := w.ok
	if !w.attempted {
		persisted = p.persist(ctx, turn, w)
	}
	p.deps.Metrics.RecordTurn(string(datatypes.QueryTypeError), observability.OutcomeError)
	p.auditTurn(ctx, extensions.EventChatError, "error", turn, map[string]any{"error": cause.Error()})

	return &datatypes.ChatOutcome{
		Success:   false,
		Answer:    generator.ErrorMessage,
		SessionID: sessionID,
		QueryType: datatypes.QueryTypeError,
		Latency:   datatypes.LatencyFromDuration(p.now().Sub(start)),
		Sources:   []datatypes.Source{},
		Persisted: persisted,
	}
}

func (p *ChatPipeline) auditTurn(ctx context.Context, eventType, outcome string, turn *datatypes.Turn, meta map[string]any) {
	err := p.audit.Log(ctx, extensions.AuditEvent{
		EventType:  eventType,
		SessionID:  turn.SessionID,
		ResourceID: turn.MessageID,
		Outcome:    outcome,
		Metadata:   meta,
	})
	if err != nil {
		p.logger.Warn("audit log failed", "event_type", eventType, "error", err)
	}
}
