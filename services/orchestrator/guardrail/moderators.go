// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package guardrail

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AleutianAssist/services/policy_engine"
	"github.com/sashabaranov/go-openai"
)

// =============================================================================
// Policy moderator
// =============================================================================

// PolicyModerator checks text against the embedded policy engine.
type PolicyModerator struct {
	engine *policy_engine.PolicyEngine
	logger *slog.Logger
}

var _ Moderator = (*PolicyModerator)(nil)

// NewPolicyModerator wraps engine. A nil engine loads the embedded policy.
func NewPolicyModerator(engine *policy_engine.PolicyEngine, logger *slog.Logger) (*PolicyModerator, error) {
	if engine == nil {
		var err error
		engine, err = policy_engine.NewPolicyEngine()
		if err != nil {
			return nil, fmt.Errorf("load guardrail policy: %w", err)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PolicyModerator{engine: engine, logger: logger}, nil
}

// Supports reports whether the loaded policy defines guardrailID at version.
// It returns the engine's ErrUnknownGuardrail otherwise.
func (p *PolicyModerator) Supports(guardrailID, version string) error {
	_, err := p.engine.Guardrail(guardrailID, version)
	return err
}

// Moderate implements Moderator.
func (p *PolicyModerator) Moderate(ctx context.Context, guardrailID, version, text string, dir Direction) (Action, error) {
	if err := ctx.Err(); err != nil {
		return ActionNone, err
	}
	pdir := policy_engine.DirectionInput
	if dir == DirectionOutput {
		pdir = policy_engine.DirectionOutput
	}
	findings, err := p.engine.ScanContent(guardrailID, version, pdir, text)
	if err != nil {
		return ActionNone, err
	}
	for _, f := range findings {
		p.logger.Debug("guardrail finding",
			"pattern_id", f.PatternId,
			"classification", f.ClassificationName,
			"action", string(f.Action))
	}
	if policy_engine.Intervenes(findings) {
		return ActionIntervened, nil
	}
	return ActionNone, nil
}

// =============================================================================
// OpenAI moderator
// =============================================================================

// ModerationAPI is the slice of the go-openai client used here.
type ModerationAPI interface {
	Moderations(ctx context.Context, request openai.ModerationRequest) (openai.ModerationResponse, error)
}

// OpenAIModerator uses the OpenAI moderation endpoint. The guardrail id
// and version only label the check; any flagged result intervenes.
type OpenAIModerator struct {
	api   ModerationAPI
	model string
}

var _ Moderator = (*OpenAIModerator)(nil)

// NewOpenAIModerator creates a moderator. An empty model uses the API default.
func NewOpenAIModerator(api ModerationAPI, model string) *OpenAIModerator {
	return &OpenAIModerator{api: api, model: model}
}

// Moderate implements Moderator.
func (o *OpenAIModerator) Moderate(ctx context.Context, _, _, text string, _ Direction) (Action, error) {
	resp, err := o.api.Moderations(ctx, openai.ModerationRequest{Input: text, Model: o.model})
	if err != nil {
		return ActionNone, fmt.Errorf("openai moderation: %w", err)
	}
	for _, r := range resp.Results {
		if r.Flagged {
			return ActionIntervened, nil
		}
	}
	return ActionNone, nil
}
