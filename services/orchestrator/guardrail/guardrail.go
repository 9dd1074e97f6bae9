// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package guardrail screens user input and generated output against a
// content-safety policy.
//
// The Gate fails open: a moderator error never blocks a request. Only an
// explicit intervention does.
package guardrail

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("aleutian.assist.guardrail")

// Direction is the side of the exchange being checked.
type Direction string

const (
	DirectionInput  Direction = "INPUT"
	DirectionOutput Direction = "OUTPUT"
)

// Action is a moderator's decision.
type Action string

const (
	ActionNone       Action = "NONE"
	ActionIntervened Action = "GUARDRAIL_INTERVENED"
)

// Moderator evaluates text against a guardrail.
type Moderator interface {
	Moderate(ctx context.Context, guardrailID, version, text string, dir Direction) (Action, error)
}

// Verdict is the outcome of one check.
type Verdict struct {
	Allowed    bool
	Intervened bool
	// Err is set when the moderator failed and the gate failed open.
	Err error
}

// Config identifies the guardrail to apply.
type Config struct {
	// GuardrailID selects the policy. Empty disables the gate.
	GuardrailID string
	Version     string
	Timeout     time.Duration
}

// Gate applies one configured guardrail.
type Gate struct {
	moderator Moderator
	config    Config
	logger    *slog.Logger
}

// NewGate creates a gate. A nil moderator or empty guardrail id yields a
// disabled gate that allows everything.
func NewGate(moderator Moderator, cfg Config, logger *slog.Logger) *Gate {
	if cfg.Version == "" {
		cfg.Version = "1"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{moderator: moderator, config: cfg, logger: logger}
}

// Enabled reports whether checks reach the moderator.
func (g *Gate) Enabled() bool {
	return g != nil && g.moderator != nil && g.config.GuardrailID != ""
}

// Check screens text in the given direction.
//
// # Description
//
// Calls the moderator under the gate timeout. An intervention blocks;
// anything else, including errors and timeouts, allows.
//
// # Inputs
//
//   - ctx: Request context.
//   - text: Content to screen.
//   - dir: DirectionInput for user messages, DirectionOutput for generated text.
//
// # Outputs
//
//   - Verdict: Allowed is false only on an explicit intervention.
func (g *Gate) Check(ctx context.Context, text string, dir Direction) Verdict {
	if !g.Enabled() {
		return Verdict{Allowed: true}
	}

	ctx, span := tracer.Start(ctx, "Gate.Check")
	defer span.End()
	span.SetAttributes(
		attribute.String("guardrail.id", g.config.GuardrailID),
		attribute.String("guardrail.version", g.config.Version),
		attribute.String("guardrail.direction", string(dir)),
	)

	callCtx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	action, err := g.moderator.Moderate(callCtx, g.config.GuardrailID, g.config.Version, text, dir)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "moderator failed, allowing")
		g.logger.Warn("guardrail check failed, allowing content",
			"guardrail_id", g.config.GuardrailID,
			"direction", string(dir),
			"error", err)
		return Verdict{Allowed: true, Err: err}
	}

	if action == ActionIntervened {
		span.SetAttributes(attribute.Bool("guardrail.intervened", true))
		g.logger.Info("guardrail intervened",
			"guardrail_id", g.config.GuardrailID,
			"direction", string(dir))
		return Verdict{Allowed: false, Intervened: true}
	}
	return Verdict{Allowed: true}
}
