// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides clients for the generative-model backends used by the
// assistant: Anthropic, OpenAI, Ollama and Gemini.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrEmptyCompletion is returned when a backend answers with no text.
var ErrEmptyCompletion = errors.New("empty completion")

// GenerationParams tunes a single completion. Nil fields use backend defaults.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`

	// Model overrides the client's default model for this call.
	Model string `json:"model,omitempty"`

	// System is an optional system prompt.
	System string `json:"system,omitempty"`
}

// LLMClient defines the standard interface for any LLM backend.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
}

// Float32 returns a pointer to v.
func Float32(v float32) *float32 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// Backend names accepted by NewClient.
const (
	BackendAnthropic = "anthropic"
	BackendOpenAI    = "openai"
	BackendOllama    = "ollama"
	BackendGemini    = "gemini"
)

// ClientConfig selects and configures a backend.
//
// Empty fields fall back to each backend's environment variables, then to
// built-in defaults.
type ClientConfig struct {
	Backend string
	Model   string
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

func (c ClientConfig) timeout(def time.Duration) time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return def
}

func (c ClientConfig) model(p GenerationParams, def string) string {
	if p.Model != "" {
		return p.Model
	}
	if c.Model != "" {
		return c.Model
	}
	return def
}

// NewClient builds the client named by cfg.Backend.
func NewClient(ctx context.Context, cfg ClientConfig) (LLMClient, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case BackendAnthropic, "claude":
		return NewAnthropicClient(cfg)
	case BackendOpenAI:
		return NewOpenAIClient(cfg)
	case BackendOllama, "":
		return NewOllamaClient(cfg)
	case BackendGemini:
		return NewGeminiClient(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown LLM backend %q", cfg.Backend)
	}
}
