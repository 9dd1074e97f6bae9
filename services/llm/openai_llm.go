// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/sashabaranov/go-openai"
)

const (
	openAIDefaultModel = "gpt-4o-mini"
	openAISecretPath   = "/run/secrets/openai_api_key"
)

// OpenAIClient wraps go-openai chat completions.
type OpenAIClient struct {
	client *openai.Client
	config ClientConfig
}

var _ LLMClient = (*OpenAIClient)(nil)

// NewOpenAIClient creates a client. The key comes from cfg.APIKey,
// OPENAI_API_KEY, or the mounted secret; the model from cfg.Model or
// OPENAI_MODEL.
func NewOpenAIClient(cfg ClientConfig) (*OpenAIClient, error) {
	apiKey, err := resolveAPIKey(cfg.APIKey, "OPENAI_API_KEY", openAISecretPath)
	if err != nil {
		return nil, err
	}
	if cfg.Model == "" {
		cfg.Model = os.Getenv("OPENAI_MODEL")
	}
	if cfg.Model == "" {
		cfg.Model = openAIDefaultModel
		slog.Warn("OPENAI_MODEL not set, defaulting", "model", cfg.Model)
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(NewOpenAIConfig(apiKey, cfg.BaseURL)),
		config: cfg,
	}, nil
}

// NewOpenAIAPI returns a bare go-openai client with the same key resolution
// as NewOpenAIClient. The moderation guardrail uses it.
func NewOpenAIAPI(cfg ClientConfig) (*openai.Client, error) {
	apiKey, err := resolveAPIKey(cfg.APIKey, "OPENAI_API_KEY", openAISecretPath)
	if err != nil {
		return nil, err
	}
	return openai.NewClientWithConfig(NewOpenAIConfig(apiKey, cfg.BaseURL)), nil
}

// NewOpenAIConfig builds a go-openai config with an optional base URL.
func NewOpenAIConfig(apiKey, baseURL string) openai.ClientConfig {
	oc := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		oc.BaseURL = baseURL
	}
	return oc
}

// Generate implements LLMClient.
func (o *OpenAIClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	model := o.config.model(params, openAIDefaultModel)
	slog.Debug("Generating text via OpenAI", "model", model)

	var messages []openai.ChatCompletionMessage
	if params.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: params.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	req := openai.ChatCompletionRequest{Model: model, Messages: messages}
	if params.Temperature != nil {
		req.Temperature = *params.Temperature
	}
	if params.MaxTokens != nil {
		req.MaxCompletionTokens = *params.MaxTokens
	}
	if params.TopP != nil {
		req.TopP = *params.TopP
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", ErrEmptyCompletion
	}
	return resp.Choices[0].Message.Content, nil
}
