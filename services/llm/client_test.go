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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Mock Server Helpers
// =============================================================================

// newJSONServer returns a server that records the decoded request body and
// answers with the given status and payload.
func newJSONServer(t *testing.T, path string, status int, reply any, captured *map[string]any, headers *http.Header) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != path {
			http.NotFound(w, r)
			return
		}
		if captured != nil {
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			*captured = body
		}
		if headers != nil {
			*headers = r.Header.Clone()
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(reply)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// =============================================================================
// Ollama
// =============================================================================

func TestOllamaClient_Generate(t *testing.T) {
	var body map[string]any
	srv := newJSONServer(t, "/api/generate", http.StatusOK,
		map[string]any{"model": "m", "response": "knowledge_base", "done": true}, &body, nil)

	client, err := NewOllamaClient(ClientConfig{BaseURL: srv.URL + "/", Model: "llama-test"})
	require.NoError(t, err)

	out, err := client.Generate(context.Background(), "hello", GenerationParams{
		Temperature: Float32(0.1),
		TopP:        Float32(0.9),
		MaxTokens:   Int(10),
		System:      "classify",
	})
	require.NoError(t, err)
	assert.Equal(t, "knowledge_base", out)

	assert.Equal(t, "llama-test", body["model"])
	assert.Equal(t, "hello", body["prompt"])
	assert.Equal(t, "classify", body["system"])
	assert.Equal(t, false, body["stream"])
	opts, ok := body["options"].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 0.1, opts["temperature"], 1e-6)
	assert.InDelta(t, 0.9, opts["top_p"], 1e-6)
	assert.EqualValues(t, 10, opts["num_predict"])
}

func TestOllamaClient_ModelOverride(t *testing.T) {
	var body map[string]any
	srv := newJSONServer(t, "/api/generate", http.StatusOK,
		map[string]any{"response": "ok"}, &body, nil)

	client, err := NewOllamaClient(ClientConfig{BaseURL: srv.URL, Model: "default"})
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), "p", GenerationParams{Model: "small"})
	require.NoError(t, err)
	assert.Equal(t, "small", body["model"])
}

func TestOllamaClient_ModelNotFound(t *testing.T) {
	srv := newJSONServer(t, "/api/generate", http.StatusNotFound,
		map[string]any{"error": "model \"ghost\" not found"}, nil, nil)

	client, err := NewOllamaClient(ClientConfig{BaseURL: srv.URL, Model: "ghost"})
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), "p", GenerationParams{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ollama pull ghost")
}

func TestOllamaClient_EmptyResponse(t *testing.T) {
	srv := newJSONServer(t, "/api/generate", http.StatusOK,
		map[string]any{"response": ""}, nil, nil)

	client, err := NewOllamaClient(ClientConfig{BaseURL: srv.URL, Model: "m"})
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), "p", GenerationParams{})
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestOllamaClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	client, err := NewOllamaClient(ClientConfig{BaseURL: srv.URL, Model: "m"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = client.Generate(ctx, "p", GenerationParams{})
	assert.Error(t, err)
}

func TestOllamaOptions_Defaults(t *testing.T) {
	opts := ollamaOptions(GenerationParams{Stop: []string{"\n"}})
	assert.Equal(t, float32(0.2), opts["temperature"])
	assert.Equal(t, 8192, opts["num_predict"])
	assert.Equal(t, []string{"\n"}, opts["stop"])
}

// =============================================================================
// Anthropic
// =============================================================================

func TestAnthropicClient_Generate(t *testing.T) {
	var body map[string]any
	var headers http.Header
	srv := newJSONServer(t, "/v1/messages", http.StatusOK, map[string]any{
		"id":   "msg_1",
		"type": "message",
		"content": []map[string]any{
			{"type": "text", "text": "Hello "},
			{"type": "text", "text": "there"},
		},
	}, &body, &headers)

	client, err := NewAnthropicClient(ClientConfig{BaseURL: srv.URL, APIKey: "sk-test", Model: "claude-test"})
	require.NoError(t, err)

	out, err := client.Generate(context.Background(), "hi", GenerationParams{
		MaxTokens: Int(2000),
		System:    "be brief",
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello there", out)

	assert.Equal(t, "sk-test", headers.Get("x-api-key"))
	assert.Equal(t, anthropicAPIVersion, headers.Get("anthropic-version"))
	assert.Equal(t, "claude-test", body["model"])
	assert.Equal(t, "be brief", body["system"])
	assert.EqualValues(t, 2000, body["max_tokens"])
}

func TestAnthropicClient_Non200(t *testing.T) {
	srv := newJSONServer(t, "/v1/messages", http.StatusTooManyRequests,
		map[string]any{"error": map[string]any{"type": "rate_limit_error", "message": "slow down"}}, nil, nil)

	client, err := NewAnthropicClient(ClientConfig{BaseURL: srv.URL, APIKey: "k"})
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), "hi", GenerationParams{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestAnthropicClient_MissingKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := NewAnthropicClient(ClientConfig{})
	if _, statErr := os.Stat(anthropicSecretPath); statErr == nil {
		t.Skip("secret mounted on this host")
	}
	assert.Error(t, err)
}

// =============================================================================
// OpenAI
// =============================================================================

func TestOpenAIClient_Generate(t *testing.T) {
	var body map[string]any
	srv := newJSONServer(t, "/chat/completions", http.StatusOK, map[string]any{
		"id":     "chatcmpl-1",
		"object": "chat.completion",
		"choices": []map[string]any{
			{"index": 0, "message": map[string]any{"role": "assistant", "content": "greeting"}},
		},
	}, &body, nil)

	client, err := NewOpenAIClient(ClientConfig{BaseURL: srv.URL, APIKey: "sk-test", Model: "gpt-test"})
	require.NoError(t, err)

	out, err := client.Generate(context.Background(), "hello", GenerationParams{System: "sys"})
	require.NoError(t, err)
	assert.Equal(t, "greeting", out)

	assert.Equal(t, "gpt-test", body["model"])
	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "user", msgs[1].(map[string]any)["role"])
}

func TestOpenAIClient_NoChoices(t *testing.T) {
	srv := newJSONServer(t, "/chat/completions", http.StatusOK,
		map[string]any{"id": "x", "choices": []any{}}, nil, nil)

	client, err := NewOpenAIClient(ClientConfig{BaseURL: srv.URL, APIKey: "sk-test"})
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), "hello", GenerationParams{})
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

// =============================================================================
// Factory and secrets
// =============================================================================

func TestNewClient_Dispatch(t *testing.T) {
	ctx := context.Background()

	c, err := NewClient(ctx, ClientConfig{Backend: "", BaseURL: "http://localhost:1", Model: "m"})
	require.NoError(t, err)
	assert.IsType(t, &OllamaClient{}, c)

	c, err = NewClient(ctx, ClientConfig{Backend: " OpenAI ", APIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAIClient{}, c)

	c, err = NewClient(ctx, ClientConfig{Backend: "claude", APIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &AnthropicClient{}, c)

	_, err = NewClient(ctx, ClientConfig{Backend: "bogus"})
	assert.Error(t, err)
}

func TestResolveAPIKey_Order(t *testing.T) {
	dir := t.TempDir()
	secret := filepath.Join(dir, "key")
	require.NoError(t, os.WriteFile(secret, []byte("  from-file\n"), 0o600))

	t.Setenv("TEST_ASSIST_KEY", "from-env")
	k, err := resolveAPIKey("explicit", "TEST_ASSIST_KEY", secret)
	require.NoError(t, err)
	assert.Equal(t, "explicit", k)

	k, err = resolveAPIKey("", "TEST_ASSIST_KEY", secret)
	require.NoError(t, err)
	assert.Equal(t, "from-env", k)

	t.Setenv("TEST_ASSIST_KEY", "")
	k, err = resolveAPIKey("", "TEST_ASSIST_KEY", secret)
	require.NoError(t, err)
	assert.Equal(t, "from-file", k)

	_, err = resolveAPIKey("", "TEST_ASSIST_KEY", filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestSealedKey_Use(t *testing.T) {
	s := sealKey("top-secret")
	var seen string
	require.NoError(t, s.use(func(key string) error {
		seen = key
		return nil
	}))
	assert.Equal(t, "top-secret", seen)
}
