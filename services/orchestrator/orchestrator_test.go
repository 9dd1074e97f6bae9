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
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianAssist/pkg/extensions"
	"github.com/AleutianAI/AleutianAssist/services/orchestrator/store"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() Config {
	return Config{
		StorePath:  store.InMemoryPath,
		LLMBackend: "ollama",
		LLMBaseURL: "http://127.0.0.1:1",
		GinMode:    gin.TestMode,
	}
}

// =============================================================================
// Config Tests
// =============================================================================

func TestApplyConfigDefaults_AllDefaults(t *testing.T) {
	result := applyConfigDefaults(Config{})

	assert.Equal(t, 12210, result.Port)
	assert.Equal(t, "us-west-2", result.Region)
	assert.Equal(t, "./data/conversations", result.StorePath)
	assert.Equal(t, "conversations", result.StoreTable)
	assert.Equal(t, RetrievalWeaviate, result.RetrievalBackend)
	assert.Equal(t, GuardrailPolicy, result.GuardrailBackend)
	assert.Equal(t, "1", result.GuardrailVersion)
	assert.Equal(t, "ollama", result.LLMBackend)
	assert.Equal(t, 10, result.MaxResults)
	assert.Equal(t, 3, result.HistoryTurns)
	assert.Equal(t, time.Hour, result.URLExpiry)
	assert.Equal(t, 10.0, result.RateLimitRPS)
	assert.Equal(t, 20, result.RateLimitBurst)
	assert.Equal(t, DefaultTimeouts(), result.Timeouts)
	assert.Equal(t, "Orcutt Schools Assistant", result.Profile.Name)
	assert.Empty(t, result.KnowledgeBaseID, "retrieval stays disabled unless configured")
	assert.Empty(t, result.GuardrailID, "guardrail stays disabled unless configured")
	assert.Empty(t, result.OTelEndpoint)
}

func TestApplyConfigDefaults_PreservesCustomValues(t *testing.T) {
	cfg := Config{
		Port:             8080,
		LLMBackend:       "openai",
		OTelEndpoint:     "custom-collector:4317",
		WeaviateURL:      "http://weaviate:8080",
		RateLimitRPS:     -1,
		Timeouts:         Timeouts{Generate: 2 * time.Second},
		RetrievalBackend: RetrievalChroma,
	}

	result := applyConfigDefaults(cfg)

	assert.Equal(t, 8080, result.Port)
	assert.Equal(t, "openai", result.LLMBackend)
	assert.Equal(t, "custom-collector:4317", result.OTelEndpoint)
	assert.Equal(t, "http://weaviate:8080", result.WeaviateURL)
	assert.Equal(t, -1.0, result.RateLimitRPS, "negative rate disables limiting and must survive")
	assert.Equal(t, 2*time.Second, result.Timeouts.Generate)
	assert.Equal(t, 3*time.Second, result.Timeouts.History)
	assert.Equal(t, RetrievalChroma, result.RetrievalBackend)
}

// =============================================================================
// Component wiring
// =============================================================================

func TestBuildComponents_InMemory(t *testing.T) {
	cfg := applyConfigDefaults(testConfig())
	cfg.GuardrailID = "school-safety"

	c, err := BuildComponents(context.Background(), cfg, extensions.DefaultOptions(), nil, nil)
	require.NoError(t, err)
	require.NotNil(t, c.Pipeline)
	require.NotNil(t, c.Turns)
	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close(), "second Close is a no-op")
}

func TestBuildComponents_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown llm", func(c *Config) { c.LLMBackend = "bogus" }, "unknown LLM backend"},
		{"unknown guardrail", func(c *Config) {
			c.GuardrailID = "x"
			c.GuardrailBackend = "bogus"
		}, "unknown guardrail backend"},
		{"guardrail id missing from policy", func(c *Config) {
			c.GuardrailID = "gr-abc123"
		}, "is not defined in the policy"},
		{"guardrail version missing from policy", func(c *Config) {
			c.GuardrailID = "school-safety"
			c.GuardrailVersion = "9"
		}, "unknown guardrail"},
		{"unknown retrieval", func(c *Config) {
			c.KnowledgeBaseID = "SchoolDocs"
			c.RetrievalBackend = "bogus"
		}, "unknown retrieval backend"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := applyConfigDefaults(testConfig())
			tt.mutate(&cfg)
			_, err := BuildComponents(context.Background(), cfg, extensions.DefaultOptions(), nil, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestBuildSearcher_DisabledWithoutKnowledgeBase(t *testing.T) {
	s, closer, err := buildSearcher(Config{RetrievalBackend: "bogus"})
	assert.NoError(t, err)
	assert.Nil(t, s)
	assert.Nil(t, closer)
}

// =============================================================================
// Service
// =============================================================================

func TestNew_ServesRoutes(t *testing.T) {
	svc, err := New(testConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	router := svc.Router()
	require.NotNil(t, router)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/v1/chat", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(`{"message":""}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestNew_FailsCleanlyOnBadBackend(t *testing.T) {
	cfg := testConfig()
	cfg.LLMBackend = "bogus"
	svc, err := New(cfg, nil)
	assert.Error(t, err)
	assert.Nil(t, svc)
}
