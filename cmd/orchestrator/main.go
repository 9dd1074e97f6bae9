// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command orchestrator starts the assistant HTTP server.
//
// Configuration is read from environment variables, optionally seeded from
// a .env file in the working directory.
//
// # Environment Variables
//
//   - ASSIST_PORT: HTTP server port (default: 12210)
//   - ASSIST_REGION: deployment region (default: us-west-2)
//   - ASSIST_STORE_PATH: badger directory, ":memory:" for in-memory
//   - ASSIST_STORE_TABLE: store key namespace (default: conversations)
//   - KNOWLEDGE_BASE_ID: Weaviate class or Chroma collection (empty disables retrieval)
//   - RETRIEVAL_BACKEND: weaviate or chroma (default: weaviate)
//   - WEAVIATE_SERVICE_URL, CHROMA_URL: search endpoints
//   - GUARDRAIL_ID, GUARDRAIL_VERSION, GUARDRAIL_BACKEND: safety gate (empty id disables)
//   - LLM_BACKEND_TYPE: anthropic, openai, ollama, gemini (default: ollama)
//   - LLM_MODEL, LLM_BASE_URL, CLASSIFIER_MODEL: model overrides
//   - GCS_CREDENTIALS_FILE: enables signed source URLs
//   - ASSIST_RATE_LIMIT_RPS, ASSIST_RATE_LIMIT_BURST: chat limiter
//   - ASSIST_TIMEOUT_{HISTORY,CLASSIFY,GUARDRAIL,RETRIEVE,PRESIGN,GENERATE,PERSIST}
//   - ASSISTANT_NAME, ASSISTANT_ORG: greeting and farewell profile
//   - OTEL_EXPORTER_OTLP_ENDPOINT, OTEL_TRACES_STDOUT: tracing export
//
// # Usage
//
//	go build -o orchestrator ./cmd/orchestrator
//	./orchestrator
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/AleutianAI/AleutianAssist/services/orchestrator"
	"github.com/AleutianAI/AleutianAssist/services/orchestrator/generator"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env file", "error", err)
	}

	cfg := configFromEnv()

	slog.Info("Starting orchestrator",
		"port", cfg.Port,
		"llm_backend", cfg.LLMBackend,
		"knowledge_base_id", cfg.KnowledgeBaseID,
		"retrieval_backend", cfg.RetrievalBackend,
		"guardrail_id", cfg.GuardrailID,
	)

	svc, err := orchestrator.New(cfg, nil)
	if err != nil {
		log.Fatalf("Failed to create orchestrator: %v", err)
	}

	if err := svc.Run(); err != nil {
		log.Fatalf("Orchestrator error: %v", err)
	}
}

// configFromEnv maps the environment onto orchestrator.Config. Unset values
// stay zero so orchestrator defaults apply.
func configFromEnv() orchestrator.Config {
	return orchestrator.Config{
		Port:               getEnvInt("ASSIST_PORT", 12210),
		Region:             getEnvString("ASSIST_REGION", "us-west-2"),
		GinMode:            os.Getenv("GIN_MODE"),
		StorePath:          getEnvString("ASSIST_STORE_PATH", "./data/conversations"),
		StoreTable:         getEnvString("ASSIST_STORE_TABLE", "conversations"),
		KnowledgeBaseID:    os.Getenv("KNOWLEDGE_BASE_ID"),
		RetrievalBackend:   getEnvString("RETRIEVAL_BACKEND", orchestrator.RetrievalWeaviate),
		WeaviateURL:        os.Getenv("WEAVIATE_SERVICE_URL"),
		ChromaURL:          os.Getenv("CHROMA_URL"),
		GuardrailID:        os.Getenv("GUARDRAIL_ID"),
		GuardrailVersion:   getEnvString("GUARDRAIL_VERSION", "1"),
		GuardrailBackend:   getEnvString("GUARDRAIL_BACKEND", orchestrator.GuardrailPolicy),
		LLMBackend:         getEnvString("LLM_BACKEND_TYPE", "ollama"),
		LLMModel:           os.Getenv("LLM_MODEL"),
		LLMBaseURL:         os.Getenv("LLM_BASE_URL"),
		ClassifierModel:    os.Getenv("CLASSIFIER_MODEL"),
		GCSCredentialsFile: os.Getenv("GCS_CREDENTIALS_FILE"),
		RateLimitRPS:       getEnvFloat("ASSIST_RATE_LIMIT_RPS", 10),
		RateLimitBurst:     getEnvInt("ASSIST_RATE_LIMIT_BURST", 20),
		Timeouts: orchestrator.Timeouts{
			History:   getEnvDuration("ASSIST_TIMEOUT_HISTORY", 0),
			Classify:  getEnvDuration("ASSIST_TIMEOUT_CLASSIFY", 0),
			Guardrail: getEnvDuration("ASSIST_TIMEOUT_GUARDRAIL", 0),
			Retrieve:  getEnvDuration("ASSIST_TIMEOUT_RETRIEVE", 0),
			Presign:   getEnvDuration("ASSIST_TIMEOUT_PRESIGN", 0),
			Generate:  getEnvDuration("ASSIST_TIMEOUT_GENERATE", 0),
			Persist:   getEnvDuration("ASSIST_TIMEOUT_PERSIST", 0),
		},
		Profile: generator.Profile{
			Name:         os.Getenv("ASSISTANT_NAME"),
			Organization: os.Getenv("ASSISTANT_ORG"),
		},
		OTelEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTelStdout:   getEnvBool("OTEL_TRACES_STDOUT", false),
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
		slog.Warn("ignoring malformed integer", "key", key, "value", value)
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
		slog.Warn("ignoring malformed number", "key", key, "value", value)
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("750ms") or bare seconds ("3").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	slog.Warn("ignoring malformed duration", "key", key, "value", value)
	return defaultValue
}
