// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/AleutianAI/AleutianAssist/services/orchestrator"
	"github.com/AleutianAI/AleutianAssist/services/orchestrator/generator"
	"gopkg.in/yaml.v3"
)

// AssistConfig is the on-disk shape of ~/.aleutian/assist.yaml.
type AssistConfig struct {
	// Store: where conversation turns live
	Store StoreConfig `yaml:"store"`

	// ModelBackend: which LLM answers and classifies
	ModelBackend BackendConfig `yaml:"model_backend"`

	// Retrieval: knowledge base lookup. Empty knowledge_base_id disables it.
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Guardrail: content safety gate. Empty id disables it.
	Guardrail GuardrailConfig `yaml:"guardrail"`

	// Assistant: identity used in greetings and prompts
	Assistant generator.Profile `yaml:"assistant"`

	// GCSCredentialsFile enables signed source links.
	GCSCredentialsFile string `yaml:"gcs_credentials_file,omitempty"`

	// HistoryTurns is how many earlier turns the assistant sees.
	HistoryTurns int `yaml:"history_turns"`

	// Generate bounds the answer call, e.g. "60s".
	GenerateTimeout Duration `yaml:"generate_timeout,omitempty"`

	Logging LoggingConfig `yaml:"logging"`
}

type StoreConfig struct {
	Path  string `yaml:"path"`  // badger dir, ":memory:" for scratch runs
	Table string `yaml:"table"` // key namespace
}

type BackendConfig struct {
	// Type can be "ollama", "openai", "anthropic" or "gemini"
	Type            string `yaml:"type"`
	Model           string `yaml:"model,omitempty"`
	BaseURL         string `yaml:"base_url,omitempty"`
	ClassifierModel string `yaml:"classifier_model,omitempty"`
}

type RetrievalConfig struct {
	KnowledgeBaseID string `yaml:"knowledge_base_id"`
	Backend         string `yaml:"backend"` // weaviate or chroma
	WeaviateURL     string `yaml:"weaviate_url,omitempty"`
	ChromaURL       string `yaml:"chroma_url,omitempty"`
	MaxResults      int    `yaml:"max_results,omitempty"`
}

type GuardrailConfig struct {
	ID      string `yaml:"id"`
	Version string `yaml:"version,omitempty"`
	Backend string `yaml:"backend,omitempty"` // policy or openai
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir,omitempty"`
}

// Duration is a time.Duration that reads "90s" style strings from YAML.
type Duration time.Duration

func (d Duration) MarshalYAML() (any, error) {
	if d == 0 {
		return "", nil
	}
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// DefaultConfig is written on first run.
func DefaultConfig() AssistConfig {
	storePath := "./data/conversations"
	if home, err := os.UserHomeDir(); err == nil {
		storePath = filepath.Join(home, ".aleutian", "assist", "conversations")
	}
	return AssistConfig{
		Store: StoreConfig{
			Path:  storePath,
			Table: "conversations",
		},
		ModelBackend: BackendConfig{
			Type:    "ollama",
			BaseURL: "http://localhost:11434",
		},
		Retrieval: RetrievalConfig{
			Backend:     orchestrator.RetrievalWeaviate,
			WeaviateURL: "http://localhost:12127",
		},
		Guardrail: GuardrailConfig{
			Version: "1",
			Backend: orchestrator.GuardrailPolicy,
		},
		Assistant:    generator.DefaultProfile(),
		HistoryTurns: 3,
		Logging: LoggingConfig{
			Level: "warn",
		},
	}
}

// Orchestrator maps the file onto the pipeline configuration with
// defaults applied.
func (c AssistConfig) Orchestrator() orchestrator.Config {
	return orchestrator.Config{
		StorePath:          c.Store.Path,
		StoreTable:         c.Store.Table,
		KnowledgeBaseID:    c.Retrieval.KnowledgeBaseID,
		RetrievalBackend:   c.Retrieval.Backend,
		WeaviateURL:        c.Retrieval.WeaviateURL,
		ChromaURL:          c.Retrieval.ChromaURL,
		MaxResults:         c.Retrieval.MaxResults,
		HistoryTurns:       c.HistoryTurns,
		GuardrailID:        c.Guardrail.ID,
		GuardrailVersion:   c.Guardrail.Version,
		GuardrailBackend:   c.Guardrail.Backend,
		LLMBackend:         c.ModelBackend.Type,
		LLMModel:           c.ModelBackend.Model,
		LLMBaseURL:         c.ModelBackend.BaseURL,
		ClassifierModel:    c.ModelBackend.ClassifierModel,
		GCSCredentialsFile: c.GCSCredentialsFile,
		Timeouts:           orchestrator.Timeouts{Generate: time.Duration(c.GenerateTimeout)},
		Profile:            c.Assistant,
		ServiceName:        "assist-cli",
	}.WithDefaults()
}
