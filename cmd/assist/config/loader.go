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
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// DefaultPath returns ~/.aleutian/assist.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".aleutian", "assist.yaml"), nil
}

// Load reads the config at path, creating it with defaults on first run,
// then applies environment overrides.
//
// # Outputs
//
//   - AssistConfig: Parsed config. Fields absent from the file keep their
//     defaults.
//   - bool: True when the file was created by this call.
//   - error: Non-nil when the file cannot be created, read or parsed.
func Load(path string) (AssistConfig, bool, error) {
	created := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := createDefault(path); err != nil {
			return AssistConfig{}, false, err
		}
		created = true
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return AssistConfig{}, created, fmt.Errorf("failed to read the config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return AssistConfig{}, created, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	applyEnv(&cfg)
	return cfg, created, nil
}

func createDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// applyEnv lets the server's environment keys override the file so one
// .env drives both binaries.
func applyEnv(cfg *AssistConfig) {
	for key, dst := range map[string]*string{
		"ASSIST_STORE_PATH":    &cfg.Store.Path,
		"ASSIST_STORE_TABLE":   &cfg.Store.Table,
		"KNOWLEDGE_BASE_ID":    &cfg.Retrieval.KnowledgeBaseID,
		"RETRIEVAL_BACKEND":    &cfg.Retrieval.Backend,
		"WEAVIATE_SERVICE_URL": &cfg.Retrieval.WeaviateURL,
		"CHROMA_URL":           &cfg.Retrieval.ChromaURL,
		"GUARDRAIL_ID":         &cfg.Guardrail.ID,
		"GUARDRAIL_VERSION":    &cfg.Guardrail.Version,
		"GUARDRAIL_BACKEND":    &cfg.Guardrail.Backend,
		"LLM_BACKEND_TYPE":     &cfg.ModelBackend.Type,
		"LLM_MODEL":            &cfg.ModelBackend.Model,
		"LLM_BASE_URL":         &cfg.ModelBackend.BaseURL,
		"CLASSIFIER_MODEL":     &cfg.ModelBackend.ClassifierModel,
		"GCS_CREDENTIALS_FILE": &cfg.GCSCredentialsFile,
		"ASSISTANT_NAME":       &cfg.Assistant.Name,
		"ASSISTANT_ORG":        &cfg.Assistant.Organization,
		"ASSIST_LOG_LEVEL":     &cfg.Logging.Level,
	} {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	if v := os.Getenv("ASSIST_HISTORY_TURNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.HistoryTurns = n
		}
	}
}
