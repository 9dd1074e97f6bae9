// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package policy_engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianAssist/services/policy_engine/enforcement"
	"gopkg.in/yaml.v3"
)

// ErrUnknownGuardrail is returned when no guardrail matches an id and version.
var ErrUnknownGuardrail = errors.New("unknown guardrail")

// PolicyEngine holds the loaded guardrails and scans text against them.
// It is read-only after construction and safe for concurrent use.
type PolicyEngine struct {
	Guardrails []Guardrail
}

// NewPolicyEngine loads the guardrails embedded in the binary.
//
// It performs the following operations:
// 1. Unmarshals the embedded YAML data.
// 2. Compiles all regex patterns.
// 3. Sorts each guardrail's classifications by priority.
//
// Returns an error if the embedded YAML is malformed or contains invalid regex.
func NewPolicyEngine() (*PolicyEngine, error) {
	return NewPolicyEngineFromYAML(enforcement.GuardrailPolicy)
}

// NewPolicyEngineFromYAML builds an engine from a policy document.
func NewPolicyEngineFromYAML(data []byte) (*PolicyEngine, error) {
	var file GuardrailFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the policy file: %w", err)
	}

	for i := range file.Guardrails {
		g := &file.Guardrails[i]
		if g.ID == "" {
			return nil, fmt.Errorf("guardrail at index %d has no id", i)
		}
		for j := range g.Classifications {
			if g.Classifications[j].Action == "" {
				g.Classifications[j].Action = ActionBlock
			}
		}
		if err := g.compileRegexes(); err != nil {
			return nil, fmt.Errorf("guardrail %s: %w", g.ID, err)
		}
		g.sortByPriority()
	}
	return &PolicyEngine{Guardrails: file.Guardrails}, nil
}

// Guardrail looks up a guardrail by id and version. An empty version matches
// the first guardrail with the id.
func (e *PolicyEngine) Guardrail(id, version string) (*Guardrail, error) {
	for i := range e.Guardrails {
		g := &e.Guardrails[i]
		if g.ID != id {
			continue
		}
		if version == "" || g.Version == version {
			return g, nil
		}
	}
	return nil, fmt.Errorf("%w: %s version %s", ErrUnknownGuardrail, id, version)
}

// ScanContent audits content line by line against every classification of
// the guardrail that applies in dir, recording every match.
func (e *PolicyEngine) ScanContent(id, version string, dir Direction, content string) ([]ScanFinding, error) {
	g, err := e.Guardrail(id, version)
	if err != nil {
		return nil, err
	}
	return g.Scan(dir, content), nil
}

// Scan returns every finding in content for classifications active in dir.
func (g *Guardrail) Scan(dir Direction, content string) []ScanFinding {
	var findings []ScanFinding
	lines := strings.Split(content, "\n")
	for lineNum, line := range lines {
		for _, classification := range g.Classifications {
			if !classification.AppliesIn(dir) {
				continue
			}
			for _, pattern := range classification.Patterns {
				match := pattern.compiledPattern.FindString(line)
				if match == "" {
					continue
				}
				findings = append(findings, ScanFinding{
					LineNumber:         lineNum + 1,
					MatchedContent:     strings.TrimSpace(match),
					ClassificationName: classification.Name,
					PatternId:          pattern.Id,
					PatternDescription: pattern.Description,
					Confidence:         pattern.Confidence,
					Action:             classification.Action,
				})
			}
		}
	}
	return findings
}

// Intervenes reports whether any finding comes from a blocking classification.
func Intervenes(findings []ScanFinding) bool {
	for _, f := range findings {
		if f.Action == ActionBlock {
			return true
		}
	}
	return false
}
