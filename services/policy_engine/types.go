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
	"fmt"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

type ConfidenceLevel string

const (
	Low    ConfidenceLevel = "low"
	Medium ConfidenceLevel = "medium"
	High   ConfidenceLevel = "high"
)

// Action is what a classification does on match.
type Action string

const (
	// ActionBlock makes the guardrail intervene.
	ActionBlock Action = "block"
	// ActionFlag records the finding only.
	ActionFlag Action = "flag"
)

// Direction is the side of the conversation being scanned.
type Direction string

const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
)

type GuardrailFile struct {
	Guardrails []Guardrail `yaml:"guardrails"`
}

// Guardrail is one versioned policy.
type Guardrail struct {
	ID              string           `yaml:"id"`
	Version         string           `yaml:"version"`
	Description     string           `yaml:"description"`
	Classifications []Classification `yaml:"classifications"`
}

type Classification struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Priority    int         `yaml:"priority"`
	Action      Action      `yaml:"action"`
	AppliesTo   []Direction `yaml:"applies_to"`
	Patterns    []Pattern   `yaml:"patterns"`
}

type Pattern struct {
	Id              string          `yaml:"id"`
	Description     string          `yaml:"description"`
	Regex           string          `yaml:"regex"`
	Confidence      ConfidenceLevel `yaml:"confidence"`
	compiledPattern *regexp.Regexp  `yaml:"-"`
}

func (c *ConfidenceLevel) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	incomingConfidence := ConfidenceLevel(s)
	switch incomingConfidence {
	case High, Medium, Low:
		*c = incomingConfidence
		return nil
	default:
		return fmt.Errorf("invalid value for Confidence: %q", incomingConfidence)
	}
}

func (a *Action) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	switch Action(s) {
	case ActionBlock, ActionFlag, "":
		*a = Action(s)
		return nil
	default:
		return fmt.Errorf("invalid value for Action: %q", s)
	}
}

// AppliesIn reports whether the classification scans the given direction.
// An empty applies_to list means both.
func (c Classification) AppliesIn(dir Direction) bool {
	if len(c.AppliesTo) == 0 {
		return true
	}
	for _, d := range c.AppliesTo {
		if d == dir {
			return true
		}
	}
	return false
}

func (g *Guardrail) compileRegexes() error {
	for i := range g.Classifications {
		for j := range g.Classifications[i].Patterns {
			pattern := &g.Classifications[i].Patterns[j]
			re, err := regexp.Compile(pattern.Regex)
			if err != nil {
				return fmt.Errorf("failed to compile the regex %s: %w", pattern.Regex, err)
			}
			pattern.compiledPattern = re
		}
	}
	return nil
}

func (g *Guardrail) sortByPriority() {
	sort.SliceStable(g.Classifications, func(i, j int) bool {
		return g.Classifications[i].Priority > g.Classifications[j].Priority
	})
}

type ScanFinding struct {
	LineNumber         int             `json:"line_number"`
	MatchedContent     string          `json:"matched_content"`
	ClassificationName string          `json:"classification_name"`
	PatternId          string          `json:"pattern_id"`
	PatternDescription string          `json:"pattern_description"`
	Confidence         ConfidenceLevel `json:"confidence"`
	Action             Action          `json:"action"`
}
