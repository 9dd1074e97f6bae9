// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package generator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianAssist/services/llm"
	"github.com/AleutianAI/AleutianAssist/services/orchestrator/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLLM struct {
	reply  string
	err    error
	delay  time.Duration
	calls  int
	prompt string
	params llm.GenerationParams
}

func (m *mockLLM) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
	m.calls++
	m.prompt = prompt
	m.params = params
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return m.reply, m.err
}

// steppingClock advances by step on every call.
func steppingClock(start time.Time, step time.Duration) func() time.Time {
	now := start
	return func() time.Time {
		t := now
		now = now.Add(step)
		return t
	}
}

func TestStrategyFor(t *testing.T) {
	assert.IsType(t, Greeting{}, StrategyFor(datatypes.QueryTypeGreeting, "hi", "", "", nil))
	assert.IsType(t, Farewell{}, StrategyFor(datatypes.QueryTypeFarewell, "bye", "", "", nil))

	s := StrategyFor(datatypes.QueryTypeKnowledgeBase, "q", "d", "k", nil)
	kb, ok := s.(KnowledgeBase)
	require.True(t, ok)
	assert.Equal(t, "q", kb.Question)
	assert.Equal(t, "d", kb.Dialogue)
	assert.Equal(t, "k", kb.Knowledge)
	assert.Equal(t, datatypes.QueryTypeKnowledgeBase, s.Label())
}

func TestGenerate_GreetingAndFarewellNeverCallLLM(t *testing.T) {
	m := &mockLLM{reply: "should not be used"}
	g := New(m, Config{}, nil)

	greet := g.Generate(context.Background(), Greeting{})
	assert.True(t, strings.HasPrefix(greet.Text, "Hello! I'm here to help you with information about our schools."))
	assert.Contains(t, greet.Text, "- Transportation and bus routes\n")
	assert.True(t, strings.HasSuffix(greet.Text, "What would you like to know about Orcutt Schools?"))
	assert.False(t, greet.Failed)

	bye := g.Generate(context.Background(), Farewell{})
	assert.Equal(t, "Thank you for using the Orcutt Schools Assistant! If you have any more questions about our schools, feel free to ask anytime. Have a great day!", bye.Text)

	assert.Zero(t, m.calls)
}

func TestGenerate_CustomProfile(t *testing.T) {
	g := New(nil, Config{Profile: Profile{Name: "Lompoc Helper", Organization: "Lompoc Unified", Topics: []string{"Bus routes"}}}, nil)
	greet := g.Generate(context.Background(), Greeting{})
	assert.Contains(t, greet.Text, "- Bus routes\n")
	assert.Contains(t, greet.Text, "Lompoc Unified?")
	assert.Contains(t, g.Generate(context.Background(), Farewell{}).Text, "Thank you for using the Lompoc Helper!")
}

func TestGenerate_KnowledgeBase(t *testing.T) {
	m := &mockLLM{reply: "School starts at 8:00 AM."}
	clock := steppingClock(time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC), 1250*time.Millisecond)
	g := New(m, Config{Model: "big", Now: clock}, nil)

	url := "https://example.org/a.pdf"
	sources := []datatypes.Source{{Filename: "a.pdf", URL: &url}}
	resp := g.Generate(context.Background(), KnowledgeBase{
		Question:  "When does school start?",
		Dialogue:  "Human: hi\nAssistant: hello\n",
		Knowledge: "[Source 1]: Meeting Date: NA Bell schedule 8:00\n\n",
		Sources:   sources,
	})

	assert.False(t, resp.Failed)
	assert.Equal(t, "School starts at 8:00 AM.", resp.Text)
	assert.Equal(t, sources, resp.Sources)
	assert.Greater(t, int64(resp.Latency), int64(0))

	require.Equal(t, 1, m.calls)
	assert.Equal(t, 2000, *m.params.MaxTokens)
	assert.InDelta(t, 0.3, *m.params.Temperature, 1e-6)
	assert.InDelta(t, 0.9, *m.params.TopP, 1e-6)
	assert.Equal(t, "big", m.params.Model)

	assert.Contains(t, m.prompt, "Today's date is 2025-03-04.")
	assert.Contains(t, m.prompt, "Recent conversation context:\nHuman: hi\nAssistant: hello\n")
	assert.Contains(t, m.prompt, "Knowledge Base Context:\n[Source 1]: Meeting Date: NA Bell schedule 8:00")
	assert.Contains(t, m.prompt, "Current User Question: When does school start?")
	assert.Contains(t, m.prompt, "STEP-BY-STEP GUIDANCE:")
	assert.Contains(t, m.prompt, "RESPONSE GUIDELINES:")
	assert.Contains(t, m.prompt, "Suggest contacting Orcutt Schools directly")
}

func TestGenerate_KnowledgeBaseFailures(t *testing.T) {
	tests := []struct {
		name string
		mock *mockLLM
		cfg  Config
	}{
		{"error", &mockLLM{err: errors.New("503")}, Config{}},
		{"empty", &mockLLM{reply: ""}, Config{}},
		{"timeout", &mockLLM{reply: "late", delay: time.Second}, Config{Timeout: 20 * time.Millisecond}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New(tt.mock, tt.cfg, nil)
			src := "x"
			resp := g.Generate(context.Background(), KnowledgeBase{Question: "q", Sources: []datatypes.Source{{Filename: src}}})
			assert.True(t, resp.Failed)
			assert.Equal(t, GenerationFallback, resp.Text)
			assert.Equal(t, datatypes.Latency(0), resp.Latency)
			assert.Empty(t, resp.Sources)
			assert.NotNil(t, resp.Sources)
		})
	}
}

func TestGenerate_NilClientFails(t *testing.T) {
	resp := New(nil, Config{}, nil).Generate(context.Background(), KnowledgeBase{Question: "q"})
	assert.True(t, resp.Failed)
}

func TestGenerate_NilSourcesBecomeEmpty(t *testing.T) {
	resp := New(&mockLLM{reply: "ok"}, Config{}, nil).Generate(context.Background(), KnowledgeBase{Question: "q"})
	require.False(t, resp.Failed)
	assert.NotNil(t, resp.Sources)
	assert.Len(t, resp.Sources, 0)
}
