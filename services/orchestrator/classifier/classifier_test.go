// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package classifier

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianAssist/services/llm"
	"github.com/AleutianAI/AleutianAssist/services/orchestrator/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLLM struct {
	reply   string
	err     error
	delay   time.Duration
	calls   atomic.Int32
	prompt  string
	params  llm.GenerationParams
	mu      sync.Mutex
	release chan struct{}
}

func (m *mockLLM) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
	m.calls.Add(1)
	m.mu.Lock()
	m.prompt = prompt
	m.params = params
	m.mu.Unlock()
	if m.release != nil {
		<-m.release
	}
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return m.reply, m.err
}

func TestClassify_Labels(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  datatypes.QueryType
	}{
		{"greeting", "greeting", datatypes.QueryTypeGreeting},
		{"farewell upper", "FAREWELL", datatypes.QueryTypeFarewell},
		{"kb padded", "  knowledge_base\n", datatypes.QueryTypeKnowledgeBase},
		{"quoted with period", "\"greeting\".", datatypes.QueryTypeGreeting},
		{"trailing period", "Farewell.", datatypes.QueryTypeFarewell},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(&mockLLM{reply: tt.reply}, Config{}, nil)
			res := c.Classify(context.Background(), "Hi there")
			assert.Equal(t, tt.want, res.Label)
			assert.False(t, res.Fallback)
		})
	}
}

func TestClassify_Fallbacks(t *testing.T) {
	tests := []struct {
		name   string
		mock   *mockLLM
		reason string
	}{
		{"unrecognized", &mockLLM{reply: "weather"}, ReasonUnrecognized},
		{"sentence", &mockLLM{reply: "This is a greeting"}, ReasonUnrecognized},
		{"empty", &mockLLM{reply: "   "}, ReasonEmptyOutput},
		{"error", &mockLLM{err: errors.New("boom")}, ReasonCallFailed},
		{"blocked is not a label", &mockLLM{reply: "blocked"}, ReasonUnrecognized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(tt.mock, Config{}, nil)
			res := c.Classify(context.Background(), "anything")
			assert.Equal(t, datatypes.QueryTypeKnowledgeBase, res.Label)
			assert.True(t, res.Fallback)
			assert.Equal(t, tt.reason, res.Reason)
		})
	}
}

func TestClassify_Timeout(t *testing.T) {
	c := New(&mockLLM{reply: "greeting", delay: time.Second}, Config{Timeout: 20 * time.Millisecond}, nil)
	start := time.Now()
	res := c.Classify(context.Background(), "Hi")
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, datatypes.QueryTypeKnowledgeBase, res.Label)
	assert.True(t, res.Fallback)
	assert.Equal(t, ReasonTimeout, res.Reason)
}

func TestClassify_LabelClosure(t *testing.T) {
	replies := []string{"", "greeting", "blocked", "error", "42", "knowledge base", "Goodbye!"}
	for _, r := range replies {
		res := New(&mockLLM{reply: r}, Config{}, nil).Classify(context.Background(), "x")
		assert.True(t, res.Label.IsClassificationLabel(), "reply %q produced %q", r, res.Label)
	}
}

func TestClassify_ParamsAndPrompt(t *testing.T) {
	m := &mockLLM{reply: "greeting"}
	c := New(m, Config{Model: "tiny"}, nil)
	c.Classify(context.Background(), "Good morning!")

	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotNil(t, m.params.MaxTokens)
	assert.Equal(t, 10, *m.params.MaxTokens)
	assert.InDelta(t, 0.1, *m.params.Temperature, 1e-6)
	assert.InDelta(t, 0.9, *m.params.TopP, 1e-6)
	assert.Equal(t, "tiny", m.params.Model)

	assert.Contains(t, m.prompt, `USER MESSAGE: "Good morning!"`)
	assert.Contains(t, m.prompt, "Orcutt Schools Assistant")
	assert.Contains(t, m.prompt, "school-related or otherwise")
}

func TestClassify_SharesInflightCalls(t *testing.T) {
	m := &mockLLM{reply: "farewell", release: make(chan struct{})}
	c := New(m, Config{}, nil)

	const n = 5
	var wg sync.WaitGroup
	results := make([]Result, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Classify(context.Background(), "Goodbye")
		}(i)
	}

	require.Eventually(t, func() bool { return m.calls.Load() >= 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(m.release)
	wg.Wait()

	assert.Equal(t, int32(1), m.calls.Load())
	for _, r := range results {
		assert.Equal(t, datatypes.QueryTypeFarewell, r.Label)
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "greeting", Normalize(" 'Greeting' "))
	assert.Equal(t, "knowledge_base", Normalize("`knowledge_base`."))
	assert.Equal(t, "", Normalize("\n\t"))
}
