// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package assembler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianAssist/services/orchestrator/datatypes"
)

type mockPresigner struct {
	err    error
	calls  int
	expiry time.Duration
}

func (m *mockPresigner) PresignGet(_ context.Context, uri string, expiry time.Duration) (string, error) {
	m.calls++
	m.expiry = expiry
	if m.err != nil {
		return "", m.err
	}
	return "https://signed.example/" + strings.TrimPrefix(uri, "gs://") + "?sig=abc", nil
}

func turns(n int) []datatypes.Turn {
	out := make([]datatypes.Turn, n)
	for i := range out {
		out[i] = datatypes.Turn{
			UserMessage:       fmt.Sprintf("q%d", i+1),
			AssistantResponse: fmt.Sprintf("a%d", i+1),
		}
	}
	return out
}

// =============================================================================
// Dialogue context
// =============================================================================

func TestDialogueContext_Empty(t *testing.T) {
	a := New(nil, Config{}, nil)
	assert.Equal(t, "", a.DialogueContext(nil))
}

func TestDialogueContext_KeepsLastSixMessages(t *testing.T) {
	a := New(nil, Config{}, nil)

	got := a.DialogueContext(turns(5))

	want := "Human: q3\nAssistant: a3\nHuman: q4\nAssistant: a4\nHuman: q5\nAssistant: a5\n"
	assert.Equal(t, want, got)
}

func TestDialogueContext_ShortHistory(t *testing.T) {
	a := New(nil, Config{}, nil)
	assert.Equal(t, "Human: q1\nAssistant: a1\n", a.DialogueContext(turns(1)))
}

// =============================================================================
// Knowledge context
// =============================================================================

func TestKnowledgeContext_FormatsBlocksAndSources(t *testing.T) {
	p := &mockPresigner{}
	a := New(p, Config{}, nil)
	results := []datatypes.RetrievalResult{
		{
			Text:     "Bus route 4 changes in May.",
			Metadata: map[string]string{datatypes.MetaMeetingDate: "2024-05-01", datatypes.MetaPageNumber: "7"},
			Location: datatypes.SourceLocation{URI: "gs://docs/minutes/may.pdf", URL: "https://district.example/may"},
		},
		{
			Text: "Lunch is served at noon.",
		},
	}

	k := a.KnowledgeContext(context.Background(), results)

	want := "[Source 1]: Meeting Date: 2024-05-01 Bus route 4 changes in May.\n\n" +
		"[Source 2]: Meeting Date: NA Lunch is served at noon.\n\n"
	assert.Equal(t, want, k.Text)
	assert.Equal(t, utf8.RuneCountInString(want), k.Chars)
	assert.False(t, k.Truncated)
	require.Len(t, k.Sources, 2)

	first := k.Sources[0]
	assert.Equal(t, "may.pdf", first.Filename)
	require.NotNil(t, first.URL)
	assert.Equal(t, "https://district.example/may", *first.URL)
	require.NotNil(t, first.StorageURI)
	assert.Equal(t, "gs://docs/minutes/may.pdf", *first.StorageURI)
	require.NotNil(t, first.PresignedURL)
	assert.Equal(t, "https://signed.example/docs/minutes/may.pdf?sig=abc#page=7", *first.PresignedURL)
	assert.Equal(t, 3600*time.Second, p.expiry)

	second := k.Sources[1]
	assert.Equal(t, "Source 2", second.Filename)
	assert.Nil(t, second.URL)
	assert.Nil(t, second.StorageURI)
	assert.Nil(t, second.PresignedURL)
	assert.Equal(t, 1, p.calls)
}

func TestKnowledgeContext_SkipsEmptyPassages(t *testing.T) {
	a := New(nil, Config{}, nil)
	k := a.KnowledgeContext(context.Background(), []datatypes.RetrievalResult{
		{Text: "  "},
		{Text: "Real text"},
	})
	assert.Equal(t, "[Source 1]: Meeting Date: NA Real text\n\n", k.Text)
	assert.Len(t, k.Sources, 1)
}

func TestKnowledgeContext_PresignFailureLeavesNullURL(t *testing.T) {
	p := &mockPresigner{err: errors.New("permission denied")}
	a := New(p, Config{}, nil)

	k := a.KnowledgeContext(context.Background(), []datatypes.RetrievalResult{
		{Text: "x", Location: datatypes.SourceLocation{URI: "gs://docs/x.pdf"}},
	})

	require.Len(t, k.Sources, 1)
	assert.Nil(t, k.Sources[0].PresignedURL)
	assert.NotNil(t, k.Sources[0].StorageURI)
	assert.Equal(t, 1, k.PresignFailures)
}

func TestKnowledgeContext_HardBudget(t *testing.T) {
	a := New(nil, Config{}, nil)
	long := strings.Repeat("é", 3000)
	results := []datatypes.RetrievalResult{{Text: long}, {Text: long}, {Text: long}, {Text: long}}

	k := a.KnowledgeContext(context.Background(), results)

	assert.True(t, k.Truncated)
	assert.LessOrEqual(t, utf8.RuneCountInString(k.Text), DefaultKnowledgeBudget)
	assert.Equal(t, DefaultKnowledgeBudget, k.Chars)
	assert.Equal(t, 3, k.Included)
	assert.Len(t, k.Sources, 3)
	assert.True(t, strings.HasPrefix(k.Text, "[Source 1]: Meeting Date: NA "))
	assert.Contains(t, k.Text, "[Source 3]: Meeting Date: NA ")
	assert.NotContains(t, k.Text, "[Source 4]")
}

func TestKnowledgeContext_DropsPassageWhenLabelDoesNotFit(t *testing.T) {
	a := New(nil, Config{KnowledgeBudget: 60}, nil)
	first := strings.Repeat("a", 60-len("[Source 1]: Meeting Date: NA ")-2-5)

	k := a.KnowledgeContext(context.Background(), []datatypes.RetrievalResult{
		{Text: first},
		{Text: "second passage"},
	})

	assert.True(t, k.Truncated)
	assert.Equal(t, 1, k.Included)
	assert.Len(t, k.Sources, 1)
	assert.LessOrEqual(t, k.Chars, 60)
}

func TestKnowledgeContext_Empty(t *testing.T) {
	a := New(nil, Config{}, nil)
	k := a.KnowledgeContext(context.Background(), nil)
	assert.Equal(t, "", k.Text)
	assert.NotNil(t, k.Sources)
	assert.Empty(t, k.Sources)
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "report.pdf", Filename("gs://b/dir/report.pdf", 1))
	assert.Equal(t, "Source 2", Filename("", 2))
	assert.Equal(t, "Source 3", Filename("gs://b/dir/", 3))
}
