// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/AleutianAI/AleutianAssist/services/orchestrator/datatypes"
)

// Weaviate property names of a knowledge-base passage class.
const (
	weaviatePropText        = "text"
	weaviatePropMeetingDate = "meetingDate"
	weaviatePropPageNumber  = "pageNumber"
	weaviatePropSourceURI   = "sourceUri"
	weaviatePropSourceURL   = "source"
)

// WeaviateSearcher searches a Weaviate class with nearText.
//
// The knowledge base id is the class name. Score is the certainty reported
// in _additional, falling back to 1-distance.
type WeaviateSearcher struct {
	client *weaviate.Client
}

var _ Searcher = (*WeaviateSearcher)(nil)

// NewWeaviateSearcher connects to Weaviate at rawURL (scheme://host[:port]).
func NewWeaviateSearcher(rawURL string) (*WeaviateSearcher, error) {
	rawURL = strings.Trim(rawURL, "\"' ")
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid Weaviate URL: %q", rawURL)
	}
	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsed.Host,
		Scheme: parsed.Scheme,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Weaviate client: %w", err)
	}
	return &WeaviateSearcher{client: client}, nil
}

// NewWeaviateSearcherWithClient wraps an existing client.
func NewWeaviateSearcherWithClient(client *weaviate.Client) *WeaviateSearcher {
	return &WeaviateSearcher{client: client}
}

// Search implements Searcher.
func (w *WeaviateSearcher) Search(ctx context.Context, query, knowledgeBaseID string, limit int) ([]datatypes.RetrievalResult, error) {
	if w.client == nil {
		return nil, errors.New("weaviate client is nil")
	}

	nearText := w.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{query})

	fields := []graphql.Field{
		{Name: weaviatePropText},
		{Name: weaviatePropMeetingDate},
		{Name: weaviatePropPageNumber},
		{Name: weaviatePropSourceURI},
		{Name: weaviatePropSourceURL},
		{Name: "_additional { certainty distance }"},
	}

	result, err := w.client.GraphQL().Get().
		WithClassName(knowledgeBaseID).
		WithFields(fields...).
		WithNearText(nearText).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("search error: %s", result.Errors[0].Message)
	}
	return parseWeaviateResults(result, knowledgeBaseID), nil
}

// parseWeaviateResults converts a GraphQL Get response into results.
// Malformed objects are skipped.
func parseWeaviateResults(result *models.GraphQLResponse, className string) []datatypes.RetrievalResult {
	get, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return []datatypes.RetrievalResult{}
	}
	objects, ok := get[className].([]interface{})
	if !ok {
		return []datatypes.RetrievalResult{}
	}

	out := make([]datatypes.RetrievalResult, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		r := datatypes.RetrievalResult{
			Text:     getString(m, weaviatePropText),
			Metadata: map[string]string{},
			Location: datatypes.SourceLocation{
				URI: getString(m, weaviatePropSourceURI),
				URL: getString(m, weaviatePropSourceURL),
			},
		}
		if d := getString(m, weaviatePropMeetingDate); d != "" {
			r.Metadata[datatypes.MetaMeetingDate] = d
		}
		if p := getString(m, weaviatePropPageNumber); p != "" {
			r.Metadata[datatypes.MetaPageNumber] = p
		}
		if r.Location.URL != "" {
			r.Metadata[datatypes.MetaSource] = r.Location.URL
		}

		if additional, ok := m["_additional"].(map[string]interface{}); ok {
			if certainty, ok := additional["certainty"].(float64); ok {
				r.Score = certainty
			} else if distance, ok := additional["distance"].(float64); ok {
				r.Score = 1 - distance
			}
		}
		out = append(out, r)
	}
	return out
}

// getString reads a property as a string. Numbers are formatted without a
// trailing fraction so page 3 stays "3".
func getString(m map[string]interface{}, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%g", v)
	default:
		return ""
	}
}
