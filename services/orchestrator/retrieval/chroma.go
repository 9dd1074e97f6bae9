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
	"encoding/json"
	"fmt"
	"sync"

	chromago "github.com/amikos-tech/chroma-go/pkg/api/v2"

	"github.com/AleutianAI/AleutianAssist/services/orchestrator/datatypes"
)

// chromaMetaSourceURI is the metadata key holding the storage URI.
const chromaMetaSourceURI = "source_uri"

// ChromaSearcher searches a Chroma collection by query text.
//
// The knowledge base id is the collection name. Chroma reports distances, so
// Score is 1-distance. Collections are resolved once and cached.
type ChromaSearcher struct {
	client chromago.Client

	mu          sync.Mutex
	collections map[string]chromago.Collection
}

var _ Searcher = (*ChromaSearcher)(nil)

// NewChromaSearcher creates a searcher against the Chroma server at baseURL.
// An empty baseURL uses the client default.
func NewChromaSearcher(baseURL string) (*ChromaSearcher, error) {
	var opts []chromago.ClientOption
	if baseURL != "" {
		opts = append(opts, chromago.WithBaseURL(baseURL))
	}
	client, err := chromago.NewHTTPClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create chroma client: %w", err)
	}
	return &ChromaSearcher{
		client:      client,
		collections: make(map[string]chromago.Collection),
	}, nil
}

// Close releases the client's resources.
func (c *ChromaSearcher) Close() error {
	return c.client.Close()
}

func (c *ChromaSearcher) collection(ctx context.Context, name string) (chromago.Collection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if col, ok := c.collections[name]; ok {
		return col, nil
	}
	col, err := c.client.GetCollection(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("get collection %q: %w", name, err)
	}
	c.collections[name] = col
	return col, nil
}

// Search implements Searcher.
func (c *ChromaSearcher) Search(ctx context.Context, query, knowledgeBaseID string, limit int) ([]datatypes.RetrievalResult, error) {
	col, err := c.collection(ctx, knowledgeBaseID)
	if err != nil {
		return nil, err
	}

	res, err := col.Query(ctx,
		chromago.WithQueryTexts(query),
		chromago.WithNResults(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query chromadb: %w", err)
	}

	docGroups := res.GetDocumentsGroups()
	if len(docGroups) == 0 {
		return []datatypes.RetrievalResult{}, nil
	}
	texts := make([]string, 0, len(docGroups[0]))
	for _, doc := range docGroups[0] {
		texts = append(texts, doc.ContentString())
	}
	var metas []chromago.DocumentMetadata
	if groups := res.GetMetadatasGroups(); len(groups) > 0 {
		metas = groups[0]
	}
	var distances []float64
	if groups := res.GetDistancesGroups(); len(groups) > 0 {
		for _, d := range groups[0] {
			distances = append(distances, float64(d))
		}
	}
	return chromaResults(texts, metas, distances), nil
}

// chromaResults zips one query's documents, metadata and distances. Missing
// metadata leaves the location empty and a missing distance scores 0.
func chromaResults(texts []string, metas []chromago.DocumentMetadata, distances []float64) []datatypes.RetrievalResult {
	out := make([]datatypes.RetrievalResult, 0, len(texts))
	for i, text := range texts {
		r := datatypes.RetrievalResult{
			Text:     text,
			Metadata: map[string]string{},
		}
		if i < len(metas) && metas[i] != nil {
			r.Metadata = flattenChromaMetadata(metas[i])
		}
		if i < len(distances) {
			r.Score = 1 - distances[i]
		}
		r.Location = datatypes.SourceLocation{
			URI: r.Metadata[chromaMetaSourceURI],
			URL: r.Metadata[datatypes.MetaSource],
		}
		out = append(out, r)
	}
	return out
}

// flattenChromaMetadata converts document metadata into string values.
//
// DocumentMetadata exposes no map accessor, so it is round-tripped through
// JSON.
func flattenChromaMetadata(meta chromago.DocumentMetadata) map[string]string {
	out := map[string]string{}
	raw, err := json.Marshal(meta)
	if err != nil {
		return out
	}
	var generic map[string]interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return out
	}
	for k, v := range generic {
		if s := getString(generic, k); s != "" {
			out[k] = s
			continue
		}
		if v != nil {
			out[k] = fmt.Sprint(v)
		}
	}
	return out
}
