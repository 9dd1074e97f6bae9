// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package assembler builds the textual context blocks fed to the generator:
// the dialogue history and the knowledge grounding with its attributions.
package assembler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianAssist/services/orchestrator/blobstore"
	"github.com/AleutianAI/AleutianAssist/services/orchestrator/datatypes"
)

var tracer = otel.Tracer("aleutian.assist.assembler")

const (
	// DefaultDialogueMessages is 3 exchanges.
	DefaultDialogueMessages = 6

	// DefaultKnowledgeBudget is the hard character limit of the knowledge block.
	DefaultKnowledgeBudget = 8000

	// DefaultURLExpiry is the lifetime of issued document links.
	DefaultURLExpiry = 3600 * time.Second

	// DefaultPresignTimeout bounds one URL issuance.
	DefaultPresignTimeout = 3 * time.Second
)

// Config configures an Assembler. Zero fields take defaults.
type Config struct {
	DialogueMessages int
	KnowledgeBudget  int
	URLExpiry        time.Duration
	PresignTimeout   time.Duration
}

// Knowledge is the grounding block plus the attributions for the passages it
// contains.
type Knowledge struct {
	Text            string
	Sources         []datatypes.Source
	Chars           int
	Included        int
	Truncated       bool
	PresignFailures int
}

// Assembler builds dialogue and knowledge context.
//
// # Thread Safety
//
// Safe for concurrent use if the Presigner is.
type Assembler struct {
	presigner blobstore.Presigner
	config    Config
	logger    *slog.Logger
}

// New creates an Assembler. presigner may be nil, in which case every
// Source has a null presigned URL.
func New(presigner blobstore.Presigner, cfg Config, logger *slog.Logger) *Assembler {
	if cfg.DialogueMessages <= 0 {
		cfg.DialogueMessages = DefaultDialogueMessages
	}
	if cfg.KnowledgeBudget <= 0 {
		cfg.KnowledgeBudget = DefaultKnowledgeBudget
	}
	if cfg.URLExpiry <= 0 {
		cfg.URLExpiry = DefaultURLExpiry
	}
	if cfg.PresignTimeout <= 0 {
		cfg.PresignTimeout = DefaultPresignTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{presigner: presigner, config: cfg, logger: logger}
}

// DialogueContext renders the last DialogueMessages messages of turns as
// "Human: ..." / "Assistant: ..." lines. turns must be chronological.
func (a *Assembler) DialogueContext(turns []datatypes.Turn) string {
	if len(turns) == 0 {
		return ""
	}
	messages := make([]datatypes.Message, 0, 2*len(turns))
	for _, t := range turns {
		messages = append(messages, t.Messages()...)
	}
	if len(messages) > a.config.DialogueMessages {
		messages = messages[len(messages)-a.config.DialogueMessages:]
	}

	var b strings.Builder
	for _, m := range messages {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// KnowledgeContext renders results into labeled source blocks.
//
// # Description
//
// Each result with text becomes "[Source i]: Meeting Date: <date|NA> <text>"
// followed by a blank line, numbered from 1 in the given order. The block is
// held to KnowledgeBudget characters: a passage that would overflow is cut
// to the remaining room and nothing after it is included. A passage is
// dropped entirely when not even its label fits. Every included passage
// yields one Source.
//
// # Inputs
//
//   - ctx: Parent context for URL issuance.
//   - results: Filtered retrieval results in retrieval order.
//
// # Outputs
//
//   - Knowledge: Never nil fields; Sources is empty when nothing fits.
func (a *Assembler) KnowledgeContext(ctx context.Context, results []datatypes.RetrievalResult) Knowledge {
	ctx, span := tracer.Start(ctx, "Assembler.KnowledgeContext")
	defer span.End()

	k := Knowledge{Sources: []datatypes.Source{}}
	var b strings.Builder
	budget := a.config.KnowledgeBudget

	for _, r := range results {
		text := strings.TrimSpace(r.Text)
		if text == "" {
			continue
		}
		idx := k.Included + 1
		header := fmt.Sprintf("[Source %d]: Meeting Date: %s ", idx, r.MeetingDate())
		block := header + text + "\n\n"
		size := utf8.RuneCountInString(block)
		remaining := budget - k.Chars

		if size > remaining {
			room := remaining - utf8.RuneCountInString(header)
			if room <= 0 {
				k.Truncated = true
				break
			}
			block = header + truncateRunes(text, room)
			size = utf8.RuneCountInString(block)
			k.Truncated = true
		}

		b.WriteString(block)
		k.Chars += size
		k.Included = idx
		k.Sources = append(k.Sources, a.source(ctx, r, idx, &k.PresignFailures))
		if k.Truncated {
			break
		}
	}
	k.Text = b.String()

	span.SetAttributes(
		attribute.Int("knowledge.chars", k.Chars),
		attribute.Int("knowledge.included", k.Included),
		attribute.Bool("knowledge.truncated", k.Truncated),
	)
	if k.Truncated {
		a.logger.Info("knowledge context hit character budget",
			"budget", budget, "included", k.Included, "candidates", len(results))
	}
	return k
}

// source builds the attribution for result r labeled idx.
func (a *Assembler) source(ctx context.Context, r datatypes.RetrievalResult, idx int, failures *int) datatypes.Source {
	src := datatypes.Source{Filename: Filename(r.Location.URI, idx)}
	if r.Location.URL != "" {
		u := r.Location.URL
		src.URL = &u
	}
	if r.Location.URI == "" {
		return src
	}
	uri := r.Location.URI
	src.StorageURI = &uri

	if a.presigner == nil {
		return src
	}
	callCtx, cancel := context.WithTimeout(ctx, a.config.PresignTimeout)
	defer cancel()
	signed, err := a.presigner.PresignGet(callCtx, uri, a.config.URLExpiry)
	if err != nil {
		*failures++
		a.logger.Warn("failed to issue document URL", "uri", uri, "error", err)
		return src
	}
	if page, ok := r.PageNumber(); ok {
		signed += "#page=" + page
	}
	src.PresignedURL = &signed
	return src
}

// Filename derives a display name from the last path segment of uri, or
// "Source idx" when there is none.
func Filename(uri string, idx int) string {
	uri = strings.TrimSpace(uri)
	if i := strings.LastIndex(uri, "/"); i >= 0 {
		uri = uri[i+1:]
	}
	if uri == "" {
		return fmt.Sprintf("Source %d", idx)
	}
	return uri
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
