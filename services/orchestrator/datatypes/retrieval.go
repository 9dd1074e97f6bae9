// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "strings"

// Metadata keys understood on retrieved passages.
const (
	MetaMeetingDate = "meeting_date"
	MetaPageNumber  = "page_number"
	MetaSource      = "source"
)

// SourceLocation is where a passage's document lives.
type SourceLocation struct {
	// URI is the storage URI, e.g. gs://bucket/minutes/2024-05-01.pdf.
	URI string `json:"uri,omitempty"`
	// URL is an optional public link.
	URL string `json:"url,omitempty"`
}

// RetrievalResult is one candidate passage from the knowledge service.
// Scores are only comparable within a single retrieval call.
type RetrievalResult struct {
	Text     string            `json:"text"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Location SourceLocation    `json:"location"`
}

// MeetingDate returns the meeting date metadata or "NA".
func (r RetrievalResult) MeetingDate() string {
	if d := strings.TrimSpace(r.Metadata[MetaMeetingDate]); d != "" {
		return d
	}
	return "NA"
}

// PageNumber returns the page metadata and whether it was present.
func (r RetrievalResult) PageNumber() (string, bool) {
	p := strings.TrimSpace(r.Metadata[MetaPageNumber])
	return p, p != ""
}
