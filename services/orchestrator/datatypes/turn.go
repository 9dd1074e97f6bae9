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

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// =============================================================================
// Latency
// =============================================================================

// Latency is a response time in whole centiseconds.
//
// # Description
//
// Latency is stored and serialized as a fixed two-decimal number so that
// persisted records never accumulate float noise ("1.2300000000000002").
// JSON encoding writes a bare number such as 1.25.
type Latency int64

// LatencyFromDuration rounds d to the nearest centisecond. Negative
// durations clamp to zero.
func LatencyFromDuration(d time.Duration) Latency {
	if d <= 0 {
		return 0
	}
	return Latency((d + 5*time.Millisecond) / (10 * time.Millisecond))
}

// Seconds returns the latency as float seconds.
func (l Latency) Seconds() float64 {
	return float64(l) / 100
}

// Duration converts the latency back to a time.Duration.
func (l Latency) Duration() time.Duration {
	return time.Duration(l) * 10 * time.Millisecond
}

// String formats the latency with exactly two fractional digits.
func (l Latency) String() string {
	return fmt.Sprintf("%d.%02d", int64(l)/100, int64(l)%100)
}

// MarshalJSON writes the latency as a two-decimal JSON number.
func (l Latency) MarshalJSON() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalJSON accepts any JSON number and rounds it to centiseconds.
func (l *Latency) UnmarshalJSON(data []byte) error {
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("latency: %w", err)
	}
	*l = Latency(math.Round(f * 100))
	return nil
}

// =============================================================================
// Turn
// =============================================================================

// Message is one side of a turn as fed into dialogue context.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleHuman     = "Human"
	RoleAssistant = "Assistant"
)

// Turn is one persisted user message + assistant response.
//
// # Description
//
// Turns are immutable once written. Sequence is assigned by the store and is
// strictly increasing within a session. MessageID is "conv<Sequence>" for
// counter-assigned sequences and "msg<unix seconds>" for the time-derived
// fallback.
type Turn struct {
	SessionID         string    `json:"session_id"`
	Sequence          uint64    `json:"sequence"`
	MessageID         string    `json:"message_id"`
	Timestamp         time.Time `json:"timestamp"`
	UserMessage       string    `json:"user_message"`
	AssistantResponse string    `json:"assistant_response"`
	QueryType         QueryType `json:"query_type"`
	Latency           Latency   `json:"response_time_seconds"`
	CreatedAt         time.Time `json:"created_at"`
}

// Messages expands the turn into its Human and Assistant messages.
func (t Turn) Messages() []Message {
	return []Message{
		{Role: RoleHuman, Content: t.UserMessage},
		{Role: RoleAssistant, Content: t.AssistantResponse},
	}
}
