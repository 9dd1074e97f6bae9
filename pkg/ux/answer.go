// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"
)

const (
	defaultWidth = 80
	minWidth     = 40
)

// Answer is the terminal view of one assistant reply.
type Answer struct {
	Text      string
	SessionID string
	QueryType string
	Latency   time.Duration
	Sources   []SourceLine
	Fallback  bool
	Blocked   bool
}

// SourceLine is one attribution entry. Link is empty when no URL is known.
type SourceLine struct {
	Filename string
	Link     string
}

// HistoryEntry is one persisted turn as shown by `assist history`.
type HistoryEntry struct {
	MessageID string
	Timestamp time.Time
	User      string
	Assistant string
	QueryType string
	Latency   time.Duration
}

// TerminalWidth reports the stdout width, or 80 when stdout is not a
// terminal.
func TerminalWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return defaultWidth
	}
	if w < minWidth {
		return minWidth
	}
	return w
}

// RenderMarkdown renders md for a terminal of the given width. Rendering
// errors return md unchanged.
func RenderMarkdown(md string, width int) string {
	if width <= 0 {
		width = defaultWidth
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width-4),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return strings.TrimRight(out, "\n")
}

// RenderAnswer writes one reply in the current personality.
//
// # Description
//
// Machine mode emits "key: value" lines followed by the raw answer so
// scripts can parse it. Other modes render the answer as markdown, boxed
// at full personality, with sources and a muted footer.
//
// # Inputs
//
//   - w: Destination.
//   - a: The reply.
//   - width: Terminal width. Zero uses TerminalWidth().
func RenderAnswer(w io.Writer, a Answer, width int) {
	level := GetPersonalityLevel()
	if level == PersonalityMachine {
		fmt.Fprintf(w, "session: %s\n", a.SessionID)
		fmt.Fprintf(w, "query_type: %s\n", a.QueryType)
		fmt.Fprintf(w, "response_time: %.2fs\n", a.Latency.Seconds())
		if a.Fallback {
			fmt.Fprintln(w, "fallback: true")
		}
		for _, s := range a.Sources {
			if s.Link != "" {
				fmt.Fprintf(w, "source: %s %s\n", s.Filename, s.Link)
			} else {
				fmt.Fprintf(w, "source: %s\n", s.Filename)
			}
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, a.Text)
		return
	}

	if width <= 0 {
		width = TerminalWidth()
	}

	body := a.Text
	if level == PersonalityFull {
		body = RenderMarkdown(a.Text, width-4)
	}
	switch {
	case a.Blocked:
		fmt.Fprintln(w, Styles.WarningBox.Render(body))
	case level == PersonalityFull:
		fmt.Fprintln(w, Styles.Box.Render(body))
	default:
		fmt.Fprintln(w, body)
	}

	if len(a.Sources) > 0 {
		fmt.Fprintln(w, Styles.Subtitle.Render("Sources"))
		for _, s := range a.Sources {
			line := fmt.Sprintf("  %s %s", IconBullet.Render(), s.Filename)
			if s.Link != "" {
				line += " " + Styles.Muted.Render(s.Link)
			}
			fmt.Fprintln(w, line)
		}
	}
	if a.Fallback {
		Warning(w, "the answer could not be generated")
	}
	Muted(w, fmt.Sprintf("%s · %s · %.2fs", a.SessionID, a.QueryType, a.Latency.Seconds()))
}

// RenderHistory writes turns oldest first.
func RenderHistory(w io.Writer, sessionID string, entries []HistoryEntry) {
	if GetPersonalityLevel() == PersonalityMachine {
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%s\t%s\n",
				e.MessageID, e.Timestamp.UTC().Format(time.RFC3339), e.QueryType,
				e.Latency.Seconds(), oneLine(e.User), oneLine(e.Assistant))
		}
		return
	}
	if len(entries) == 0 {
		Muted(w, fmt.Sprintf("No turns recorded for session %s", sessionID))
		return
	}
	fmt.Fprintln(w, Styles.Title.Render("Session "+sessionID))
	for _, e := range entries {
		fmt.Fprintf(w, "%s %s\n",
			Styles.Muted.Render(e.Timestamp.Local().Format("2006-01-02 15:04:05")),
			Styles.Muted.Render(fmt.Sprintf("[%s %s %.2fs]", e.MessageID, e.QueryType, e.Latency.Seconds())))
		fmt.Fprintf(w, "  %s %s\n", Styles.Highlight.Render("You"), e.User)
		fmt.Fprintf(w, "  %s %s\n", Styles.Subtitle.Render("Assistant"), e.Assistant)
	}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
