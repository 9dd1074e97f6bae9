// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/AleutianAI/AleutianAssist/cmd/assist/config"
	"github.com/AleutianAI/AleutianAssist/pkg/extensions"
	"github.com/AleutianAI/AleutianAssist/pkg/logging"
	"github.com/AleutianAI/AleutianAssist/pkg/ux"
	"github.com/AleutianAI/AleutianAssist/services/orchestrator"
	"github.com/AleutianAI/AleutianAssist/services/orchestrator/datatypes"
	"github.com/spf13/cobra"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

// errTurnFailed makes the process exit non-zero after the answer has been
// rendered.
var errTurnFailed = errors.New("turn did not complete")

// cli holds state shared by every subcommand.
type cli struct {
	out    io.Writer
	errOut io.Writer

	configPath  string
	personality string
	logLevel    string

	cfg    config.AssistConfig
	logger *logging.Logger

	// build is orchestrator.BuildComponents outside tests.
	build func(ctx context.Context, cfg orchestrator.Config, opts extensions.ServiceOptions) (*orchestrator.Components, error)
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	c := &cli{out: out, errOut: errOut}
	c.build = func(ctx context.Context, cfg orchestrator.Config, opts extensions.ServiceOptions) (*orchestrator.Components, error) {
		return orchestrator.BuildComponents(ctx, cfg, opts, nil, c.logger.Slog())
	}

	rootCmd := &cobra.Command{
		Use:   "assist",
		Short: "Ask the knowledge base assistant from the terminal",
		Long: `assist runs one chat turn through the same pipeline as the HTTP server:
classification, guardrails, retrieval and generation, with the turn stored
under its session.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.logger != nil {
				_ = c.logger.Close()
			}
		},
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)
	rootCmd.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default ~/.aleutian/assist.yaml)")
	rootCmd.PersistentFlags().StringVar(&c.personality, "personality", "", "output style: full, standard or machine")
	rootCmd.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "log level: debug, info, warn or error")

	askCmd := &cobra.Command{
		Use:   "ask [message...]",
		Short: "Send one message and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE:  c.runAsk,
	}
	askCmd.Flags().StringP("session", "s", "", "continue an existing session (default: new session)")

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Print the stored turns of a session, oldest first",
		Args:  cobra.NoArgs,
		RunE:  c.runHistory,
	}
	historyCmd.Flags().StringP("session", "s", "", "session id")
	historyCmd.Flags().IntP("limit", "n", defaultHistoryLimit, "most recent turns to show")
	_ = historyCmd.MarkFlagRequired("session")

	rootCmd.AddCommand(askCmd, historyCmd)
	return rootCmd
}

// setup loads config, picks the output personality and opens the logger.
func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	path := c.configPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}
	cfg, created, err := config.Load(path)
	if err != nil {
		ux.Error(c.errOut, err.Error())
		return err
	}
	c.cfg = cfg

	if c.personality != "" {
		ux.SetPersonalityLevel(ux.ParsePersonalityLevel(c.personality))
	} else {
		ux.InitPersonality()
	}
	if created {
		ux.Muted(c.errOut, fmt.Sprintf("First run detected, created the config at %s", path))
	}

	levelName := cfg.Logging.Level
	if c.logLevel != "" {
		levelName = c.logLevel
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		ux.Warning(c.errOut, err.Error())
	}
	c.logger = logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: "assist",
		Console: c.errOut,
	})
	return nil
}

func (c *cli) runAsk(cmd *cobra.Command, args []string) error {
	sessionID, _ := cmd.Flags().GetString("session")
	req := datatypes.ChatRequest{Message: strings.Join(args, " "), SessionID: sessionID}
	if err := req.Validate(); err != nil {
		ux.Error(c.errOut, datatypes.ErrMsgMissingInput)
		return fmt.Errorf("invalid message: %w", err)
	}
	req.EnsureDefaults()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := extensions.DefaultOptions().WithAudit(extensions.NewSlogAuditLogger(c.logger.Slog()))
	components, err := c.build(ctx, c.cfg.Orchestrator(), opts)
	if err != nil {
		ux.Error(c.errOut, err.Error())
		return err
	}
	defer components.Close()

	outcome := components.Pipeline.Process(ctx, req.Message, req.SessionID)
	ux.RenderAnswer(c.out, toAnswer(outcome), 0)
	if outcome.QueryType == datatypes.QueryTypeError {
		return errTurnFailed
	}
	return nil
}

func (c *cli) runHistory(cmd *cobra.Command, _ []string) error {
	sessionID, _ := cmd.Flags().GetString("session")
	limit, _ := cmd.Flags().GetInt("limit")
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return errors.New("--session must not be blank")
	}
	if limit <= 0 || limit > maxHistoryLimit {
		return fmt.Errorf("--limit must be between 1 and %d", maxHistoryLimit)
	}

	cfg := c.cfg.Orchestrator()
	// History only reads the store; retrieval and guardrail stay off.
	cfg.KnowledgeBaseID = ""
	cfg.GuardrailID = ""
	components, err := c.build(cmd.Context(), cfg, extensions.DefaultOptions())
	if err != nil {
		ux.Error(c.errOut, err.Error())
		return err
	}
	defer components.Close()

	turns, err := components.Turns.RecentTurns(cmd.Context(), sessionID, limit)
	if err != nil {
		ux.Error(c.errOut, err.Error())
		return err
	}
	ux.RenderHistory(c.out, sessionID, toHistory(turns))
	return nil
}

// =============================================================================
// View mapping
// =============================================================================

func toAnswer(o *datatypes.ChatOutcome) ux.Answer {
	a := ux.Answer{
		Text:      o.Answer,
		SessionID: o.SessionID,
		QueryType: string(o.QueryType),
		Latency:   o.Latency.Duration(),
		Fallback:  o.Fallback,
		Blocked:   o.QueryType == datatypes.QueryTypeBlocked,
	}
	for _, s := range o.Sources {
		line := ux.SourceLine{Filename: s.Filename}
		switch {
		case s.PresignedURL != nil:
			line.Link = *s.PresignedURL
		case s.URL != nil:
			line.Link = *s.URL
		}
		a.Sources = append(a.Sources, line)
	}
	return a
}

func toHistory(turns []datatypes.Turn) []ux.HistoryEntry {
	entries := make([]ux.HistoryEntry, 0, len(turns))
	for _, t := range turns {
		entries = append(entries, ux.HistoryEntry{
			MessageID: t.MessageID,
			Timestamp: t.Timestamp,
			User:      t.UserMessage,
			Assistant: t.AssistantResponse,
			QueryType: string(t.QueryType),
			Latency:   t.Latency.Duration(),
		})
	}
	return entries
}
