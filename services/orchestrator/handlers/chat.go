// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers contains the gin handlers of the assistant API.
//
// Handlers validate input and translate between the wire shapes in
// datatypes and the chat pipeline. They hold no business logic.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/AleutianAI/AleutianAssist/services/orchestrator/datatypes"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var chatTracer = otel.Tracer("aleutian.assist.handlers")

// ChatProcessor runs one chat turn. *services.ChatPipeline implements it.
type ChatProcessor interface {
	Process(ctx context.Context, message, sessionID string) *datatypes.ChatOutcome
}

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleChat serves POST /v1/chat.
//
// # Description
//
// Decodes {message, sessionId?}, assigns a session id when absent and runs
// one pipeline turn. Validation failures return 400 without touching any
// component. Blocked and error turns are 200 with success=false.
//
// # Outputs
//
//   - 200: datatypes.ChatResponse
//   - 400: datatypes.ErrorResponse with ErrMsgInvalidBody or ErrMsgMissingInput
//   - 500: datatypes.ErrorResponse with ErrMsgInternal
func HandleChat(processor ChatProcessor) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := chatTracer.Start(c.Request.Context(), "HandleChat")
		defer span.End()

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
		if err != nil {
			span.RecordError(err)
			c.JSON(http.StatusBadRequest, datatypes.NewErrorResponse(datatypes.ErrMsgInvalidBody))
			return
		}

		req, errMsg := decodeChatRequest(body, "")
		if errMsg != "" {
			span.SetStatus(codes.Error, errMsg)
			slog.Warn("rejected chat request", "reason", errMsg)
			c.JSON(http.StatusBadRequest, datatypes.NewErrorResponse(errMsg))
			return
		}
		span.SetAttributes(attribute.String("session.id", req.SessionID))

		outcome := processor.Process(ctx, req.Message, req.SessionID)
		if outcome == nil {
			span.SetStatus(codes.Error, "nil outcome")
			slog.Error("chat pipeline returned no outcome", "session_id", req.SessionID)
			c.JSON(http.StatusInternalServerError, datatypes.NewErrorResponse(datatypes.ErrMsgInternal))
			return
		}
		c.JSON(http.StatusOK, outcome.ToResponse())
	}
}

// maxBodyBytes leaves room for JSON framing around a maximal message.
const maxBodyBytes = datatypes.MaxMessageContentBytes + 4096

// decodeChatRequest parses and validates a chat frame. A frame without a
// session id takes defaultSession, or a fresh UUID when that is empty too. A
// non-empty second return is the client-facing error message.
func decodeChatRequest(body []byte, defaultSession string) (*datatypes.ChatRequest, string) {
	var req datatypes.ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, datatypes.ErrMsgInvalidBody
	}
	if err := req.Validate(); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				if fe.Tag() == "notblank" {
					return nil, datatypes.ErrMsgMissingInput
				}
			}
		}
		return nil, datatypes.ErrMsgInvalidBody
	}
	if strings.TrimSpace(req.SessionID) == "" {
		req.SessionID = defaultSession
	}
	req.EnsureDefaults()
	return &req, ""
}
