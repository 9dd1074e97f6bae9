// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianAssist/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianAssist/services/orchestrator/store"
	"github.com/gin-gonic/gin"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

// SessionHistoryResponse is the body of GET /v1/sessions/:sessionId/history.
type SessionHistoryResponse struct {
	SessionID string           `json:"sessionId"`
	Turns     []datatypes.Turn `json:"turns"`
}

// GetSessionHistory returns up to ?limit= most recent turns of a session in
// chronological order. Unknown sessions yield an empty list.
func GetSessionHistory(turns store.TurnStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := chatTracer.Start(c.Request.Context(), "GetSessionHistory")
		defer span.End()

		sessionID := strings.TrimSpace(c.Param("sessionId"))
		if sessionID == "" || len(sessionID) > datatypes.MaxSessionIDLength {
			c.JSON(http.StatusBadRequest, datatypes.NewErrorResponse(datatypes.ErrMsgMissingInput))
			return
		}

		limit := defaultHistoryLimit
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				c.JSON(http.StatusBadRequest, datatypes.NewErrorResponse("limit must be a positive integer"))
				return
			}
			limit = min(n, maxHistoryLimit)
		}

		history, err := turns.RecentTurns(ctx, sessionID, limit)
		if err != nil {
			span.RecordError(err)
			slog.Error("failed to read session history", "session_id", sessionID, "error", err)
			c.JSON(http.StatusInternalServerError, datatypes.NewErrorResponse(datatypes.ErrMsgInternal))
			return
		}
		if history == nil {
			history = []datatypes.Turn{}
		}
		c.JSON(http.StatusOK, SessionHistoryResponse{SessionID: sessionID, Turns: history})
	}
}
