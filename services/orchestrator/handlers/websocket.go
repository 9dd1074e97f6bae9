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

	"github.com/AleutianAI/AleutianAssist/services/orchestrator/datatypes"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ActionSessionCreated is the first frame sent on every connection.
const ActionSessionCreated = "session_created"

// SessionCreatedFrame announces the connection's default session id.
type SessionCreatedFrame struct {
	Action    string `json:"action"`
	SessionID string `json:"sessionId"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

func sendJSON(ws *websocket.Conn, v any) error {
	err := ws.WriteJSON(v)
	if err != nil {
		slog.Warn("Failed to write WebSocket JSON", "error", err)
	}
	return err
}

// FrameLimiter gates each websocket frame. middleware.Limiter implements it.
type FrameLimiter interface {
	Allow(source string) bool
}

// HandleChatWebSocket serves /v1/chat/ws.
//
// # Description
//
// After the upgrade the server sends SessionCreatedFrame. Each text frame
// {message, sessionId?} then runs one pipeline turn and is answered with a
// datatypes.ChatResponse, or with a datatypes.ErrorResponse when the frame
// fails validation. Frames without a sessionId use the connection's id.
// Turns on one connection run strictly in order. When limiter is non-nil
// every frame takes a token; a frame without one is answered with the
// rate-limit ErrorResponse and the connection stays open.
func HandleChatWebSocket(processor ChatProcessor, limiter FrameLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()
		ws.SetReadLimit(maxBodyBytes)

		connSession := uuid.New().String()
		slog.Info("websocket client connected", "session_id", connSession)

		if err := sendJSON(ws, SessionCreatedFrame{Action: ActionSessionCreated, SessionID: connSession}); err != nil {
			return
		}

		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				slog.Info("websocket client disconnected", "session_id", connSession, "error", err.Error())
				return
			}

			if limiter != nil && !limiter.Allow(connSession) {
				if sendJSON(ws, datatypes.NewErrorResponse(datatypes.ErrMsgRateLimited)) != nil {
					return
				}
				continue
			}

			req, errMsg := decodeChatRequest(data, connSession)
			if errMsg != "" {
				if sendJSON(ws, datatypes.NewErrorResponse(errMsg)) != nil {
					return
				}
				continue
			}

			outcome := processor.Process(c.Request.Context(), req.Message, req.SessionID)
			var reply any = datatypes.NewErrorResponse(datatypes.ErrMsgInternal)
			if outcome != nil {
				reply = outcome.ToResponse()
			}
			if sendJSON(ws, reply) != nil {
				return
			}
		}
	}
}
