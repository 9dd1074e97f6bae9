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
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/AleutianAI/AleutianAssist/services/orchestrator/datatypes"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tokenLimiter struct {
	mu      sync.Mutex
	tokens  int
	sources []string
}

func (l *tokenLimiter) Allow(source string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sources = append(l.sources, source)
	if l.tokens == 0 {
		return false
	}
	l.tokens--
	return true
}

func dialChatSocket(t *testing.T, p ChatProcessor) *websocket.Conn {
	t.Helper()
	return dialLimitedChatSocket(t, p, nil)
}

func dialLimitedChatSocket(t *testing.T, p ChatProcessor, limiter FrameLimiter) *websocket.Conn {
	t.Helper()
	router := gin.New()
	router.GET("/v1/chat/ws", HandleChatWebSocket(p, limiter))
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/chat/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHandleChatWebSocket_TurnsUseConnectionSession(t *testing.T) {
	p := &mockProcessor{}
	conn := dialChatSocket(t, p)

	var hello SessionCreatedFrame
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, ActionSessionCreated, hello.Action)
	require.NotEmpty(t, hello.SessionID)

	for _, msg := range []string{"Hi there", "What time does school start?"} {
		require.NoError(t, conn.WriteJSON(datatypes.ChatRequest{Message: msg}))
		var resp datatypes.ChatResponse
		require.NoError(t, conn.ReadJSON(&resp))
		assert.True(t, resp.Success)
		assert.Equal(t, "echo: "+msg, resp.Response)
		assert.Equal(t, hello.SessionID, resp.SessionID)
	}
	assert.Equal(t, 2, p.callCount())
}

func TestHandleChatWebSocket_ExplicitSessionWins(t *testing.T) {
	p := &mockProcessor{}
	conn := dialChatSocket(t, p)

	var hello SessionCreatedFrame
	require.NoError(t, conn.ReadJSON(&hello))

	require.NoError(t, conn.WriteJSON(datatypes.ChatRequest{Message: "hi", SessionID: "mine"}))
	var resp datatypes.ChatResponse
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, "mine", resp.SessionID)
}

func TestHandleChatWebSocket_InvalidFrameKeepsConnection(t *testing.T) {
	p := &mockProcessor{}
	conn := dialChatSocket(t, p)

	var hello SessionCreatedFrame
	require.NoError(t, conn.ReadJSON(&hello))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"message":`)))
	var bad datatypes.ErrorResponse
	require.NoError(t, conn.ReadJSON(&bad))
	assert.Equal(t, datatypes.ErrMsgInvalidBody, bad.Error)

	require.NoError(t, conn.WriteJSON(datatypes.ChatRequest{Message: "  "}))
	require.NoError(t, conn.ReadJSON(&bad))
	assert.Equal(t, datatypes.ErrMsgMissingInput, bad.Error)
	assert.Zero(t, p.callCount())

	require.NoError(t, conn.WriteJSON(datatypes.ChatRequest{Message: "still there?"}))
	var resp datatypes.ChatResponse
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, "echo: still there?", resp.Response)
}

func TestHandleChatWebSocket_FramesAreRateLimited(t *testing.T) {
	p := &mockProcessor{}
	limiter := &tokenLimiter{tokens: 1}
	conn := dialLimitedChatSocket(t, p, limiter)

	var hello SessionCreatedFrame
	require.NoError(t, conn.ReadJSON(&hello))

	require.NoError(t, conn.WriteJSON(datatypes.ChatRequest{Message: "first"}))
	var resp datatypes.ChatResponse
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, "echo: first", resp.Response)

	require.NoError(t, conn.WriteJSON(datatypes.ChatRequest{Message: "second"}))
	var limited datatypes.ErrorResponse
	require.NoError(t, conn.ReadJSON(&limited))
	assert.False(t, limited.Success)
	assert.Equal(t, datatypes.ErrMsgRateLimited, limited.Error)
	assert.Equal(t, 1, p.callCount())

	limiter.mu.Lock()
	limiter.tokens = 1
	assert.Equal(t, []string{hello.SessionID, hello.SessionID}, limiter.sources)
	limiter.mu.Unlock()

	require.NoError(t, conn.WriteJSON(datatypes.ChatRequest{Message: "third"}))
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, "echo: third", resp.Response)
	assert.Equal(t, 2, p.callCount())
}
