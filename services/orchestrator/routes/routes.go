// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/AleutianAI/AleutianAssist/services/orchestrator/handlers"
	"github.com/AleutianAI/AleutianAssist/services/orchestrator/middleware"
	"github.com/AleutianAI/AleutianAssist/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianAssist/services/orchestrator/store"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RateLimit configures the chat endpoint limiter. RPS <= 0 disables it.
type RateLimit struct {
	RPS   float64
	Burst int
}

// Deps are the handler dependencies.
type Deps struct {
	Processor handlers.ChatProcessor
	Turns     store.TurnStore
	Metrics   *observability.AssistMetrics
	// Gatherer backs /metrics. Nil uses prometheus.DefaultGatherer.
	Gatherer  prometheus.Gatherer
	RateLimit RateLimit
}

// SetupRoutes registers every endpoint on router.
//
// CORS is applied router-wide so that OPTIONS on any path answers 200 and
// every response, including 4xx and 5xx, carries the CORS headers. Callers
// install middleware.Recovery before calling this.
func SetupRoutes(router *gin.Engine, deps Deps) {
	router.Use(middleware.CORS())

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := router.Group("/v1")
	{
		// One bucket covers POST requests, websocket upgrades and websocket frames.
		limiter := middleware.NewLimiter(deps.RateLimit.RPS, deps.RateLimit.Burst, deps.Metrics)
		limited := limiter.Middleware()

		v1.POST("/chat", limited, handlers.HandleChat(deps.Processor))
		// Answered by CORS; registered so the preflight route is explicit.
		v1.OPTIONS("/chat", func(c *gin.Context) {})
		v1.GET("/chat/ws", limited, handlers.HandleChatWebSocket(deps.Processor, limiter))

		sessions := v1.Group("/sessions")
		{
			sessions.GET("/:sessionId/history", handlers.GetSessionHistory(deps.Turns))
		}
	}
}
