// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the orchestrator service.
//
// Order on the router is Recovery, CORS, then route-level middleware such as
// RateLimit:
//
//	Request
//	   │
//	   ▼
//	Recovery ──► panic ──► 500 {"error": "Internal server error"}
//	   │
//	   ▼
//	CORS ──► OPTIONS ──► 200, empty body
//	   │
//	   ▼
//	RateLimit ──► no token ──► 429
//	   │
//	   ▼
//	Handler
package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/AleutianAI/AleutianAssist/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianAssist/services/orchestrator/observability"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// CORS header values sent on every response.
const (
	AllowOrigin  = "*"
	AllowHeaders = "Content-Type,X-Amz-Date,Authorization,X-Api-Key,X-Amz-Security-Token"
	AllowMethods = "OPTIONS,POST,GET"
)

// =============================================================================
// CORS
// =============================================================================

// CORS sets the cross-origin headers on every response and answers
// preflight OPTIONS requests with 200 and an empty body. Preflights never
// reach a handler.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", AllowOrigin)
		h.Set("Access-Control-Allow-Headers", AllowHeaders)
		h.Set("Access-Control-Allow-Methods", AllowMethods)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

// =============================================================================
// Rate limiting
// =============================================================================

// Limiter is one token bucket shared by every route and connection that
// holds it. A nil *Limiter allows everything.
//
// # Thread Safety
//
// rate.Limiter is safe for concurrent use.
type Limiter struct {
	bucket  *rate.Limiter
	metrics *observability.AssistMetrics
}

// NewLimiter refills at rps tokens per second up to burst. A non-positive rps
// returns nil, which disables limiting. Burst values below 1 are raised to 1.
// metrics counts rejections and may be nil.
func NewLimiter(rps float64, burst int, metrics *observability.AssistMetrics) *Limiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{bucket: rate.NewLimiter(rate.Limit(rps), burst), metrics: metrics}
}

// Allow takes one token. A rejection is counted and logged with source,
// which is a client address or a session id.
func (l *Limiter) Allow(source string) bool {
	if l == nil || l.bucket.Allow() {
		return true
	}
	l.metrics.RecordRateLimited()
	slog.Warn("chat request rate limited", "source", source)
	return false
}

// Middleware rejects requests with 429 once the bucket is empty.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.ClientIP() + " " + c.FullPath()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests,
				datatypes.NewErrorResponse(datatypes.ErrMsgRateLimited))
			return
		}
		c.Next()
	}
}

// RateLimit rejects requests with 429 once the token bucket is empty.
//
// # Description
//
// One bucket is shared by every caller of the routes it wraps, refilling at
// rps tokens per second up to burst. A non-positive rps disables limiting.
// Routes that must share a bucket with websocket frames use NewLimiter.
//
// # Inputs
//
//   - rps: Sustained requests per second.
//   - burst: Bucket size. Values below 1 are raised to 1.
//   - metrics: Counts rejections. May be nil.
func RateLimit(rps float64, burst int, metrics *observability.AssistMetrics) gin.HandlerFunc {
	return NewLimiter(rps, burst, metrics).Middleware()
}

// =============================================================================
// Recovery
// =============================================================================

// Recovery converts a handler panic into a generic 500. The panic value and
// stack are logged and never returned to the client.
func Recovery(logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			logger.Error("handler panicked",
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
			if c.Writer.Written() {
				c.Abort()
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError,
				datatypes.NewErrorResponse(datatypes.ErrMsgInternal))
		}()
		c.Next()
	}
}
