// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the assistant orchestrator.
//
// This file contains the request and response types of the chat endpoint.
// Persisted turn records live in turn.go, retrieval results in retrieval.go.
package datatypes

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a single user message.
	MaxMessageContentBytes = 32 * 1024

	// MaxSessionIDLength bounds client-chosen session identifiers.
	MaxSessionIDLength = 256

	// ErrMsgMissingInput is returned with HTTP 400 when the message is empty.
	ErrMsgMissingInput = "Message/Session ID is missing"

	// ErrMsgInvalidBody is returned with HTTP 400 when the body is not JSON.
	ErrMsgInvalidBody = "Invalid request body"

	// ErrMsgInternal is returned with HTTP 500. No detail is leaked.
	ErrMsgInternal = "Internal server error"

	// ErrMsgRateLimited is returned with HTTP 429.
	ErrMsgRateLimited = "Too many requests, please slow down"
)

// QueryType labels a turn. The first three values are the classifier's
// label set; blocked and error are assigned by the pipeline only.
type QueryType string

const (
	QueryTypeGreeting      QueryType = "greeting"
	QueryTypeFarewell      QueryType = "farewell"
	QueryTypeKnowledgeBase QueryType = "knowledge_base"
	QueryTypeBlocked       QueryType = "blocked"
	QueryTypeError         QueryType = "error"
)

// ClassificationLabels is the closed label set the classifier may return.
var ClassificationLabels = []QueryType{
	QueryTypeGreeting,
	QueryTypeFarewell,
	QueryTypeKnowledgeBase,
}

// IsClassificationLabel reports whether q is one of ClassificationLabels.
func (q QueryType) IsClassificationLabel() bool {
	for _, l := range ClassificationLabels {
		if q == l {
			return true
		}
	}
	return false
}

// =============================================================================
// Validation
// =============================================================================

var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
	_ = chatValidate.RegisterValidation("notblank", validateNotBlank)
}

func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageContentBytes
}

func validateNotBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

// =============================================================================
// Request / Response
// =============================================================================

// ChatRequest is the body of POST /v1/chat and of each websocket frame.
//
// # Fields
//
//   - Message: Required, non-blank, at most 32KB.
//   - SessionID: Optional. A UUID is generated by EnsureDefaults when absent.
type ChatRequest struct {
	Message   string `json:"message" validate:"notblank,maxbytes"`
	SessionID string `json:"sessionId" validate:"max=256"`
}

// Validate checks the request against its validator tags.
func (r *ChatRequest) Validate() error {
	return chatValidate.Struct(r)
}

// EnsureDefaults assigns a fresh session id when the client did not send one.
func (r *ChatRequest) EnsureDefaults() {
	r.SessionID = strings.TrimSpace(r.SessionID)
	if r.SessionID == "" {
		r.SessionID = uuid.New().String()
	}
}

// Source is an attribution record emitted alongside a knowledge-base answer.
// Nil pointers serialize as JSON null.
type Source struct {
	Filename     string  `json:"filename"`
	URL          *string `json:"url"`
	StorageURI   *string `json:"s3Uri"`
	PresignedURL *string `json:"presignedUrl"`
}

// ChatResponse is the wire shape of a handled turn, successful or not.
type ChatResponse struct {
	Success      bool      `json:"success"`
	Response     string    `json:"response"`
	SessionID    string    `json:"sessionId"`
	QueryType    QueryType `json:"queryType"`
	ResponseTime Latency   `json:"responseTime"`
	Sources      []Source  `json:"sources"`
	Fallback     bool      `json:"fallback,omitempty"`
}

// ErrorResponse is returned for validation failures and internal errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Success bool   `json:"success"`
}

// NewErrorResponse builds an ErrorResponse with Success=false.
func NewErrorResponse(msg string) ErrorResponse {
	return ErrorResponse{Error: msg, Success: false}
}

// ChatOutcome is what the pipeline produces for one turn.
//
// # Description
//
// ChatOutcome carries the user-visible answer together with the flags the
// transport and tests need: whether generation degraded to the apology text
// and whether the turn reached the store.
type ChatOutcome struct {
	Success   bool
	Answer    string
	SessionID string
	QueryType QueryType
	Latency   Latency
	Sources   []Source
	Fallback  bool
	Persisted bool
}

// ToResponse converts the outcome to its wire shape. Sources is never nil.
func (o *ChatOutcome) ToResponse() ChatResponse {
	sources := o.Sources
	if sources == nil {
		sources = []Source{}
	}
	return ChatResponse{
		Success:      o.Success,
		Response:     o.Answer,
		SessionID:    o.SessionID,
		QueryType:    o.QueryType,
		ResponseTime: o.Latency,
		Sources:      sources,
		Fallback:     o.Fallback,
	}
}
