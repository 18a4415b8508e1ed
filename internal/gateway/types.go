/*
Copyright (c) 2026 hortator-ai
SPDX-License-Identifier: MIT
*/

// Package gateway is the HTTP surface of the OpenAI-compatible API: routing,
// bearer authentication and the translation of orchestrator outcomes into
// JSON documents or event streams.
package gateway

import (
	"github.com/hortator-ai/retool-gateway/internal/retool"
)

const (
	errTypeInvalidRequest = "invalid_request_error"
	errTypeAuthentication = "authentication_error"
	errTypeUpstream       = "upstream_error"
	errTypeServer         = "server_error"
)

// UpstreamErrorResponse is returned when every candidate account failed.
type UpstreamErrorResponse struct {
	Error UpstreamErrorDetail `json:"error"`
}

type UpstreamErrorDetail struct {
	Message  string          `json:"message"`
	Type     string          `json:"type"`
	Attempts int             `json:"attempts"`
	Details  []*retool.Error `json:"details"`
}
