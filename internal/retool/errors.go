/*
Copyright (c) 2026 hortator-ai
SPDX-License-Identifier: MIT
*/

package retool

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/hortator-ai/retool-gateway/internal/account"
)

// Op identifies which upstream protocol step failed.
type Op string

const (
	OpAgentQuery   Op = "agent_query"
	OpThreadCreate Op = "thread_create"
	OpMessageSend  Op = "message_send"
	OpMessageGet   Op = "message_get"
)

// Error is the structured record of one failed upstream call. It is never
// mutated after creation.
type Error struct {
	Op        Op        `json:"operation"`
	Account   string    `json:"account"`
	Status    int       `json:"status_code,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("retool %s on %s: HTTP %d: %s", e.Op, e.Account, e.Status, e.Message)
	}
	return fmt.Sprintf("retool %s on %s: %s", e.Op, e.Account, e.Message)
}

// IsAuth reports whether the failure must permanently disable the account.
func (e *Error) IsAuth() bool {
	return account.IsAuthStatus(e.Status)
}

// NewError stamps a new Error with the current time.
func NewError(op Op, domain string, status int, msg string) *Error {
	return &Error{Op: op, Account: domain, Status: status, Message: msg, Timestamp: time.Now()}
}

// AsError extracts an *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var re *Error
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// LogError emits the structured record to the error log.
func LogError(log logr.Logger, e *Error) {
	log.Error(e, "retool request failed",
		"operation", string(e.Op),
		"account", e.Account,
		"status", e.Status,
		"message", e.Message,
		"timestamp", e.Timestamp.Format(time.RFC3339Nano),
	)
}
