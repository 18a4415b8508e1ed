/*
Copyright (c) 2026 hortator-ai
SPDX-License-Identifier: MIT
*/

// Package orchestrator runs the request-level failover loop: select an
// account, run a session on it, and on failure penalize the account and move
// on to the next candidate until one succeeds or the pool is exhausted.
package orchestrator

import (
	"context"
	"errors"

	ctrl "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/hortator-ai/retool-gateway/internal/account"
	"github.com/hortator-ai/retool-gateway/internal/metrics"
	"github.com/hortator-ai/retool-gateway/internal/openai"
	"github.com/hortator-ai/retool-gateway/internal/retool"
	"github.com/hortator-ai/retool-gateway/internal/selector"
	"github.com/hortator-ai/retool-gateway/internal/session"
)

// ExhaustedMessage is the client-facing summary of pool exhaustion.
const ExhaustedMessage = "All Retool accounts failed"

var (
	// ErrUnknownModel means the model is not in the catalog. It is never retried.
	ErrUnknownModel = errors.New("model not found")
	// ErrNoMessages rejects an empty conversation before any selection.
	ErrNoMessages = errors.New("messages is required")
)

// ExhaustedError carries every per-attempt failure of one request, in order.
type ExhaustedError struct {
	Attempts int
	Details  []*retool.Error
}

func (e *ExhaustedError) Error() string { return ExhaustedMessage }

// Selector picks accounts.
type Selector interface {
	SelectNext(modelID string, exclude map[*account.Account]bool) (selector.Selection, bool)
}

// Runner executes one upstream session.
type Runner interface {
	Run(ctx context.Context, acct *account.Account, agentID, prompt string) (string, error)
}

// ModelLookup reports whether a model id is known.
type ModelLookup interface {
	Known(modelID string) bool
}

// Result is a successful completion.
type Result struct {
	Text     string
	Account  string
	AgentID  string
	Attempts int
}

// Orchestrator composes the registry, selector and session driver.
type Orchestrator struct {
	Registry  *account.Registry
	Models    ModelLookup
	Selector  Selector
	Runner    Runner
	Formatter session.PromptFormatter
}

// New wires an orchestrator whose model lookup and selection both come from sel.
func New(reg *account.Registry, sel *selector.Selector, runner Runner) *Orchestrator {
	return &Orchestrator{Registry: reg, Models: sel, Selector: sel, Runner: runner}
}

// Complete answers one chat request. It returns ErrUnknownModel,
// ErrNoMessages, *ExhaustedError, or the context's error if ctx ends first.
func (o *Orchestrator) Complete(ctx context.Context, model string, messages []openai.Message) (*Result, error) {
	log := ctrl.Log.WithName("orchestrator")

	if len(messages) == 0 {
		return nil, ErrNoMessages
	}
	if !o.Models.Known(model) {
		return nil, ErrUnknownModel
	}

	prompt := o.Formatter.Format(messages)
	tried := make(map[*account.Account]bool, o.Registry.Len())
	var details []*retool.Error

	// At most one attempt per account per request.
	for i := 0; i < o.Registry.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		sel, ok := o.Selector.SelectNext(model, tried)
		if !ok {
			break
		}
		tried[sel.Account] = true

		log.V(1).Info("attempting", "model", model, "account", sel.Account.Domain, "agent", sel.AgentID, "attempt", len(tried))
		text, err := o.Runner.Run(ctx, sel.Account, sel.AgentID, prompt)
		if err == nil {
			metrics.ObserveAttempt(sel.Account.Domain, true)
			return &Result{Text: text, Account: sel.Account.Domain, AgentID: sel.AgentID, Attempts: len(tried)}, nil
		}

		re, ok := retool.AsError(err)
		if !ok {
			// Not an upstream failure: the request itself was cancelled.
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			re = retool.NewError(retool.OpMessageGet, sel.Account.Domain, 0, err.Error())
			log.Error(err, "session failed without an upstream error record", "account", sel.Account.Domain)
		}

		details = append(details, re)
		sel.Account.RecordFailure(re.IsAuth())
		metrics.ObserveAttempt(sel.Account.Domain, false)
		if re.IsAuth() {
			metrics.SetAccountValid(sel.Account.Domain, false)
			log.Info("account disabled after authentication failure", "account", sel.Account.Domain, "status", re.Status)
		}
	}

	exhausted := ExhaustedErr(len(tried), details)
	metrics.ObserveExhausted(model)
	log.Error(exhausted, "pool exhausted", "model", model, "attempts", exhausted.Attempts)
	return nil, exhausted
}

// ExhaustedErr builds an *ExhaustedError.
func ExhaustedErr(attempts int, details []*retool.Error) *ExhaustedError {
	if details == nil {
		details = []*retool.Error{}
	}
	return &ExhaustedError{Attempts: attempts, Details: details}
}
