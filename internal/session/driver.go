/*
Copyright (c) 2026 hortator-ai
SPDX-License-Identifier: MIT
*/

// Package session drives one create-thread / send-message / poll-result
// exchange with the upstream on a single chosen account.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	ctrl "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/hortator-ai/retool-gateway/internal/account"
	"github.com/hortator-ai/retool-gateway/internal/metrics"
	"github.com/hortator-ai/retool-gateway/internal/poll"
	"github.com/hortator-ai/retool-gateway/internal/retool"
)

const (
	DefaultPollInterval = time.Second
	DefaultPollTimeout  = 300 * time.Second
)

// Upstream is the subset of the Retool client a session needs.
type Upstream interface {
	CreateThread(ctx context.Context, acct *account.Account, agentID string) (string, error)
	SendMessage(ctx context.Context, acct *account.Account, agentID, threadID, text string) (string, error)
	GetRun(ctx context.Context, acct *account.Account, agentID, runID string) (*retool.RunLog, error)
}

// Driver runs sessions. It never retries on another account; that is the
// orchestrator's job.
type Driver struct {
	Upstream     Upstream
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// NewDriver returns a driver with the default 1s/300s polling.
func NewDriver(up Upstream) *Driver {
	return &Driver{Upstream: up, PollInterval: DefaultPollInterval, PollTimeout: DefaultPollTimeout}
}

// Run executes one session and returns the agent's final text. Failures are
// *retool.Error values and are logged before being returned. Cancellation of
// ctx is returned as ctx.Err() and is not logged as an upstream failure.
func (d *Driver) Run(ctx context.Context, acct *account.Account, agentID, prompt string) (string, error) {
	log := ctrl.Log.WithName("session")

	text, err := d.run(ctx, acct, agentID, prompt)
	if err != nil {
		if re, ok := retool.AsError(err); ok {
			retool.LogError(log, re)
		}
		return "", err
	}
	log.V(1).Info("session completed", "account", acct.Domain, "agent", agentID, "chars", len(text))
	return text, nil
}

func (d *Driver) run(ctx context.Context, acct *account.Account, agentID, prompt string) (string, error) {
	agentAttr := attribute.String("retool.agent", agentID)

	spanCtx, span := metrics.StartSpan(ctx, "retool.thread.create", acct.Domain, agentAttr)
	threadID, err := d.Upstream.CreateThread(spanCtx, acct, agentID)
	metrics.EndSpan(span, err)
	if err != nil {
		return "", err
	}

	spanCtx, span = metrics.StartSpan(ctx, "retool.message.send", acct.Domain, agentAttr,
		attribute.String("retool.thread", threadID))
	runID, err := d.Upstream.SendMessage(spanCtx, acct, agentID, threadID, prompt)
	metrics.EndSpan(span, err)
	if err != nil {
		return "", err
	}

	spanCtx, span = metrics.StartSpan(ctx, "retool.message.poll", acct.Domain, agentAttr,
		attribute.String("retool.run", runID))
	text, err := d.await(spanCtx, acct, agentID, runID)
	metrics.EndSpan(span, err)
	return text, err
}

// await polls the run log until it completes. A failed poll request ends the
// session at once; there is no per-poll retry.
func (d *Driver) await(ctx context.Context, acct *account.Account, agentID, runID string) (string, error) {
	interval, timeout := d.PollInterval, d.PollTimeout
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}

	var text string
	err := poll.Until(ctx, interval, timeout, func(ctx context.Context) (bool, error) {
		runLog, err := d.Upstream.GetRun(ctx, acct, agentID, runID)
		if err != nil {
			return false, err
		}
		if runLog.Failed() {
			return false, retool.NewError(retool.OpMessageGet, acct.Domain, 0,
				fmt.Sprintf("agent run %s ended with status %s", runID, runLog.Status))
		}
		if !runLog.Completed() {
			return false, nil
		}
		t, ok := runLog.FinalText()
		if !ok {
			return false, retool.NewError(retool.OpMessageGet, acct.Domain, 0,
				fmt.Sprintf("agent run %s completed without content", runID))
		}
		text = t
		return true, nil
	})
	if errors.Is(err, poll.ErrTimeout) {
		return "", retool.NewError(retool.OpMessageGet, acct.Domain, 0,
			fmt.Sprintf("timed out waiting for agent response after %s", timeout))
	}
	return text, err
}
