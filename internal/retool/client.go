/*
Copyright (c) 2026 hortator-ai
SPDX-License-Identifier: MIT
*/

// Package retool is the HTTP client for the Retool agents API.
//
// Every call authenticates with the account's access token cookie and XSRF
// header. Failures are returned as *Error so callers can record them per
// account.
package retool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hortator-ai/retool-gateway/internal/account"
	"github.com/hortator-ai/retool-gateway/internal/metrics"
)

const maxErrorBody = 512

// Client talks to any number of Retool accounts; the account is passed per call.
type Client struct {
	HTTPClient *http.Client
	// Scheme is "https" unless overridden (tests use plain http).
	Scheme string
}

// NewClient returns a client whose requests time out after timeout.
func NewClient(timeout time.Duration, scheme string) *Client {
	if scheme == "" {
		scheme = "https"
	}
	return &Client{
		HTTPClient: &http.Client{Timeout: timeout},
		Scheme:     scheme,
	}
}

// --- wire types ---

type agentsResponse struct {
	Agents []agentPayload `json:"agents"`
}

type agentPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Data struct {
		Model string `json:"model"`
	} `json:"data"`
}

type createThreadRequest struct {
	Name     string `json:"name"`
	Timezone string `json:"timezone"`
}

type createThreadResponse struct {
	ID string `json:"id"`
}

type sendMessageRequest struct {
	Type     string `json:"type"`
	Text     string `json:"text"`
	Timezone string `json:"timezone"`
}

type sendMessageResponse struct {
	Content struct {
		RunID string `json:"runId"`
	} `json:"content"`
}

// RunLog is the state of an agent run as reported by the logs endpoint.
type RunLog struct {
	Status string       `json:"status"`
	Trace  []TraceEntry `json:"trace"`
}

// TraceEntry is one step of a run's trace.
type TraceEntry struct {
	SpanType string `json:"spanType"`
	Data     struct {
		Data struct {
			Content string `json:"content"`
		} `json:"data"`
	} `json:"data"`
}

// Completed reports whether the run finished successfully.
func (l *RunLog) Completed() bool {
	return strings.EqualFold(l.Status, "COMPLETED")
}

// Failed reports whether the run reached a terminal non-success state.
func (l *RunLog) Failed() bool {
	switch strings.ToUpper(l.Status) {
	case "FAILED", "ERROR", "CANCELLED":
		return true
	}
	return false
}

// FinalText returns the content of the last trace entry.
func (l *RunLog) FinalText() (string, bool) {
	if len(l.Trace) == 0 {
		return "", false
	}
	text := l.Trace[len(l.Trace)-1].Data.Data.Content
	return text, text != ""
}

// --- operations ---

// ListAgents returns the agents configured on the account.
func (c *Client) ListAgents(ctx context.Context, acct *account.Account) ([]account.Agent, error) {
	var resp agentsResponse
	if err := c.do(ctx, acct, OpAgentQuery, http.MethodGet, "/api/agents", nil, &resp); err != nil {
		return nil, err
	}
	agents := make([]account.Agent, 0, len(resp.Agents))
	for _, a := range resp.Agents {
		agents = append(agents, account.Agent{ID: a.ID, Name: a.Name, Model: a.Data.Model})
	}
	return agents, nil
}

// CreateThread opens a new conversation thread on agentID.
func (c *Client) CreateThread(ctx context.Context, acct *account.Account, agentID string) (string, error) {
	var resp createThreadResponse
	path := "/api/agents/" + url.PathEscape(agentID) + "/threads"
	if err := c.do(ctx, acct, OpThreadCreate, http.MethodPost, path, createThreadRequest{}, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", NewError(OpThreadCreate, acct.Domain, 0, "response did not include a thread id")
	}
	return resp.ID, nil
}

// SendMessage posts text to the thread and returns the run id.
func (c *Client) SendMessage(ctx context.Context, acct *account.Account, agentID, threadID, text string) (string, error) {
	var resp sendMessageResponse
	path := "/api/agents/" + url.PathEscape(agentID) + "/threads/" + url.PathEscape(threadID) + "/messages"
	body := sendMessageRequest{Type: "text", Text: text}
	if err := c.do(ctx, acct, OpMessageSend, http.MethodPost, path, body, &resp); err != nil {
		return "", err
	}
	if resp.Content.RunID == "" {
		return "", NewError(OpMessageSend, acct.Domain, 0, "response did not include a run id")
	}
	return resp.Content.RunID, nil
}

// GetRun fetches the current log of a run.
func (c *Client) GetRun(ctx context.Context, acct *account.Account, agentID, runID string) (*RunLog, error) {
	var resp RunLog
	path := "/api/agents/" + url.PathEscape(agentID) + "/logs/" + url.PathEscape(runID)
	if err := c.do(ctx, acct, OpMessageGet, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// do executes one call and decodes a 2xx JSON body into out. Context
// cancellation is returned as-is so callers can tell it apart from upstream
// failures.
func (c *Client) do(ctx context.Context, acct *account.Account, op Op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return NewError(op, acct.Domain, 0, "encode request: "+err.Error())
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.Scheme+"://"+acct.Domain+path, body)
	if err != nil {
		return NewError(op, acct.Domain, 0, "build request: "+err.Error())
	}
	req.Header.Set("Cookie", "accessToken="+acct.AccessToken)
	req.Header.Set("X-Xsrf-Token", acct.XsrfToken)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		metrics.ObserveUpstream(string(op), acct.Domain, 0)
		return NewError(op, acct.Domain, 0, err.Error())
	}
	defer resp.Body.Close()
	metrics.ObserveUpstream(string(op), acct.Domain, resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := strings.TrimSpace(string(snippet))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return NewError(op, acct.Domain, resp.StatusCode, msg)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return NewError(op, acct.Domain, 0, fmt.Sprintf("decode response: %v", err))
	}
	return nil
}
