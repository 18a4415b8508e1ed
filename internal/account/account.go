/*
Copyright (c) 2026 hortator-ai
SPDX-License-Identifier: MIT
*/

// Package account holds the pool of upstream Retool credential sets and their
// mutable health state.
//
// Health fields are guarded per account by a narrow mutex. The lock is only
// held for field reads and writes, never across an upstream call, so requests
// against different accounts never serialize on each other. Selection itself
// (read all, pick, mark used) is not atomic across accounts: two concurrent
// requests may pick the same least-recently-used account. That race only
// affects load spreading, not correctness.
package account

import (
	"net/http"
	"sync"
	"time"
)

// Agent is an upstream-side AI backend bound to one underlying model.
type Agent struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Model string `json:"model"`
}

// Spec is the static identity of an account as supplied by configuration.
type Spec struct {
	Domain      string
	XsrfToken   string
	AccessToken string
}

// Health is a point-in-time copy of an account's mutable fields.
type Health struct {
	Valid      bool
	LastUsed   time.Time
	ErrorCount int
}

// Account is one set of upstream credentials plus its discovered agents and
// health state.
type Account struct {
	Domain      string
	XsrfToken   string
	AccessToken string

	mu         sync.Mutex
	valid      bool
	lastUsed   time.Time
	errorCount int
	agents     []Agent
}

// New creates a valid, never-used account with no agents.
func New(spec Spec) *Account {
	return &Account{
		Domain:      spec.Domain,
		XsrfToken:   spec.XsrfToken,
		AccessToken: spec.AccessToken,
		valid:       true,
	}
}

// Snapshot returns a copy of the health fields.
func (a *Account) Snapshot() Health {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Health{Valid: a.valid, LastUsed: a.lastUsed, ErrorCount: a.errorCount}
}

// Valid reports whether the account has not been permanently disabled.
func (a *Account) Valid() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.valid
}

// MarkUsed records a selection at t. LastUsed never moves backwards.
func (a *Account) MarkUsed(t time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if t.After(a.lastUsed) {
		a.lastUsed = t
	}
}

// RecordFailure increments the error count. An authentication failure also
// disables the account for the rest of the process lifetime.
func (a *Account) RecordFailure(authFailure bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errorCount++
	if authFailure {
		a.valid = false
	}
}

// Invalidate permanently disables the account. There is no inverse.
func (a *Account) Invalidate() {
	a.mu.Lock()
	a.valid = false
	a.mu.Unlock()
}

// SetAgents replaces the discovered agent list.
func (a *Account) SetAgents(agents []Agent) {
	cp := make([]Agent, len(agents))
	copy(cp, agents)
	a.mu.Lock()
	a.agents = cp
	a.mu.Unlock()
}

// Agents returns a copy of the discovered agents in discovery order.
func (a *Account) Agents() []Agent {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := make([]Agent, len(a.agents))
	copy(cp, a.agents)
	return cp
}

// FirstAgentIn returns the first of the account's agents (in discovery order)
// whose id is in allowed.
func (a *Account) FirstAgentIn(allowed map[string]struct{}) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, ag := range a.agents {
		if _, ok := allowed[ag.ID]; ok {
			return ag.ID, true
		}
	}
	return "", false
}

// HasAgent reports whether id is one of the account's agents.
func (a *Account) HasAgent(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, ag := range a.agents {
		if ag.ID == id {
			return true
		}
	}
	return false
}

// IsAuthStatus reports whether an upstream status code is an authentication
// failure that must disable the account.
func IsAuthStatus(code int) bool {
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}
