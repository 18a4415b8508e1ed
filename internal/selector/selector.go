/*
Copyright (c) 2026 hortator-ai
SPDX-License-Identifier: MIT
*/

// Package selector picks the next account to try for a model.
//
// It is a lightweight circuit breaker plus least-recently-used spreading:
// accounts that failed repeatedly sit out a quarantine window measured from
// their last selection, and among eligible accounts the one that has rested
// longest goes first.
package selector

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/hortator-ai/retool-gateway/internal/account"
	"github.com/hortator-ai/retool-gateway/internal/catalog"
)

const (
	DefaultErrorThreshold = 3
	DefaultQuarantine     = 300 * time.Second
)

// Selection pairs the chosen account with the agent it should use.
type Selection struct {
	Account *account.Account
	AgentID string
}

// Selector chooses accounts from a registry for models in a catalog.
type Selector struct {
	reg        *account.Registry
	cat        atomic.Pointer[catalog.Catalog]
	now        func() time.Time
	threshold  int
	quarantine time.Duration
}

// Option configures a Selector.
type Option func(*Selector)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Selector) { s.now = now }
}

// WithQuarantine overrides the error threshold and quarantine window.
func WithQuarantine(threshold int, window time.Duration) Option {
	return func(s *Selector) {
		s.threshold = threshold
		s.quarantine = window
	}
}

// New builds a selector over reg and cat.
func New(reg *account.Registry, cat *catalog.Catalog, opts ...Option) *Selector {
	s := &Selector{
		reg:        reg,
		now:        time.Now,
		threshold:  DefaultErrorThreshold,
		quarantine: DefaultQuarantine,
	}
	s.cat.Store(cat)
	for _, o := range opts {
		o(s)
	}
	return s
}

// Catalog returns the catalog currently in use.
func (s *Selector) Catalog() *catalog.Catalog {
	return s.cat.Load()
}

// SetCatalog replaces the catalog wholesale.
func (s *Selector) SetCatalog(cat *catalog.Catalog) {
	s.cat.Store(cat)
}

// Known reports whether modelID is in the current catalog.
func (s *Selector) Known(modelID string) bool {
	_, ok := s.cat.Load().Lookup(modelID)
	return ok
}

type candidate struct {
	acct    *account.Account
	agentID string
	health  account.Health
}

// SelectNext returns the next account to try for modelID, skipping accounts in
// exclude. It returns false for an unknown model or when no account is
// eligible. The chosen account's last-used time is set to now whether or not
// the caller's attempt later succeeds.
func (s *Selector) SelectNext(modelID string, exclude map[*account.Account]bool) (Selection, bool) {
	rec, ok := s.cat.Load().Lookup(modelID)
	if !ok || len(rec.AgentIDs) == 0 {
		return Selection{}, false
	}

	now := s.now()
	var candidates []candidate
	for _, acct := range s.reg.All() {
		if exclude[acct] {
			continue
		}
		h := acct.Snapshot()
		if !h.Valid || s.quarantined(h, now) {
			continue
		}
		agentID, ok := acct.FirstAgentIn(rec.AgentIDs)
		if !ok {
			continue
		}
		candidates = append(candidates, candidate{acct: acct, agentID: agentID, health: h})
	}
	if len(candidates) == 0 {
		return Selection{}, false
	}

	// Stable: equal (lastUsed, errorCount) keeps registry order.
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i].health, candidates[j].health
		if !a.LastUsed.Equal(b.LastUsed) {
			return a.LastUsed.Before(b.LastUsed)
		}
		return a.ErrorCount < b.ErrorCount
	})

	chosen := candidates[0]
	chosen.acct.MarkUsed(now)
	return Selection{Account: chosen.acct, AgentID: chosen.agentID}, true
}

// Eligible reports whether acct could be selected right now, ignoring models.
func (s *Selector) Eligible(acct *account.Account) bool {
	h := acct.Snapshot()
	return h.Valid && !s.quarantined(h, s.now())
}

func (s *Selector) quarantined(h account.Health, now time.Time) bool {
	return h.ErrorCount >= s.threshold && now.Sub(h.LastUsed) < s.quarantine
}
