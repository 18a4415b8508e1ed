/*
Copyright (c) 2026 hortator-ai
SPDX-License-Identifier: MIT
*/

// Package catalog aggregates the agents discovered on every account into
// logical model families.
package catalog

import (
	"context"
	"strings"
	"time"

	ctrl "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/hortator-ai/retool-gateway/internal/account"
	"github.com/hortator-ai/retool-gateway/internal/metrics"
	"github.com/hortator-ai/retool-gateway/internal/retool"
)

// familySegments is how many hyphen-separated segments of an upstream model
// name form the family id.
const familySegments = 3

// AgentLister queries the agents configured on one account.
type AgentLister interface {
	ListAgents(ctx context.Context, acct *account.Account) ([]account.Agent, error)
}

// ModelRecord is one logical model exposed to clients.
type ModelRecord struct {
	ID       string
	Name     string
	Upstream string
	OwnedBy  string
	// AgentIDs are the upstream agents, across all accounts, that serve the model.
	AgentIDs map[string]struct{}
}

// Catalog is immutable once built.
type Catalog struct {
	models    []ModelRecord
	byID      map[string]int
	createdAt time.Time
}

// FamilyID truncates an upstream model name to its first three segments.
func FamilyID(model string) string {
	parts := strings.Split(model, "-")
	if len(parts) > familySegments {
		parts = parts[:familySegments]
	}
	return strings.Join(parts, "-")
}

// OwnedBy derives the ownership tag from the upstream model name.
func OwnedBy(model string) string {
	if strings.Contains(strings.ToLower(model), "claude") {
		return "anthropic"
	}
	return "openai"
}

// Discover queries every account's agents and builds a fresh catalog. A failed
// query is logged and leaves that account with no agents; a 401/403 also
// disables the account. Failed accounts are not retried.
func Discover(ctx context.Context, reg *account.Registry, lister AgentLister) *Catalog {
	log := ctrl.Log.WithName("catalog.discover")

	for _, acct := range reg.All() {
		spanCtx, span := metrics.StartSpan(ctx, "retool.agents.list", acct.Domain)
		agents, err := lister.ListAgents(spanCtx, acct)
		metrics.EndSpan(span, err)
		if err != nil {
			acct.SetAgents(nil)
			if re, ok := retool.AsError(err); ok {
				retool.LogError(log, re)
				if re.IsAuth() {
					acct.Invalidate()
				}
			} else {
				log.Error(err, "agent discovery failed", "account", acct.Domain)
			}
			metrics.SetAccountValid(acct.Domain, acct.Valid())
			continue
		}
		acct.SetAgents(agents)
		metrics.SetAccountValid(acct.Domain, acct.Valid())
		log.V(1).Info("discovered agents", "account", acct.Domain, "count", len(agents))
	}

	cat := Build(reg)
	log.Info("model catalog built", "models", len(cat.models), "accounts", reg.Len(), "valid", reg.ValidCount())
	return cat
}

// Build groups the accounts' current agent lists into model families. It is a
// pure function of those lists.
func Build(reg *account.Registry) *Catalog {
	cat := &Catalog{byID: map[string]int{}, createdAt: time.Now()}
	for _, acct := range reg.All() {
		for _, ag := range acct.Agents() {
			id := FamilyID(ag.Model)
			idx, ok := cat.byID[id]
			if !ok {
				cat.models = append(cat.models, ModelRecord{
					ID:       id,
					Name:     ag.Name,
					Upstream: ag.Model,
					OwnedBy:  OwnedBy(ag.Model),
					AgentIDs: map[string]struct{}{},
				})
				idx = len(cat.models) - 1
				cat.byID[id] = idx
			}
			cat.models[idx].AgentIDs[ag.ID] = struct{}{}
		}
	}
	return cat
}

// Lookup returns the record for a model id.
func (c *Catalog) Lookup(id string) (ModelRecord, bool) {
	if c == nil {
		return ModelRecord{}, false
	}
	idx, ok := c.byID[id]
	if !ok {
		return ModelRecord{}, false
	}
	return c.models[idx], true
}

// Models lists the records in discovery order.
func (c *Catalog) Models() []ModelRecord {
	if c == nil {
		return nil
	}
	out := make([]ModelRecord, len(c.models))
	copy(out, c.models)
	return out
}

// CreatedAt is when the catalog was built.
func (c *Catalog) CreatedAt() time.Time {
	if c == nil {
		return time.Time{}
	}
	return c.createdAt
}
