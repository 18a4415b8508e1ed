/*
Copyright (c) 2026 hortator-ai
SPDX-License-Identifier: MIT
*/

package cmd

import (
	"context"

	"github.com/hortator-ai/retool-gateway/internal/account"
	"github.com/hortator-ai/retool-gateway/internal/catalog"
	"github.com/hortator-ai/retool-gateway/internal/config"
	"github.com/hortator-ai/retool-gateway/internal/orchestrator"
	"github.com/hortator-ai/retool-gateway/internal/retool"
	"github.com/hortator-ai/retool-gateway/internal/selector"
	"github.com/hortator-ai/retool-gateway/internal/session"
)

// pipeline is everything one process needs to answer chat requests.
type pipeline struct {
	registry     *account.Registry
	selector     *selector.Selector
	orchestrator *orchestrator.Orchestrator
}

// buildPipeline creates the account pool, runs discovery once and wires the
// selector, session driver and orchestrator on top.
func buildPipeline(ctx context.Context, cfg *config.Config) *pipeline {
	reg := account.NewRegistry(cfg.AccountSpecs())
	client := retool.NewClient(cfg.Upstream.RequestTimeout, cfg.Upstream.Scheme)

	cat := catalog.Discover(ctx, reg, client)
	sel := selector.New(reg, cat, selector.WithQuarantine(cfg.Selector.ErrorThreshold, cfg.Selector.Quarantine))

	driver := session.NewDriver(client)
	driver.PollInterval = cfg.Upstream.PollInterval
	driver.PollTimeout = cfg.Upstream.PollTimeout

	orch := orchestrator.New(reg, sel, driver)
	orch.Formatter = session.PromptFormatter{ContinuationMarker: cfg.Upstream.ContinuationMarker}

	return &pipeline{registry: reg, selector: sel, orchestrator: orch}
}
