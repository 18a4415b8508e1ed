/*
Copyright (c) 2026 hortator-ai
SPDX-License-Identifier: MIT
*/

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/hortator-ai/retool-gateway/internal/catalog"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Discover agents and print the model catalog",
	Long: `Query every configured account for its agents and print the model
families the gateway would serve, with the agents behind each one.

Examples:
  retool-gateway models
  retool-gateway models -o json
  retool-gateway models -o toml`,
	RunE: runModels,
}

func init() {
	modelsCmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table, json, yaml, toml")
	rootCmd.AddCommand(modelsCmd)
}

// modelEntry is the printable view of one catalog record.
type modelEntry struct {
	ID       string   `json:"id" toml:"id"`
	Name     string   `json:"name" toml:"name"`
	Upstream string   `json:"upstream" toml:"upstream"`
	OwnedBy  string   `json:"ownedBy" toml:"owned_by"`
	Agents   []string `json:"agents" toml:"agents"`
}

func runModels(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(len(cfg.Accounts)+1)*cfg.Upstream.RequestTimeout)
	defer cancel()

	p := buildPipeline(ctx, cfg)
	return printModels(cmd.OutOrStdout(), outputFormat, modelEntries(p.selector.Catalog()))
}

func modelEntries(cat *catalog.Catalog) []modelEntry {
	entries := make([]modelEntry, 0)
	for _, rec := range cat.Models() {
		agents := make([]string, 0, len(rec.AgentIDs))
		for id := range rec.AgentIDs {
			agents = append(agents, id)
		}
		sort.Strings(agents)
		entries = append(entries, modelEntry{
			ID:       rec.ID,
			Name:     rec.Name,
			Upstream: rec.Upstream,
			OwnedBy:  rec.OwnedBy,
			Agents:   agents,
		})
	}
	return entries
}

func printModels(w io.Writer, format string, entries []modelEntry) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	case "yaml":
		data, err := yaml.Marshal(entries)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	case "toml":
		data, err := toml.Marshal(struct {
			Models []modelEntry `toml:"models"`
		}{entries})
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	case "table", "":
	default:
		return fmt.Errorf("unknown output format %q", format)
	}

	if len(entries) == 0 {
		_, _ = fmt.Fprintln(w, "No models found.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tOWNED BY\tAGENTS\tUPSTREAM")
	for _, e := range entries {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", e.ID, e.OwnedBy, len(e.Agents), e.Upstream)
	}
	return tw.Flush()
}
