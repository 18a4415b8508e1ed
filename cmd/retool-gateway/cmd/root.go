/*
Copyright (c) 2026 hortator-ai
SPDX-License-Identifier: MIT
*/

package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	ctrl "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/hortator-ai/retool-gateway/internal/config"
)

var (
	// configPath is an explicit config file; empty searches the defaults
	configPath string
	// outputFormat is the output format (table, json, yaml, toml)
	outputFormat string

	v = viper.New()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "retool-gateway",
	Short: "OpenAI-compatible gateway backed by a pool of Retool accounts",
	Long: `retool-gateway serves /v1/chat/completions and /v1/models on top of Retool
AI agents. Requests are spread across the configured accounts; a failing
account is penalized and the next one is tried transparently.

Examples:
  # Start the gateway with ./config.toml
  retool-gateway serve

  # Use an explicit config file and listen address
  retool-gateway serve --config /etc/retool-gateway/config.toml --listen :9000

  # Discover agents on every account and print the model catalog
  retool-gateway models -o yaml`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (defaults to ./config.toml or /etc/retool-gateway/config.toml)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info)")
	_ = v.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

// loadConfig reads configuration with flag, env and file precedence and
// installs the logger it asks for.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(v, configPath)
	if err != nil {
		return nil, err
	}
	opts := zap.Options{}
	if cfg.LogLevel == "debug" {
		opts.Development = true
	}
	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))
	return cfg, nil
}
