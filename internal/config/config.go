/*
Copyright (c) 2026 hortator-ai
SPDX-License-Identifier: MIT
*/

// Package config loads gateway settings from a config file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hortator-ai/retool-gateway/internal/account"
	"github.com/hortator-ai/retool-gateway/internal/openai"
	"github.com/hortator-ai/retool-gateway/internal/selector"
	"github.com/hortator-ai/retool-gateway/internal/session"
)

// EnvPrefix namespaces environment overrides, e.g. RETOOL_GATEWAY_LISTEN.
const EnvPrefix = "RETOOL_GATEWAY"

const (
	keyListen             = "listen"
	keyLogLevel           = "log_level"
	keyScheme             = "upstream.scheme"
	keyRequestTimeout     = "upstream.request_timeout"
	keyPollInterval       = "upstream.poll_interval"
	keyPollTimeout        = "upstream.poll_timeout"
	keyContinuationMarker = "upstream.continuation_marker"
	keyChunkSize          = "stream.chunk_size"
	keyChunkDelay         = "stream.chunk_delay"
	keyErrorThreshold     = "selector.error_threshold"
	keyQuarantine         = "selector.quarantine"
	keySecretName         = "auth.secret_name"
	keyNamespace          = "auth.namespace"
	keyKubeconfig         = "auth.kubeconfig"
	keyKeyTTL             = "auth.key_ttl"
	keyAllowedOrigins     = "cors.allowed_origins"
)

type Config struct {
	Listen   string         `mapstructure:"listen"`
	LogLevel string         `mapstructure:"log_level"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Selector SelectorConfig `mapstructure:"selector"`
	Accounts []AccountEntry `mapstructure:"accounts"`
	Clients  []ClientEntry  `mapstructure:"clients"`
	Auth     AuthConfig     `mapstructure:"auth"`
	CORS     CORSConfig     `mapstructure:"cors"`
}

type UpstreamConfig struct {
	Scheme         string        `mapstructure:"scheme"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	PollTimeout    time.Duration `mapstructure:"poll_timeout"`
	// ContinuationMarker appends an empty "Human: " turn after a trailing
	// assistant message.
	ContinuationMarker bool `mapstructure:"continuation_marker"`
}

type StreamConfig struct {
	ChunkSize  int           `mapstructure:"chunk_size"`
	ChunkDelay time.Duration `mapstructure:"chunk_delay"`
}

type SelectorConfig struct {
	ErrorThreshold int           `mapstructure:"error_threshold"`
	Quarantine     time.Duration `mapstructure:"quarantine"`
}

// AccountEntry is one upstream Retool account.
type AccountEntry struct {
	Domain      string `mapstructure:"domain"`
	XsrfToken   string `mapstructure:"xsrf_token"`
	AccessToken string `mapstructure:"access_token"`
}

// ClientEntry is one API key allowed to call the gateway.
type ClientEntry struct {
	Name string `mapstructure:"name"`
	Key  string `mapstructure:"key"`
}

// AuthConfig points at an optional Kubernetes Secret holding more client keys.
type AuthConfig struct {
	SecretName string        `mapstructure:"secret_name"`
	Namespace  string        `mapstructure:"namespace"`
	Kubeconfig string        `mapstructure:"kubeconfig"`
	KeyTTL     time.Duration `mapstructure:"key_ttl"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// SetDefaults registers every tunable's default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(keyListen, ":8080")
	v.SetDefault(keyLogLevel, "info")
	v.SetDefault(keyScheme, "https")
	v.SetDefault(keyRequestTimeout, 30*time.Second)
	v.SetDefault(keyPollInterval, session.DefaultPollInterval)
	v.SetDefault(keyPollTimeout, session.DefaultPollTimeout)
	v.SetDefault(keyContinuationMarker, false)
	v.SetDefault(keyChunkSize, openai.DefaultChunkSize)
	v.SetDefault(keyChunkDelay, openai.DefaultChunkDelay)
	v.SetDefault(keyErrorThreshold, selector.DefaultErrorThreshold)
	v.SetDefault(keyQuarantine, selector.DefaultQuarantine)
	v.SetDefault(keySecretName, "")
	v.SetDefault(keyNamespace, "")
	v.SetDefault(keyKubeconfig, "")
	v.SetDefault(keyKeyTTL, 60*time.Second)
	v.SetDefault(keyAllowedOrigins, []string{"*"})
}

// Load reads path (if non-empty) into v, applies RETOOL_GATEWAY_* overrides
// and defaults, and validates the result. When path is empty, a config.toml
// in the working directory or /etc/retool-gateway is used if present.
func Load(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/retool-gateway")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the gateway cannot serve with.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Accounts) == 0 {
		errs = append(errs, errors.New("at least one account is required"))
	}
	seen := make(map[string]bool, len(c.Accounts))
	for i, a := range c.Accounts {
		switch {
		case a.Domain == "":
			errs = append(errs, fmt.Errorf("accounts[%d]: domain is required", i))
		case seen[a.Domain]:
			errs = append(errs, fmt.Errorf("accounts[%d]: duplicate domain %q", i, a.Domain))
		}
		seen[a.Domain] = true
		if a.XsrfToken == "" || a.AccessToken == "" {
			errs = append(errs, fmt.Errorf("accounts[%d]: xsrf_token and access_token are required", i))
		}
	}

	for i, cl := range c.Clients {
		if cl.Key == "" {
			errs = append(errs, fmt.Errorf("clients[%d]: key is required", i))
		}
	}
	if len(c.Clients) == 0 && c.Auth.SecretName == "" {
		errs = append(errs, errors.New("no client keys: set clients or auth.secret_name"))
	}

	if c.Upstream.Scheme != "http" && c.Upstream.Scheme != "https" {
		errs = append(errs, fmt.Errorf("upstream.scheme must be http or https, got %q", c.Upstream.Scheme))
	}
	if c.Upstream.RequestTimeout <= 0 {
		errs = append(errs, errors.New("upstream.request_timeout must be positive"))
	}
	if c.Upstream.PollInterval <= 0 {
		errs = append(errs, errors.New("upstream.poll_interval must be positive"))
	}
	if c.Upstream.PollTimeout <= 0 {
		errs = append(errs, errors.New("upstream.poll_timeout must be positive"))
	}
	if c.Stream.ChunkSize <= 0 {
		errs = append(errs, errors.New("stream.chunk_size must be positive"))
	}
	if c.Stream.ChunkDelay < 0 {
		errs = append(errs, errors.New("stream.chunk_delay must not be negative"))
	}
	if c.Selector.ErrorThreshold <= 0 {
		errs = append(errs, errors.New("selector.error_threshold must be positive"))
	}
	if c.Selector.Quarantine < 0 {
		errs = append(errs, errors.New("selector.quarantine must not be negative"))
	}
	return errors.Join(errs...)
}

// AccountSpecs converts the configured accounts in file order.
func (c *Config) AccountSpecs() []account.Spec {
	specs := make([]account.Spec, len(c.Accounts))
	for i, a := range c.Accounts {
		specs[i] = account.Spec{Domain: a.Domain, XsrfToken: a.XsrfToken, AccessToken: a.AccessToken}
	}
	return specs
}

// ClientKeys maps each static API key to its client name.
func (c *Config) ClientKeys() map[string]string {
	keys := make(map[string]string, len(c.Clients))
	for _, cl := range c.Clients {
		name := cl.Name
		if name == "" {
			name = "client"
		}
		keys[cl.Key] = name
	}
	return keys
}

// StreamOptions is the typing-replay configuration.
func (c *Config) StreamOptions() openai.StreamOptions {
	return openai.StreamOptions{ChunkSize: c.Stream.ChunkSize, Delay: c.Stream.ChunkDelay}
}
