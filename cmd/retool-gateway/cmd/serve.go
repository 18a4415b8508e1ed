/*
Copyright (c) 2026 hortator-ai
SPDX-License-Identifier: MIT
*/

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	ctrl "sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/hortator-ai/retool-gateway/internal/config"
	"github.com/hortator-ai/retool-gateway/internal/gateway"
)

const serviceAccountNamespace = "/var/run/secrets/kubernetes.io/serviceaccount/namespace"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the OpenAI-compatible HTTP gateway",
	Long: `Discover the agents of every configured Retool account, build the model
catalog and serve the API until SIGINT or SIGTERM.

Client API keys come from the clients list in the config file and, when
auth.secret_name is set, from the values of that Kubernetes Secret.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("listen", ":8080", "Listen address")
	_ = v.BindPFlag("listen", serveCmd.Flags().Lookup("listen"))
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := ctrl.Log.WithName("gateway")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	keys, err := keySource(cfg)
	if err != nil {
		return err
	}

	p := buildPipeline(ctx, cfg)
	if p.registry.ValidCount() == 0 {
		log.Info("no account passed discovery; every request will fail until restart")
	}

	h := &gateway.Handler{
		Completer: p.orchestrator,
		Models:    p.selector,
		Keys:      keys,
		Stream:    cfg.StreamOptions(),
	}

	srv := &http.Server{
		Addr:         cfg.Listen,
		Handler:      h.Routes(cfg.CORS.AllowedOrigins),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // Disabled for SSE streaming
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting gateway", "addr", cfg.Listen, "accounts", p.registry.Len(), "models", len(p.selector.Catalog().Models()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// keySource builds the bearer allow-list, connecting to Kubernetes only when
// a Secret is configured.
func keySource(cfg *config.Config) (*gateway.KeySource, error) {
	keys := &gateway.KeySource{Static: cfg.ClientKeys(), TTL: cfg.Auth.KeyTTL}
	if cfg.Auth.SecretName == "" {
		return keys, nil
	}

	var restCfg *rest.Config
	var err error
	if cfg.Auth.Kubeconfig != "" {
		restCfg, err = clientcmd.BuildConfigFromFlags("", cfg.Auth.Kubeconfig)
	} else {
		restCfg, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build k8s config: %w", err)
	}
	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create k8s clientset: %w", err)
	}

	ns := cfg.Auth.Namespace
	if ns == "" {
		data, err := os.ReadFile(serviceAccountNamespace)
		if err != nil {
			return nil, fmt.Errorf("auth.namespace is required outside a cluster: %w", err)
		}
		ns = strings.TrimSpace(string(data))
	}

	keys.Clientset = clientset
	keys.Namespace = ns
	keys.SecretName = cfg.Auth.SecretName
	return keys, nil
}
