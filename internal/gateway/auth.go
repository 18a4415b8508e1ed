/*
Copyright (c) 2026 hortator-ai
SPDX-License-Identifier: MIT
*/

package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

const defaultKeyTTL = 60 * time.Second

// KeySource is the bearer-token allow-list. Static keys come from
// configuration; when a Secret is configured its values are allowed too,
// named after their data keys.
type KeySource struct {
	// Static maps an API key to its client name.
	Static map[string]string

	Clientset  kubernetes.Interface
	Namespace  string
	SecretName string
	// TTL is how long Secret keys are cached. 0 means 60s.
	TTL time.Duration

	mu       sync.RWMutex
	cached   map[string]string
	cachedAt time.Time
}

// Authenticate validates the bearer token and returns the caller's name.
func (k *KeySource) Authenticate(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", fmt.Errorf("missing Authorization header")
	}
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", fmt.Errorf("invalid Authorization format, expected Bearer token")
	}
	token := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	if token == "" {
		return "", fmt.Errorf("invalid API key")
	}

	if name, ok := k.Static[token]; ok {
		return name, nil
	}
	if k.Clientset == nil || k.SecretName == "" {
		return "", fmt.Errorf("invalid API key")
	}

	keys, err := k.secretKeys(r.Context())
	if err != nil {
		return "", err
	}
	if name, ok := keys[token]; ok {
		return name, nil
	}
	return "", fmt.Errorf("invalid API key")
}

// secretKeys returns cached Secret keys, refreshing them when stale so
// rotations are picked up without a restart.
func (k *KeySource) secretKeys(ctx context.Context) (map[string]string, error) {
	ttl := k.TTL
	if ttl == 0 {
		ttl = defaultKeyTTL
	}

	k.mu.RLock()
	if k.cached != nil && time.Since(k.cachedAt) < ttl {
		keys := k.cached
		k.mu.RUnlock()
		return keys, nil
	}
	k.mu.RUnlock()

	secret, err := k.Clientset.CoreV1().Secrets(k.Namespace).Get(ctx, k.SecretName, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to read auth secret: %w", err)
	}

	keys := make(map[string]string, len(secret.Data)+len(secret.StringData))
	for name, v := range secret.Data {
		keys[string(v)] = name
	}
	for name, v := range secret.StringData {
		keys[v] = name
	}

	k.mu.Lock()
	k.cached = keys
	k.cachedAt = time.Now()
	k.mu.Unlock()

	return keys, nil
}
