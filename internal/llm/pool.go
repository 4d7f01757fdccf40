package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/raine/telegram-nutrition-bot/internal/estimate"
	"github.com/raine/telegram-nutrition-bot/internal/nutrition"
)

// Factory builds an inference client for one credential.
type Factory func(ctx context.Context, apiKey string) (estimate.InferenceClient, error)

// PoolConfig configures a Pool.
type PoolConfig struct {
	Backend          Backend
	Model            string
	BaseURL          string
	DefaultKey       string // used when a user has no credential of their own
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// Pool hands out inference clients keyed by credential. Each credential gets
// its own breaker so one user's broken key does not disable everyone else.
type Pool struct {
	mu         sync.Mutex
	clients    map[string]estimate.InferenceClient
	factory    Factory
	defaultKey string
	threshold  int
	cooldown   time.Duration
}

// NewPool creates a pool building clients for cfg.Backend.
func NewPool(cfg PoolConfig) *Pool {
	factory := func(ctx context.Context, apiKey string) (estimate.InferenceClient, error) {
		return NewClient(ctx, cfg.Backend, Config{APIKey: apiKey, Model: cfg.Model, BaseURL: cfg.BaseURL})
	}
	return NewPoolWithFactory(cfg, factory)
}

// NewPoolWithFactory creates a pool using factory to build clients.
func NewPoolWithFactory(cfg PoolConfig, factory Factory) *Pool {
	return &Pool{
		clients:    make(map[string]estimate.InferenceClient),
		factory:    factory,
		defaultKey: cfg.DefaultKey,
		threshold:  cfg.BreakerThreshold,
		cooldown:   cfg.BreakerCooldown,
	}
}

// ClientFor returns the client for credential, falling back to the default
// key. Without any key the call fails with nutrition.ErrAuth.
func (p *Pool) ClientFor(ctx context.Context, credential string) (estimate.InferenceClient, error) {
	key := credential
	if key == "" {
		key = p.defaultKey
	}
	if key == "" {
		return nil, fmt.Errorf("no api key configured: %w", nutrition.ErrAuth)
	}

	id := credentialID(key)

	p.mu.Lock()
	defer p.mu.Unlock()

	if client, ok := p.clients[id]; ok {
		return client, nil
	}

	inner, err := p.factory(ctx, key)
	if err != nil {
		return nil, err
	}
	client := NewBreakerClient(inner, NewCircuitBreaker("inference-"+id[:8], p.threshold, p.cooldown))
	p.clients[id] = client
	return client, nil
}

// Forget drops the cached client for credential, e.g. after the user
// replaced it.
func (p *Pool) Forget(credential string) {
	if credential == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.clients, credentialID(credential))
}

// Keys are never kept in the map in plaintext.
func credentialID(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
