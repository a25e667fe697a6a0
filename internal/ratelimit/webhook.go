package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/reachforge/reachforge/internal/config"
)

const (
	keyWebhookProvider = "events:ingest:provider:%s"
	keyWebhookEndpoint = "events:ingest:endpoint"
)

// WebhookLimiter throttles inbound webhook traffic on two buckets: one per
// provider and one shared endpoint-wide. A disabled limiter allows everything.
type WebhookLimiter struct {
	enabled bool

	bucket *TokenBucket

	providerRate  float64
	providerBurst int
	endpointRate  float64
	endpointBurst int
}

func NewWebhookLimiter(cfg config.Config) (*WebhookLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.ProviderRate <= 0 || limitCfg.ProviderBurst <= 0 {
		return nil, errors.New("provider rate limit must be positive")
	}
	if limitCfg.EndpointRate <= 0 || limitCfg.EndpointBurst <= 0 {
		return nil, errors.New("endpoint rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})

	return &WebhookLimiter{
		enabled:       true,
		bucket:        NewTokenBucket(client),
		providerRate:  limitCfg.ProviderRate,
		providerBurst: limitCfg.ProviderBurst,
		endpointRate:  limitCfg.EndpointRate,
		endpointBurst: limitCfg.EndpointBurst,
	}, nil
}

func (l *WebhookLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *WebhookLimiter) AllowProvider(ctx context.Context, provider string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	key := fmt.Sprintf(keyWebhookProvider, strings.TrimSpace(provider))
	return l.bucket.Allow(ctx, key, l.providerRate, l.providerBurst)
}

func (l *WebhookLimiter) AllowEndpoint(ctx context.Context) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, keyWebhookEndpoint, l.endpointRate, l.endpointBurst)
}
