package llm

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cortexflow/cortex/internal/kv"
)

// CachedClient wraps a Provider with the SHA-256-keyed, TTL'd, LRU-capped
// response cache spec §4.6 describes. Cache misses and hits are
// functionally identical to the caller; the cache is purely a cost
// optimization (correctness never depends on a hit).
type CachedClient struct {
	provider Provider
	cache    kv.Store
	ttl      time.Duration
}

// NewCachedClient wires a provider behind the given kv.Store cache tier.
func NewCachedClient(provider Provider, cache kv.Store, ttl time.Duration) *CachedClient {
	return &CachedClient{provider: provider, cache: cache, ttl: ttl}
}

func (c *CachedClient) Complete(ctx context.Context, messages []Message, temperature float64) (string, error) {
	text, err := c.completeCached(ctx, messages, nil, temperature)
	if err != nil {
		return "", err
	}
	return text, nil
}

func (c *CachedClient) CompleteJSON(ctx context.Context, messages []Message, schema json.RawMessage, temperature float64) (json.RawMessage, error) {
	text, err := c.completeCached(ctx, messages, schema, temperature)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(text), nil
}

func (c *CachedClient) completeCached(ctx context.Context, messages []Message, schema json.RawMessage, temperature float64) (string, error) {
	key, err := CacheKey(messages, schema, temperature)
	if err != nil {
		return "", err
	}
	cacheKey := kv.LLMCacheKey(key)

	if cached, ok, err := c.cache.Get(ctx, cacheKey); err == nil && ok {
		return string(cached), nil
	}

	text, err := c.provider.Complete(ctx, messages, temperature, schema)
	if err != nil {
		return "", err
	}

	_ = c.cache.Set(ctx, cacheKey, []byte(text), c.ttl)
	return text, nil
}
