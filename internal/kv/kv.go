// Package kv implements the fast key/value cache tier: ShaperState
// snapshots, the Event dedup set, the Matcher's semantic-condition cache,
// and the LLMClient response cache, each namespaced per spec §6
// (shaper:<source>:<userId>, dedup:event:<hash>, llm:cache:<hash>).
//
// The design generalizes the teacher's internal/cache.DedupeCache (a
// mutex-protected map of key -> timestamp with TTL and LRU eviction) to
// also hold an arbitrary value per key, since the ShaperState and LLM
// cache namespaces need to round-trip a value, not just detect presence.
package kv

import (
	"context"
	"time"
)

// Store is the fast KV cache tier contract. Both the in-memory and Redis
// implementations satisfy it identically so callers are agnostic to the
// backend selected by CACHE_URL.
type Store interface {
	// Get returns the value stored at key and whether it was present and
	// unexpired.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value at key with the given TTL. A zero TTL means no
	// expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX stores value at key only if it does not already exist,
	// reporting whether the set happened. Used for dedup/conflict checks
	// that must be atomic under concurrent callers.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// Delete removes key.
	Delete(ctx context.Context, key string) error
	// Close releases any underlying connection.
	Close() error
}

// Namespace helpers mirror spec §6's KV namespace prefixes exactly.

func ShaperStateKey(userID, source string) string {
	return "shaper:" + source + ":" + userID
}

func DedupEventKey(hash string) string {
	return "dedup:event:" + hash
}

func LLMCacheKey(hash string) string {
	return "llm:cache:" + hash
}

func SemanticConditionKey(hash string) string {
	return "matcher:semantic:" + hash
}
