// Package llm implements the LLMClient façade (spec §4.6): a single
// completion interface shared by Compiler, Matcher's semantic conditions,
// and Runtime's llm actions, backed by a pluggable provider and fronted by
// a response cache.
package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Role mirrors the minimal chat-message shape every provider needs.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of the prompt sent to the model.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Client is the LLMClient contract used throughout Cortex. Both
// completion methods return a classified error (internal/errs) on
// provider or validation failure — never a partial result.
type Client interface {
	Complete(ctx context.Context, messages []Message, temperature float64) (string, error)
	CompleteJSON(ctx context.Context, messages []Message, schema json.RawMessage, temperature float64) (json.RawMessage, error)
}

// Provider is the minimal seam a concrete backend (Anthropic, OpenAI)
// implements; Client wraps a Provider with caching.
type Provider interface {
	Name() string
	Complete(ctx context.Context, messages []Message, temperature float64, jsonSchema json.RawMessage) (string, error)
}

// CacheKey computes the SHA-256 cache key over (messages, schema,
// temperature) per spec §4.6.
func CacheKey(messages []Message, schema json.RawMessage, temperature float64) (string, error) {
	payload := struct {
		Messages    []Message       `json:"messages"`
		Schema      json.RawMessage `json:"schema,omitempty"`
		Temperature float64         `json:"temperature"`
	}{Messages: messages, Schema: schema, Temperature: temperature}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal cache key payload: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
