package llm

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/cortexflow/cortex/internal/kv"
)

type fakeProvider struct {
	calls   int
	replies []string
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(ctx context.Context, messages []Message, temperature float64, jsonSchema json.RawMessage) (string, error) {
	idx := f.calls
	f.calls++
	if idx < len(f.replies) {
		return f.replies[idx], nil
	}
	return f.replies[len(f.replies)-1], nil
}

func TestCacheKeyStableForIdenticalInput(t *testing.T) {
	messages := []Message{{Role: RoleUser, Content: "hello"}}
	k1, err := CacheKey(messages, nil, 0.2)
	if err != nil {
		t.Fatal(err)
	}
	k2, err := CacheKey(messages, nil, 0.2)
	if err != nil {
		t.Fatal(err)
	}
	if k1 != k2 {
		t.Fatalf("expected identical cache keys, got %q and %q", k1, k2)
	}
}

func TestCacheKeyDiffersOnTemperature(t *testing.T) {
	messages := []Message{{Role: RoleUser, Content: "hello"}}
	k1, _ := CacheKey(messages, nil, 0.2)
	k2, _ := CacheKey(messages, nil, 0.9)
	if k1 == k2 {
		t.Fatal("expected cache keys to differ across temperatures")
	}
}

func TestCachedClientReusesProviderResponse(t *testing.T) {
	provider := &fakeProvider{replies: []string{"first", "second"}}
	cache := kv.NewMemoryStore(10)
	client := NewCachedClient(provider, cache, time.Minute)
	ctx := context.Background()

	messages := []Message{{Role: RoleUser, Content: "what is the weather"}}
	out1, err := client.Complete(ctx, messages, 0.2)
	if err != nil {
		t.Fatal(err)
	}
	if out1 != "first" {
		t.Fatalf("first completion = %q, want %q", out1, "first")
	}

	out2, err := client.Complete(ctx, messages, 0.2)
	if err != nil {
		t.Fatal(err)
	}
	if out2 != "first" {
		t.Fatalf("cached completion = %q, want %q (provider should not be re-invoked)", out2, "first")
	}
	if provider.calls != 1 {
		t.Fatalf("provider called %d times, want 1", provider.calls)
	}
}

func TestCachedClientMissesOnDifferentMessages(t *testing.T) {
	provider := &fakeProvider{replies: []string{"a", "b"}}
	cache := kv.NewMemoryStore(10)
	client := NewCachedClient(provider, cache, time.Minute)
	ctx := context.Background()

	if _, err := client.Complete(ctx, []Message{{Role: RoleUser, Content: "one"}}, 0.2); err != nil {
		t.Fatal(err)
	}
	if _, err := client.Complete(ctx, []Message{{Role: RoleUser, Content: "two"}}, 0.2); err != nil {
		t.Fatal(err)
	}
	if provider.calls != 2 {
		t.Fatalf("provider called %d times, want 2 for distinct prompts", provider.calls)
	}
}

func TestCompleteJSONReturnsRawSchemaResponse(t *testing.T) {
	provider := &fakeProvider{replies: []string{`{"ok":true}`}}
	cache := kv.NewMemoryStore(10)
	client := NewCachedClient(provider, cache, time.Minute)
	ctx := context.Background()

	out, err := client.CompleteJSON(ctx, []Message{{Role: RoleUser, Content: "compile this"}}, json.RawMessage(`{"type":"object"}`), 0.1)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != `{"ok":true}` {
		t.Fatalf("CompleteJSON = %s, want raw provider JSON", out)
	}
}
