// Package connections implements ConnectionRegistry: a thin,
// cache-fronted view over Store's Connection rows, used by WebhookFront
// to resolve a provider's connectionId to a userId on every delivery
// without round-tripping to the relational Store each time.
package connections

import (
	"context"
	"fmt"
	"time"

	"github.com/cortexflow/cortex/internal/kv"
	"github.com/cortexflow/cortex/internal/store"
	"github.com/cortexflow/cortex/pkg/models"
)

// Registry resolves and caches Connection lookups.
type Registry struct {
	store store.ConnectionStore
	cache kv.Store
	ttl   time.Duration
}

// New builds a Registry. A zero ttl disables caching (every call goes
// straight to store).
func New(connStore store.ConnectionStore, cache kv.Store, ttl time.Duration) *Registry {
	return &Registry{store: connStore, cache: cache, ttl: ttl}
}

func userIDKey(provider, connectionID string) string {
	return fmt.Sprintf("conn:userid:%s:%s", provider, connectionID)
}

// ResolveUserID maps an inbound webhook's (connectionId, provider) to
// the owning userId. Spec §4.1 treats an unknown connectionId as a
// boundary case: 202 ack, zero Events — callers check the returned
// error for that, not a panic or 5xx.
func (r *Registry) ResolveUserID(ctx context.Context, connectionID, provider string) (string, error) {
	key := userIDKey(provider, connectionID)
	if r.ttl > 0 {
		if cached, ok, err := r.cache.Get(ctx, key); err == nil && ok {
			return string(cached), nil
		}
	}

	userID, err := r.store.LookupUserIDByConnection(ctx, connectionID, provider)
	if err != nil {
		return "", err
	}
	if r.ttl > 0 {
		_ = r.cache.Set(ctx, key, []byte(userID), r.ttl)
	}
	return userID, nil
}

func (r *Registry) Get(ctx context.Context, userID, provider string) (*models.Connection, error) {
	return r.store.GetConnection(ctx, userID, provider)
}

func (r *Registry) List(ctx context.Context, userID string) ([]*models.Connection, error) {
	return r.store.ListConnections(ctx, userID)
}

// Save persists a Connection and invalidates any cached userId lookup
// for it, since ExternalConnection (and therefore the cache key) may
// have changed.
func (r *Registry) Save(ctx context.Context, conn *models.Connection) error {
	if err := r.store.SaveConnection(ctx, conn); err != nil {
		return err
	}
	if r.ttl > 0 {
		_ = r.cache.Delete(ctx, userIDKey(conn.Provider, conn.ExternalConnection))
	}
	return nil
}

func (r *Registry) Delete(ctx context.Context, userID, provider string) error {
	conn, err := r.store.GetConnection(ctx, userID, provider)
	if err == nil && conn != nil && r.ttl > 0 {
		_ = r.cache.Delete(ctx, userIDKey(provider, conn.ExternalConnection))
	}
	return r.store.DeleteConnection(ctx, userID, provider)
}
