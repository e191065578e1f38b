package cache

import (
	"context"
	"time"
)

// DefaultGroup namespaces every key the router writes to a shared store.
const DefaultGroup = "dsrouter"

// Store is a TTL key/value cache for reachability and lag results.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Persistent reports whether values outlive the process.
	Persistent() bool
}

// Select prefers the shared store and falls back to the local one.
func Select(shared Store, local Store) Store {
	if shared != nil {
		return shared
	}
	return local
}
