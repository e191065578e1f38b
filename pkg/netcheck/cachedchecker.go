package netcheck

import (
	"context"
	"time"

	"github.com/pg-sharding/dsrouter/pkg/cache"
	"github.com/pg-sharding/dsrouter/pkg/dslog"
)

// CachedChecker remembers up/down results per host:port for ttl. The store
// may be shared between processes.
type CachedChecker struct {
	store        cache.Store
	ttl          time.Duration
	innerChecker Checker
}

var _ Checker = (*CachedChecker)(nil)

func NewCachedChecker(store cache.Store, ttl time.Duration) *CachedChecker {
	return NewCachedCheckerWith(store, ttl, NetChecker{})
}

func NewCachedCheckerWith(store cache.Store, ttl time.Duration, inner Checker) *CachedChecker {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedChecker{
		store:        store,
		ttl:          ttl,
		innerChecker: inner,
	}
}

// Check returns a cached verdict when one exists, probing otherwise.
// Cache errors are logged and treated as misses.
func (c *CachedChecker) Check(ctx context.Context, host string, port int, timeout time.Duration) Result {
	key := Key(host, port)

	v, ok, err := c.store.Get(ctx, key)
	if err != nil {
		dslog.Zero.Warn().Err(err).Str("key", key).Msg("netchecker: cache lookup failed")
	}
	if ok {
		switch v {
		case stateUp:
			return Result{Responsive: true, Cached: true}
		case stateDown:
			return Result{Responsive: false, Cached: true}
		}
	}

	res := c.innerChecker.Check(ctx, host, port, timeout)

	state := stateDown
	if res.Responsive {
		state = stateUp
	}
	if err := c.store.Set(ctx, key, state, c.ttl); err != nil {
		dslog.Zero.Warn().Err(err).Str("key", key).Msg("netchecker: cache store failed")
	}
	return res
}
