package lag

import (
	"context"
	"strconv"
	"time"

	"github.com/pg-sharding/dsrouter/pkg/cache"
	"github.com/pg-sharding/dsrouter/pkg/dslog"
)

const (
	DefaultCacheTTL      = 30 * time.Second
	DefaultHeartbeatDB   = "heartbeat"
	DefaultHeartbeatStmt = "SELECT UNIX_TIMESTAMP() - UNIX_TIMESTAMP(ts) AS lag FROM heartbeat LIMIT 1"
)

// HeartbeatOracle measures lag from a heartbeat table kept fresh on the
// primary and remembers the result in a cache store.
type HeartbeatOracle struct {
	store    cache.Store
	ttl      time.Duration
	database string
	stmt     string
}

var _ Oracle = &HeartbeatOracle{}

func NewHeartbeatOracle(store cache.Store, ttl time.Duration) *HeartbeatOracle {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &HeartbeatOracle{
		store:    store,
		ttl:      ttl,
		database: DefaultHeartbeatDB,
		stmt:     DefaultHeartbeatStmt,
	}
}

// WithStatement overrides the heartbeat database and query.
func (h *HeartbeatOracle) WithStatement(database, stmt string) *HeartbeatOracle {
	h.database = database
	h.stmt = stmt
	return h
}

func cacheKey(key string) string {
	return "lag:" + key
}

func (h *HeartbeatOracle) CachedLag(ctx context.Context, req Request) (Value, bool) {
	v, ok, err := h.store.Get(ctx, cacheKey(req.Key))
	if err != nil {
		dslog.Zero.Warn().Err(err).Str("key", req.Key).Msg("lag cache lookup failed")
		return Unknown, true
	}
	if !ok {
		return Unknown, true
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return Unknown, true
	}
	return Seconds(f), true
}

// Lag runs the heartbeat query on req.Conn. The caller reselects its
// database afterwards.
func (h *HeartbeatOracle) Lag(ctx context.Context, req Request) (Value, bool) {
	if req.Conn == nil {
		return Unknown, true
	}
	if err := req.Conn.SelectDB(ctx, h.database); err != nil {
		return Unknown, true
	}
	rows, err := req.Conn.Query(ctx, h.stmt)
	if err != nil || rows.Len() == 0 || len(rows.Values[0]) == 0 {
		return Unknown, true
	}
	f, ok := toFloat(rows.Values[0][0])
	if !ok {
		return Unknown, true
	}

	if err := h.store.Set(ctx, cacheKey(req.Key), strconv.FormatFloat(f, 'f', -1, 64), h.ttl); err != nil {
		dslog.Zero.Warn().Err(err).Str("key", req.Key).Msg("lag cache store failed")
	}
	return Seconds(f), true
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	case int:
		return float64(t), true
	case uint64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	case []byte:
		f, err := strconv.ParseFloat(string(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
