package pool

import (
	"time"

	"github.com/hashicorp/golang-lru/simplelru"
	"github.com/pg-sharding/dsrouter/pkg/driver"
	"github.com/pg-sharding/dsrouter/pkg/dslog"
)

const (
	DefaultMaxConnections = 10
	DefaultRecheckTimeout = 100 * time.Millisecond

	// lruCapacity only bounds the ordering structure; eviction is driven by Sweep.
	lruCapacity = 1 << 16
)

type heartbeat struct {
	lastUsed  time.Time
	lastErrno int
}

type Config struct {
	MaxConnections  int
	Persistent      bool
	CheckHeartbeats bool
	RecheckTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxConnections:  DefaultMaxConnections,
		CheckHeartbeats: true,
		RecheckTimeout:  DefaultRecheckTimeout,
	}
}

// Pool owns the open connections of one router instance. The oldest entry of
// the LRU is the least recently used key. Not safe for concurrent use.
type Pool struct {
	cfg Config

	handles    map[string]*Handle
	open       *simplelru.LRU
	heartbeats map[string]*heartbeat

	now func() time.Time
}

func NewPool(cfg Config) *Pool {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = DefaultMaxConnections
	}
	if cfg.RecheckTimeout <= 0 {
		cfg.RecheckTimeout = DefaultRecheckTimeout
	}
	open, err := simplelru.NewLRU(lruCapacity, nil)
	if err != nil {
		// only fails on a non-positive size
		panic(err)
	}
	return &Pool{
		cfg:        cfg,
		handles:    map[string]*Handle{},
		open:       open,
		heartbeats: map[string]*heartbeat{},
		now:        time.Now,
	}
}

// WithClock replaces the time source, for tests.
func (p *Pool) WithClock(now func() time.Time) *Pool {
	p.now = now
	return p
}

func (p *Pool) Config() Config {
	return p.cfg
}

// Get returns the live handle registered under key.
func (p *Pool) Get(key string) (*Handle, bool) {
	h, ok := p.handles[key]
	if !ok || h.Conn == nil {
		return nil, false
	}
	return h, true
}

// Register stores h as the live handle of its key and appends the key as
// the most recently used.
func (p *Pool) Register(h *Handle) {
	p.handles[h.Key] = h
	p.open.Add(h.Key, struct{}{})
}

// Touch promotes key to most recently used.
func (p *Pool) Touch(key string) {
	if _, ok := p.handles[key]; !ok {
		return
	}
	p.open.Add(key, struct{}{})
}

// Sweep closes least recently used connections while more than
// MaxConnections are open. A key whose connection is the current one is
// only dropped from the ordering. Persistent pools are never swept.
func (p *Pool) Sweep(current *Handle) []string {
	if p.cfg.Persistent {
		return nil
	}
	var evicted []string
	for p.open.Len() > p.cfg.MaxConnections {
		k, _, ok := p.open.RemoveOldest()
		if !ok {
			break
		}
		key := k.(string)
		h, exists := p.handles[key]
		if exists && current != nil && h.Conn == current.Conn {
			continue
		}
		dslog.Zero.Debug().
			Str("dbhname", key).
			Int("open", p.open.Len()).
			Msg("pool: evicting least recently used connection")
		p.Disconnect(key)
		evicted = append(evicted, key)
	}
	return evicted
}

// Disconnect closes the connection of key and forgets it.
func (p *Pool) Disconnect(key string) {
	p.open.Remove(key)
	h, ok := p.handles[key]
	if !ok {
		return
	}
	delete(p.handles, key)
	if h.Conn != nil {
		if err := h.Conn.Close(); err != nil {
			dslog.Zero.Debug().Err(err).Str("dbhname", key).Msg("pool: close failed")
		}
	}
}

// ShouldPing tells whether a reused connection must be verified first.
// A recorded server-gone error is consumed by the call.
func (p *Pool) ShouldPing(key string) bool {
	if !p.cfg.CheckHeartbeats {
		return false
	}
	hb, ok := p.heartbeats[key]
	if key == "" || !ok {
		return true
	}
	if hb.lastErrno == driver.ErrCodeServerGone {
		hb.lastErrno = 0
		return true
	}
	return p.now().Sub(hb.lastUsed) > p.cfg.RecheckTimeout
}

// MarkUsed records a statement run on key.
func (p *Pool) MarkUsed(key string) {
	if !p.cfg.CheckHeartbeats {
		return
	}
	p.heartbeat(key).lastUsed = p.now()
}

// RecordError remembers the last server error number of key.
func (p *Pool) RecordError(key string, errno int) {
	if !p.cfg.CheckHeartbeats || errno == 0 {
		return
	}
	p.heartbeat(key).lastErrno = errno
}

func (p *Pool) heartbeat(key string) *heartbeat {
	hb, ok := p.heartbeats[key]
	if !ok {
		hb = &heartbeat{}
		p.heartbeats[key] = hb
	}
	return hb
}

// Keys lists open keys from least to most recently used.
func (p *Pool) Keys() []string {
	keys := p.open.Keys()
	res := make([]string, 0, len(keys))
	for _, k := range keys {
		res = append(res, k.(string))
	}
	return res
}

func (p *Pool) Len() int {
	return p.open.Len()
}

// Handles returns every live handle, keyed by dbhname.
func (p *Pool) Handles() map[string]*Handle {
	res := make(map[string]*Handle, len(p.handles))
	for k, h := range p.handles {
		res[k] = h
	}
	return res
}

func (p *Pool) CloseAll() {
	for key := range p.handles {
		p.Disconnect(key)
	}
	p.open.Purge()
}
