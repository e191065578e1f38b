package maintenance

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pg-sharding/dsrouter/pkg/dslog"
	clientv3 "go.etcd.io/etcd/client/v3"
)

const (
	DefaultPrimaryDeadKey = "/dsrouter/primary_dead"
	DefaultRefresh        = time.Second
)

// Signal tells whether writes must be refused because the primaries are
// down for maintenance.
type Signal interface {
	PrimaryDead(ctx context.Context) bool
}

// Static is a fixed answer, set from configuration.
type Static bool

func (s Static) PrimaryDead(context.Context) bool {
	return bool(s)
}

// Getter is the part of the etcd KV API the signal needs.
type Getter interface {
	Get(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error)
}

// EtcdSignal reads the flag from an etcd key. Any value that parses as a
// true boolean marks the primaries dead. Lookup errors keep the last answer.
type EtcdSignal struct {
	kv      Getter
	key     string
	refresh time.Duration

	mu      sync.Mutex
	dead    bool
	checked time.Time
	now     func() time.Time
}

var _ Signal = &EtcdSignal{}

func NewEtcdSignal(kv Getter, key string, refresh time.Duration) *EtcdSignal {
	if key == "" {
		key = DefaultPrimaryDeadKey
	}
	if refresh <= 0 {
		refresh = DefaultRefresh
	}
	return &EtcdSignal{
		kv:      kv,
		key:     key,
		refresh: refresh,
		now:     time.Now,
	}
}

// NewEtcdClient dials the endpoints the way the signal expects.
func NewEtcdClient(endpoints []string, dialTimeout time.Duration) (*clientv3.Client, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, err
	}
	dslog.Zero.Debug().
		Strs("endpoints", endpoints).
		Uint("client", dslog.GetPointer(cli)).
		Msg("maintenance: etcd client created")
	return cli, nil
}

func (s *EtcdSignal) PrimaryDead(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.checked.IsZero() && s.now().Sub(s.checked) < s.refresh {
		return s.dead
	}

	resp, err := s.kv.Get(ctx, s.key)
	if err != nil {
		dslog.Zero.Warn().Err(err).Str("key", s.key).Msg("maintenance: failed to read primary state")
		return s.dead
	}
	s.checked = s.now()

	dead := false
	if len(resp.Kvs) > 0 {
		v, err := strconv.ParseBool(strings.TrimSpace(string(resp.Kvs[0].Value)))
		dead = err == nil && v
	}
	if dead != s.dead {
		dslog.Zero.Info().Bool("primary_dead", dead).Str("key", s.key).Msg("maintenance: primary state changed")
	}
	s.dead = dead
	return dead
}
