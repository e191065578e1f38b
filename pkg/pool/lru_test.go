package pool_test

import (
	"testing"
	"time"

	"github.com/pg-sharding/dsrouter/pkg/driver"
	mockdriver "github.com/pg-sharding/dsrouter/pkg/mock/driver"
	"github.com/pg-sharding/dsrouter/pkg/pool"
	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"
)

func register(p *pool.Pool, key string, conn driver.Conn) *pool.Handle {
	h := &pool.Handle{Key: key, Conn: conn}
	p.Register(h)
	return h
}

func TestSweepEvictsLeastRecentlyUsed(t *testing.T) {
	assert := assert.New(t)
	ctrl := gomock.NewController(t)

	p := pool.NewPool(pool.Config{MaxConnections: 3})

	c1 := mockdriver.NewMockConn(ctrl)
	c2 := mockdriver.NewMockConn(ctrl)
	c3 := mockdriver.NewMockConn(ctrl)
	c4 := mockdriver.NewMockConn(ctrl)

	register(p, "a__r", c1)
	register(p, "b__r", c2)
	register(p, "c__r", c3)

	// a__r becomes most recently used, so b__r is the oldest.
	p.Touch("a__r")

	c2.EXPECT().Close().Return(nil).Times(1)

	h4 := register(p, "d__r", c4)
	evicted := p.Sweep(h4)

	assert.Equal([]string{"b__r"}, evicted)
	assert.Equal([]string{"c__r", "a__r", "d__r"}, p.Keys())

	_, ok := p.Get("b__r")
	assert.False(ok)
	_, ok = p.Get("a__r")
	assert.True(ok)
}

func TestSweepSkipsCurrentConnection(t *testing.T) {
	assert := assert.New(t)
	ctrl := gomock.NewController(t)

	p := pool.NewPool(pool.Config{MaxConnections: 1})

	shared := mockdriver.NewMockConn(ctrl)
	register(p, "a__w", shared)
	cur := register(p, "a__r", shared)

	// Same underlying connection: dropped from ordering, never closed.
	evicted := p.Sweep(cur)

	assert.Empty(evicted)
	assert.Equal([]string{"a__r"}, p.Keys())
	_, ok := p.Get("a__w")
	assert.True(ok)
}

func TestPersistentPoolNeverSweeps(t *testing.T) {
	assert := assert.New(t)
	ctrl := gomock.NewController(t)

	p := pool.NewPool(pool.Config{MaxConnections: 1, Persistent: true})
	register(p, "a__r", mockdriver.NewMockConn(ctrl))
	cur := register(p, "b__r", mockdriver.NewMockConn(ctrl))

	assert.Empty(p.Sweep(cur))
	assert.Equal(2, p.Len())
}

func TestDisconnectClosesAndForgets(t *testing.T) {
	assert := assert.New(t)
	ctrl := gomock.NewController(t)

	p := pool.NewPool(pool.DefaultConfig())
	c := mockdriver.NewMockConn(ctrl)
	c.EXPECT().Close().Return(nil).Times(1)

	register(p, "global__w", c)
	p.Disconnect("global__w")
	p.Disconnect("global__w")

	assert.Equal(0, p.Len())
	_, ok := p.Get("global__w")
	assert.False(ok)
}

func TestShouldPing(t *testing.T) {
	assert := assert.New(t)

	now := time.Unix(1000, 0)
	p := pool.NewPool(pool.DefaultConfig()).WithClock(func() time.Time { return now })

	assert.True(p.ShouldPing("global__r"), "no heartbeat recorded yet")

	p.MarkUsed("global__r")
	assert.False(p.ShouldPing("global__r"))

	now = now.Add(50 * time.Millisecond)
	assert.False(p.ShouldPing("global__r"))

	now = now.Add(100 * time.Millisecond)
	assert.True(p.ShouldPing("global__r"), "idle longer than recheck timeout")

	p.MarkUsed("global__r")
	p.RecordError("global__r", driver.ErrCodeServerGone)
	assert.True(p.ShouldPing("global__r"), "server gone away")
	assert.False(p.ShouldPing("global__r"), "gone away flag is consumed")

	p.RecordError("global__r", 1045)
	assert.False(p.ShouldPing("global__r"))
}

func TestShouldPingDisabled(t *testing.T) {
	p := pool.NewPool(pool.Config{CheckHeartbeats: false})
	assert.False(t, p.ShouldPing("global__r"))
}
