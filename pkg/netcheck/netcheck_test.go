package netcheck_test

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/pg-sharding/dsrouter/pkg/cache"
	"github.com/pg-sharding/dsrouter/pkg/netcheck"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingChecker struct {
	calls  int
	result netcheck.Result
}

func (c *countingChecker) Check(context.Context, string, int, time.Duration) netcheck.Result {
	c.calls++
	return c.result
}

func TestNetCheckerReachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			_ = c.Close()
		}
	}()

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)

	res := netcheck.NetChecker{}.Check(context.Background(), host, port, time.Second)
	assert.True(t, res.Responsive)
	assert.Equal(t, "true", res.String())
}

func TestNetCheckerUnreachable(t *testing.T) {
	assert := assert.New(t)

	checker := netcheck.NetChecker{
		Dial: func(context.Context, string, string) (net.Conn, error) {
			return nil, errors.New("connection refused")
		},
	}

	res := checker.Check(context.Background(), "db1", 3306, 200*time.Millisecond)
	assert.False(res.Responsive)
	assert.Equal("[ > 0.2 ] (0) 'connection refused'", res.Reason)
}

func TestCachedCheckerRemembersVerdict(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	inner := &countingChecker{result: netcheck.Result{Responsive: false, Reason: "refused"}}
	store := cache.NewLocalStore(0)
	checker := netcheck.NewCachedCheckerWith(store, 0, inner)

	first := checker.Check(ctx, "db1", 3306, time.Second)
	second := checker.Check(ctx, "db1", 3306, time.Second)

	assert.Equal(1, inner.calls)
	assert.False(first.Responsive)
	assert.False(first.Cached)
	assert.False(second.Responsive)
	assert.True(second.Cached)

	v, ok, err := store.Get(ctx, "db1:3306")
	assert.NoError(err)
	assert.True(ok)
	assert.Equal("down", v)

	inner.result = netcheck.Result{Responsive: true}
	res := checker.Check(ctx, "db2", 3306, time.Second)
	assert.True(res.Responsive)
	assert.Equal(2, inner.calls)
}
