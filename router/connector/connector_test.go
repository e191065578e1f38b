package connector_test

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/pg-sharding/dsrouter/pkg/driver"
	"github.com/pg-sharding/dsrouter/pkg/driver/drivertest"
	"github.com/pg-sharding/dsrouter/pkg/lag"
	"github.com/pg-sharding/dsrouter/pkg/maintenance"
	mock "github.com/pg-sharding/dsrouter/pkg/mock/driver"
	"github.com/pg-sharding/dsrouter/pkg/models/dserror"
	"github.com/pg-sharding/dsrouter/pkg/models/topology"
	"github.com/pg-sharding/dsrouter/pkg/netcheck"
	"github.com/pg-sharding/dsrouter/pkg/pool"
	"github.com/pg-sharding/dsrouter/router/callbacks"
	"github.com/pg-sharding/dsrouter/router/connector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newConnector(topo *topology.Topology, drv driver.Driver, chain *callbacks.Chain, seed int64) *connector.Connector {
	return connector.New(connector.DefaultConfig(), topo, pool.NewPool(pool.DefaultConfig()), drv, chain).
		WithRand(rand.New(rand.NewSource(seed)))
}

func readReq(table string) connector.Request {
	return connector.Request{Dataset: "global", Table: table, Operation: topology.OperationRead}
}

func writeReq(table string) connector.Request {
	return connector.Request{Dataset: "global", Table: table, Operation: topology.OperationWrite}
}

func threshold(v float64) *float64 {
	return &v
}

func TestReadAndWriteHostsAreSeparated(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	topo := topology.NewTopology()
	topo.Add(topology.ServerDescriptor{Host: "a", Read: 1, Write: 0, Dataset: "global", Name: "wp"})
	topo.Add(topology.ServerDescriptor{Host: "b", Read: 0, Write: 1, Dataset: "global", Name: "wp"})

	drv := drivertest.New()
	c := newConnector(topo, drv, nil, 1)

	h, err := c.Connect(ctx, readReq("wp_posts"))
	require.NoError(t, err)
	assert.Equal("a:3306", h.HostAndPort)
	assert.Equal("global__r", h.Key)

	h, err = c.Connect(ctx, writeReq("wp_posts"))
	require.NoError(t, err)
	assert.Equal("b:3306", h.HostAndPort)
	assert.Equal("global__w", h.Key)

	assert.Equal([]string{"a:3306", "b:3306"}, drv.Attempts())

	for _, conn := range drv.Conns() {
		assert.Equal("wp", conn.Database)
		assert.Equal(connector.DefaultCharset, conn.Charset)
		assert.True(conn.SQLMode)
		assert.Equal(driver.DefaultIncompatibleModes, conn.Dropped)
	}
}

func TestSelectionIsUniformWithinGroup(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	topo := topology.NewTopology()
	for _, h := range []string{"r1", "r2", "r3"} {
		topo.Add(topology.ServerDescriptor{Host: h, Read: 1})
	}
	topo.Add(topology.ServerDescriptor{Host: "backup", Read: 2})

	rnd := rand.New(rand.NewSource(7))
	counts := map[string]int{}
	const trials = 3000

	for i := 0; i < trials; i++ {
		drv := drivertest.New()
		c := connector.New(connector.DefaultConfig(), topo, pool.NewPool(pool.DefaultConfig()), drv, nil).WithRand(rnd)
		h, err := c.Connect(ctx, readReq("t"))
		require.NoError(t, err)
		counts[h.Server.Host]++
	}

	assert.Zero(counts["backup"])
	for _, h := range []string{"r1", "r2", "r3"} {
		assert.InDelta(trials/3, counts[h], trials/10, "host %s", h)
	}
}

func TestLowerGroupIsPreferred(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	topo := topology.NewTopology()
	topo.Add(topology.ServerDescriptor{Host: "far", Read: 10000})
	topo.Add(topology.ServerDescriptor{Host: "near", Read: 1})

	drv := drivertest.New()
	c := newConnector(topo, drv, nil, 3)
	h, err := c.Connect(ctx, readReq("t"))
	require.NoError(t, err)
	assert.Equal("near", h.Server.Host)

	drv = drivertest.New()
	drv.FailConnect("near", drivertest.ErrRefused)
	c = newConnector(topo, drv, nil, 3)
	h, err = c.Connect(ctx, readReq("t"))
	require.NoError(t, err)
	assert.Equal("far", h.Server.Host)
	assert.Equal([]string{"near:3306", "far:3306"}, drv.Attempts())
}

func laggingTopology() *topology.Topology {
	topo := topology.NewTopology()
	topo.Add(topology.ServerDescriptor{Host: "primary", Write: 1})
	for _, h := range []string{"r1", "r2", "r3"} {
		topo.Add(topology.ServerDescriptor{Host: h, Read: 1, LagThreshold: threshold(10)})
	}
	return topo
}

func cachedLag(lags map[string]float64, calls *int) func(context.Context, lag.Request) (lag.Value, bool) {
	return func(_ context.Context, req lag.Request) (lag.Value, bool) {
		if calls != nil {
			*calls++
		}
		v, ok := lags[req.Key]
		if !ok {
			return lag.Value{}, false
		}
		return lag.Seconds(v), true
	}
}

func TestLaggedReplicasAreSkipped(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	for seed := int64(0); seed < 20; seed++ {
		chain := callbacks.NewChain()
		assert.NoError(chain.Add(callbacks.GroupGetLagCache, cachedLag(map[string]float64{
			"r1:3306": 100,
			"r2:3306": 60,
			"r3:3306": 1,
		}, nil)))

		drv := drivertest.New()
		c := newConnector(laggingTopology(), drv, chain, seed)
		h, err := c.Connect(ctx, readReq("t"))
		require.NoError(t, err)
		assert.Equal("r3", h.Server.Host)
		assert.Equal([]string{"r3:3306"}, drv.Attempts())
		assert.False(c.IgnoringLag())
	}
}

func TestAllLaggedUsesLastBestCandidate(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	chain := callbacks.NewChain()
	assert.NoError(chain.Add(callbacks.GroupGetLagCache, cachedLag(map[string]float64{
		"r1:3306": 100,
		"r2:3306": 100,
		"r3:3306": 100,
	}, nil)))

	drv := drivertest.New()
	c := newConnector(laggingTopology(), drv, chain, 11)
	h, err := c.Connect(ctx, readReq("t"))
	require.NoError(t, err)

	assert.Len(drv.Attempts(), 1)
	assert.Equal(h.HostAndPort, drv.Attempts()[0])
	assert.False(c.IgnoringLag())
}

func TestPostConnectLagDisconnects(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	chain := callbacks.NewChain()
	assert.NoError(chain.Add(callbacks.GroupGetLag, func(_ context.Context, req lag.Request) (lag.Value, bool) {
		assert.NotNil(req.Conn)
		if req.Key == "r3:3306" {
			return lag.Seconds(0), true
		}
		return lag.Seconds(500), true
	}))

	drv := drivertest.New()
	c := newConnector(laggingTopology(), drv, chain, 5)
	h, err := c.Connect(ctx, readReq("t"))
	require.NoError(t, err)
	assert.Equal("r3", h.Server.Host)

	for _, conn := range drv.Conns() {
		assert.Equal(conn.Host() != "r3", conn.Closed, conn.Host())
	}
}

func TestLagIsIgnoredAfterExhaustion(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	topo := topology.NewTopology()
	topo.Add(topology.ServerDescriptor{Host: "r1", Read: 1, LagThreshold: threshold(5)})
	topo.Add(topology.ServerDescriptor{Host: "r2", Read: 1, LagThreshold: threshold(5)})
	topo.Add(topology.ServerDescriptor{Host: "r1", Dataset: "other", Read: 1, LagThreshold: threshold(5)})

	calls := 0
	chain := callbacks.NewChain()
	assert.NoError(chain.Add(callbacks.GroupGetLagCache, cachedLag(map[string]float64{"r1:3306": 30}, &calls)))

	drv := drivertest.New()
	drv.FailConnect("r2", drivertest.ErrRefused)

	c := newConnector(topo, drv, chain, 9)
	h, err := c.Connect(ctx, readReq("t"))
	require.NoError(t, err)
	assert.Equal("r1", h.Server.Host)
	assert.True(c.IgnoringLag())

	before := calls
	_, err = c.Connect(ctx, connector.Request{Dataset: "other", Table: "t", Operation: topology.OperationRead})
	assert.NoError(err)
	assert.Equal(before, calls, "lag is never checked again")
}

func TestPrimaryIsNeverLagChecked(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	calls := 0
	chain := callbacks.NewChain()
	assert.NoError(chain.Add(callbacks.GroupGetLagCache, cachedLag(map[string]float64{"primary:3306": 1000}, &calls)))

	drv := drivertest.New()
	c := newConnector(laggingTopology(), drv, chain, 1)
	h, err := c.Connect(ctx, writeReq("t"))
	require.NoError(t, err)
	assert.Equal("primary", h.Server.Host)
	assert.Zero(calls)
}

func TestExhaustionFiresErrorCallbackOnce(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	topo := topology.NewTopology()
	for _, h := range []string{"w1", "w2", "w3"} {
		topo.Add(topology.ServerDescriptor{Host: h, Write: 1})
	}

	var infos []callbacks.ConnectionErrorInfo
	chain := callbacks.NewChain()
	assert.NoError(chain.Add(callbacks.GroupDBConnectionError, func(i callbacks.ConnectionErrorInfo) {
		infos = append(infos, i)
	}))

	drv := drivertest.New()
	drv.FailConnect("*", drivertest.ErrRefused)

	c := newConnector(topo, drv, chain, 2)
	_, err := c.Connect(ctx, writeReq("wp_posts"))
	require.Error(t, err)

	var cerr *dserror.ConnectionError
	require.True(t, errors.As(err, &cerr))
	assert.True(dserror.HasCode(err, dserror.DSR_CONNECTION))
	assert.Equal("wp_posts", cerr.Table)
	assert.Equal("global", cerr.Dataset)
	assert.Len(cerr.Attempts.Errors, 3)
	assert.Contains(err.Error(), "to write table 'wp_posts' (global)")

	attempts := drv.Attempts()
	assert.GreaterOrEqual(len(attempts), connector.DefaultMinTries)
	assert.ElementsMatch([]string{"w1:3306", "w2:3306", "w3:3306"}, attempts)

	require.Len(t, infos, 1)
	assert.Equal(topology.OperationWrite, infos[0].Operation)
	assert.Equal("wp_posts", infos[0].Table)
	assert.Equal("global", infos[0].Dataset)
	assert.Equal("global__w", infos[0].DBHName)
	assert.Equal(cerr.Host, infos[0].Host)
	assert.Equal(3306, infos[0].Port)
}

func TestCandidateListRepeatsToMinTries(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	topo := topology.NewTopology()
	topo.Add(topology.ServerDescriptor{Host: "only", Write: 1})

	drv := drivertest.New()
	drv.FailConnect("*", drivertest.ErrRefused)

	c := newConnector(topo, drv, nil, 2)
	_, err := c.Connect(ctx, writeReq("t"))
	assert.Error(err)
	assert.Equal([]string{"only:3306", "only:3306", "only:3306"}, drv.Attempts())
}

func TestPrimaryDeadShortCircuits(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	drv := drivertest.New()
	c := newConnector(laggingTopology(), drv, nil, 1).WithMaintenance(maintenance.Static(true))

	_, err := c.Connect(ctx, writeReq("t"))
	assert.True(dserror.HasCode(err, dserror.DSR_MAINTENANCE))
	assert.Empty(drv.Attempts())

	_, err = c.Connect(ctx, readReq("t"))
	assert.NoError(err)
}

func TestNoServers(t *testing.T) {
	assert := assert.New(t)

	c := newConnector(topology.NewTopology(), drivertest.New(), nil, 1)
	_, err := c.Connect(context.Background(), connector.Request{Dataset: "nope", Table: "t", Operation: topology.OperationRead})
	assert.True(dserror.HasCode(err, dserror.DSR_NO_SERVERS))
	assert.Equal("No databases available with t (nope)", err.Error())
}

type downChecker map[string]bool

func (d downChecker) Check(_ context.Context, host string, port int, timeout time.Duration) netcheck.Result {
	if d[host] {
		return netcheck.Result{Reason: "[ > 0.2 ] (111) 'refused'"}
	}
	return netcheck.Result{Responsive: true}
}

func TestTCPCheckIsAdvisory(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	topo := topology.NewTopology()
	topo.Add(topology.ServerDescriptor{Host: "a", Read: 1})
	topo.Add(topology.ServerDescriptor{Host: "b", Read: 2})

	drv := drivertest.New()
	c := newConnector(topo, drv, nil, 1).WithChecker(downChecker{"a": true})
	h, err := c.Connect(ctx, readReq("t"))
	require.NoError(t, err)
	assert.Equal("b", h.Server.Host)
	assert.Equal([]string{"b:3306"}, drv.Attempts())

	topo = topology.NewTopology()
	topo.Add(topology.ServerDescriptor{Host: "a", Read: 1})

	drv = drivertest.New()
	c = newConnector(topo, drv, nil, 1).WithChecker(downChecker{"a": true})
	h, err = c.Connect(ctx, readReq("t"))
	require.NoError(t, err)
	assert.Equal("a", h.Server.Host)
	assert.Equal([]string{"a:3306"}, drv.Attempts(), "only the last try connects")

	log := c.Attempts()
	require.Len(t, log, 3)
	assert.False(log[0].Success)
	assert.Equal("[ > 0.2 ] (111) 'refused'", log[0].TCP)
	assert.True(log[2].Success)
}

func TestOverrideHostAndName(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	topo := topology.NewTopology()
	topo.Add(topology.ServerDescriptor{Host: "a", Read: 1, Name: "wp"})

	drv := drivertest.New()
	c := newConnector(topo, drv, nil, 1)

	req := readReq("t")
	req.Override = &topology.ServerOverride{Host: "elsewhere:3307", Name: "archive"}
	h, err := c.Connect(ctx, req)
	require.NoError(t, err)
	assert.Equal("elsewhere:3307", h.HostAndPort)
	assert.Equal("archive", h.DBName)
	assert.Equal("archive", drv.Conns()[0].Database)
}

func TestReuse(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	topo := topology.NewTopology()
	topo.Add(topology.ServerDescriptor{Host: "a", Read: 1, Name: "wp"})

	now := time.Unix(100, 0)
	p := pool.NewPool(pool.DefaultConfig()).WithClock(func() time.Time { return now })
	drv := drivertest.New()
	c := connector.New(connector.DefaultConfig(), topo, p, drv, nil).WithRand(rand.New(rand.NewSource(1)))

	h1, err := c.Connect(ctx, readReq("t"))
	require.NoError(t, err)
	p.MarkUsed(h1.Key)

	h2, err := c.Connect(ctx, readReq("t"))
	require.NoError(t, err)
	assert.Same(h1, h2)
	assert.Equal(2, h2.Queries)
	assert.Zero(drv.Conns()[0].Pings, "used within recheck timeout")

	req := readReq("t")
	req.Override = &topology.ServerOverride{Name: "other"}
	h3, err := c.Connect(ctx, req)
	require.NoError(t, err)
	assert.Same(h1, h3)
	assert.Equal("other", drv.Conns()[0].Database)

	now = now.Add(time.Second)
	drv.FailPing("a", errors.New("gone"))
	h4, err := c.Connect(ctx, readReq("t"))
	require.NoError(t, err)
	assert.NotSame(h1, h4)
	assert.True(drv.Conns()[0].Closed)
	assert.Len(drv.Attempts(), 2)

	log := c.Attempts()
	assert.Equal(1, log[0].PingFailures)
	assert.Equal(3, log[0].Queries)
}

func TestReuseSelectFailureReconnects(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	topo := topology.NewTopology()
	topo.Add(topology.ServerDescriptor{Host: "a", Read: 1, Name: "wp"})

	drv := drivertest.New()
	c := newConnector(topo, drv, nil, 1)

	_, err := c.Connect(ctx, readReq("t"))
	require.NoError(t, err)

	drv.FailSelect("a", errors.New("access denied"))
	req := readReq("t")
	req.Override = &topology.ServerOverride{Name: "secret"}
	_, err = c.Connect(ctx, req)
	assert.Error(err)
	assert.True(drv.Conns()[0].Closed)
	assert.Equal(1, c.Attempts()[0].SelectFailures)
}

func TestLRUSweepThroughConnector(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	topo := topology.NewTopology()
	for _, ds := range []string{"d1", "d2", "d3"} {
		topo.Add(topology.ServerDescriptor{Host: ds + "-host", Dataset: ds, Read: 1})
	}

	cfg := pool.DefaultConfig()
	cfg.MaxConnections = 2
	drv := drivertest.New()
	c := connector.New(connector.DefaultConfig(), topo, pool.NewPool(cfg), drv, nil)

	connect := func(ds string) {
		_, err := c.Connect(ctx, connector.Request{Dataset: ds, Table: "t", Operation: topology.OperationRead})
		require.NoError(t, err)
	}

	connect("d1")
	connect("d2")
	connect("d1")
	connect("d3")

	assert.Equal([]string{"d1__r", "d3__r"}, c.Pool().Keys())
	for _, conn := range drv.Conns() {
		assert.Equal(conn.Host() == "d2-host", conn.Closed, conn.Host())
	}
}

func TestFailedSelectClosesConnection(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	ctrl := gomock.NewController(t)

	topo := topology.NewTopology()
	topo.Add(topology.ServerDescriptor{Host: "a", Write: 1, Name: "wp"})

	conn := mock.NewMockConn(ctrl)
	drv := mock.NewMockDriver(ctrl)

	drv.EXPECT().Connect(gomock.Any(), driver.ConnectParams{
		Host:    "a",
		Port:    3306,
		Timeout: topology.DefaultTimeout,
	}).Return(conn, nil).Times(connector.DefaultMinTries)
	conn.EXPECT().NormalizeSQLMode(gomock.Any(), gomock.Any()).Return(nil).Times(connector.DefaultMinTries)
	conn.EXPECT().SelectDB(gomock.Any(), "wp").Return(driver.NewError(1044, errors.New("access denied"))).Times(connector.DefaultMinTries)
	conn.EXPECT().Close().Return(nil).Times(connector.DefaultMinTries)

	c := newConnector(topo, drv, nil, 1)
	_, err := c.Connect(ctx, writeReq("t"))
	assert.Error(err)

	for _, a := range c.Attempts() {
		assert.Equal(1044, a.Errno)
	}
}
