package instance

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/pg-sharding/dsrouter/pkg/driver"
	"github.com/pg-sharding/dsrouter/pkg/dslog"
	"github.com/pg-sharding/dsrouter/pkg/lag"
	"github.com/pg-sharding/dsrouter/pkg/maintenance"
	"github.com/pg-sharding/dsrouter/pkg/models/topology"
	"github.com/pg-sharding/dsrouter/pkg/netcheck"
	"github.com/pg-sharding/dsrouter/pkg/pool"
	"github.com/pg-sharding/dsrouter/router/callbacks"
	"github.com/pg-sharding/dsrouter/router/connector"
	"github.com/pg-sharding/dsrouter/router/qrouter"
	"github.com/pg-sharding/dsrouter/router/relay"
	"github.com/pg-sharding/dsrouter/router/statistics"
)

type Options struct {
	Pool      pool.Config
	Connector connector.Config

	// AllowBail hands fatal errors to the FatalHandler as well as returning them.
	AllowBail bool
	Fatal     FatalHandler

	ReconnectRetries int
	ReconnectSleep   time.Duration

	// Checker probes servers before connecting, nil disables the probe.
	Checker     netcheck.Checker
	Maintenance maintenance.Signal

	Statistics  *statistics.Statistics
	StmtLogger  *dslog.StmtLogger
	SaveQueries bool
	// SaveQuery receives saved queries; nil keeps them in memory.
	SaveQuery relay.SaveQueryFunc
}

func DefaultOptions() Options {
	return Options{
		Pool:             pool.DefaultConfig(),
		Connector:        connector.DefaultConfig(),
		ReconnectRetries: DefaultReconnectRetries,
		ReconnectSleep:   DefaultReconnectSleep,
	}
}

// Instance routes the statements of one logical request owner. It is
// synchronous and not safe for concurrent use; run one per goroutine.
type Instance struct {
	id string

	topo   *topology.Topology
	routes topology.TableRoutes
	chain  *callbacks.Chain

	resolver   *qrouter.Resolver
	classifier *qrouter.Classifier
	connector  *connector.Connector
	executor   *relay.Executor

	allowBail bool
	fatal     FatalHandler

	reconnectRetries int
	reconnectSleep   time.Duration

	lastRes *qrouter.Resolution
	lastReq *connector.Request

	closers []io.Closer
}

var _ relay.Dispatcher = &Instance{}

func New(drv driver.Driver, opts Options) *Instance {
	id := uuid.NewString()
	topo := topology.NewTopology()
	routes := topology.TableRoutes{}
	chain := callbacks.NewChain()
	p := pool.NewPool(opts.Pool)

	if opts.Fatal == nil {
		opts.Fatal = DefaultFatalHandler
	}
	if opts.ReconnectRetries <= 0 {
		opts.ReconnectRetries = DefaultReconnectRetries
	}
	if opts.ReconnectSleep <= 0 {
		opts.ReconnectSleep = DefaultReconnectSleep
	}

	conn := connector.New(opts.Connector, topo, p, drv, chain).
		WithChecker(opts.Checker).
		WithMaintenance(opts.Maintenance)

	i := &Instance{
		id:               id,
		topo:             topo,
		routes:           routes,
		chain:            chain,
		resolver:         qrouter.NewResolver(routes, chain, id),
		classifier:       qrouter.NewClassifier(),
		connector:        conn,
		allowBail:        opts.AllowBail,
		fatal:            opts.Fatal,
		reconnectRetries: opts.ReconnectRetries,
		reconnectSleep:   opts.ReconnectSleep,
	}

	i.executor = relay.NewExecutor(i, p, chain).
		WithStatistics(opts.Statistics).
		WithStmtLogger(opts.StmtLogger)
	if opts.SaveQueries {
		i.executor.WithSaveQueries(opts.SaveQuery)
	}

	dslog.Zero.Debug().
		Str("instance", id).
		Str("driver", driverName(drv)).
		Msg("router instance created")
	return i
}

func (i *Instance) ID() string {
	return i.id
}

func (i *Instance) Topology() *topology.Topology {
	return i.topo
}

func (i *Instance) Connector() *connector.Connector {
	return i.connector
}

func (i *Instance) Executor() *relay.Executor {
	return i.executor
}

func (i *Instance) Sticky() *qrouter.StickySet {
	return i.classifier.Sticky()
}

// LastResolution is the routing decision of the last dispatched statement.
func (i *Instance) LastResolution() *qrouter.Resolution {
	return i.lastRes
}

func (i *Instance) AddServer(desc topology.ServerDescriptor) *topology.ServerDescriptor {
	return i.topo.Add(desc)
}

func (i *Instance) AddDBServer(s topology.DBServer, localDC string) {
	i.topo.AddDBServer(s, localDC)
}

// AddTable pins table to dataset ahead of any dataset resolver.
func (i *Instance) AddTable(dataset, table string) {
	i.routes.Add(dataset, table)
}

func (i *Instance) AddCallback(group callbacks.Group, fn any) error {
	return i.chain.Add(group, fn)
}

func (i *Instance) AddDatasetResolver(fn callbacks.DatasetResolver) {
	i.chain.AddDatasetResolver(fn)
}

func (i *Instance) AddLagOracle(o lag.Oracle) {
	i.chain.AddLagOracle(o)
}

func (i *Instance) AddPreQueryFilter(f relay.PreQueryFilter) {
	i.executor.AddPreQueryFilter(f)
}

func (i *Instance) AddQueryFilter(f relay.QueryFilter) {
	i.executor.AddQueryFilter(f)
}

// SendReadsToPrimary routes every following statement to the primary.
func (i *Instance) SendReadsToPrimary() {
	i.classifier.SendReadsToPrimary()
}

// Query runs one statement through resolution, classification, connection
// and execution.
func (i *Instance) Query(ctx context.Context, query string) (*relay.Result, error) {
	return i.executor.Query(ctx, query)
}

// Route resolves and classifies query without connecting. A write still
// makes its table sticky.
func (i *Instance) Route(query string) (*qrouter.Resolution, topology.Operation, error) {
	res, err := i.resolver.Resolve(query)
	if err != nil {
		return nil, "", err
	}
	return res, i.classifier.Classify(query, res.Table, res.UsePrimary), nil
}

// Acquire returns the connection query has to run on.
func (i *Instance) Acquire(ctx context.Context, query string) (*pool.Handle, error) {
	res, err := i.resolver.Resolve(query)
	if err != nil {
		return nil, i.Bail(err)
	}
	op := i.classifier.Classify(query, res.Table, res.UsePrimary)

	dslog.Zero.Debug().
		Str("instance", i.id).
		Str("table", res.Table).
		Str("dataset", res.Dataset).
		Str("operation", string(op)).
		Bool("static", res.Static).
		Msg("statement routed")

	req := connector.Request{
		Dataset:   res.Dataset,
		Table:     res.Table,
		Operation: op,
		Override:  res.Override,
	}
	h, err := i.connector.Connect(ctx, req)
	if err != nil {
		return nil, i.Bail(err)
	}
	i.lastRes = res
	i.lastReq = &req
	return h, nil
}

// AddCloser registers a resource released by Close.
func (i *Instance) AddCloser(c io.Closer) {
	i.closers = append(i.closers, c)
}

// Close drops every connection and releases shared resources.
func (i *Instance) Close() error {
	i.connector.Close()

	var firstErr error
	for _, c := range i.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	i.closers = nil
	return firstErr
}

func driverName(drv driver.Driver) string {
	if drv == nil {
		return "none"
	}
	return fmt.Sprintf("%T", drv)
}
