package instance

import (
	"time"

	"github.com/pg-sharding/dsrouter/pkg/cache"
	"github.com/pg-sharding/dsrouter/pkg/config"
	"github.com/pg-sharding/dsrouter/pkg/driver"
	"github.com/pg-sharding/dsrouter/pkg/driver/mysqldrv"
	"github.com/pg-sharding/dsrouter/pkg/driver/pgdrv"
	"github.com/pg-sharding/dsrouter/pkg/dslog"
	"github.com/pg-sharding/dsrouter/pkg/lag"
	"github.com/pg-sharding/dsrouter/pkg/maintenance"
	"github.com/pg-sharding/dsrouter/pkg/models/hashfunction"
	"github.com/pg-sharding/dsrouter/pkg/netcheck"
	"github.com/pg-sharding/dsrouter/pkg/pool"
	"github.com/pg-sharding/dsrouter/router/connector"
	"github.com/pg-sharding/dsrouter/router/qlog"
	"github.com/pg-sharding/dsrouter/router/qrouter"
	"github.com/pg-sharding/dsrouter/router/statistics"
	"golang.org/x/xerrors"
)

const etcdDialTimeout = 5 * time.Second

// Shared holds what several instances of one process may share.
type Shared struct {
	Store      cache.Store
	Statistics *statistics.Statistics
	Signal     maintenance.Signal
	QueryLog   *qlog.FileLog
}

// DriverByName returns the driver for a config driver name.
func DriverByName(name string) (driver.Driver, error) {
	switch name {
	case config.DriverMySQL, "":
		return mysqldrv.New(), nil
	case config.DriverPostgres:
		return pgdrv.New(), nil
	}
	return nil, xerrors.Errorf("unknown driver %q", name)
}

// NewShared builds the cache store and maintenance signal described by cfg.
// The returned closer releases the redis and etcd clients.
func NewShared(cfg *config.Router, st *statistics.Statistics) (*Shared, func() error, error) {
	var closers []func() error
	closeAll := func() error {
		var firstErr error
		for _, c := range closers {
			if err := c(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}

	sh := &Shared{Statistics: st}
	if cfg.SaveQueriesFile != "" {
		sh.QueryLog = qlog.NewFileLog(cfg.SaveQueriesFile)
	}

	var shared cache.Store
	if cfg.Cache.RedisAddr != "" {
		rs := cache.NewRedisStore(cache.RedisConfig{
			Addr:     cfg.Cache.RedisAddr,
			DB:       cfg.Cache.RedisDB,
			Password: cfg.Cache.RedisPassword,
			Prefix:   cfg.Cache.KeyPrefix,
		})
		closers = append(closers, rs.Close)
		shared = rs
	}
	sh.Store = cache.Select(shared, cache.NewLocalStore(cfg.Cache.LocalSize))

	if len(cfg.Maintenance.EtcdEndpoints) > 0 {
		cli, err := maintenance.NewEtcdClient(cfg.Maintenance.EtcdEndpoints, etcdDialTimeout)
		if err != nil {
			_ = closeAll()
			return nil, nil, xerrors.Errorf("could not connect to etcd: %w", err)
		}
		closers = append(closers, cli.Close)
		sh.Signal = maintenance.NewEtcdSignal(cli, cfg.Maintenance.PrimaryDeadKey, cfg.Maintenance.Refresh)
	} else {
		sh.Signal = maintenance.Static(cfg.Maintenance.PrimaryDead)
	}
	return sh, closeAll, nil
}

// NewFromConfig builds an instance from a normalized config. A nil drv is
// chosen by the config driver name.
func NewFromConfig(cfg *config.Router, drv driver.Driver, sh *Shared) (*Instance, error) {
	if drv == nil {
		var err error
		if drv, err = DriverByName(cfg.Driver); err != nil {
			return nil, err
		}
	}
	if sh == nil {
		sh = &Shared{
			Store:  cache.NewLocalStore(cfg.Cache.LocalSize),
			Signal: maintenance.Static(cfg.Maintenance.PrimaryDead),
		}
	}

	opts := DefaultOptions()
	opts.Pool = pool.Config{
		MaxConnections:  cfg.MaxConnections,
		Persistent:      cfg.Persistent,
		CheckHeartbeats: cfg.CheckHeartbeats == nil || *cfg.CheckHeartbeats,
		RecheckTimeout:  cfg.RecheckTimeout,
	}
	opts.Connector = connector.Config{
		MinTries:            cfg.MinTries,
		DefaultLagThreshold: cfg.DefaultLagThreshold,
		Charset:             cfg.Charset,
		Collate:             cfg.Collate,
		IncompatibleModes:   cfg.IncompatibleModes,
	}
	opts.AllowBail = cfg.AllowBail
	opts.ReconnectRetries = cfg.ReconnectRetries
	opts.ReconnectSleep = cfg.ReconnectSleep
	opts.Maintenance = sh.Signal
	opts.Statistics = sh.Statistics
	opts.SaveQueries = cfg.SaveQueries
	if sh.QueryLog != nil {
		opts.SaveQuery = sh.QueryLog.Save
	}

	if cfg.TCPCheck == nil || *cfg.TCPCheck {
		opts.Checker = netcheck.NewCachedChecker(sh.Store, cfg.TCPCacheTTL)
	}

	minDuration := cfg.LogMinDurationStatement
	if minDuration <= 0 {
		minDuration = -1
	}
	opts.StmtLogger = dslog.NewStmtLogger(minDuration)

	i := New(drv, opts)

	for _, s := range cfg.Servers {
		i.AddDBServer(s.DBServer(), cfg.Datacenter)
	}
	for table, ds := range cfg.Tables {
		i.AddTable(ds, table)
	}
	if cfg.CommentHints {
		i.AddDatasetResolver(qrouter.CommentHints)
	}
	for _, p := range cfg.Partitions {
		hf, err := hashfunction.HashFunctionByName(p.Hash)
		if err != nil {
			return nil, err
		}
		i.AddDatasetResolver(qrouter.NewHashPartitionResolver(p.Dataset, p.Count, hf, p.TablePrefix).Resolve)
	}
	if usesLag(cfg) {
		i.AddLagOracle(lag.NewHeartbeatOracle(sh.Store, cfg.LagCacheTTL))
	}
	if cfg.SendReadsToPrimary {
		i.SendReadsToPrimary()
	}

	dslog.Zero.Info().
		Str("instance", i.ID()).
		Strs("datasets", i.Topology().Datasets()).
		Int("tables", len(cfg.Tables)).
		Msg("router instance configured")
	return i, nil
}

// usesLag reports whether any server can be lag checked at all.
func usesLag(cfg *config.Router) bool {
	if cfg.DefaultLagThreshold != nil {
		return true
	}
	for _, s := range cfg.Servers {
		if s.LagThreshold != nil {
			return true
		}
	}
	return false
}
