package connector

import (
	"context"
	"math/rand"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pg-sharding/dsrouter/pkg/driver"
	"github.com/pg-sharding/dsrouter/pkg/dslog"
	"github.com/pg-sharding/dsrouter/pkg/lag"
	"github.com/pg-sharding/dsrouter/pkg/maintenance"
	"github.com/pg-sharding/dsrouter/pkg/models/dserror"
	"github.com/pg-sharding/dsrouter/pkg/models/topology"
	"github.com/pg-sharding/dsrouter/pkg/netcheck"
	"github.com/pg-sharding/dsrouter/pkg/pool"
	"github.com/pg-sharding/dsrouter/router/callbacks"
	"golang.org/x/xerrors"
)

const (
	DefaultMinTries = 3
	DefaultCharset  = "utf8mb4"
	DefaultCollate  = "utf8mb4_unicode_520_ci"

	MaintenanceMessage = "We are updating the database. Please try back in 5 minutes. " +
		"If you are posting to your blog please hit the refresh button on your browser in a few minutes to post the data again. " +
		"It will be posted as soon as the database is back online."
)

type Config struct {
	MinTries            int
	DefaultLagThreshold *float64
	Charset             string
	Collate             string
	// IncompatibleModes are removed from the session sql_mode on connect.
	IncompatibleModes []string
}

func DefaultConfig() Config {
	return Config{
		MinTries:          DefaultMinTries,
		Charset:           DefaultCharset,
		Collate:           DefaultCollate,
		IncompatibleModes: driver.DefaultIncompatibleModes,
	}
}

// Request describes what the statement needs.
type Request struct {
	Dataset   string
	Table     string
	Operation topology.Operation
	Override  *topology.ServerOverride
}

type candidate struct {
	group float64
	desc  *topology.ServerDescriptor
}

// Connector picks and connects servers for one router instance. Lag
// relaxation and the unique server counts live as long as the instance.
type Connector struct {
	cfg   Config
	topo  *topology.Topology
	pool  *pool.Pool
	drv   driver.Driver
	chain *callbacks.Chain

	checker netcheck.Checker
	signal  maintenance.Signal
	rnd     *rand.Rand

	ignoreLag     bool
	uniqueServers map[string]int

	log      connLog
	current  *pool.Handle
	lastUsed *topology.ServerDescriptor
}

func New(cfg Config, topo *topology.Topology, p *pool.Pool, drv driver.Driver, chain *callbacks.Chain) *Connector {
	if cfg.MinTries <= 0 {
		cfg.MinTries = DefaultMinTries
	}
	if chain == nil {
		chain = callbacks.NewChain()
	}
	return &Connector{
		cfg:           cfg,
		topo:          topo,
		pool:          p,
		drv:           drv,
		chain:         chain,
		signal:        maintenance.Static(false),
		rnd:           rand.New(rand.NewSource(time.Now().UnixNano())),
		uniqueServers: map[string]int{},
	}
}

// WithRand replaces the source used to shuffle priority groups.
func (c *Connector) WithRand(r *rand.Rand) *Connector {
	c.rnd = r
	return c
}

// WithChecker enables TCP probing before connecting. A nil checker
// disables it.
func (c *Connector) WithChecker(ch netcheck.Checker) *Connector {
	c.checker = ch
	return c
}

func (c *Connector) WithMaintenance(s maintenance.Signal) *Connector {
	if s == nil {
		s = maintenance.Static(false)
	}
	c.signal = s
	return c
}

func (c *Connector) Pool() *pool.Pool {
	return c.pool
}

// Current is the handle of the last statement.
func (c *Connector) Current() *pool.Handle {
	return c.current
}

// LastUsedServer is the descriptor, overrides applied, of the last handle.
func (c *Connector) LastUsedServer() *topology.ServerDescriptor {
	return c.lastUsed
}

// IgnoringLag reports whether lag checks were given up for good.
func (c *Connector) IgnoringLag() bool {
	return c.ignoreLag
}

// Attempts returns the connection log, oldest first.
func (c *Connector) Attempts() []Attempt {
	res := make([]Attempt, 0, len(c.log.entries))
	for _, e := range c.log.entries {
		res = append(res, *e)
	}
	return res
}

// Connect returns a live handle for the request, reusing the pooled one
// when it still answers.
func (c *Connector) Connect(ctx context.Context, req Request) (*pool.Handle, error) {
	dbhname := topology.HandleKey(req.Dataset, req.Operation)

	if h, ok := c.pool.Get(dbhname); ok {
		if c.reuse(ctx, h, req) {
			return h, nil
		}
	}

	if req.Operation == topology.OperationWrite && c.signal.PrimaryDead(ctx) {
		return nil, dserror.New(dserror.DSR_MAINTENANCE, MaintenanceMessage)
	}

	candidates, err := c.candidates(req)
	if err != nil {
		return nil, err
	}

	h, err := c.attemptAll(ctx, req, dbhname, candidates)
	if err != nil {
		return nil, err
	}

	if c.cfg.Charset != "" {
		if err := h.Conn.SetCharset(ctx, c.cfg.Charset, c.cfg.Collate); err != nil {
			dslog.Zero.Warn().Err(err).Str("dbhname", dbhname).Msg("connector: failed to set charset")
		}
	}
	c.current = h
	c.lastUsed = &h.Server

	for _, evicted := range c.pool.Sweep(h) {
		dslog.Zero.Debug().Str("dbhname", evicted).Msg("connector: closed least recently used connection")
	}
	return h, nil
}

// reuse validates a pooled handle. It returns false after disconnecting a
// handle that can not serve the request.
func (c *Connector) reuse(ctx context.Context, h *pool.Handle, req Request) bool {
	entry := c.log.last(h.Key)
	if entry == nil {
		entry = &Attempt{DBHName: h.Key, Success: true}
		c.log.add(entry)
	}

	if req.Override.HasName() && req.Override.Name != h.DBName {
		if err := h.Conn.SelectDB(ctx, req.Override.Name); err != nil {
			entry.SelectFailures++
			dslog.Zero.Info().
				Err(err).
				Str("dbhname", h.Key).
				Str("database", req.Override.Name).
				Msg("connector: disconnect (select failed)")
			c.pool.Disconnect(h.Key)
			return false
		}
		h.DBName = req.Override.Name
		h.Server.Name = req.Override.Name
	}

	c.pool.Touch(h.Key)
	c.current = h
	c.lastUsed = &h.Server

	if c.pool.ShouldPing(h.Key) {
		if err := h.Conn.Ping(ctx); err != nil {
			entry.PingFailures++
			dslog.Zero.Info().
				Err(err).
				Str("dbhname", h.Key).
				Str("host", h.HostAndPort).
				Msg("connector: disconnect (ping failed)")
			c.pool.Disconnect(h.Key)
			c.current = nil
			return false
		}
	}

	entry.Queries++
	h.Queries++
	return true
}

// candidates flattens the priority groups of the request, each group
// shuffled, repeating the traversal until there are MinTries entries.
func (c *Connector) candidates(req Request) ([]candidate, error) {
	groups := c.topo.Groups(req.Dataset, req.Operation)
	if len(groups) == 0 {
		return nil, dserror.Newf(dserror.DSR_NO_SERVERS,
			"No databases available with %s (%s)", req.Table, req.Dataset)
	}

	var res []candidate
	for {
		for _, g := range groups.Priorities() {
			members := make([]*topology.ServerDescriptor, len(groups[g]))
			copy(members, groups[g])
			c.rnd.Shuffle(len(members), func(i, j int) {
				members[i], members[j] = members[j], members[i]
			})
			for _, m := range members {
				res = append(res, candidate{group: g, desc: m})
			}
		}
		if len(res) == 0 {
			return nil, dserror.Newf(dserror.DSR_NO_SERVERS,
				"No database servers were found to match the query. (%s, %s)", req.Table, req.Dataset)
		}
		key := topology.HandleKey(req.Dataset, req.Operation)
		if _, ok := c.uniqueServers[key]; !ok {
			c.uniqueServers[key] = len(res)
		}
		if len(res) >= c.cfg.MinTries {
			return res, nil
		}
	}
}

func (c *Connector) attemptAll(ctx context.Context, req Request, dbhname string, candidates []candidate) (*pool.Handle, error) {
	unique := c.uniqueServers[dbhname]
	triesRemaining := len(candidates)

	var (
		minGroup    float64
		minGroupSet bool
		failures    *multierror.Error
		last        topology.ServerDescriptor
	)

	for {
		lagged := map[string]lag.Value{}

		for _, cand := range candidates {
			triesRemaining--

			if len(lagged) == unique {
				break
			}

			desc := req.Override.Apply(*cand.desc)
			last = desc
			hp := desc.HostAndPort()

			if !minGroupSet || cand.group < minGroup {
				minGroup = cand.group
				minGroupSet = true
			}

			threshold := desc.LagThreshold
			if threshold == nil {
				threshold = c.cfg.DefaultLagThreshold
			}

			checkLag := req.Operation == topology.OperationRead &&
				cand.desc.Write == 0 &&
				!c.ignoreLag &&
				threshold != nil &&
				!req.Override.HasHost()

			lastBest := func() bool {
				_, seen := lagged[hp]
				return !seen && unique == len(lagged)+1 && cand.group == minGroup
			}

			entry := &Attempt{
				DBHName: dbhname,
				Host:    desc.Host,
				Port:    desc.Port,
				User:    desc.User,
				Name:    desc.Name,
				Status:  lag.StatusUnknown,
			}

			lreq := lag.Request{Key: hp, DBHName: dbhname, Threshold: threshold}

			if checkLag {
				v, ok := c.chain.CachedLag(ctx, lreq)
				if !ok {
					v = lag.Unknown
				}
				entry.Lag = v
				entry.Status = lag.Check(v, threshold)
				if entry.Status == lag.StatusBehind {
					if lastBest() {
						threshold = nil
						checkLag = false
					} else {
						lagged[hp] = v
						failures = multierror.Append(failures,
							xerrors.Errorf("host %s: cached replication lag of %vs", hp, v))
						continue
					}
				}
			}

			start := time.Now()

			tcp := netcheck.Result{Responsive: true}
			if c.checker != nil {
				tcp = c.checker.Check(ctx, desc.Host, desc.Port, desc.Timeout)
			}
			entry.TCP = tcp.String()

			var (
				conn driver.Conn
				err  error
			)
			if req.Operation == topology.OperationWrite || triesRemaining == 0 || tcp.Responsive {
				conn, err = c.drv.Connect(ctx, driver.ConnectParams{
					Host:     desc.Host,
					Port:     desc.Port,
					User:     desc.User,
					Password: desc.Password,
					Timeout:  desc.Timeout,
				})
			} else {
				err = dserror.Newf(dserror.DSR_CONNECTION, "tcp check failed: %s", tcp)
			}
			entry.Elapsed = time.Since(start)

			if err == nil && checkLag && entry.Status != lag.StatusOK {
				lreq.Conn = conn
				v, ok := c.chain.Lag(ctx, lreq)
				if !ok {
					v = lag.Unknown
				}
				entry.Lag = v
				entry.Status = lag.Check(v, threshold)
				if entry.Status == lag.StatusBehind && !lastBest() {
					lagged[hp] = v
					if cerr := conn.Close(); cerr != nil {
						dslog.Zero.Debug().Err(cerr).Str("host", hp).Msg("connector: close failed")
					}
					msg := "Replication lag of " + v.String() + "s on " + hp + " (" + dbhname + ")"
					dslog.Zero.Warn().
						Str("host", hp).
						Str("dbhname", dbhname).
						Str("lag", v.String()).
						Msg(msg)
					failures = multierror.Append(failures, xerrors.New(msg))
					continue
				}
			}

			if err == nil {
				if merr := conn.NormalizeSQLMode(ctx, c.cfg.IncompatibleModes); merr != nil {
					dslog.Zero.Debug().Err(merr).Str("host", hp).Msg("connector: failed to normalize sql_mode")
				}
				if err = conn.SelectDB(ctx, desc.Name); err == nil {
					entry.Success = true
					entry.Queries = 1
					c.log.add(entry)

					h := &pool.Handle{
						Key:         dbhname,
						Dataset:     req.Dataset,
						Operation:   req.Operation,
						Conn:        conn,
						HostAndPort: hp,
						Server:      desc,
						DBName:      desc.Name,
						Queries:     1,
						Lag:         entry.Lag,
						ConnectedAt: start,
					}
					c.pool.Register(h)

					dslog.Zero.Debug().
						Str("dbhname", dbhname).
						Str("host", hp).
						Str("database", desc.Name).
						Float64("group", cand.group).
						Dur("elapsed", entry.Elapsed).
						Msg("connector: connected")
					return h, nil
				}
				if cerr := conn.Close(); cerr != nil {
					dslog.Zero.Debug().Err(cerr).Str("host", hp).Msg("connector: close failed")
				}
			}

			entry.Err = err
			entry.Errno = driver.CodeOf(err)
			c.log.add(entry)
			if entry.Errno != 0 {
				c.pool.RecordError(dbhname, entry.Errno)
			}
			failures = multierror.Append(failures, xerrors.Errorf("host %s: %w", hp, err))

			dslog.Zero.Error().
				Err(err).
				Str("dbhname", dbhname).
				Str("host", desc.Host).
				Int("port", desc.Port).
				Str("user", desc.User).
				Str("database", desc.Name).
				Str("tcp_responsive", entry.TCP).
				Str("lagged_status", entry.Status.String()).
				Int("errno", entry.Errno).
				Dur("elapsed", entry.Elapsed).
				Msg("connector: can't select " + dbhname)
		}

		if !c.ignoreLag && len(lagged) > 0 {
			dslog.Zero.Info().
				Str("dbhname", dbhname).
				Int("lagged", len(lagged)).
				Msg("connector: every candidate lagged, ignoring replication lag from now on")
			c.ignoreLag = true
			triesRemaining = len(candidates)
			continue
		}
		break
	}

	c.chain.NotifyConnectionError(callbacks.ConnectionErrorInfo{
		Host:      last.Host,
		Port:      last.Port,
		Operation: req.Operation,
		Table:     req.Table,
		Dataset:   req.Dataset,
		DBHName:   dbhname,
	})

	return nil, &dserror.ConnectionError{
		Host:      last.Host,
		Port:      last.Port,
		Operation: string(req.Operation),
		Table:     req.Table,
		Dataset:   req.Dataset,
		DBHName:   dbhname,
		Attempts:  failures,
	}
}

// Ping verifies the current handle.
func (c *Connector) Ping(ctx context.Context) error {
	if c.current == nil || c.current.Conn == nil {
		return dserror.New(dserror.DSR_STALE, "no active connection")
	}
	if err := c.current.Conn.Ping(ctx); err != nil {
		return dserror.Newf(dserror.DSR_STALE, "ping %s: %s", c.current.HostAndPort, strconv.Quote(err.Error()))
	}
	return nil
}

// Disconnect drops the handle of dbhname.
func (c *Connector) Disconnect(dbhname string) {
	if c.current != nil && c.current.Key == dbhname {
		c.current = nil
	}
	c.pool.Disconnect(dbhname)
}

// Close drops every handle.
func (c *Connector) Close() {
	c.current = nil
	c.pool.CloseAll()
}
