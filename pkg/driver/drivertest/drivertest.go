// Package drivertest provides an in-memory driver that records every call.
package drivertest

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/pg-sharding/dsrouter/pkg/driver"
)

var ErrRefused = driver.NewError(2003, errors.New("connection refused"))

// DefaultVersion is reported by hosts without SetVersion.
const DefaultVersion = "8.0.36-log"

type Driver struct {
	mu sync.Mutex

	connectErr  map[string]error
	selectErr   map[string]error
	pingErr     map[string]error
	rows        map[string]*driver.Rows
	execResults map[string]driver.ExecResult
	queryErr    map[string]error
	versions    map[string]string

	attempts []string
	conns    []*Conn
	calls    int
	nextID   int64
}

var _ driver.Driver = &Driver{}

func New() *Driver {
	return &Driver{
		connectErr:  map[string]error{},
		selectErr:   map[string]error{},
		pingErr:     map[string]error{},
		rows:        map[string]*driver.Rows{},
		execResults: map[string]driver.ExecResult{},
		queryErr:    map[string]error{},
		versions:    map[string]string{},
	}
}

// FailConnect makes connecting to host fail. "*" matches every host.
func (d *Driver) FailConnect(host string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connectErr[host] = err
}

func (d *Driver) FailSelect(host string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.selectErr[host] = err
}

func (d *Driver) FailPing(host string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.pingErr, host)
		return
	}
	d.pingErr[host] = err
}

func (d *Driver) SetRows(query string, rows *driver.Rows) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rows[query] = rows
}

func (d *Driver) SetExecResult(query string, res driver.ExecResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.execResults[query] = res
}

func (d *Driver) SetVersion(host, version string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.versions[host] = version
}

func (d *Driver) FailQuery(query string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queryErr[query] = err
}

// Attempts returns every host:port Connect was called with, in order.
func (d *Driver) Attempts() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.attempts...)
}

// Conns returns every connection handed out, in order.
func (d *Driver) Conns() []*Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Conn(nil), d.conns...)
}

// Calls is the number of statements sent over any connection.
func (d *Driver) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *Driver) Connect(_ context.Context, params driver.ConnectParams) (driver.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.attempts = append(d.attempts, params.Host+":"+strconv.Itoa(params.Port))
	if err, ok := d.connectErr[params.Host]; ok {
		return nil, err
	}
	if err, ok := d.connectErr["*"]; ok {
		return nil, err
	}
	c := &Conn{drv: d, Params: params}
	d.conns = append(d.conns, c)
	return c, nil
}

type Conn struct {
	drv *Driver

	Params   driver.ConnectParams
	Database string
	Charset  string
	Collate  string
	SQLMode  bool
	// Dropped holds the sql_mode flags the last normalization removed.
	Dropped []string
	Closed   bool
	Pings    int
	Queries  []string
}

var _ driver.Conn = &Conn{}

func (c *Conn) Host() string {
	return c.Params.Host
}

func (c *Conn) SelectDB(_ context.Context, name string) error {
	c.drv.mu.Lock()
	defer c.drv.mu.Unlock()
	if err, ok := c.drv.selectErr[c.Params.Host]; ok {
		return err
	}
	c.Database = name
	return nil
}

func (c *Conn) Exec(_ context.Context, query string) (driver.ExecResult, error) {
	c.drv.mu.Lock()
	defer c.drv.mu.Unlock()
	c.drv.calls++
	c.Queries = append(c.Queries, query)
	if err, ok := c.drv.queryErr[query]; ok {
		return driver.ExecResult{}, err
	}
	if res, ok := c.drv.execResults[query]; ok {
		return res, nil
	}
	c.drv.nextID++
	return driver.ExecResult{RowsAffected: 1, LastInsertID: c.drv.nextID}, nil
}

func (c *Conn) Query(_ context.Context, query string) (*driver.Rows, error) {
	c.drv.mu.Lock()
	defer c.drv.mu.Unlock()
	c.drv.calls++
	c.Queries = append(c.Queries, query)
	if err, ok := c.drv.queryErr[query]; ok {
		return nil, err
	}
	if rows, ok := c.drv.rows[query]; ok {
		return rows, nil
	}
	return &driver.Rows{}, nil
}

func (c *Conn) Ping(_ context.Context) error {
	c.drv.mu.Lock()
	defer c.drv.mu.Unlock()
	c.Pings++
	if err, ok := c.drv.pingErr[c.Params.Host]; ok {
		return err
	}
	return nil
}

func (c *Conn) SetCharset(_ context.Context, charset, collate string) error {
	c.Charset, c.Collate = charset, collate
	return nil
}

func (c *Conn) NormalizeSQLMode(_ context.Context, incompatible []string) error {
	c.SQLMode = true
	c.Dropped = append([]string(nil), incompatible...)
	return nil
}

func (c *Conn) ServerVersion(_ context.Context) (string, error) {
	c.drv.mu.Lock()
	defer c.drv.mu.Unlock()
	if v, ok := c.drv.versions[c.Params.Host]; ok {
		return v, nil
	}
	return DefaultVersion, nil
}

func (c *Conn) Close() error {
	c.drv.mu.Lock()
	defer c.drv.mu.Unlock()
	c.Closed = true
	return nil
}
