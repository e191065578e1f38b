package pgdrv

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/pg-sharding/dsrouter/pkg/driver"
	"golang.org/x/xerrors"
)

type Driver struct{}

var _ driver.Driver = Driver{}

func New() Driver {
	return Driver{}
}

// ConnConfig renders connect parameters as a pgx config using the simple
// query protocol, since statements arrive as plain text.
func ConnConfig(params driver.ConnectParams) (*pgx.ConnConfig, error) {
	cfg, err := pgx.ParseConfig("")
	if err != nil {
		return nil, err
	}
	cfg.Host = params.Host
	cfg.Port = uint16(params.Port)
	cfg.User = params.User
	cfg.Password = params.Password
	cfg.Database = params.Database
	cfg.ConnectTimeout = params.Timeout
	cfg.Fallbacks = nil
	cfg.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	return cfg, nil
}

func (Driver) Connect(ctx context.Context, params driver.ConnectParams) (driver.Conn, error) {
	cfg, err := ConnConfig(params)
	if err != nil {
		return nil, wrap(err)
	}
	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, wrap(err)
	}
	return &Conn{conn: conn, params: params}, nil
}

type Conn struct {
	conn   *pgx.Conn
	params driver.ConnectParams
}

var _ driver.Conn = &Conn{}

// SelectDB reconnects when name differs from the connected database;
// postgres has no USE.
func (c *Conn) SelectDB(ctx context.Context, name string) error {
	if name == "" || name == c.conn.Config().Database {
		return nil
	}
	params := c.params
	params.Database = name
	cfg, err := ConnConfig(params)
	if err != nil {
		return wrap(err)
	}
	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return wrap(err)
	}
	_ = c.conn.Close(ctx)
	c.conn = conn
	c.params = params
	return nil
}

func (c *Conn) Exec(ctx context.Context, query string) (driver.ExecResult, error) {
	tag, err := c.conn.Exec(ctx, query)
	if err != nil {
		return driver.ExecResult{}, wrap(err)
	}
	return driver.ExecResult{RowsAffected: tag.RowsAffected()}, nil
}

func (c *Conn) Query(ctx context.Context, query string) (*driver.Rows, error) {
	rows, err := c.conn.Query(ctx, query)
	if err != nil {
		return nil, wrap(err)
	}
	defer rows.Close()

	res := &driver.Rows{}
	for _, fd := range rows.FieldDescriptions() {
		res.Columns = append(res.Columns, driver.Column{
			Name:     fd.Name,
			Type:     typeName(c.conn, fd.DataTypeOID),
			Nullable: true,
		})
	}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, wrap(err)
		}
		res.Values = append(res.Values, vals)
	}
	return res, wrap(rows.Err())
}

func (c *Conn) Ping(ctx context.Context) error {
	return wrap(c.conn.Ping(ctx))
}

// SetCharset maps the charset onto client_encoding; collation is per column
// in postgres and is ignored.
func (c *Conn) SetCharset(ctx context.Context, charset, _ string) error {
	if charset == "" {
		return nil
	}
	enc := charset
	if strings.HasPrefix(strings.ToLower(charset), "utf8") {
		enc = "UTF8"
	}
	_, err := c.conn.Exec(ctx, "SET client_encoding TO "+pq.QuoteLiteral(enc))
	return wrap(err)
}

func (c *Conn) NormalizeSQLMode(context.Context, []string) error {
	return nil
}

// ServerVersion reads the server_version parameter reported at startup.
func (c *Conn) ServerVersion(context.Context) (string, error) {
	v := c.conn.PgConn().ParameterStatus("server_version")
	if v == "" {
		return "", xerrors.New("server did not report server_version")
	}
	return v, nil
}

func (c *Conn) Close() error {
	return c.conn.Close(context.Background())
}

func typeName(conn *pgx.Conn, oid uint32) string {
	if t, ok := conn.TypeMap().TypeForOID(oid); ok {
		return t.Name
	}
	return ""
}

// wrap maps connection-class SQLSTATEs and closed sessions to the
// server-gone code so that heartbeats force a ping.
func wrap(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57P") {
			return driver.NewError(driver.ErrCodeServerGone, err)
		}
		return xerrors.Errorf("postgres %s: %w", pgErr.Code, err)
	}
	if pgconn.SafeToRetry(err) || errors.Is(err, pgx.ErrTxClosed) {
		return driver.NewError(driver.ErrCodeServerGone, err)
	}
	return xerrors.Errorf("postgres: %w", err)
}
