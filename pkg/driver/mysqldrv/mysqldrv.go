package mysqldrv

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/pg-sharding/dsrouter/pkg/driver"
	"golang.org/x/xerrors"
)

type Driver struct{}

var _ driver.Driver = Driver{}

func New() Driver {
	return Driver{}
}

// Config renders connect parameters as a go-sql-driver config.
func Config(params driver.ConnectParams) *mysql.Config {
	c := mysql.NewConfig()
	c.Net = "tcp"
	c.Addr = net.JoinHostPort(params.Host, strconv.Itoa(params.Port))
	c.User = params.User
	c.Passwd = params.Password
	c.DBName = params.Database
	c.Timeout = params.Timeout
	c.InterpolateParams = true
	return c
}

// Connect opens a single dedicated session. database/sql pooling is pinned to
// one connection so that USE and SET statements stick to it.
func (Driver) Connect(ctx context.Context, params driver.ConnectParams) (driver.Conn, error) {
	db, err := sqlx.Open("mysql", Config(params).FormatDSN())
	if err != nil {
		return nil, wrap(err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	conn, err := db.Connx(ctx)
	if err != nil {
		_ = db.Close()
		return nil, wrap(err)
	}
	return &Conn{db: db, conn: conn}, nil
}

type Conn struct {
	db   *sqlx.DB
	conn *sqlx.Conn
}

var _ driver.Conn = &Conn{}

func (c *Conn) SelectDB(ctx context.Context, name string) error {
	_, err := c.conn.ExecContext(ctx, "USE "+quoteIdent(name))
	return wrap(err)
}

func (c *Conn) Exec(ctx context.Context, query string) (driver.ExecResult, error) {
	res, err := c.conn.ExecContext(ctx, query)
	if err != nil {
		return driver.ExecResult{}, wrap(err)
	}
	affected, _ := res.RowsAffected()
	id, _ := res.LastInsertId()
	return driver.ExecResult{RowsAffected: affected, LastInsertID: id}, nil
}

func (c *Conn) Query(ctx context.Context, query string) (*driver.Rows, error) {
	rows, err := c.conn.QueryxContext(ctx, query)
	if err != nil {
		return nil, wrap(err)
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, wrap(err)
	}
	res := &driver.Rows{Columns: make([]driver.Column, len(types))}
	for i, ct := range types {
		nullable, _ := ct.Nullable()
		res.Columns[i] = driver.Column{
			Name:     ct.Name(),
			Type:     ct.DatabaseTypeName(),
			Nullable: nullable,
		}
	}

	for rows.Next() {
		vals, err := rows.SliceScan()
		if err != nil {
			return nil, wrap(err)
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		res.Values = append(res.Values, vals)
	}
	return res, wrap(rows.Err())
}

func (c *Conn) Ping(ctx context.Context) error {
	return wrap(c.conn.PingContext(ctx))
}

func (c *Conn) SetCharset(ctx context.Context, charset, collate string) error {
	if charset == "" {
		return nil
	}
	q := "SET NAMES " + quoteLiteral(charset)
	if collate != "" {
		q += " COLLATE " + quoteLiteral(collate)
	}
	_, err := c.conn.ExecContext(ctx, q)
	return wrap(err)
}

// NormalizeSQLMode removes the incompatible flags from the session sql_mode.
func (c *Conn) NormalizeSQLMode(ctx context.Context, incompatible []string) error {
	var current string
	if err := c.conn.QueryRowxContext(ctx, "SELECT @@SESSION.sql_mode").Scan(&current); err != nil {
		return wrap(err)
	}

	_, err := c.conn.ExecContext(ctx, "SET SESSION sql_mode="+quoteLiteral(sqlModeWithout(current, incompatible)))
	return wrap(err)
}

func sqlModeWithout(current string, incompatible []string) string {
	drop := make(map[string]struct{}, len(incompatible))
	for _, m := range incompatible {
		drop[strings.ToUpper(m)] = struct{}{}
	}
	var keep []string
	for _, m := range strings.Split(current, ",") {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if _, ok := drop[strings.ToUpper(m)]; ok {
			continue
		}
		keep = append(keep, m)
	}
	return strings.Join(keep, ",")
}

func (c *Conn) ServerVersion(ctx context.Context) (string, error) {
	var v string
	if err := c.conn.QueryRowxContext(ctx, "SELECT VERSION()").Scan(&v); err != nil {
		return "", wrap(err)
	}
	return v, nil
}

func (c *Conn) Close() error {
	err := c.conn.Close()
	if cerr := c.db.Close(); err == nil {
		err = cerr
	}
	return err
}

// wrap attaches the server error number, mapping dead sessions to 2006.
func wrap(err error) error {
	if err == nil {
		return nil
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return driver.NewError(int(me.Number), err)
	}
	if errors.Is(err, mysql.ErrInvalidConn) || errors.Is(err, sql.ErrConnDone) {
		return driver.NewError(driver.ErrCodeServerGone, err)
	}
	return xerrors.Errorf("mysql: %w", err)
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func quoteLiteral(s string) string {
	return "'" + driver.EscapeString(s) + "'"
}
