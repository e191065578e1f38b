package driver

import (
	"context"
	"errors"
	"time"
)

// ErrCodeServerGone is the MySQL "server has gone away" error number.
const ErrCodeServerGone = 2006

// DefaultIncompatibleModes are session sql_mode flags stripped on connect.
var DefaultIncompatibleModes = []string{
	"NO_ZERO_DATE",
	"ONLY_FULL_GROUP_BY",
	"STRICT_TRANS_TABLES",
	"STRICT_ALL_TABLES",
	"TRADITIONAL",
	"ANSI",
}

type ConnectParams struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	Timeout  time.Duration
}

type ExecResult struct {
	RowsAffected int64
	LastInsertID int64
}

type Column struct {
	Name     string
	Type     string
	Nullable bool
}

// Rows is a fully materialized result set.
type Rows struct {
	Columns []Column
	Values  [][]any
}

func (r *Rows) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Values)
}

//go:generate mockgen -source=pkg/driver/driver.go -destination=pkg/mock/driver/driver_mock.go -package=mock_driver
type Driver interface {
	Connect(ctx context.Context, params ConnectParams) (Conn, error)
}

type Conn interface {
	SelectDB(ctx context.Context, name string) error
	Exec(ctx context.Context, query string) (ExecResult, error)
	Query(ctx context.Context, query string) (*Rows, error)
	Ping(ctx context.Context) error
	SetCharset(ctx context.Context, charset, collate string) error
	NormalizeSQLMode(ctx context.Context, incompatible []string) error
	// ServerVersion returns the server info string, e.g. "8.0.36-log".
	ServerVersion(ctx context.Context) (string, error)
	Close() error
}

// Error carries the server error number next to the cause.
type Error struct {
	Code int
	Err  error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(code int, err error) *Error {
	return &Error{Code: code, Err: err}
}

// CodeOf returns the server error number carried by err, 0 if none.
func CodeOf(err error) int {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return 0
}
