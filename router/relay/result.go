package relay

import (
	"time"

	"github.com/pg-sharding/dsrouter/pkg/driver"
)

type Kind int

const (
	KindNone = Kind(iota)
	KindDDL
	KindAffected
	KindRows
)

type Result struct {
	Kind Kind

	// Success is set for schema statements.
	Success bool

	RowsAffected int64
	InsertID     int64

	Columns []driver.Column
	Rows    [][]any
	NumRows int

	Elapsed time.Duration
	// Cached marks a result served without a round trip.
	Cached bool
}

// Value is what a caller of query() expects back: the success flag for
// schema statements, affected rows for writes, the row count otherwise.
func (r *Result) Value() any {
	if r == nil {
		return 0
	}
	switch r.Kind {
	case KindDDL:
		return r.Success
	case KindAffected:
		return r.RowsAffected
	case KindRows:
		return r.NumRows
	default:
		return 0
	}
}

func (r *Result) clone() *Result {
	cp := *r
	return &cp
}

// SavedQuery is one entry of the saved query log.
type SavedQuery struct {
	Query   string
	Elapsed time.Duration
	Start   time.Time
	Dataset string
	Server  string
}

type SaveQueryFunc func(q SavedQuery)
