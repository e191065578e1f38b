package lag

import (
	"context"
	"fmt"

	"github.com/pg-sharding/dsrouter/pkg/driver"
)

type Status int

const (
	StatusOK      = Status(1)
	StatusBehind  = Status(2)
	StatusUnknown = Status(3)
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusBehind:
		return "behind"
	default:
		return "unknown"
	}
}

// Value is a replication lag in seconds. Known is false when the oracle
// could not tell.
type Value struct {
	Seconds float64
	Known   bool
}

func Seconds(s float64) Value {
	return Value{Seconds: s, Known: true}
}

var Unknown = Value{}

func (v Value) String() string {
	if !v.Known {
		return "unknown"
	}
	return fmt.Sprintf("%g", v.Seconds)
}

// Check compares v against threshold. A nil threshold disables the check.
func Check(v Value, threshold *float64) Status {
	if !v.Known {
		return StatusUnknown
	}
	if threshold != nil && v.Seconds > *threshold {
		return StatusBehind
	}
	return StatusOK
}

// Request identifies the server whose lag is asked for.
type Request struct {
	// Key is "host:port".
	Key       string
	DBHName   string
	Threshold *float64
	// Conn is set only on the post-connect path.
	Conn driver.Conn
}

// Resolver answers a lag request; ok=false passes to the next resolver.
type Resolver func(ctx context.Context, req Request) (Value, bool)

// Oracle provides both lag paths: a cheap cached lookup used before
// connecting and an authoritative one used on a live connection.
type Oracle interface {
	CachedLag(ctx context.Context, req Request) (Value, bool)
	Lag(ctx context.Context, req Request) (Value, bool)
}
