package connector

import (
	"time"

	"github.com/pg-sharding/dsrouter/pkg/lag"
)

// Attempt is one entry of the connection log: a connect try, successful or
// not, and the counters of the handle it produced.
type Attempt struct {
	DBHName string
	Host    string
	Port    int
	User    string
	Name    string
	// TCP is the probe verdict, "true" or the failure reason.
	TCP     string
	Elapsed time.Duration
	Success bool
	Lag     lag.Value
	Status  lag.Status
	Errno   int
	Err     error

	Queries        int
	SelectFailures int
	PingFailures   int
}

type connLog struct {
	entries []*Attempt
}

func (l *connLog) add(a *Attempt) {
	l.entries = append(l.entries, a)
}

// last returns the newest successful entry of dbhname.
func (l *connLog) last(dbhname string) *Attempt {
	for i := len(l.entries) - 1; i >= 0; i-- {
		if e := l.entries[i]; e.DBHName == dbhname && e.Success {
			return e
		}
	}
	return nil
}
