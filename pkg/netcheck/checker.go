package netcheck

import (
	"context"
	"strconv"
	"time"
)

const DefaultCacheTTL = 10 * time.Second

const (
	stateUp   = "up"
	stateDown = "down"
)

type Result struct {
	Responsive bool
	// Reason describes a failed probe: "[ > timeout ] (errno) 'message'".
	Reason string
	Cached bool
}

func (r Result) String() string {
	if r.Responsive {
		return "true"
	}
	if r.Reason == "" {
		return "false"
	}
	return r.Reason
}

// Checker probes TCP reachability of a server.
type Checker interface {
	Check(ctx context.Context, host string, port int, timeout time.Duration) Result
}

func Key(host string, port int) string {
	return host + ":" + strconv.Itoa(port)
}
