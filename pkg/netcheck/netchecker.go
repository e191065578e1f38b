package netcheck

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"syscall"
	"time"

	"github.com/pg-sharding/dsrouter/pkg/dslog"
)

type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// NetChecker opens and closes a plain TCP connection. It never caches.
type NetChecker struct {
	Dial DialFunc
}

var _ Checker = NetChecker{}

func (n NetChecker) Check(ctx context.Context, host string, port int, timeout time.Duration) Result {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dial := n.Dial
	if dial == nil {
		d := &net.Dialer{}
		dial = d.DialContext
	}

	conn, err := dial(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		reason := fmt.Sprintf("[ > %v ] (%d) '%s'", timeout.Seconds(), errno(err), err)
		dslog.Zero.Debug().
			Str("host", host).
			Int("port", port).
			Err(err).
			Msg("netchecker: tcp probe failed")
		return Result{Responsive: false, Reason: reason}
	}
	_ = conn.Close()
	return Result{Responsive: true}
}

func errno(err error) int {
	var en syscall.Errno
	if errors.As(err, &en) {
		return int(en)
	}
	return 0
}
