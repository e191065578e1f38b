package instance

import (
	"context"

	"github.com/pg-sharding/dsrouter/pkg/driver"
	"github.com/pg-sharding/dsrouter/pkg/models/dserror"
	"github.com/pg-sharding/dsrouter/pkg/pool"
)

// HandleFor returns the connection serving reads of table, connecting when
// needed. An empty table means the connection of the last statement.
func (i *Instance) HandleFor(ctx context.Context, table string) (*pool.Handle, error) {
	if table == "" {
		if h := i.connector.Current(); h != nil {
			return h, nil
		}
		return nil, dserror.New(dserror.DSR_STALE, "no connection in use")
	}
	return i.Acquire(ctx, "SELECT * FROM "+table)
}

// DBServerInfo is the full server version string of the server holding table.
func (i *Instance) DBServerInfo(ctx context.Context, table string) (string, error) {
	h, err := i.HandleFor(ctx, table)
	if err != nil {
		return "", err
	}
	return h.Conn.ServerVersion(ctx)
}

// DBVersion is the numeric server version, "8.0.36" for "8.0.36-log".
func (i *Instance) DBVersion(ctx context.Context, table string) (string, error) {
	info, err := i.DBServerInfo(ctx, table)
	if err != nil {
		return "", err
	}
	return driver.VersionNumber(info), nil
}

func (i *Instance) HasCap(ctx context.Context, capability, table string) (bool, error) {
	info, err := i.DBServerInfo(ctx, table)
	if err != nil {
		return false, err
	}
	return driver.HasCap(info, capability), nil
}

// Escape makes s safe inside a quoted literal.
func (i *Instance) Escape(s string) string {
	return driver.EscapeString(s)
}
