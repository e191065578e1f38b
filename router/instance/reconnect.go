package instance

import (
	"context"
	"time"

	"github.com/pg-sharding/dsrouter/pkg/dslog"
	"github.com/pg-sharding/dsrouter/pkg/models/dserror"
	"github.com/pg-sharding/dsrouter/pkg/models/topology"
	"github.com/sethvargo/go-retry"
)

const (
	DefaultReconnectRetries = 3
	DefaultReconnectSleep   = time.Second
)

// CheckConnection pings the current connection and reconnects it when the
// ping fails. After the configured number of failed reconnects the error
// goes through Bail.
func (i *Instance) CheckConnection(ctx context.Context) error {
	if err := i.connector.Ping(ctx); err == nil {
		return nil
	}
	if i.lastReq == nil {
		return dserror.New(dserror.DSR_STALE, "no connection to check")
	}
	req := *i.lastReq
	dbhname := topology.HandleKey(req.Dataset, req.Operation)

	tries := 0
	b := retry.WithMaxRetries(uint64(i.reconnectRetries-1), retry.NewConstant(i.reconnectSleep))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		tries++
		i.connector.Disconnect(dbhname)

		if _, err := i.connector.Connect(ctx, req); err != nil {
			dslog.Zero.Warn().
				Err(err).
				Str("instance", i.id).
				Int("try", tries).
				Msg("reconnect failed")
			return retry.RetryableError(err)
		}
		if err := i.connector.Ping(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return i.Bail(dserror.Newf(dserror.DSR_CONNECTION,
			"Error reconnecting to the database after %d tries: %s", tries, err))
	}

	dslog.Zero.Info().
		Str("instance", i.id).
		Str("dbhname", dbhname).
		Int("tries", tries).
		Msg("reconnected")
	return nil
}
