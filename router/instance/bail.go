package instance

import (
	"github.com/pg-sharding/dsrouter/pkg/dslog"
	"github.com/pg-sharding/dsrouter/pkg/models/dserror"
)

// FatalHandler is called with errors the instance cannot recover from when
// bailing is allowed.
type FatalHandler func(err error)

// DefaultFatalHandler logs at fatal level, which exits the process.
func DefaultFatalHandler(err error) {
	dslog.Zero.Fatal().Err(err).Msg(dserror.Describe(err))
}

// Bail reports err through the fatal handler when bailing is allowed.
// err is returned either way.
func (i *Instance) Bail(err error) error {
	if err == nil {
		return nil
	}
	if !i.allowBail {
		dslog.Zero.Debug().Str("instance", i.id).Err(err).Msg("bail suppressed")
		return err
	}
	i.fatal(err)
	return err
}
