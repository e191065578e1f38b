package pool

import (
	"time"

	"github.com/pg-sharding/dsrouter/pkg/driver"
	"github.com/pg-sharding/dsrouter/pkg/lag"
	"github.com/pg-sharding/dsrouter/pkg/models/topology"
)

// Handle is a live connection registered under "{dataset}__{w|r}".
type Handle struct {
	Key       string
	Dataset   string
	Operation topology.Operation
	Conn      driver.Conn

	HostAndPort string
	// Server is the descriptor the connection was opened with, overrides applied.
	Server topology.ServerDescriptor
	// DBName is the database currently selected on Conn.
	DBName string

	Queries     int
	Lag         lag.Value
	ConnectedAt time.Time
}
