package qrouter

import (
	"github.com/pg-sharding/dsrouter/pkg/dslog"
	"github.com/pg-sharding/dsrouter/pkg/models/dserror"
	"github.com/pg-sharding/dsrouter/pkg/models/topology"
	"github.com/pg-sharding/dsrouter/router/callbacks"
	"github.com/pg-sharding/dsrouter/router/parser"
)

// Resolution is where a statement has to go before a server is picked.
type Resolution struct {
	Table   string
	Dataset string
	// Override comes from the resolver that chose the dataset, nil otherwise.
	Override   *topology.ServerOverride
	UsePrimary bool
	// Static is set when a table route decided the dataset.
	Static bool
}

type Resolver struct {
	routes     topology.TableRoutes
	chain      *callbacks.Chain
	instanceID string
}

func NewResolver(routes topology.TableRoutes, chain *callbacks.Chain, instanceID string) *Resolver {
	if routes == nil {
		routes = topology.TableRoutes{}
	}
	if chain == nil {
		chain = callbacks.NewChain()
	}
	return &Resolver{
		routes:     routes,
		chain:      chain,
		instanceID: instanceID,
	}
}

// Resolve finds the dataset of query. Static table routes win over the
// dataset resolver chain, and "global" is used when nobody answers.
func (r *Resolver) Resolve(query string) (*Resolution, error) {
	res := &Resolution{
		Table: parser.TableFromQuery(query),
	}
	if res.Table == "" {
		res.Table = parser.NoTable
	}

	if ds, ok := r.routes.Lookup(res.Table); ok {
		res.Dataset = ds
		res.Static = true
	} else if d, ok := r.chain.ResolveDataset(query, &callbacks.Context{
		Table:      res.Table,
		InstanceID: r.instanceID,
	}); ok {
		if d.Dataset == "" {
			return nil, dserror.Newf(dserror.DSR_ROUTING,
				"Unable to determine which dataset to query. (%s)", res.Table)
		}
		res.Dataset = d.Dataset
		res.Override = d.Server
		res.UsePrimary = d.UsePrimary
	} else {
		res.Dataset = topology.DefaultDataset
	}

	dslog.Zero.Debug().
		Str("table", res.Table).
		Str("dataset", res.Dataset).
		Bool("static", res.Static).
		Msg("resolved dataset")

	r.chain.NotifyDatasetFound(res.Dataset)
	return res, nil
}
