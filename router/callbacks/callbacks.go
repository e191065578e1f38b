package callbacks

import (
	"context"
	"fmt"

	"github.com/pg-sharding/dsrouter/pkg/lag"
	"github.com/pg-sharding/dsrouter/pkg/models/dserror"
	"github.com/pg-sharding/dsrouter/pkg/models/topology"
)

type Group string

const (
	GroupDataset           = Group("dataset")
	GroupDatasetFound      = Group("dataset_found")
	GroupGetLag            = Group("get_lag")
	GroupGetLagCache       = Group("get_lag_cache")
	GroupDBConnectionError = Group("db_connection_error")
	GroupSQLQueryLog       = Group("sql_query_log")
	GroupQueried           = Group("queried")
)

// Context is what dataset resolvers know about the statement besides its text.
type Context struct {
	Table      string
	InstanceID string
}

// DatasetDecision is a resolver verdict. An empty Dataset aborts the query.
type DatasetDecision struct {
	Dataset string
	// Server overrides fields of the chosen descriptor for this query only.
	Server *topology.ServerOverride
	// UsePrimary forces the write server regardless of the statement.
	UsePrimary bool
}

// DatasetResolver returns ok=false to defer to the next resolver.
type DatasetResolver func(query string, rctx *Context) (DatasetDecision, bool)

type DatasetFoundFunc func(dataset string)

type ConnectionErrorInfo struct {
	Host      string
	Port      int
	Operation topology.Operation
	Table     string
	Dataset   string
	DBHName   string
}

type ConnectionErrorFunc func(info ConnectionErrorInfo)

type QueryLogFunc func(query string, result any, lastErr error)

type QueriedFunc func(query string, result any)

// Chain holds resolver chains, where the first answer wins, and
// notification lists, whose return values are never looked at.
type Chain struct {
	dataset     []DatasetResolver
	getLag      []lag.Resolver
	getLagCache []lag.Resolver

	datasetFound []DatasetFoundFunc
	connErr      []ConnectionErrorFunc
	queryLog     []QueryLogFunc
	queried      []QueriedFunc
}

func NewChain() *Chain {
	return &Chain{}
}

// Add appends fn to group. fn must have the function type of the group.
func (c *Chain) Add(group Group, fn any) error {
	switch group {
	case GroupDataset:
		switch f := fn.(type) {
		case DatasetResolver:
			c.dataset = append(c.dataset, f)
			return nil
		case func(string, *Context) (DatasetDecision, bool):
			c.dataset = append(c.dataset, f)
			return nil
		}
	case GroupGetLag, GroupGetLagCache:
		var r lag.Resolver
		switch f := fn.(type) {
		case lag.Resolver:
			r = f
		case func(context.Context, lag.Request) (lag.Value, bool):
			r = f
		}
		if r != nil {
			if group == GroupGetLag {
				c.getLag = append(c.getLag, r)
			} else {
				c.getLagCache = append(c.getLagCache, r)
			}
			return nil
		}
	case GroupDatasetFound:
		switch f := fn.(type) {
		case DatasetFoundFunc:
			c.datasetFound = append(c.datasetFound, f)
			return nil
		case func(string):
			c.datasetFound = append(c.datasetFound, f)
			return nil
		}
	case GroupDBConnectionError:
		switch f := fn.(type) {
		case ConnectionErrorFunc:
			c.connErr = append(c.connErr, f)
			return nil
		case func(ConnectionErrorInfo):
			c.connErr = append(c.connErr, f)
			return nil
		}
	case GroupSQLQueryLog:
		switch f := fn.(type) {
		case QueryLogFunc:
			c.queryLog = append(c.queryLog, f)
			return nil
		case func(string, any, error):
			c.queryLog = append(c.queryLog, f)
			return nil
		}
	case GroupQueried:
		switch f := fn.(type) {
		case QueriedFunc:
			c.queried = append(c.queried, f)
			return nil
		case func(string, any):
			c.queried = append(c.queried, f)
			return nil
		}
	default:
		return dserror.Newf(dserror.DSR_UNEXPECTED, "unknown callback group %q", group)
	}
	return dserror.Newf(dserror.DSR_UNEXPECTED, "callback of type %s does not fit group %q", fmt.Sprintf("%T", fn), group)
}

func (c *Chain) AddDatasetResolver(fn DatasetResolver) {
	c.dataset = append(c.dataset, fn)
}

// AddLagOracle registers both lag paths of o.
func (c *Chain) AddLagOracle(o lag.Oracle) {
	c.getLagCache = append(c.getLagCache, o.CachedLag)
	c.getLag = append(c.getLag, o.Lag)
}

func (c *Chain) ResolveDataset(query string, rctx *Context) (DatasetDecision, bool) {
	for _, fn := range c.dataset {
		if d, ok := fn(query, rctx); ok {
			return d, true
		}
	}
	return DatasetDecision{}, false
}

func (c *Chain) HasLagResolvers() bool {
	return len(c.getLag) > 0 || len(c.getLagCache) > 0
}

func (c *Chain) CachedLag(ctx context.Context, req lag.Request) (lag.Value, bool) {
	return resolveLag(ctx, c.getLagCache, req)
}

func (c *Chain) Lag(ctx context.Context, req lag.Request) (lag.Value, bool) {
	return resolveLag(ctx, c.getLag, req)
}

func resolveLag(ctx context.Context, chain []lag.Resolver, req lag.Request) (lag.Value, bool) {
	for _, fn := range chain {
		if v, ok := fn(ctx, req); ok {
			return v, true
		}
	}
	return lag.Value{}, false
}

func (c *Chain) NotifyDatasetFound(dataset string) {
	for _, fn := range c.datasetFound {
		fn(dataset)
	}
}

func (c *Chain) NotifyConnectionError(info ConnectionErrorInfo) {
	for _, fn := range c.connErr {
		fn(info)
	}
}

func (c *Chain) NotifyQueryLog(query string, result any, lastErr error) {
	for _, fn := range c.queryLog {
		fn(query, result, lastErr)
	}
}

func (c *Chain) NotifyQueried(query string, result any) {
	for _, fn := range c.queried {
		fn(query, result)
	}
}
