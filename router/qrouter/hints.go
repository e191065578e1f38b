package qrouter

import (
	"strconv"
	"time"

	"github.com/pg-sharding/dsrouter/pkg/models/topology"
	"github.com/pg-sharding/dsrouter/router/callbacks"
	"github.com/pg-sharding/dsrouter/router/parser"
)

const (
	HintDataset    = "dataset"
	HintUsePrimary = "use_primary"
	HintHost       = "host"
	HintDatabase   = "database"
	HintTimeout    = "timeout"
)

// CommentHints routes statements carrying a comment such as
// /* dataset: users, use_primary: true */. Statements without any known
// hint are left to the next resolver.
func CommentHints(query string, _ *callbacks.Context) (callbacks.DatasetDecision, bool) {
	hints := parser.Hints(query)
	if len(hints) == 0 {
		return callbacks.DatasetDecision{}, false
	}

	d := callbacks.DatasetDecision{
		Dataset: topology.DefaultDataset,
	}
	found := false

	if ds, ok := hints[HintDataset]; ok {
		d.Dataset = ds
		found = true
	}
	if v, ok := hints[HintUsePrimary]; ok {
		b, err := strconv.ParseBool(v)
		if err == nil {
			d.UsePrimary = b
			found = true
		}
	}

	var o topology.ServerOverride
	if h, ok := hints[HintHost]; ok && h != "" {
		o.Host = h
	}
	if n, ok := hints[HintDatabase]; ok && n != "" {
		o.Name = n
	}
	if t, ok := hints[HintTimeout]; ok {
		if dur, err := time.ParseDuration(t); err == nil {
			o.Timeout = dur
		}
	}
	if o != (topology.ServerOverride{}) {
		d.Server = &o
		found = true
	}

	return d, found
}
