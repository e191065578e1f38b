package qrouter

import (
	"strconv"
	"strings"

	"github.com/pg-sharding/dsrouter/pkg/dslog"
	"github.com/pg-sharding/dsrouter/pkg/models/hashfunction"
	"github.com/pg-sharding/dsrouter/router/callbacks"
	"github.com/pg-sharding/dsrouter/router/parser"
)

// HintPartitionKey is the comment hint read by the default key function.
const HintPartitionKey = "partition_key"

// KeyFunc extracts the partition key of a statement.
type KeyFunc func(query string, rctx *callbacks.Context) (any, bool)

// HintKey reads the key from a /* partition_key: ... */ comment.
func HintKey(query string, _ *callbacks.Context) (any, bool) {
	v, ok := parser.Hints(query)[HintPartitionKey]
	if !ok || v == "" {
		return nil, false
	}
	return v, true
}

// HashPartitionResolver sends statements on partitioned tables to
// "{Dataset}_{N}", N being the hashed partition key modulo Partitions.
type HashPartitionResolver struct {
	Dataset      string
	Partitions   int
	HashFunction hashfunction.HashFunctionType
	// TablePrefix selects the partitioned tables; empty matches all of them.
	TablePrefix string
	Key         KeyFunc
}

func NewHashPartitionResolver(dataset string, partitions int, hf hashfunction.HashFunctionType, tablePrefix string) *HashPartitionResolver {
	return &HashPartitionResolver{
		Dataset:      dataset,
		Partitions:   partitions,
		HashFunction: hf,
		TablePrefix:  tablePrefix,
		Key:          HintKey,
	}
}

func (h *HashPartitionResolver) Resolve(query string, rctx *callbacks.Context) (callbacks.DatasetDecision, bool) {
	if rctx == nil || rctx.Table == parser.NoTable {
		return callbacks.DatasetDecision{}, false
	}
	if !strings.HasPrefix(rctx.Table, h.TablePrefix) {
		return callbacks.DatasetDecision{}, false
	}
	keyFn := h.Key
	if keyFn == nil {
		keyFn = HintKey
	}
	key, ok := keyFn(query, rctx)
	if !ok {
		return callbacks.DatasetDecision{}, false
	}
	part, err := hashfunction.Partition(key, h.HashFunction, h.Partitions)
	if err != nil {
		dslog.Zero.Debug().Err(err).Str("table", rctx.Table).Msg("partition key not hashable")
		return callbacks.DatasetDecision{}, false
	}
	return callbacks.DatasetDecision{Dataset: h.Dataset + "_" + strconv.Itoa(part)}, true
}
