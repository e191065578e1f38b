package qrouter_test

import (
	"testing"

	"github.com/pg-sharding/dsrouter/pkg/models/dserror"
	"github.com/pg-sharding/dsrouter/pkg/models/topology"
	"github.com/pg-sharding/dsrouter/router/callbacks"
	"github.com/pg-sharding/dsrouter/router/parser"
	"github.com/pg-sharding/dsrouter/router/qrouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveStaticRouteBypassesCallbacks(t *testing.T) {
	assert := assert.New(t)

	routes := topology.TableRoutes{}
	routes.Add("users", "wp_users")
	routes.Add("orders", "wp_orders")

	chain := callbacks.NewChain()
	called := 0
	chain.AddDatasetResolver(func(string, *callbacks.Context) (callbacks.DatasetDecision, bool) {
		called++
		return callbacks.DatasetDecision{
			Dataset: "other",
			Server:  &topology.ServerOverride{Host: "elsewhere"},
		}, true
	})

	r := qrouter.NewResolver(routes, chain, "test")

	for _, q := range []string{
		"SELECT * FROM wp_users WHERE id = 1",
		"INSERT INTO wp_users (id) VALUES (1)",
		"UPDATE wp_users SET name = 'x'",
		"DELETE FROM wp_users WHERE id = 2",
	} {
		res, err := r.Resolve(q)
		require.NoError(t, err)
		assert.Equal("users", res.Dataset, q)
		assert.True(res.Static)
		assert.Nil(res.Override)
	}

	res, err := r.Resolve("SELECT * FROM wp_orders")
	require.NoError(t, err)
	assert.Equal("orders", res.Dataset)
	assert.Equal(0, called)
}

func TestResolveCallbackAndDefault(t *testing.T) {
	assert := assert.New(t)

	chain := callbacks.NewChain()
	var found []string
	chain.AddDatasetResolver(func(_ string, rctx *callbacks.Context) (callbacks.DatasetDecision, bool) {
		if rctx.Table != "wp_blogs" {
			return callbacks.DatasetDecision{}, false
		}
		return callbacks.DatasetDecision{
			Dataset:    "blogs",
			Server:     &topology.ServerOverride{Name: "blogs_db"},
			UsePrimary: true,
		}, true
	})
	assert.NoError(chain.Add(callbacks.GroupDatasetFound, func(ds string) { found = append(found, ds) }))

	r := qrouter.NewResolver(nil, chain, "test")

	res, err := r.Resolve("SELECT * FROM wp_blogs")
	assert.NoError(err)
	assert.Equal("blogs", res.Dataset)
	assert.Equal("wp_blogs", res.Table)
	assert.True(res.UsePrimary)
	assert.Equal("blogs_db", res.Override.Name)

	res, err = r.Resolve("COMMIT")
	assert.NoError(err)
	assert.Equal(topology.DefaultDataset, res.Dataset)
	assert.Equal(parser.NoTable, res.Table)

	assert.Equal([]string{"blogs", "global"}, found)
}

func TestResolveEmptyDatasetFails(t *testing.T) {
	assert := assert.New(t)

	chain := callbacks.NewChain()
	chain.AddDatasetResolver(func(string, *callbacks.Context) (callbacks.DatasetDecision, bool) {
		return callbacks.DatasetDecision{}, true
	})
	notified := false
	chain.AddDatasetResolver(func(string, *callbacks.Context) (callbacks.DatasetDecision, bool) {
		notified = true
		return callbacks.DatasetDecision{Dataset: "x"}, true
	})

	r := qrouter.NewResolver(nil, chain, "test")
	_, err := r.Resolve("SELECT * FROM wp_posts")
	assert.Error(err)
	assert.True(dserror.HasCode(err, dserror.DSR_ROUTING))
	assert.Contains(err.Error(), "wp_posts")
	assert.False(notified)
}

func TestCommentHints(t *testing.T) {
	assert := assert.New(t)

	chain := callbacks.NewChain()
	chain.AddDatasetResolver(qrouter.CommentHints)
	r := qrouter.NewResolver(nil, chain, "test")

	res, err := r.Resolve("SELECT * FROM wp_posts /* dataset: posts, use_primary: true, host: db9:3307 */")
	assert.NoError(err)
	assert.Equal("posts", res.Dataset)
	assert.True(res.UsePrimary)
	assert.Equal("db9:3307", res.Override.Host)

	res, err = r.Resolve("SELECT * FROM wp_posts /* database: archive */")
	assert.NoError(err)
	assert.Equal(topology.DefaultDataset, res.Dataset)
	assert.Equal("archive", res.Override.Name)

	res, err = r.Resolve("SELECT * FROM wp_posts /* plain note */")
	assert.NoError(err)
	assert.Equal(topology.DefaultDataset, res.Dataset)
	assert.Nil(res.Override)
}
