package qrouter_test

import (
	"testing"

	"github.com/pg-sharding/dsrouter/pkg/models/hashfunction"
	"github.com/pg-sharding/dsrouter/router/callbacks"
	"github.com/pg-sharding/dsrouter/router/qrouter"
	"github.com/stretchr/testify/assert"
)

func TestHashPartitionResolver(t *testing.T) {
	assert := assert.New(t)

	h := qrouter.NewHashPartitionResolver("blog", 4, hashfunction.HashFunctionIdent, "wp_blog")

	d, ok := h.Resolve("SELECT * FROM wp_blog_posts /* partition_key: 6 */", &callbacks.Context{Table: "wp_blog_posts"})
	assert.True(ok)
	assert.Equal("blog_2", d.Dataset)

	_, ok = h.Resolve("SELECT * FROM wp_users /* partition_key: 6 */", &callbacks.Context{Table: "wp_users"})
	assert.False(ok)

	_, ok = h.Resolve("SELECT * FROM wp_blog_posts", &callbacks.Context{Table: "wp_blog_posts"})
	assert.False(ok)
}

func TestHashPartitionResolverCustomKey(t *testing.T) {
	assert := assert.New(t)

	h := qrouter.NewHashPartitionResolver("users", 8, hashfunction.HashFunctionMurmur, "")
	h.Key = func(string, *callbacks.Context) (any, bool) {
		return "user-42", true
	}

	d1, ok := h.Resolve("SELECT 1 FROM a", &callbacks.Context{Table: "a"})
	assert.True(ok)
	d2, ok := h.Resolve("SELECT 1 FROM b", &callbacks.Context{Table: "b"})
	assert.True(ok)
	assert.Equal(d1.Dataset, d2.Dataset)

	p, err := hashfunction.Partition("user-42", hashfunction.HashFunctionMurmur, 8)
	assert.NoError(err)
	assert.Equal("users_"+string(rune('0'+p)), d1.Dataset)
}
