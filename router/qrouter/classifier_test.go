package qrouter_test

import (
	"strings"
	"testing"

	"github.com/pg-sharding/dsrouter/pkg/models/topology"
	"github.com/pg-sharding/dsrouter/router/parser"
	"github.com/pg-sharding/dsrouter/router/qrouter"
	"github.com/stretchr/testify/assert"
)

func TestIsWriteQuery(t *testing.T) {
	type tcase struct {
		query string
		write bool
	}

	for _, tt := range []tcase{
		{query: "SELECT * FROM wp_posts", write: false},
		{query: "select id from wp_posts where id = 1", write: false},
		{query: "   \n\tSELECT 1", write: false},
		{query: "((SELECT a FROM t) UNION (SELECT a FROM u))", write: false},
		{query: "SHOW TABLES", write: false},
		{query: "DESCRIBE wp_posts", write: false},
		{query: "DESC wp_posts", write: false},
		{query: "EXPLAIN SELECT * FROM wp_posts", write: false},
		{query: "SELECT SQL_CALC_FOUND_ROWS * FROM wp_posts LIMIT 10", write: false},

		{query: "INSERT INTO wp_posts VALUES (1)", write: true},
		{query: "insert into wp_posts values (1)", write: true},
		{query: "UPDATE wp_posts SET a = 1", write: true},
		{query: "DELETE FROM wp_posts", write: true},
		{query: "REPLACE INTO wp_posts VALUES (1)", write: true},
		{query: "LOAD DATA INFILE 'x' INTO TABLE t", write: true},
		{query: "ALTER TABLE wp_posts ADD c int", write: true},
		{query: "CREATE TABLE t (a int)", write: true},
		{query: "DROP TABLE t", write: true},
		{query: "SET NAMES utf8mb4", write: true},
		{query: "RENAME TABLE a TO b", write: true},
		{query: "CALL proc()", write: true},
		{query: "SELECT * FROM wp_posts WHERE id = 1 FOR UPDATE", write: true},
		{query: "SELECT * FROM wp_posts LOCK IN SHARE MODE", write: true},
		{query: "SELECT GET_LOCK('x', 10)", write: true},
		{query: "COMMIT", write: true},
		{query: "BEGIN", write: true},
		{query: "", write: true},
	} {
		assert.Equal(t, tt.write, qrouter.IsWriteQuery(tt.query), "query %q", tt.query)
	}
}

func TestClassifyStickyWrite(t *testing.T) {
	assert := assert.New(t)

	c := qrouter.NewClassifier()

	assert.Equal(topology.OperationRead, c.Classify("SELECT * FROM wp_posts", "wp_posts", false))
	assert.Equal(topology.OperationWrite, c.Classify("INSERT INTO wp_posts VALUES (1)", "wp_posts", false))
	assert.Equal([]string{"wp_posts"}, c.Sticky().Tables())

	assert.Equal(topology.OperationWrite, c.Classify("SELECT * FROM wp_posts", "wp_posts", false))
	assert.Equal(topology.OperationWrite, c.Classify("SELECT * FROM wp_users u JOIN WP_POSTS p ON p.a = u.id", "wp_users", false))
	assert.Equal(topology.OperationRead, c.Classify("SELECT * FROM wp_users", "wp_users", false))
}

func TestClassifyStickyScanIsBounded(t *testing.T) {
	assert := assert.New(t)

	c := qrouter.NewClassifier()
	c.Classify("UPDATE wp_meta SET v = 1", "wp_meta", false)

	q := "SELECT * FROM wp_users WHERE note = '" + strings.Repeat("x", 1000) + "' OR id IN (SELECT id FROM wp_meta)"
	assert.Equal(topology.OperationRead, c.Classify(q, "wp_users", false))
}

func TestClassifyTablelessWriteIsSticky(t *testing.T) {
	assert := assert.New(t)

	c := qrouter.NewClassifier()
	assert.Equal(topology.OperationRead, c.Classify("SELECT FOUND_ROWS()", parser.NoTable, false))
	assert.Equal(topology.OperationWrite, c.Classify("COMMIT", parser.NoTable, false))
	assert.Equal([]string{parser.NoTable}, c.Sticky().Tables())

	assert.Equal(topology.OperationWrite, c.Classify("SELECT FOUND_ROWS()", parser.NoTable, false))
	assert.Equal(topology.OperationRead, c.Classify("SELECT * FROM wp_posts", "wp_posts", false))
}

func TestClassifyForcedAndGlobal(t *testing.T) {
	assert := assert.New(t)

	c := qrouter.NewClassifier()
	assert.Equal(topology.OperationWrite, c.Classify("SELECT 1", "no-table", true))
	assert.Equal(0, c.Sticky().Len())

	c.SendReadsToPrimary()
	assert.True(c.Sticky().All())
	assert.Equal(topology.OperationWrite, c.Classify("SELECT * FROM wp_options", "wp_options", false))
}
