package tracing_test

import (
	"testing"

	"github.com/pg-sharding/dsrouter/pkg/tracing"
	"github.com/stretchr/testify/assert"
)

func TestInitWithoutURL(t *testing.T) {
	assert := assert.New(t)

	closer, err := tracing.Init("")
	assert.NoError(err)
	assert.NoError(closer.Close())
}
