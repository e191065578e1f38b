package statistics_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pg-sharding/dsrouter/router/statistics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestStatisticsForOneDataset(t *testing.T) {
	assert := assert.New(t)

	reg := prometheus.NewRegistry()
	st := statistics.New(reg, []float64{0.5})

	st.Record("global", "read", 2*time.Millisecond, nil)
	st.Record("global", "read", 4*time.Millisecond, nil)
	st.Record("global", "read", 6*time.Millisecond, errors.New("boom"))

	assert.Equal(int64(3), st.Queries())
	assert.Equal(int64(1), st.Failures())
	assert.InDelta(4.0, st.TimeQuantile("global", "read", 0.5), 2.0)
	assert.Equal(0.0, st.TimeQuantile("global", "write", 0.5))

	rows := st.Report()
	assert.Len(rows, 1)
	assert.Equal("global", rows[0].Dataset)
	assert.Equal("read", rows[0].Operation)
	assert.Equal(uint64(3), rows[0].Count)
	assert.Len(rows[0].Quantiles, 1)

	n, err := testutil.GatherAndCount(reg, "dsrouter_queries_total")
	assert.NoError(err)
	assert.Equal(2, n)
}

func TestStatisticsConcurrentInstances(t *testing.T) {
	assert := assert.New(t)

	st := statistics.New(nil, []float64{0.9})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				st.Record("users", "write", time.Millisecond, nil)
				st.RecordCacheHit("users", "read")
			}
		}()
	}
	wg.Wait()

	assert.Equal(int64(800), st.Queries())
	assert.Equal(int64(800), st.CacheHits())
}

func TestParseQuantiles(t *testing.T) {
	assert := assert.New(t)

	q, err := statistics.ParseQuantiles([]string{"0.5", "0.99"})
	assert.NoError(err)
	assert.Equal([]float64{0.5, 0.99}, q)

	_, err = statistics.ParseQuantiles([]string{"half"})
	assert.Error(err)
}
