package statistics

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/caio/go-tdigest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/atomic"
)

const (
	StatusOK     = "ok"
	StatusError  = "error"
	StatusCached = "cached"
)

var durationBuckets = []float64{
	0.0001, // 100µs
	0.0005, // 500µs
	0.001,  // 1ms
	0.005,  // 5ms
	0.01,   // 10ms
	0.05,   // 50ms
	0.1,    // 100ms
	0.5,    // 500ms
	1.0,    // 1s
	5.0,    // 5s
	10.0,   // 10s
}

// Statistics keeps query time quantiles per dataset and operation and
// mirrors them into prometheus. Safe for concurrent use, so several router
// instances may share one.
type Statistics struct {
	quantiles []float64

	mu      sync.Mutex
	digests map[string]*tdigest.TDigest

	queries   atomic.Int64
	cacheHits atomic.Int64
	failures  atomic.Int64

	duration   *prometheus.HistogramVec
	queryTotal *prometheus.CounterVec
}

// New registers the collectors with reg. A nil reg keeps them unregistered.
func New(reg prometheus.Registerer, quantiles []float64) *Statistics {
	factory := promauto.With(reg)
	return &Statistics{
		quantiles: quantiles,
		digests:   map[string]*tdigest.TDigest{},
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dsrouter_query_duration_seconds",
			Help:    "Statement duration in seconds, connection excluded",
			Buckets: durationBuckets,
		}, []string{"dataset", "operation"}),
		queryTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dsrouter_queries_total",
			Help: "Total number of statements processed",
		}, []string{"dataset", "operation", "status"}),
	}
}

// ParseQuantiles parses quantiles given as strings, such as "0.99".
func ParseQuantiles(q []string) ([]float64, error) {
	res := make([]float64, len(q))
	for i, qStr := range q {
		var err error
		res[i], err = strconv.ParseFloat(qStr, 64)
		if err != nil {
			return nil, fmt.Errorf("could not parse time quantile to float: \"%s\"", qStr)
		}
	}
	return res, nil
}

func digestKey(dataset, operation string) string {
	return dataset + "/" + operation
}

// Record accounts one statement run on a server.
func (s *Statistics) Record(dataset, operation string, d time.Duration, err error) {
	if s == nil {
		return
	}
	s.queries.Inc()

	status := StatusOK
	if err != nil {
		status = StatusError
		s.failures.Inc()
	}
	s.queryTotal.WithLabelValues(dataset, operation, status).Inc()
	s.duration.WithLabelValues(dataset, operation).Observe(d.Seconds())

	s.mu.Lock()
	defer s.mu.Unlock()
	td, ok := s.digests[digestKey(dataset, operation)]
	if !ok {
		td, _ = tdigest.New()
		s.digests[digestKey(dataset, operation)] = td
	}
	_ = td.Add(float64(d.Microseconds()) / 1000)
}

// RecordCacheHit accounts a statement answered without a round trip.
func (s *Statistics) RecordCacheHit(dataset, operation string) {
	if s == nil {
		return
	}
	s.cacheHits.Inc()
	s.queryTotal.WithLabelValues(dataset, operation, StatusCached).Inc()
}

// TimeQuantile returns the q quantile in milliseconds, 0 without data.
func (s *Statistics) TimeQuantile(dataset, operation string, q float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	td, ok := s.digests[digestKey(dataset, operation)]
	if !ok {
		return 0
	}
	return td.Quantile(q)
}

func (s *Statistics) Quantiles() []float64 {
	return s.quantiles
}

func (s *Statistics) Queries() int64 {
	return s.queries.Load()
}

func (s *Statistics) CacheHits() int64 {
	return s.cacheHits.Load()
}

func (s *Statistics) Failures() int64 {
	return s.failures.Load()
}

type Row struct {
	Dataset   string
	Operation string
	Count     uint64
	// Quantiles holds milliseconds, in the order of the configured quantiles.
	Quantiles []float64
}

// Report summarizes every dataset and operation seen so far.
func (s *Statistics) Report() []Row {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.digests))
	for k := range s.digests {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	res := make([]Row, 0, len(keys))
	for _, k := range keys {
		td := s.digests[k]
		var ds, op string
		for i := len(k) - 1; i >= 0; i-- {
			if k[i] == '/' {
				ds, op = k[:i], k[i+1:]
				break
			}
		}
		row := Row{Dataset: ds, Operation: op, Count: td.Count()}
		for _, q := range s.quantiles {
			row.Quantiles = append(row.Quantiles, td.Quantile(q))
		}
		res = append(res, row)
	}
	return res
}
