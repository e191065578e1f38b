package relay

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/opentracing/opentracing-go"
	"github.com/pg-sharding/dsrouter/pkg/driver"
	"github.com/pg-sharding/dsrouter/pkg/dslog"
	"github.com/pg-sharding/dsrouter/pkg/models/dserror"
	"github.com/pg-sharding/dsrouter/pkg/models/topology"
	"github.com/pg-sharding/dsrouter/pkg/pool"
	"github.com/pg-sharding/dsrouter/router/callbacks"
	"github.com/pg-sharding/dsrouter/router/statistics"
)

const (
	foundRowsQuery   = "SELECT FOUND_ROWS()"
	noFoundRowsToken = "NO_SELECT_FOUND_ROWS"
)

var (
	foundRowsRe = regexp.MustCompile(`(?i)^\s*SELECT\s+FOUND_ROWS(\s*)`)
	calcRowsRe  = regexp.MustCompile(`(?i)^\s*SELECT\s+SQL_CALC_FOUND_ROWS\s`)
	ddlRe       = regexp.MustCompile(`(?i)^\s*(create|alter|truncate|drop)\s`)
	affectedRe  = regexp.MustCompile(`(?i)^\s*(insert|delete|update|replace|alter) `)
	insertIDRe  = regexp.MustCompile(`(?i)^\s*(insert|replace)\s`)
)

// Dispatcher hands out the connection a statement must run on.
type Dispatcher interface {
	Acquire(ctx context.Context, query string) (*pool.Handle, error)
}

// PreQueryFilter may answer a statement before it is sent anywhere.
type PreQueryFilter func(ctx context.Context, query string) (*Result, bool)

// QueryFilter rewrites a statement before it is routed.
type QueryFilter func(query string) string

// Executor runs statements for one router instance. Not safe for concurrent use.
type Executor struct {
	dispatcher Dispatcher
	pool       *pool.Pool
	chain      *callbacks.Chain

	stats   *statistics.Statistics
	stmtLog *dslog.StmtLogger

	preFilters []PreQueryFilter
	filters    []QueryFilter

	saveQueries bool
	saveFn      SaveQueryFunc
	saved       []SavedQuery

	// foundRows holds the answer of the last SQL_CALC_FOUND_ROWS follow-up.
	foundRows *Result

	lastQuery  string
	lastResult *Result
	lastErr    error
	insertID   int64
	numQueries int

	now func() time.Time
}

func NewExecutor(d Dispatcher, p *pool.Pool, chain *callbacks.Chain) *Executor {
	if chain == nil {
		chain = callbacks.NewChain()
	}
	return &Executor{
		dispatcher: d,
		pool:       p,
		chain:      chain,
		now:        time.Now,
	}
}

func (e *Executor) WithStatistics(s *statistics.Statistics) *Executor {
	e.stats = s
	return e
}

func (e *Executor) WithStmtLogger(l *dslog.StmtLogger) *Executor {
	e.stmtLog = l
	return e
}

// WithSaveQueries keeps every executed statement. A nil fn stores them in
// memory, see SavedQueries.
func (e *Executor) WithSaveQueries(fn SaveQueryFunc) *Executor {
	e.saveQueries = true
	e.saveFn = fn
	return e
}

func (e *Executor) WithClock(now func() time.Time) *Executor {
	e.now = now
	return e
}

func (e *Executor) AddPreQueryFilter(f PreQueryFilter) {
	e.preFilters = append(e.preFilters, f)
}

func (e *Executor) AddQueryFilter(f QueryFilter) {
	e.filters = append(e.filters, f)
}

func (e *Executor) InsertID() int64 {
	return e.insertID
}

func (e *Executor) NumQueries() int {
	return e.numQueries
}

func (e *Executor) LastQuery() string {
	return e.lastQuery
}

func (e *Executor) LastResult() *Result {
	return e.lastResult
}

func (e *Executor) LastError() error {
	return e.lastErr
}

func (e *Executor) SavedQueries() []SavedQuery {
	return e.saved
}

// Flush forgets the last result and error.
func (e *Executor) Flush() {
	e.lastResult = nil
	e.lastErr = nil
	e.lastQuery = ""
}

// Query routes and runs one statement.
func (e *Executor) Query(ctx context.Context, query string) (*Result, error) {
	e.Flush()

	for _, f := range e.filters {
		query = f(query)
	}

	for _, f := range e.preFilters {
		if res, ok := f(ctx, query); ok {
			e.lastResult = res
			e.chain.NotifyQueryLog(query, res.Value(), nil)
			return res, nil
		}
	}

	e.lastQuery = query

	if query == "" {
		return e.fail(query, 0, dserror.New(dserror.DSR_NO_QUERY, "empty query"))
	}

	if !utf8.ValidString(query) {
		if stripped := strings.ToValidUTF8(query, ""); stripped != query {
			e.insertID = 0
			return e.fail(query, false, dserror.New(dserror.DSR_TEXT_ENCODING,
				"could not perform query because it contains invalid data"))
		}
	}

	if e.foundRows != nil && foundRowsRe.MatchString(query) {
		res := e.foundRows.clone()
		res.Elapsed = 0
		res.Cached = true
		e.lastResult = res
		e.stats.RecordCacheHit("", string(topology.OperationRead))

		dslog.Zero.Debug().Str("query", query).Msg("served found rows from cache")
		e.chain.NotifyQueryLog(query, res.Value(), nil)
		e.chain.NotifyQueried(query, res.Value())
		return res, nil
	}

	// only a successful SQL_CALC_FOUND_ROWS select refills the slot
	e.foundRows = nil

	h, err := e.dispatcher.Acquire(ctx, query)
	if err != nil {
		return e.fail(query, false, err)
	}

	span := opentracing.StartSpan("query")
	defer span.Finish()
	span.SetTag("dataset", h.Dataset)
	span.SetTag("operation", string(h.Operation))
	span.SetTag("server", h.HostAndPort)

	start := e.now()
	res, err := e.run(ctx, h, query)
	elapsed := e.now().Sub(start)
	e.numQueries++
	e.stats.Record(h.Dataset, string(h.Operation), elapsed, err)

	if err != nil {
		span.SetTag("error", true)
		errno := driver.CodeOf(err)
		e.pool.RecordError(h.Key, errno)

		dslog.Zero.Error().
			Err(err).
			Str("dataset", h.Dataset).
			Str("host", h.HostAndPort).
			Int("errno", errno).
			Msg("query failed")
		return e.fail(query, false, dserror.NewWithCause(dserror.DSR_EXECUTION, err))
	}

	logged := query
	if calcRowsRe.MatchString(query) && !strings.Contains(query, noFoundRowsToken) {
		frStart := e.now()
		fr, frErr := e.run(ctx, h, foundRowsQuery)
		frElapsed := e.now().Sub(frStart)
		e.numQueries++
		e.stats.Record(h.Dataset, string(h.Operation), frElapsed, frErr)

		elapsed += frElapsed
		logged += "; " + foundRowsQuery
		if frErr != nil {
			dslog.Zero.Error().Err(frErr).Str("dataset", h.Dataset).Msg("found rows follow-up failed")
		} else {
			e.foundRows = fr
		}
	}
	res.Elapsed = elapsed
	e.lastResult = res

	if e.saveQueries {
		sq := SavedQuery{
			Query:   logged,
			Elapsed: elapsed,
			Start:   start,
			Dataset: h.Dataset,
			Server:  h.HostAndPort,
		}
		if e.saveFn != nil {
			e.saveFn(sq)
		} else {
			e.saved = append(e.saved, sq)
		}
	}

	e.stmtLog.ReportStatement(stmtType(h.Operation), h.Dataset, logged, elapsed)

	e.chain.NotifyQueryLog(query, res.Value(), nil)
	e.chain.NotifyQueried(query, res.Value())
	return res, nil
}

func (e *Executor) fail(query string, value any, err error) (*Result, error) {
	e.lastErr = err
	e.chain.NotifyQueryLog(query, value, err)
	return nil, err
}

// run sends query over h and shapes the answer by statement kind.
func (e *Executor) run(ctx context.Context, h *pool.Handle, query string) (*Result, error) {
	e.pool.MarkUsed(h.Key)
	h.Queries++

	switch {
	case ddlRe.MatchString(query):
		if _, err := h.Conn.Exec(ctx, query); err != nil {
			return nil, err
		}
		return &Result{Kind: KindDDL, Success: true}, nil
	case affectedRe.MatchString(query):
		er, err := h.Conn.Exec(ctx, query)
		if err != nil {
			return nil, err
		}
		res := &Result{Kind: KindAffected, RowsAffected: er.RowsAffected}
		if insertIDRe.MatchString(query) {
			res.InsertID = er.LastInsertID
			e.insertID = er.LastInsertID
		}
		return res, nil
	default:
		rows, err := h.Conn.Query(ctx, query)
		if err != nil {
			return nil, err
		}
		return &Result{
			Kind:    KindRows,
			Columns: rows.Columns,
			Rows:    rows.Values,
			NumRows: rows.Len(),
		}, nil
	}
}

func stmtType(op topology.Operation) dslog.StmtType {
	switch op {
	case topology.OperationWrite:
		return dslog.StmtTypeWrite
	case topology.OperationRead:
		return dslog.StmtTypeRead
	default:
		return dslog.StmtTypeOther
	}
}
