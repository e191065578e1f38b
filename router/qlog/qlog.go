package qlog

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/pg-sharding/dsrouter/pkg/dslog"
	"github.com/pg-sharding/dsrouter/router/relay"
)

type entry struct {
	Query     string  `json:"query"`
	ElapsedMs float64 `json:"elapsed_ms"`
	Start     string  `json:"start"`
	Dataset   string  `json:"dataset"`
	Server    string  `json:"server"`
}

// FileLog appends saved queries to a file, one JSON object per line.
// Safe for concurrent use, so instances of one process may share it.
type FileLog struct {
	mu   sync.Mutex
	path string
}

func NewFileLog(path string) *FileLog {
	return &FileLog{path: path}
}

func (l *FileLog) Path() string {
	return l.path
}

// Save has the signature of relay.SaveQueryFunc. Write errors are logged.
func (l *FileLog) Save(q relay.SavedQuery) {
	if err := l.DumpQuery(q); err != nil {
		dslog.Zero.Error().Err(err).Str("path", l.path).Msg("failed to dump query")
	}
}

func (l *FileLog) DumpQuery(q relay.SavedQuery) error {
	line, err := json.Marshal(entry{
		Query:     q.Query,
		ElapsedMs: float64(q.Elapsed.Microseconds()) / 1000,
		Start:     q.Start.Format(time.RFC3339Nano),
		Dataset:   q.Dataset,
		Server:    q.Server,
	})
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer file.Close()

	if _, err := file.Write(append(line, '\n')); err != nil {
		return err
	}
	return nil
}

// Recover reads back every query dumped to path. Lines that do not parse
// are skipped.
func Recover(path string) ([]relay.SavedQuery, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func(file *os.File) {
		err := file.Close()
		if err != nil {
			dslog.Zero.Error().Err(err).Msg("")
		}
	}(file)

	dslog.Zero.Info().
		Str("path", path).
		Msg("query log found")

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var queries []relay.SavedQuery
	for scanner.Scan() {
		var e entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil || e.Query == "" {
			continue
		}
		start, _ := time.Parse(time.RFC3339Nano, e.Start)
		queries = append(queries, relay.SavedQuery{
			Query:   e.Query,
			Elapsed: time.Duration(e.ElapsedMs * float64(time.Millisecond)),
			Start:   start,
			Dataset: e.Dataset,
			Server:  e.Server,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return queries, nil
}
