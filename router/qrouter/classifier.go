package qrouter

import (
	"regexp"
	"sort"
	"strings"

	"github.com/pg-sharding/dsrouter/pkg/models/topology"
)

// stickyScanLen bounds how much of a read is searched for written tables.
const stickyScanLen = 1000

var (
	writeRe = regexp.MustCompile(`(?i)(?:^|\s)(?:ALTER|CREATE|ANALYZE|CHECK|OPTIMIZE|REPAIR|CALL|DELETE|DROP|INSERT|LOAD|REPLACE|UPDATE|SET|RENAME\s+TABLE)(?:\s|$)`)
	lockRe  = regexp.MustCompile(`(?is)\sFOR\s+UPDATE\b|\sLOCK\s+IN\s+SHARE\s+MODE\b|\b\w+_LOCK\s*\(`)
	readRe  = regexp.MustCompile(`(?i)^(?:SELECT|SHOW|DESCRIBE|DESC|EXPLAIN)(?:\s|$)`)
)

// IsWriteQuery reports whether q may modify anything. Statements that do
// not start with a read-only keyword are writes.
func IsWriteQuery(q string) bool {
	q = strings.TrimLeft(q, "\r\n\t (")
	if writeRe.MatchString(q) || lockRe.MatchString(q) {
		return true
	}
	return !readRe.MatchString(q)
}

// StickySet remembers tables written by this instance so later reads of
// them go to the primary.
type StickySet struct {
	all    bool
	tables map[string]struct{}
}

func NewStickySet() *StickySet {
	return &StickySet{tables: map[string]struct{}{}}
}

// SendAll sends every following read to the primary.
func (s *StickySet) SendAll() {
	s.all = true
}

func (s *StickySet) All() bool {
	return s.all
}

func (s *StickySet) Add(table string) {
	if s.all || table == "" {
		return
	}
	s.tables[table] = struct{}{}
}

func (s *StickySet) Contains(table string) bool {
	_, ok := s.tables[table]
	return ok
}

func (s *StickySet) Len() int {
	return len(s.tables)
}

func (s *StickySet) Tables() []string {
	res := make([]string, 0, len(s.tables))
	for t := range s.tables {
		res = append(res, t)
	}
	sort.Strings(res)
	return res
}

// mentioned reports whether a sticky table occurs in the head of query.
func (s *StickySet) mentioned(query string) bool {
	head := query
	if len(head) > stickyScanLen {
		head = head[:stickyScanLen]
	}
	head = strings.ToLower(head)
	for t := range s.tables {
		if strings.Contains(head, strings.ToLower(t)) {
			return true
		}
	}
	return false
}

type Classifier struct {
	sticky *StickySet
}

func NewClassifier() *Classifier {
	return &Classifier{sticky: NewStickySet()}
}

func (c *Classifier) Sticky() *StickySet {
	return c.sticky
}

func (c *Classifier) SendReadsToPrimary() {
	c.sticky.SendAll()
}

// Classify picks the operation for query on table. A genuine write makes
// table sticky for the rest of the instance lifetime.
func (c *Classifier) Classify(query, table string, forcePrimary bool) topology.Operation {
	switch {
	case forcePrimary, c.sticky.All(), c.sticky.Contains(table):
		return topology.OperationWrite
	case IsWriteQuery(query):
		c.sticky.Add(table)
		return topology.OperationWrite
	case c.sticky.Len() > 0 && c.sticky.mentioned(query):
		return topology.OperationWrite
	}
	return topology.OperationRead
}
