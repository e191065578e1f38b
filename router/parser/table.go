package parser

import (
	"regexp"
	"strings"

	"github.com/pg-sharding/lyx/lyx"
)

// NoTable is reported for statements without a table, such as COMMIT.
const NoTable = "no-table"

const (
	identChar       = "[0-9a-zA-Z$_.\\x60\\-\\x{0080}-\\x{07FF}]"
	quotedIdentChar = "[0-9a-zA-Z$_.\\-\\x{0080}-\\x{07FF}]"
	likeIdentChar   = "[\\\\0-9a-zA-Z$_.\\-\\x{0080}-\\x{07FF}]"
)

var (
	commonRe = regexp.MustCompile(`(?is)^\s*(?:` +
		`SELECT.*?\s+FROM` +
		`|INSERT(?:\s+LOW_PRIORITY|\s+DELAYED|\s+HIGH_PRIORITY)?(?:\s+IGNORE)?(?:\s+INTO)?` +
		`|REPLACE(?:\s+LOW_PRIORITY|\s+DELAYED)?(?:\s+INTO)?` +
		`|UPDATE(?:\s+LOW_PRIORITY)?(?:\s+IGNORE)?` +
		`|DELETE(?:\s+LOW_PRIORITY|\s+QUICK|\s+IGNORE)*(?:.+?FROM)?` +
		`)\s+(` + identChar + `+)`)

	showWhereRe = regexp.MustCompile(`(?is)^\s*SHOW\s+(?:TABLE\s+STATUS|(?:FULL\s+)?TABLES).+WHERE\s+Name\s*=\s*` +
		`(?:"(` + quotedIdentChar + `+)"|'(` + quotedIdentChar + `+)')`)

	showLikeRe = regexp.MustCompile(`(?is)^\s*SHOW\s+(?:TABLE\s+STATUS|(?:FULL\s+)?TABLES)\s+(?:WHERE\s+Name\s+)?LIKE\s*` +
		`(?:"(` + likeIdentChar + `+)%?"|'(` + likeIdentChar + `+)%?')`)

	otherRe = regexp.MustCompile(`(?is)^\s*(?:` +
		`(?:EXPLAIN\s+(?:EXTENDED\s+)?)?SELECT.*?\s+FROM` +
		`|DESCRIBE|DESC|EXPLAIN|HANDLER` +
		`|(?:LOCK|UNLOCK)\s+TABLE(?:S)?` +
		`|(?:RENAME|OPTIMIZE|BACKUP|RESTORE|CHECK|CHECKSUM|ANALYZE|REPAIR).*\s+TABLE` +
		`|TRUNCATE(?:\s+TABLE)?` +
		`|CREATE(?:\s+TEMPORARY)?\s+TABLE(?:\s+IF\s+NOT\s+EXISTS)?` +
		`|ALTER(?:\s+IGNORE)?\s+TABLE` +
		`|DROP\s+TABLE(?:\s+IF\s+EXISTS)?` +
		`|CREATE(?:\s+\w+)?\s+INDEX.*\s+ON` +
		`|DROP\s+INDEX.*\s+ON` +
		`|LOAD\s+DATA.*INFILE.*INTO\s+TABLE` +
		`|(?:GRANT|REVOKE).*ON\s+TABLE` +
		`|SHOW\s+(?:.*FULL\s+)?TABLES.*(?:\s+FROM|\s+IN)` +
		`)\s+\(*\s*(` + identChar + `+)\s*\)*`)
)

// TableFromQuery returns the primary table a statement touches, or "" when
// it has none. MySQL forms are matched first; anything else is handed to
// the postgres grammar.
func TableFromQuery(query string) string {
	q := strings.TrimRight(query, ";/-#")
	q = strings.TrimLeft(q, "\r\n\t (")
	q = stripParens(q)

	if m := commonRe.FindStringSubmatch(q); m != nil {
		return strings.ReplaceAll(m[1], "`", "")
	}
	if m := showWhereRe.FindStringSubmatch(q); m != nil {
		return firstNonEmpty(m[1], m[2])
	}
	if m := showLikeRe.FindStringSubmatch(q); m != nil {
		return strings.ReplaceAll(firstNonEmpty(m[1], m[2]), `\_`, "_")
	}
	if m := otherRe.FindStringSubmatch(q); m != nil {
		return strings.ReplaceAll(m[1], "`", "")
	}
	return tableFromGrammar(query)
}

// stripParens collapses every parenthesised group that holds no nested
// group and does not start a subselect into "()".
func stripParens(q string) string {
	var sb strings.Builder
	sb.Grow(len(q))

	for i := 0; i < len(q); {
		if q[i] != '(' || startsSelect(q[i+1:]) {
			sb.WriteByte(q[i])
			i++
			continue
		}
		end := -1
		for j := i + 1; j < len(q); j++ {
			if q[j] == '(' {
				break
			}
			if q[j] == ')' {
				end = j
				break
			}
		}
		if end < 0 {
			sb.WriteByte(q[i])
			i++
			continue
		}
		sb.WriteString("()")
		i = end + 1
	}
	return sb.String()
}

func startsSelect(s string) bool {
	s = strings.TrimLeft(s, " \t\r\n\f\v")
	return len(s) >= 6 && strings.EqualFold(s[:6], "select")
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func tableFromGrammar(query string) string {
	stmt, err := lyx.Parse(query)
	if err != nil || stmt == nil {
		return ""
	}
	return relationName(stmt)
}

func relationName(node any) string {
	switch q := node.(type) {
	case *lyx.RangeVar:
		if q.SchemaName != "" {
			return q.SchemaName + "." + q.RelationName
		}
		return q.RelationName
	case *lyx.JoinExpr:
		if name := relationName(q.Larg); name != "" {
			return name
		}
		return relationName(q.Rarg)
	case *lyx.SubSelect:
		return relationName(q.Arg)
	case *lyx.Select:
		for _, from := range q.FromClause {
			if name := relationName(from); name != "" {
				return name
			}
		}
		return ""
	case *lyx.Insert:
		return relationName(q.TableRef)
	case *lyx.Update:
		return relationName(q.TableRef)
	case *lyx.Delete:
		return relationName(q.TableRef)
	default:
		return ""
	}
}
