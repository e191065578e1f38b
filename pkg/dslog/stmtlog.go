package dslog

import "time"

type StmtType string

const (
	StmtTypeRead  = StmtType("READ")
	StmtTypeWrite = StmtType("WRITE")
	StmtTypeOther = StmtType("OTHER")
)

type StmtLogger struct {
	logMinDurationStatement time.Duration
}

// NewStmtLogger returns a slow statement logger. A threshold of -1 disables it.
func NewStmtLogger(logMinDurationStatement time.Duration) *StmtLogger {
	return &StmtLogger{
		logMinDurationStatement: logMinDurationStatement,
	}
}

func (s *StmtLogger) shouldLogStatement(t time.Duration) bool {
	return s != nil && s.logMinDurationStatement != -1 && t > s.logMinDurationStatement
}

func (s *StmtLogger) ReportStatement(typ StmtType, dataset string, stmt string, t time.Duration) {
	if s.shouldLogStatement(t) {
		Zero.Info().
			Str("stmt", stmt).
			Str("stmt_type", string(typ)).
			Str("dataset", dataset).
			Dur("duration", t).
			Msg("log statement")
	}
}
