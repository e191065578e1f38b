package dserror

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/hashicorp/go-multierror"
)

const (
	DSR_UNEXPECTED    = "DSRU"
	DSR_ROUTING       = "DSRR"
	DSR_NO_SERVERS    = "DSRN"
	DSR_CONNECTION    = "DSRO"
	DSR_LAG_RETRY     = "DSRL"
	DSR_STALE         = "DSRS"
	DSR_TEXT_ENCODING = "DSRT"
	DSR_EXECUTION     = "DSRE"
	DSR_MAINTENANCE   = "DSRM"
	DSR_NO_QUERY      = "DSRQ"
)

var existingErrorCodeMap = map[string]string{
	DSR_ROUTING:       "Routing error",
	DSR_NO_SERVERS:    "No servers",
	DSR_CONNECTION:    "Connection error",
	DSR_LAG_RETRY:     "Lag exhaustion retry",
	DSR_STALE:         "Stale connection",
	DSR_TEXT_ENCODING: "Text encoding error",
	DSR_EXECUTION:     "Driver execution error",
	DSR_MAINTENANCE:   "Primary under maintenance",
	DSR_NO_QUERY:      "No query",
}

func GetMessageByCode(errorCode string) string {
	rep, ok := existingErrorCodeMap[errorCode]
	if ok {
		return rep
	}
	return "Unexpected error"
}

// Coded is implemented by every error of this package.
type Coded interface {
	error
	Code() string
}

var _ Coded = &DSRError{}

type DSRError struct {
	Err error

	ErrorCode string
}

func New(errorCode string, errorMsg string) *DSRError {
	return &DSRError{
		Err:       errors.New(errorMsg),
		ErrorCode: errorCode,
	}
}

func Newf(errorCode string, format string, a ...any) *DSRError {
	return &DSRError{
		Err:       fmt.Errorf(format, a...),
		ErrorCode: errorCode,
	}
}

// NewWithCause keeps err as the cause, so errors.As still reaches it.
func NewWithCause(errorCode string, err error) *DSRError {
	return &DSRError{
		Err:       err,
		ErrorCode: errorCode,
	}
}

func NewByCode(errorCode string) *DSRError {
	return New(errorCode, GetMessageByCode(errorCode))
}

func (er *DSRError) Error() string {
	return er.Err.Error()
}

func (er *DSRError) Unwrap() error {
	return er.Err
}

func (er *DSRError) Code() string {
	return er.ErrorCode
}

// Describe renders the error with its code and name, for fatal output.
func Describe(err error) string {
	var c Coded
	if errors.As(err, &c) {
		return fmt.Sprintf("Code: %s. Name: %s. Description: %s.",
			c.Code(), GetMessageByCode(c.Code()), err)
	}
	return fmt.Sprintf("Code: %s. Name: %s. Description: %s.",
		DSR_UNEXPECTED, GetMessageByCode(DSR_UNEXPECTED), err)
}

// HasCode reports whether err or anything it wraps carries the code.
func HasCode(err error, code string) bool {
	for err != nil {
		if c, ok := err.(Coded); ok && c.Code() == code {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

var _ Coded = &ConnectionError{}

// ConnectionError is returned when every candidate server of a dataset failed.
type ConnectionError struct {
	Host      string
	Port      int
	Operation string
	Table     string
	Dataset   string
	DBHName   string

	// Attempts holds the failure of every individual attempt, in order.
	Attempts *multierror.Error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("Unable to connect to %s to %s table '%s' (%s)",
		joinHostPort(e.Host, e.Port), e.Operation, e.Table, e.Dataset)
}

func (e *ConnectionError) Code() string {
	return DSR_CONNECTION
}

func (e *ConnectionError) Unwrap() error {
	if e.Attempts == nil {
		return nil
	}
	return e.Attempts.ErrorOrNil()
}

func joinHostPort(host string, port int) string {
	if port == 0 {
		return host
	}
	return host + ":" + strconv.Itoa(port)
}
