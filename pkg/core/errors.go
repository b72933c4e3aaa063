package core

import (
	"errors"
	"fmt"
	"regexp"
)

// Code classifies an Error so callers can decide how to report it.
type Code string

// Error codes.
const (
	InputError    Code = "INPUT_ERROR"
	DatabaseError Code = "DATABASE_ERROR"
	SourceError   Code = "SOURCE_ERROR"
	ConfigError   Code = "CONFIG_ERROR"
)

// Error is the single error type that crosses the pipeline boundary.
// Database errors carry the table and operation. Their message masks quoted
// literals of the backend's text, where drivers echo row values; the
// unmasked cause stays reachable through Unwrap.
type Error struct {
	Code  Code
	Op    string
	Table string
	Err   error
}

func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.Table != "" {
		msg += fmt.Sprintf(" (table %s)", e.Table)
	}
	if e.Err != nil {
		cause := e.Err.Error()
		if e.Code == DatabaseError {
			cause = redact(cause)
		}
		msg += ": " + cause
	}
	return msg
}

var (
	singleQuoted = regexp.MustCompile(`'(?:[^']|'')*'`)
	doubleQuoted = regexp.MustCompile(`"(?:[^"\\]|\\.)*"`)
	keyValue     = regexp.MustCompile(`(?i)(value is )\([^)]*\)`)
)

// redact masks the literals drivers quote in their messages, such as MySQL's
// "Duplicate entry '42'" or SQL Server's "key value is (42)". Error numbers
// and SQLSTATE codes are kept.
func redact(msg string) string {
	msg = singleQuoted.ReplaceAllString(msg, "'?'")
	msg = doubleQuoted.ReplaceAllString(msg, `"?"`)
	return keyValue.ReplaceAllString(msg, "${1}(?)")
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an Error with a formatted cause.
func Errorf(code Code, op, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Err: fmt.Errorf(format, args...)}
}

// DBError wraps a backend failure for the given table and operation.
func DBError(op, table string, err error) *Error {
	return &Error{Code: DatabaseError, Op: op, Table: table, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
