// Package runtime defines the error kinds shared by the query pipeline and
// the client, plus helpers for classifying driver errors and retrying
// transport failures on the caller side.
package runtime

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Every error kind below matches one of these through
// errors.Is so callers can branch without inspecting messages.
var (
	// ErrMissingParameter is returned when a {name} placeholder has no binding.
	ErrMissingParameter = errors.New("missing dynamic parameter")

	// ErrQueryParse is returned when the database rejects a statement.
	ErrQueryParse = errors.New("query rejected by database")

	// ErrTypeResolution is returned when a type OID cannot be resolved from the catalog.
	ErrTypeResolution = errors.New("type resolution failed")

	// ErrResultMapping is returned when a row cannot be coerced into a record.
	ErrResultMapping = errors.New("result mapping failed")

	// ErrTransport is returned for network, pool and driver failures.
	ErrTransport = errors.New("database transport failure")

	// ErrTimeout is matched by transport errors caused by a deadline.
	ErrTimeout = errors.New("operation timeout")

	// ErrCanceled is matched by transport errors caused by cancellation.
	ErrCanceled = errors.New("operation canceled")

	// ErrNotFound is returned by Get when the query yields no rows.
	ErrNotFound = errors.New("record not found")

	// ErrUniqueConstraint is matched by unique violations (SQLSTATE 23505).
	ErrUniqueConstraint = errors.New("unique constraint violation")

	// ErrForeignKeyConstraint is matched by foreign key violations (SQLSTATE 23503).
	ErrForeignKeyConstraint = errors.New("foreign key constraint violation")

	// ErrNullConstraint is matched by not-null violations (SQLSTATE 23502).
	ErrNullConstraint = errors.New("null constraint violation")
)

// MissingParameterError reports a dynamic placeholder without a binding.
// It is raised before any network call.
type MissingParameterError struct {
	Name string
}

// Error implements the error interface.
func (e *MissingParameterError) Error() string {
	if e.Name == "" {
		return "dynamic parameter {} has no name"
	}
	return fmt.Sprintf("missing value for dynamic parameter {%s}", e.Name)
}

// Is reports whether target is ErrMissingParameter.
func (e *MissingParameterError) Is(target error) bool {
	return target == ErrMissingParameter
}

// ServerError carries a database error report verbatim.
type ServerError struct {
	Code     string
	Severity string
	Message  string
	Detail   string
	Hint     string
	// Position is the 1-based character offset into the statement, 0 if unknown.
	Position int
}

func (s ServerError) format() string {
	var b strings.Builder
	if s.Code != "" {
		fmt.Fprintf(&b, "%s: ", s.Code)
	}
	b.WriteString(s.Message)
	if s.Position > 0 {
		fmt.Fprintf(&b, " (position %d)", s.Position)
	}
	if s.Hint != "" {
		fmt.Fprintf(&b, " hint: %s", s.Hint)
	}
	return b.String()
}

// QueryParseError is returned when the database rejects a statement at
// describe or execute time: malformed SQL, unknown relations or columns,
// unsupported features. It is never retried.
type QueryParseError struct {
	ServerError
	Query string
}

// Error implements the error interface.
func (e *QueryParseError) Error() string {
	return "query parse error: " + e.format()
}

// Is reports whether target is ErrQueryParse.
func (e *QueryParseError) Is(target error) bool {
	return target == ErrQueryParse
}

// DatabaseError is a server-reported failure during execution that is not a
// rejection of the statement itself, such as a constraint violation.
type DatabaseError struct {
	ServerError
}

// Error implements the error interface.
func (e *DatabaseError) Error() string {
	return "database error: " + e.format()
}

// Is matches the constraint sentinels by SQLSTATE.
func (e *DatabaseError) Is(target error) bool {
	switch target {
	case ErrUniqueConstraint:
		return e.Code == "23505"
	case ErrForeignKeyConstraint:
		return e.Code == "23503"
	case ErrNullConstraint:
		return e.Code == "23502"
	}
	return false
}

// TypeResolutionError is returned when the type catalog has no row for a
// type OID referenced by a statement.
type TypeResolutionError struct {
	OIDs   []uint32
	Reason string
}

// Error implements the error interface.
func (e *TypeResolutionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cannot resolve types %v: %s", e.OIDs, e.Reason)
	}
	return fmt.Sprintf("cannot resolve types %v: no catalog entry", e.OIDs)
}

// Is reports whether target is ErrTypeResolution.
func (e *TypeResolutionError) Is(target error) bool {
	return target == ErrTypeResolution
}

// ResultMappingError is returned when a row cannot be materialized into the
// declared record type. The whole result set is abandoned.
type ResultMappingError struct {
	Model  string
	Row    int
	Column string
	Err    error
}

// Error implements the error interface.
func (e *ResultMappingError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("cannot map row %d column %q into %s: %v", e.Row, e.Column, e.Model, e.Err)
	}
	return fmt.Sprintf("cannot map row %d into %s: %v", e.Row, e.Model, e.Err)
}

// Unwrap returns the underlying construction error.
func (e *ResultMappingError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrResultMapping.
func (e *ResultMappingError) Is(target error) bool {
	return target == ErrResultMapping
}

// TransportError wraps a failure from the connection layer without altering
// it. Cancellation and deadline errors stay reachable through errors.Is.
type TransportError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the driver error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrTransport, or ErrTimeout/ErrCanceled when
// the wrapped error is a context error.
func (e *TransportError) Is(target error) bool {
	switch target {
	case ErrTransport:
		return true
	case ErrTimeout:
		return isDeadline(e.Err)
	case ErrCanceled:
		return isCanceled(e.Err)
	}
	return false
}

// IsNotFound checks if an error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRetryable reports whether err is a transport failure that was not caused
// by the caller giving up.
func IsRetryable(err error) bool {
	if !errors.Is(err, ErrTransport) {
		return false
	}
	return !errors.Is(err, ErrCanceled) && !errors.Is(err, ErrTimeout)
}
