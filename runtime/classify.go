package runtime

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// Stage identifies where in the pipeline a driver error surfaced.
type Stage int

const (
	// StageDescribe covers the Parse/Describe round trip. Every server error
	// here is a rejection of the statement.
	StageDescribe Stage = iota
	// StageCatalog covers catalog queries issued by the resolvers.
	StageCatalog
	// StageExecute covers statement execution.
	StageExecute
)

func (s Stage) String() string {
	switch s {
	case StageDescribe:
		return "describe"
	case StageCatalog:
		return "catalog query"
	case StageExecute:
		return "execute"
	default:
		return "unknown"
	}
}

// Classify converts a driver error into one of the package's error kinds.
// Errors that are already classified are returned unchanged, nil stays nil.
func Classify(stage Stage, query string, err error) error {
	if err == nil {
		return nil
	}
	if alreadyClassified(err) {
		return err
	}

	if se, ok := serverError(err); ok {
		if stage == StageDescribe || rejectsStatement(se.Code) {
			return &QueryParseError{ServerError: se, Query: query}
		}
		return &DatabaseError{ServerError: se}
	}

	return &TransportError{Op: stage.String(), Err: err}
}

func alreadyClassified(err error) bool {
	var (
		mp *MissingParameterError
		qp *QueryParseError
		db *DatabaseError
		tr *TypeResolutionError
		rm *ResultMappingError
		te *TransportError
	)
	return errors.As(err, &mp) || errors.As(err, &qp) || errors.As(err, &db) ||
		errors.As(err, &tr) || errors.As(err, &rm) || errors.As(err, &te)
}

// serverError extracts a verbatim server report from pgx or lib/pq errors.
func serverError(err error) (ServerError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return ServerError{
			Code:     pgErr.Code,
			Severity: pgErr.Severity,
			Message:  pgErr.Message,
			Detail:   pgErr.Detail,
			Hint:     pgErr.Hint,
			Position: int(pgErr.Position),
		}, true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		pos, _ := strconv.Atoi(pqErr.Position)
		return ServerError{
			Code:     string(pqErr.Code),
			Severity: pqErr.Severity,
			Message:  pqErr.Message,
			Detail:   pqErr.Detail,
			Hint:     pqErr.Hint,
			Position: pos,
		}, true
	}

	return ServerError{}, false
}

// rejectsStatement reports whether an execution-time SQLSTATE means the
// statement itself is invalid rather than the data it touched.
func rejectsStatement(code string) bool {
	switch {
	case strings.HasPrefix(code, "42"): // syntax error or access rule violation
		return true
	case strings.HasPrefix(code, "0A"): // feature not supported
		return true
	case code == "22P02", code == "42P18": // invalid text representation, indeterminate datatype
		return true
	}
	return false
}

func isDeadline(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return pgconn.Timeout(err) && !errors.Is(err, context.Canceled)
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
