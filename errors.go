package sqlmap

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

var (
	// ErrUnresolvedParameter is returned when the SQL references a parameter
	// the parameter source does not provide.
	ErrUnresolvedParameter = errors.New("sqlmap: unresolved parameter")

	// ErrAmbiguousPositional is returned when a pseudo-positional ?name?
	// parameter is referenced more than once.
	ErrAmbiguousPositional = errors.New("sqlmap: positional parameter referenced more than once")

	// ErrUnsupportedParameterShape is returned for parameter sources that are
	// neither a struct, a string-keyed map, *Params, Args nor a batch of those.
	ErrUnsupportedParameterShape = errors.New("sqlmap: unsupported parameter shape")

	// ErrNilParams is returned when a nil pointer is passed as the parameter
	// source.
	ErrNilParams = errors.New("sqlmap: nil params")

	// ErrNoSuitableConstructor is returned when a target type can neither be
	// built by a registered constructor nor zero-constructed.
	ErrNoSuitableConstructor = errors.New("sqlmap: no suitable constructor")

	// ErrSplitColumnNotFound is returned by split mapping when a split column
	// does not occur in the result.
	ErrSplitColumnNotFound = errors.New("sqlmap: split column not found")

	// ErrTypeMismatch is returned when a column value cannot be converted to
	// the destination type.
	ErrTypeMismatch = errors.New("sqlmap: type mismatch")

	// ErrSequencing is returned when a grid result is read out of order, a
	// single-pass sequence is ranged twice, or a grid is read after it was
	// exhausted or closed.
	ErrSequencing = errors.New("sqlmap: result read out of sequence")

	// ErrMultipleRows is returned by QuerySingle and QuerySingleOrDefault
	// when the query yields more than one row.
	ErrMultipleRows = errors.New("sqlmap: query returned more than one row")

	// ErrNoSuchColumn is returned by RowValue for a column the row lacks.
	ErrNoSuchColumn = errors.New("sqlmap: no such column")

	// ErrColumnCount is returned when a scalar target receives more than one
	// column.
	ErrColumnCount = errors.New("sqlmap: column count mismatch")
)

// ParameterError reports a parameter problem together with the SQL text.
type ParameterError struct {
	Name string
	SQL  string
	Err  error
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("%v: %q in %q", e.Err, e.Name, snippet(e.SQL))
}

func (e *ParameterError) Unwrap() error { return e.Err }

// ConstructorError reports a target type that could not be constructed from
// the observed columns.
type ConstructorError struct {
	Type    reflect.Type
	Columns []string
}

func (e *ConstructorError) Error() string {
	return fmt.Sprintf("%v for %s (columns: %s)", ErrNoSuitableConstructor, e.Type, strings.Join(e.Columns, ", "))
}

func (e *ConstructorError) Unwrap() error { return ErrNoSuitableConstructor }

// SplitError reports a split column missing from a result.
type SplitError struct {
	SplitOn string
	Columns []string
}

func (e *SplitError) Error() string {
	return fmt.Sprintf("%v: %q (columns: %s); check the split names and their order",
		ErrSplitColumnNotFound, e.SplitOn, strings.Join(e.Columns, ", "))
}

func (e *SplitError) Unwrap() error { return ErrSplitColumnNotFound }

// TypeMismatchError reports a column value that could not be converted.
// Row is the zero-based row number within the result set.
type TypeMismatchError struct {
	Column  string
	Ordinal int
	Row     int
	Source  reflect.Type
	Dest    reflect.Type
	Value   any
	Err     error
}

func (e *TypeMismatchError) Error() string {
	src := "<nil>"
	if e.Source != nil {
		src = e.Source.String()
	}
	msg := fmt.Sprintf("%v: column %q (ordinal %d, row %d): cannot convert %s to %s",
		ErrTypeMismatch, e.Column, e.Ordinal, e.Row, src, e.Dest)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TypeMismatchError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTypeMismatch}
	}
	return []error{ErrTypeMismatch, e.Err}
}

func snippet(sql string) string {
	const max = 120
	sql = strings.Join(strings.Fields(sql), " ")
	if len(sql) > max {
		return sql[:max] + "..."
	}
	return sql
}
