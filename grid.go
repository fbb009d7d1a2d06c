package sqlmap

import (
	"context"
	"database/sql"
	"errors"
	"iter"
	"reflect"
	"sync/atomic"
)

// GridReader reads the result sets of a multi-statement query in order,
// each exactly once. Reading the last result set releases the rows and any
// connection acquired for the query; Close does the same early.
//
// A GridReader is not safe for concurrent use.
type GridReader struct {
	m    *Mapper
	cmd  Command
	s    *session
	rows *sql.Rows

	index    int
	consumed bool
	done     bool
}

// QueryMultiple executes a query that returns several result sets.
//
// Example:
//
//	g, err := sqlmap.QueryMultiple(ctx, db, `
//	    SELECT * FROM users WHERE id = @id;
//	    SELECT * FROM orders WHERE user_id = @id`, map[string]any{"id": 7})
//	if err != nil {
//	    return err
//	}
//	defer g.Close()
//	user, err := sqlmap.ReadFirst[User](g)
//	orders, err := sqlmap.Read[Order](g)
func QueryMultiple(ctx context.Context, db DB, query string, params any) (*GridReader, error) {
	return QueryMultipleCommand(ctx, db, NewCommand(query, params))
}

// QueryMultipleCommand is QueryMultiple driven by a Command.
func QueryMultipleCommand(ctx context.Context, db DB, cmd Command) (*GridReader, error) {
	m := cmd.mapper()
	s, err := m.open(ctx, db, &cmd, "QueryMultiple")
	if err != nil {
		return nil, err
	}
	rows, err := runQuery(s, m, &cmd)
	if err != nil {
		return nil, s.close(err)
	}
	return &GridReader{m: m, cmd: cmd, s: s, rows: rows}, nil
}

// Index returns the zero-based position of the result set read next.
func (g *GridReader) Index() int { return g.index }

// Done reports whether every result set was read or the grid was closed.
func (g *GridReader) Done() bool { return g.done }

// Close releases the rows and the connection. It is safe to call more than
// once and after the last result set was read.
func (g *GridReader) Close() error {
	if g.done {
		return nil
	}
	g.done = true
	err := g.rows.Close()
	return g.s.close(err)
}

// claim marks the current result set as taken by a reader.
func (g *GridReader) claim() error {
	if g.done || g.consumed {
		return ErrSequencing
	}
	g.consumed = true
	return nil
}

// advance moves to the next result set after a read. A read error or the
// end of the last result set releases everything.
func (g *GridReader) advance(readErr error) error {
	if readErr != nil {
		g.done = true
		err := errors.Join(readErr, g.rows.Close())
		return g.s.close(err)
	}
	if g.rows.NextResultSet() {
		g.index++
		g.consumed = false
		return nil
	}
	g.done = true
	err := g.rows.Err()
	err = errors.Join(err, g.rows.Close())
	return g.s.close(err)
}

// gridStream reads the current result set through prepare.
func gridStream[R any](g *GridReader, prepare planFunc[R]) iter.Seq2[R, error] {
	var zero R
	if err := g.claim(); err != nil {
		return func(yield func(R, error) bool) { yield(zero, err) }
	}
	var used atomic.Bool
	return func(yield func(R, error) bool) {
		if used.Swap(true) {
			yield(zero, ErrSequencing)
			return
		}
		stopped := false
		err := readResult(g.s.ctx, g.rows, prepare, func(v R) bool {
			if !yield(v, nil) {
				stopped = true
				return false
			}
			return true
		})
		if err = g.advance(err); err != nil && !stopped {
			yield(zero, err)
		}
	}
}

// ReadStream returns the current result set as a single-pass sequence of T.
// The grid moves to the next result set when the loop ends or breaks.
// Calling any read again before the sequence was ranged fails with
// ErrSequencing.
func ReadStream[T any](g *GridReader) iter.Seq2[T, error] {
	return gridStream(g, typedPlan[T](g.m, &g.cmd, g.index))
}

// Read returns the current result set as a slice of T.
func Read[T any](g *GridReader) ([]T, error) {
	return collect(ReadStream[T](g))
}

// ReadFirst returns the first row of the current result set and skips the
// rest. It returns sql.ErrNoRows when the result set is empty.
func ReadFirst[T any](g *GridReader) (T, error) {
	var out T
	found := false
	for v, err := range ReadStream[T](g) {
		if err != nil {
			var zero T
			return zero, err
		}
		out, found = v, true
		break
	}
	if !found {
		return out, sql.ErrNoRows
	}
	return out, nil
}

// ReadMapN is QueryMapN over the current result set of g.
func ReadMapN[R any](g *GridReader, types []reflect.Type, fn func([]any) R) ([]R, error) {
	if err := checkTypes(types); err != nil {
		return nil, err
	}
	return collect(gridStream(g, splitPlanFor(g.m, &g.cmd, types, g.index, fn)))
}
