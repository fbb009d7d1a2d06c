package sqlmap

import (
	"context"
	"database/sql"
	"iter"
	"reflect"
	"sync/atomic"
)

// decoder materializes the current row of a result set.
type decoder[R any] func(vals []any, row int) (R, error)

// planFunc resolves the decoder for a result set from its columns and
// signature. It runs once per result set, before the first row.
type planFunc[R any] func(ctx context.Context, cols []column, sig uint64) (decoder[R], error)

// Query executes the SQL query and materializes every row into a slice of T.
// The result is all-or-error: a failure on any row returns no rows.
//
// params may be nil, a struct, a map[string]T, *Params or Args. Names in the
// SQL are written @name or :name; list members expand into (p1, p2, ...).
//
// T may be a struct (supports `db` tags, ,inline and registered
// constructors), a scalar, any type implementing [sql.Scanner], Row, or
// map[string]any. Column mapping prefers `db:"name"` tags; otherwise it
// matches case-insensitive field names.
//
// Example:
//
//	type Post struct {
//	    ID       int64  `db:"id"`
//	    Text     string `db:"text"`
//	    Counter1 *int
//	}
//
//	posts, err := sqlmap.Query[Post](ctx, db,
//	    `SELECT id, text, counter1 FROM posts WHERE id = @ID`,
//	    map[string]any{"ID": 7},
//	)
func Query[T any](ctx context.Context, db DB, query string, params any) ([]T, error) {
	return QueryCommand[T](ctx, db, NewCommand(query, params))
}

// QueryCommand is Query driven by a Command.
func QueryCommand[T any](ctx context.Context, db DB, cmd Command) ([]T, error) {
	m := cmd.mapper()
	return collect(streamRows(ctx, db, cmd, "Query", typedPlan[T](m, &cmd, 0)))
}

// Stream executes the SQL query and yields rows as they are read. The
// sequence is single-pass: ranging it a second time yields ErrSequencing.
// The rows, the timeout and any connection acquired for the call are
// released when the loop ends, breaks or fails.
//
//	for p, err := range sqlmap.Stream[Post](ctx, db, `SELECT * FROM posts`, nil) {
//	    if err != nil {
//	        return err
//	    }
//	    handle(p)
//	}
func Stream[T any](ctx context.Context, db DB, query string, params any) iter.Seq2[T, error] {
	return StreamCommand[T](ctx, db, Command{SQL: query, Params: params})
}

// StreamCommand is Stream driven by a Command.
func StreamCommand[T any](ctx context.Context, db DB, cmd Command) iter.Seq2[T, error] {
	m := cmd.mapper()
	return streamRows(ctx, db, cmd, "Stream", typedPlan[T](m, &cmd, 0))
}

// typedPlan resolves the cached row plan for T at the given grid position.
func typedPlan[T any](m *Mapper, cmd *Command, grid int) planFunc[T] {
	t := reflect.TypeFor[T]()
	first := cmd.has(FlagFirstColumn)
	id := newIdentity(cmd.SQL, m.dialect.Placeholder, cmd.Params, []reflect.Type{t}, "", grid, first)
	noCache := cmd.has(FlagNoCache)

	return func(ctx context.Context, cols []column, sig uint64) (decoder[T], error) {
		p, err := m.readerPlan(ctx, id, sig, noCache, func() (any, error) {
			return m.compileRowPlan(ctx, t, cols, first)
		})
		if err != nil {
			return nil, err
		}
		plan := p.(*rowPlan)
		strict := m.StrictNulls()
		return func(vals []any, row int) (T, error) {
			v, err := plan.build(vals, row, strict)
			if err != nil {
				var zero T
				return zero, err
			}
			return as[T](v), nil
		}, nil
	}
}

// streamRows runs cmd and yields the decoded rows of its first result set.
func streamRows[R any](ctx context.Context, db DB, cmd Command, op string, prepare planFunc[R]) iter.Seq2[R, error] {
	var used atomic.Bool
	return func(yield func(R, error) bool) {
		var zero R
		if used.Swap(true) {
			yield(zero, ErrSequencing)
			return
		}
		m := cmd.mapper()
		s, err := m.open(ctx, db, &cmd, op)
		if err != nil {
			yield(zero, err)
			return
		}
		defer s.close(nil)

		rows, err := runQuery(s, m, &cmd)
		if err != nil {
			yield(zero, s.close(err))
			return
		}
		defer rows.Close()

		stopped := false
		err = readResult(s.ctx, rows, prepare, func(v R) bool {
			if !yield(v, nil) {
				stopped = true
				return false
			}
			return true
		})
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if err = s.close(err); err != nil && !stopped {
			yield(zero, err)
		}
	}
}

func runQuery(s *session, m *Mapper, cmd *Command) (*sql.Rows, error) {
	b, err := m.bindCommand(cmd, cmd.Params)
	if err != nil {
		return nil, err
	}
	return s.db.QueryContext(s.ctx, b.sql, b.args...)
}

// readResult decodes the current result set of rows, handing each value to
// emit until emit returns false. A result set without columns yields
// nothing.
func readResult[R any](ctx context.Context, rows *sql.Rows, prepare planFunc[R], emit func(R) bool) error {
	cols, sig, err := readColumns(rows)
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		return nil
	}
	dec, err := prepare(ctx, cols, sig)
	if err != nil {
		return err
	}
	buf := newScanBuffer(len(cols))
	for row := 0; rows.Next(); row++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := buf.scan(rows); err != nil {
			return err
		}
		v, err := dec(buf.vals, row)
		if err != nil {
			return err
		}
		if !emit(v) {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return ctx.Err()
}

// collect drains seq into a slice. Any error discards the rows read so far.
func collect[R any](seq iter.Seq2[R, error]) ([]R, error) {
	var out []R
	for v, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
