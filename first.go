package sqlmap

import (
	"context"
	"database/sql"
)

// QueryFirst executes the SQL query and returns the first row as T.
//
// It returns [sql.ErrNoRows] if the query yields no rows. Further rows are not
// read; add LIMIT 1 (or an equivalent) when the query may return many.
//
// Example:
//
//	u, err := sqlmap.QueryFirst[User](ctx, db, `SELECT id, email FROM users WHERE id = @id`,
//	    map[string]any{"id": 42})
//	if errors.Is(err, sql.ErrNoRows) {
//	    // handle not found
//	}
func QueryFirst[T any](ctx context.Context, db DB, query string, params any) (T, error) {
	return QueryFirstCommand[T](ctx, db, NewCommand(query, params))
}

// QueryFirstCommand is QueryFirst driven by a Command.
func QueryFirstCommand[T any](ctx context.Context, db DB, cmd Command) (T, error) {
	return queryOne[T](ctx, db, cmd, "QueryFirst", false, false)
}

// QueryFirstOrDefault is QueryFirst returning the zero T instead of
// sql.ErrNoRows.
func QueryFirstOrDefault[T any](ctx context.Context, db DB, query string, params any) (T, error) {
	return QueryFirstOrDefaultCommand[T](ctx, db, NewCommand(query, params))
}

// QueryFirstOrDefaultCommand is QueryFirstOrDefault driven by a Command.
func QueryFirstOrDefaultCommand[T any](ctx context.Context, db DB, cmd Command) (T, error) {
	return queryOne[T](ctx, db, cmd, "QueryFirstOrDefault", false, true)
}

// QuerySingle returns the only row of the query as T. It fails with
// sql.ErrNoRows when there is no row and ErrMultipleRows when there is more
// than one.
func QuerySingle[T any](ctx context.Context, db DB, query string, params any) (T, error) {
	return QuerySingleCommand[T](ctx, db, NewCommand(query, params))
}

// QuerySingleCommand is QuerySingle driven by a Command.
func QuerySingleCommand[T any](ctx context.Context, db DB, cmd Command) (T, error) {
	return queryOne[T](ctx, db, cmd, "QuerySingle", true, false)
}

// QuerySingleOrDefault is QuerySingle returning the zero T when there is no
// row. More than one row is still ErrMultipleRows.
func QuerySingleOrDefault[T any](ctx context.Context, db DB, query string, params any) (T, error) {
	return QuerySingleOrDefaultCommand[T](ctx, db, NewCommand(query, params))
}

// QuerySingleOrDefaultCommand is QuerySingleOrDefault driven by a Command.
func QuerySingleOrDefaultCommand[T any](ctx context.Context, db DB, cmd Command) (T, error) {
	return queryOne[T](ctx, db, cmd, "QuerySingleOrDefault", true, true)
}

// ExecScalar executes the command and returns the first column of the first
// row converted to T, or the zero T when there is no row.
//
//	n, err := sqlmap.ExecScalar[int64](ctx, db, `SELECT COUNT(*) FROM users WHERE active = @active`,
//	    map[string]any{"active": true})
func ExecScalar[T any](ctx context.Context, db DB, query string, params any) (T, error) {
	return ExecScalarCommand[T](ctx, db, NewCommand(query, params))
}

// ExecScalarCommand is ExecScalar driven by a Command.
func ExecScalarCommand[T any](ctx context.Context, db DB, cmd Command) (T, error) {
	cmd.Flags |= FlagFirstColumn
	return queryOne[T](ctx, db, cmd, "ExecScalar", false, true)
}

func queryOne[T any](ctx context.Context, db DB, cmd Command, op string, single, orDefault bool) (T, error) {
	var (
		out   T
		found bool
	)
	m := cmd.mapper()
	for v, err := range streamRows(ctx, db, cmd, op, typedPlan[T](m, &cmd, 0)) {
		if err != nil {
			var zero T
			return zero, err
		}
		if found {
			var zero T
			return zero, ErrMultipleRows
		}
		out, found = v, true
		if !single {
			break
		}
	}
	if !found && !orDefault {
		return out, sql.ErrNoRows
	}
	return out, nil
}
