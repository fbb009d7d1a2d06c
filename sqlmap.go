package sqlmap

import (
	"context"
	"database/sql"
	"errors"
)

// Querier is implemented by *sql.DB, *sql.Tx, *sql.Conn, and any wrapper
// that can execute a query returning rows.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Execer is implemented by *sql.DB, *sql.Tx, *sql.Conn, and any wrapper
// that can execute a statement that does not return rows.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Preparer is implemented by *sql.DB, *sql.Tx and *sql.Conn. Batch Exec uses
// it to prepare a statement once and run it per element.
type Preparer interface {
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// DB is the handle every entry point accepts.
type DB interface {
	Querier
	Execer
}

// Connector is implemented by *sql.DB. When the handle passed to an entry
// point is a Connector, the call acquires a dedicated *sql.Conn and releases
// it once the result is consumed. *sql.Conn and *sql.Tx handles are used as
// is and never closed.
type Connector interface {
	Conn(ctx context.Context) (*sql.Conn, error)
}

// Beginner is implemented by *sql.DB and *sql.Conn. It starts a transaction.
type Beginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// InTx runs fn inside a transaction started on b. The transaction commits
// when fn returns nil and rolls back otherwise, including on panic.
//
// Example:
//
//	err := sqlmap.InTx(ctx, db, nil, func(tx *sql.Tx) error {
//	    _, err := sqlmap.ExecCommand(ctx, db, sqlmap.Command{
//	        SQL:    `UPDATE accounts SET balance = balance - @Amount WHERE id = @From`,
//	        Params: transfer,
//	        Tx:     tx,
//	    })
//	    return err
//	})
func InTx(ctx context.Context, b Beginner, opts *sql.TxOptions, fn func(tx *sql.Tx) error) (err error) {
	tx, err := b.BeginTx(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
				err = errors.Join(err, rerr)
			}
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
