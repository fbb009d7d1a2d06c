package sqlmap

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Exec executes a statement that does not return rows (INSERT, UPDATE,
// DELETE, DDL) and returns the number of rows affected.
//
// When params is a slice of parameter objects the statement runs once per
// element, each with fresh bindings, and the affected counts are summed.
//
// Example:
//
//	n, err := sqlmap.Exec(ctx, db, `UPDATE users SET name = @Name WHERE id = @ID`,
//	    User{ID: 1, Name: "Bob"})
//
//	n, err = sqlmap.Exec(ctx, db, `INSERT INTO tags (name) VALUES (@name)`,
//	    []map[string]any{{"name": "go"}, {"name": "sql"}})
//
// Notes:
//   - Use InTx (or Command.Tx) around several calls when you need atomicity.
//   - Drivers that cannot report affected rows make Exec fail; use
//     ExecScalar with RETURNING where the count is not available.
func Exec(ctx context.Context, db DB, query string, params any) (int64, error) {
	return ExecCommand(ctx, db, NewCommand(query, params))
}

// ExecCommand is Exec driven by a Command. With FlagPipelined a batch keeps
// up to cmd.Window executions in flight.
func ExecCommand(ctx context.Context, db DB, cmd Command) (int64, error) {
	m := cmd.mapper()
	s, err := m.open(ctx, db, &cmd, "Exec")
	if err != nil {
		return 0, err
	}

	var n int64
	if items, ok := batchItems(cmd.Params); ok {
		if cmd.has(FlagPipelined) {
			n, err = m.execPipelined(s, &cmd, items)
		} else {
			n, err = m.execBatch(s, &cmd, items)
		}
	} else {
		n, err = m.execOne(s, &cmd, cmd.Params, nil)
	}
	if err = s.close(err); err != nil {
		return 0, err
	}
	return n, nil
}

func (m *Mapper) execOne(s *session, cmd *Command, params any, stmts *stmtCache) (int64, error) {
	b, err := m.bindCommand(cmd, params)
	if err != nil {
		return 0, err
	}
	return s.exec(s.ctx, b, stmts)
}

func (m *Mapper) execBatch(s *session, cmd *Command, items reflect.Value) (total int64, err error) {
	stmts := newStmtCache(s)
	defer func() { err = errors.Join(err, stmts.close()) }()

	for i := 0; i < items.Len(); i++ {
		if err := s.ctx.Err(); err != nil {
			return 0, err
		}
		n, err := m.execOne(s, cmd, items.Index(i).Interface(), stmts)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

func (m *Mapper) execPipelined(s *session, cmd *Command, items reflect.Value) (total int64, err error) {
	stmts := newStmtCache(s)
	defer func() { err = errors.Join(err, stmts.close()) }()

	g, ctx := errgroup.WithContext(s.ctx)
	g.SetLimit(cmd.window())
	var sum atomic.Int64

	for i := 0; i < items.Len(); i++ {
		if ctx.Err() != nil {
			break
		}
		// Binding stays on this goroutine: Params entries are mutated by it.
		b, err := m.bindCommand(cmd, items.Index(i).Interface())
		if err != nil {
			_ = g.Wait()
			return 0, err
		}
		g.Go(func() error {
			n, err := s.exec(ctx, b, stmts)
			if err != nil {
				return err
			}
			sum.Add(n)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	if err := s.ctx.Err(); err != nil {
		return 0, err
	}
	return sum.Load(), nil
}

// exec runs b, through a prepared statement when b is static and the handle
// supports statements.
func (s *session) exec(ctx context.Context, b bound, stmts *stmtCache) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if st := stmts.get(ctx, b); st != nil {
		res, err = st.ExecContext(ctx, b.args...)
	} else {
		res, err = s.db.ExecContext(ctx, b.sql, b.args...)
	}
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// stmtCache holds the statements prepared for one batch. Failing to prepare
// falls back to direct execution.
type stmtCache struct {
	prep  Preparer
	s     *session
	mu    sync.Mutex
	stmts map[string]*sql.Stmt
}

func newStmtCache(s *session) *stmtCache {
	p, ok := s.preparer()
	if !ok {
		return nil
	}
	return &stmtCache{prep: p, s: s, stmts: make(map[string]*sql.Stmt)}
}

func (c *stmtCache) get(ctx context.Context, b bound) *sql.Stmt {
	if c == nil || !b.static {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.stmts[b.sql]; ok {
		return st
	}
	st, err := c.prep.PrepareContext(ctx, b.sql)
	if err != nil {
		c.s.m.logger.Debug("sqlmap: prepare failed, executing directly", "error", err, "sql", snippet(b.sql))
		return nil
	}
	c.stmts[b.sql] = st
	return st
}

func (c *stmtCache) close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for q, st := range c.stmts {
		if err := st.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(c.stmts, q)
	}
	return errors.Join(errs...)
}
