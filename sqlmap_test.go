package sqlmap

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- In-memory test driver ---------------------------------------------------

type fakeSet struct {
	Cols  []string
	Types []string
	Rows  [][]driver.Value
}

type fakeResult struct {
	Sets     []fakeSet
	Affected int64
	Err      error
	Out      map[string]any // keyed by parameter name, or ordinal for positional
}

type fakeHandler func(query string, args []driver.NamedValue) fakeResult

type call struct {
	Query string
	Args  []any
}

// fakeDB records every statement and tracks open rows, statements and
// connections so tests can assert cleanup.
type fakeDB struct {
	h fakeHandler

	mu    sync.Mutex
	calls []call

	openRows   atomic.Int64
	prepares   atomic.Int64
	stmtCloses atomic.Int64
	commits    atomic.Int64
	rollbacks  atomic.Int64
	inflight   atomic.Int64
	peak       atomic.Int64
}

func (f *fakeDB) record(query string, args []driver.NamedValue) {
	vals := make([]any, len(args))
	for i, a := range args {
		vals[i] = a.Value
	}
	f.mu.Lock()
	f.calls = append(f.calls, call{Query: query, Args: vals})
	f.mu.Unlock()
}

func (f *fakeDB) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func (f *fakeDB) last(t *testing.T) call {
	t.Helper()
	calls := f.Calls()
	require.NotEmpty(t, calls)
	return calls[len(calls)-1]
}

func (f *fakeDB) Connect(context.Context) (driver.Conn, error) { return &fakeConn{db: f}, nil }
func (f *fakeDB) Driver() driver.Driver                        { return fakeDriver{} }

type fakeDriver struct{}

func (fakeDriver) Open(string) (driver.Conn, error) {
	return nil, errors.New("fakeDriver.Open should not be called; use sql.OpenDB with connector")
}

type fakeConn struct{ db *fakeDB }

func (c *fakeConn) Prepare(query string) (driver.Stmt, error) {
	c.db.prepares.Add(1)
	return &fakeStmt{c: c, query: query}, nil
}
func (c *fakeConn) Close() error              { return nil }
func (c *fakeConn) Begin() (driver.Tx, error) { return fakeTx{db: c.db}, nil }

// CheckNamedValue lets sql.Out through; everything else gets the default
// conversion.
func (c *fakeConn) CheckNamedValue(nv *driver.NamedValue) error {
	if _, ok := nv.Value.(sql.Out); ok {
		return nil
	}
	return driver.ErrSkip
}

func (c *fakeConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.db.record(query, args)
	res := c.db.h(query, args)
	if res.Err != nil {
		return nil, res.Err
	}
	sets := res.Sets
	if len(sets) == 0 {
		sets = []fakeSet{{}}
	}
	c.db.openRows.Add(1)
	return &fakeRows{db: c.db, sets: sets}, nil
}

func (c *fakeConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := c.db.inflight.Add(1)
	defer c.db.inflight.Add(-1)
	for {
		p := c.db.peak.Load()
		if n <= p || c.db.peak.CompareAndSwap(p, n) {
			break
		}
	}

	c.db.record(query, args)
	res := c.db.h(query, args)
	if res.Err != nil {
		return nil, res.Err
	}
	for _, a := range args {
		o, ok := a.Value.(sql.Out)
		if !ok {
			continue
		}
		key := a.Name
		if key == "" {
			key = strconv.Itoa(a.Ordinal)
		}
		if dst, ok := o.Dest.(*any); ok {
			*dst = res.Out[key]
		}
	}
	return driver.RowsAffected(res.Affected), nil
}

type fakeStmt struct {
	c     *fakeConn
	query string
}

func (s *fakeStmt) Close() error  { s.c.db.stmtCloses.Add(1); return nil }
func (s *fakeStmt) NumInput() int { return -1 }

func (s *fakeStmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.ExecContext(context.Background(), named(args))
}

func (s *fakeStmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.QueryContext(context.Background(), named(args))
}

func (s *fakeStmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	return s.c.ExecContext(ctx, s.query, args)
}

func (s *fakeStmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	return s.c.QueryContext(ctx, s.query, args)
}

func named(args []driver.Value) []driver.NamedValue {
	out := make([]driver.NamedValue, len(args))
	for i, v := range args {
		out[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return out
}

type fakeTx struct{ db *fakeDB }

func (tx fakeTx) Commit() error   { tx.db.commits.Add(1); return nil }
func (tx fakeTx) Rollback() error { tx.db.rollbacks.Add(1); return nil }

type fakeRows struct {
	db     *fakeDB
	sets   []fakeSet
	set    int
	i      int
	closed bool
}

func (r *fakeRows) cur() fakeSet { return r.sets[r.set] }

func (r *fakeRows) Columns() []string { return append([]string(nil), r.cur().Cols...) }

func (r *fakeRows) Close() error {
	if !r.closed {
		r.closed = true
		r.db.openRows.Add(-1)
	}
	return nil
}

func (r *fakeRows) Next(dest []driver.Value) error {
	s := r.cur()
	if r.i >= len(s.Rows) {
		return io.EOF
	}
	row := s.Rows[r.i]
	for i := range dest {
		if i < len(row) {
			dest[i] = row[i]
		} else {
			dest[i] = nil
		}
	}
	r.i++
	return nil
}

func (r *fakeRows) HasNextResultSet() bool { return r.set < len(r.sets)-1 }

func (r *fakeRows) NextResultSet() error {
	if !r.HasNextResultSet() {
		return io.EOF
	}
	r.set++
	r.i = 0
	return nil
}

func (r *fakeRows) ColumnTypeDatabaseTypeName(i int) string {
	if t := r.cur().Types; i < len(t) {
		return t[i]
	}
	return ""
}

// --- Helpers -----------------------------------------------------------------

// newFakeDB returns a *sql.DB backed by the in-memory driver.
func newFakeDB(t *testing.T, h fakeHandler) (*sql.DB, *fakeDB) {
	t.Helper()
	f := &fakeDB{h: h}
	db := sql.OpenDB(f)
	t.Cleanup(func() { _ = db.Close() })
	return db, f
}

// rowsOf builds a one-set result.
func rowsOf(cols []string, rows ...[]driver.Value) fakeResult {
	return fakeResult{Sets: []fakeSet{{Cols: cols, Rows: rows}}}
}

// always answers every statement with res.
func always(res fakeResult) fakeHandler {
	return func(string, []driver.NamedValue) fakeResult { return res }
}

func newTestMapper(t *testing.T, opts ...Option) *Mapper {
	t.Helper()
	opts = append([]Option{WithLogger(slog.New(slog.DiscardHandler))}, opts...)
	return NewMapper(opts...)
}

// assertReleased checks that no rows or connections are still held.
func assertReleased(t *testing.T, db *sql.DB, f *fakeDB) {
	t.Helper()
	assert.Zero(t, f.openRows.Load(), "open rows")
	assert.Zero(t, db.Stats().InUse, "connections in use")
}

// --- Tests -------------------------------------------------------------------

func TestInTx_CommitsOnSuccess(t *testing.T) {
	db, f := newFakeDB(t, always(fakeResult{Affected: 1}))
	m := newTestMapper(t)
	ctx := context.Background()

	err := InTx(ctx, db, nil, func(tx *sql.Tx) error {
		n, err := ExecCommand(ctx, db, Command{
			SQL:    "UPDATE users SET name = @name WHERE id = @id",
			Params: map[string]any{"id": 1, "name": "Bob"},
			Tx:     tx,
			Mapper: m,
		})
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
		return nil
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, f.commits.Load())
	assert.Zero(t, f.rollbacks.Load())
	assert.Zero(t, db.Stats().InUse)
}

func TestInTx_RollsBackOnError(t *testing.T) {
	db, f := newFakeDB(t, always(fakeResult{}))
	boom := errors.New("boom")

	err := InTx(context.Background(), db, nil, func(*sql.Tx) error { return boom })
	require.ErrorIs(t, err, boom)
	assert.Zero(t, f.commits.Load())
	assert.EqualValues(t, 1, f.rollbacks.Load())
}

func TestInTx_RollsBackOnPanic(t *testing.T) {
	db, f := newFakeDB(t, always(fakeResult{}))

	assert.Panics(t, func() {
		_ = InTx(context.Background(), db, nil, func(*sql.Tx) error { panic("boom") })
	})
	assert.EqualValues(t, 1, f.rollbacks.Load())
}

func TestDefault_LazyAndReplaceable(t *testing.T) {
	d1 := Default()
	require.NotNil(t, d1)
	assert.Same(t, d1, Default())

	m := newTestMapper(t)
	SetDefault(m)
	t.Cleanup(func() { SetDefault(d1) })
	assert.Same(t, m, Default())

	SetDefault(nil)
	assert.Same(t, m, Default(), "nil keeps the current default")
}
