package sqlmap

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tagRow struct {
	Name string `db:"name"`
	Rank int    `db:"rank"`
}

func TestExec_Single(t *testing.T) {
	db, f := newFakeDB(t, always(fakeResult{Affected: 3}))
	m := newTestMapper(t)

	n, err := ExecCommand(context.Background(), db, Command{
		SQL:    `UPDATE tags SET rank = @rank WHERE name = @name`,
		Params: tagRow{Name: "go", Rank: 1},
		Mapper: m,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	c := f.last(t)
	assert.Equal(t, `UPDATE tags SET rank = ? WHERE name = ?`, c.Query)
	assert.Equal(t, []any{int64(1), "go"}, c.Args)
	assert.Zero(t, f.prepares.Load(), "single statements are not prepared")
	assertReleased(t, db, f)
}

func TestExec_Args(t *testing.T) {
	db, f := newFakeDB(t, always(fakeResult{Affected: 1}))
	m := newTestMapper(t, WithDialect(Dialect{Placeholder: PlaceholderDollar}))

	n, err := ExecCommand(context.Background(), db, Command{
		SQL:    `DELETE FROM tags WHERE name = ? OR rank > ?`,
		Params: Args{"old", 10},
		Mapper: m,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, `DELETE FROM tags WHERE name = $1 OR rank > $2`, f.last(t).Query)
}

func TestExec_BatchPreparesOnce(t *testing.T) {
	db, f := newFakeDB(t, always(fakeResult{Affected: 1}))
	m := newTestMapper(t)

	items := []tagRow{{"go", 1}, {"sql", 2}, {"orm", 3}}
	n, err := ExecCommand(context.Background(), db, Command{
		SQL:    `INSERT INTO tags (name, rank) VALUES (@name, @rank)`,
		Params: items,
		Mapper: m,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	calls := f.Calls()
	require.Len(t, calls, 3)
	for i, c := range calls {
		assert.Equal(t, `INSERT INTO tags (name, rank) VALUES (?, ?)`, c.Query)
		assert.Equal(t, []any{items[i].Name, int64(items[i].Rank)}, c.Args)
	}
	assert.EqualValues(t, 1, f.prepares.Load())
	assert.EqualValues(t, 1, f.stmtCloses.Load(), "batch statements are closed")
	assertReleased(t, db, f)
}

func TestExec_BatchOfMapsAndPointers(t *testing.T) {
	db, f := newFakeDB(t, always(fakeResult{Affected: 2}))
	m := newTestMapper(t)
	ctx := context.Background()

	n, err := ExecCommand(ctx, db, Command{
		SQL:    `DELETE FROM tags WHERE name = @name`,
		Params: []map[string]any{{"name": "a"}, {"name": "b"}},
		Mapper: m,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)

	n, err = ExecCommand(ctx, db, Command{
		SQL:    `DELETE FROM tags WHERE name = @name`,
		Params: []*tagRow{{Name: "c"}},
		Mapper: m,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = ExecCommand(ctx, db, Command{
		SQL:    `DELETE FROM tags WHERE name = @name`,
		Params: []any{map[string]any{"name": "d"}, tagRow{Name: "e"}},
		Mapper: m,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)

	before := len(f.Calls())
	n, err = ExecCommand(ctx, db, Command{SQL: `DELETE FROM tags WHERE name = @name`, Params: []tagRow{}, Mapper: m})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, f.Calls(), before, "an empty batch runs nothing")
	assertReleased(t, db, f)
}

func TestExec_BatchWithListsIsNotPrepared(t *testing.T) {
	db, f := newFakeDB(t, always(fakeResult{Affected: 1}))
	m := newTestMapper(t)

	_, err := ExecCommand(context.Background(), db, Command{
		SQL: `DELETE FROM tags WHERE rank IN @ranks`,
		Params: []map[string]any{
			{"ranks": []int{1, 2}},
			{"ranks": []int{3}},
		},
		Mapper: m,
	})
	require.NoError(t, err)
	calls := f.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, `DELETE FROM tags WHERE rank IN (?, ?)`, calls[0].Query)
	assert.Equal(t, `DELETE FROM tags WHERE rank IN (?)`, calls[1].Query)
	assert.Zero(t, f.prepares.Load())
}

func TestExec_BatchStopsOnError(t *testing.T) {
	boom := errors.New("unique violation")
	var n atomic.Int64
	db, f := newFakeDB(t, func(string, []driver.NamedValue) fakeResult {
		if n.Add(1) == 2 {
			return fakeResult{Err: boom}
		}
		return fakeResult{Affected: 1}
	})
	m := newTestMapper(t)

	total, err := ExecCommand(context.Background(), db, Command{
		SQL:    `INSERT INTO tags (name) VALUES (@name)`,
		Params: []tagRow{{Name: "a"}, {Name: "b"}, {Name: "c"}},
		Mapper: m,
	})
	require.ErrorIs(t, err, boom)
	assert.Zero(t, total)
	assert.Len(t, f.Calls(), 2)
	assert.EqualValues(t, f.prepares.Load(), f.stmtCloses.Load())
	assertReleased(t, db, f)
}

func TestExec_BatchBindErrorNamesParameter(t *testing.T) {
	db, f := newFakeDB(t, always(fakeResult{Affected: 1}))
	_, err := ExecCommand(context.Background(), db, Command{
		SQL:    `INSERT INTO tags (name) VALUES (@name)`,
		Params: []map[string]any{{"name": "a"}, {"nom": "b"}},
		Mapper: newTestMapper(t),
	})
	require.ErrorIs(t, err, ErrUnresolvedParameter)
	assert.Len(t, f.Calls(), 1)
	assertReleased(t, db, f)
}

func TestExec_Pipelined(t *testing.T) {
	db, f := newFakeDB(t, always(fakeResult{Affected: 1}))
	m := newTestMapper(t)

	items := make([]tagRow, 50)
	for i := range items {
		items[i] = tagRow{Name: strings.Repeat("x", i+1), Rank: i}
	}
	n, err := ExecCommand(context.Background(), db, Command{
		SQL:    `INSERT INTO tags (name, rank) VALUES (@name, @rank)`,
		Params: items,
		Flags:  FlagPipelined,
		Window: 4,
		Mapper: m,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 50, n)
	assert.Len(t, f.Calls(), 50)
	assert.LessOrEqual(t, f.peak.Load(), int64(4))
	assert.EqualValues(t, 1, f.prepares.Load())
	assertReleased(t, db, f)
}

func TestExec_PipelinedError(t *testing.T) {
	boom := errors.New("deadlock")
	db, f := newFakeDB(t, func(_ string, args []driver.NamedValue) fakeResult {
		if args[0].Value == "bad" {
			return fakeResult{Err: boom}
		}
		return fakeResult{Affected: 1}
	})

	_, err := ExecCommand(context.Background(), db, Command{
		SQL:    `INSERT INTO tags (name) VALUES (@name)`,
		Params: []tagRow{{Name: "a"}, {Name: "bad"}, {Name: "c"}},
		Flags:  FlagPipelined,
		Mapper: newTestMapper(t),
	})
	require.ErrorIs(t, err, boom)
	assertReleased(t, db, f)
}

func TestExec_OutputParameters(t *testing.T) {
	db, f := newFakeDB(t, func(string, []driver.NamedValue) fakeResult {
		return fakeResult{Affected: 1, Out: map[string]any{"2": int64(99), "3": "7"}}
	})
	m := newTestMapper(t)

	p := NewParams().
		Add("id", 5).
		Add("total", nil, WithDirection(Out), WithDBType("bigint")).
		Add("n", 3, WithDirection(InOut))

	_, err := ExecCommand(context.Background(), db, Command{
		SQL:    "sp_order_total",
		Params: p,
		Kind:   KindStoredProcedure,
		Mapper: m,
	})
	require.NoError(t, err)
	assert.Equal(t, `CALL sp_order_total(?, ?, ?)`, f.last(t).Query)

	total, err := Output[int64](p, "total")
	require.NoError(t, err)
	assert.EqualValues(t, 99, total)

	n, err := Output[int](p, "@n")
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	_, err = Output[int](p, "id")
	require.Error(t, err)
	_, err = Output[int](p, "missing")
	require.ErrorIs(t, err, ErrUnresolvedParameter)
	_, err = Output[[]int](p, "total")
	require.ErrorIs(t, err, ErrTypeMismatch)
}

func TestExec_OutputConvertsWithBindingMapper(t *testing.T) {
	db, _ := newFakeDB(t, func(string, []driver.NamedValue) fakeResult {
		return fakeResult{Out: map[string]any{"2": "12.34"}}
	})
	m := newTestMapper(t)
	RegisterType(m,
		func(src any) (cents, error) {
			var whole, frac int64
			if _, err := fmt.Sscanf(fmt.Sprint(src), "%d.%d", &whole, &frac); err != nil {
				return 0, err
			}
			return cents(whole*100 + frac), nil
		},
		nil,
	)

	p := NewParams().Add("id", 5).Add("total", nil, WithDirection(Out))
	_, err := ExecCommand(context.Background(), db, Command{
		SQL:    "sp_order_total",
		Params: p,
		Kind:   KindStoredProcedure,
		Mapper: m,
	})
	require.NoError(t, err)

	total, err := Output[cents](p, "total")
	require.NoError(t, err)
	assert.Equal(t, cents(1234), total)
}

func TestParams_AddParamsUsesMapperTags(t *testing.T) {
	m := newTestMapper(t, WithTagName("col"))
	type order struct {
		ID    int64 `col:"order_id"`
		Notes string
	}

	p := m.NewParams()
	require.NoError(t, p.AddParams(order{ID: 7, Notes: "rush"}))
	assert.Equal(t, []string{"order_id", "Notes"}, p.Names())
	prm, ok := p.Get("ORDER_ID")
	require.True(t, ok)
	assert.EqualValues(t, 7, prm.Value)
}

func TestExec_NamedOutputAndReturnValue(t *testing.T) {
	db, f := newFakeDB(t, func(string, []driver.NamedValue) fakeResult {
		return fakeResult{Affected: 0, Out: map[string]any{"ret": int64(0), "msg": "ok"}}
	})
	m := newTestMapper(t, WithDialect(Dialect{Placeholder: PlaceholderNamed}))

	p := NewParams().
		Add("ret", nil, WithDirection(ReturnValue)).
		Add("id", 1).
		Add("msg", nil, WithDirection(Out), WithSize(100))

	_, err := ExecCommand(context.Background(), db, Command{
		SQL:    "dbo.check_order",
		Params: p,
		Kind:   KindStoredProcedure,
		Mapper: m,
	})
	require.NoError(t, err)
	assert.Equal(t, `EXEC @ret = dbo.check_order @id, @msg`, f.last(t).Query)

	ret, err := Output[int](p, "ret")
	require.NoError(t, err)
	assert.Zero(t, ret)
	msg, err := Output[string](p, "msg")
	require.NoError(t, err)
	assert.Equal(t, "ok", msg)
}

func TestExec_Cancelled(t *testing.T) {
	db, f := newFakeDB(t, always(fakeResult{Affected: 1}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ExecCommand(ctx, db, Command{
		SQL:    `INSERT INTO tags (name) VALUES (@name)`,
		Params: []tagRow{{Name: "a"}},
		Mapper: newTestMapper(t),
	})
	require.ErrorIs(t, err, context.Canceled)
	assertReleased(t, db, f)
}

func TestExec_FlatForm(t *testing.T) {
	db, _ := newFakeDB(t, always(fakeResult{Affected: 2}))
	n, err := Exec(context.Background(), db, `DELETE FROM tags WHERE rank < @min`, map[string]any{"min": 1})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestParams(t *testing.T) {
	p := NewParams().Add("@a", 1).Add(":B", "x", WithPrecision(10, 2), WithDBType("numeric"))
	p.Add("A", 2)

	assert.Equal(t, []string{"A", "B"}, p.Names())
	a, ok := p.Get("a")
	require.True(t, ok)
	assert.Equal(t, 2, a.Value, "adding an existing name replaces it")
	b, ok := p.Get("?b")
	require.True(t, ok)
	assert.EqualValues(t, 10, b.Precision)
	assert.EqualValues(t, 2, b.Scale)
	assert.Equal(t, "numeric", b.DBType)

	require.NoError(t, p.AddParams(map[string]any{"c": 3}))
	require.NoError(t, p.AddParams(tagRow{Name: "n", Rank: 4}))
	other := NewParams().Add("d", 4, WithDirection(Out))
	require.NoError(t, p.AddParams(other))
	assert.Equal(t, []string{"A", "B", "c", "name", "rank", "d"}, p.Names())
	d, _ := p.Get("d")
	assert.Equal(t, Out, d.Direction)

	assert.ErrorIs(t, p.AddParams(42), ErrUnsupportedParameterShape)
	assert.Equal(t, "inout", InOut.String())
	assert.Equal(t, "Direction(9)", Direction(9).String())
}
