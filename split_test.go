package sqlmap

import (
	"context"
	"database/sql/driver"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type splitPost struct {
	ID    int64  `db:"id"`
	Title string `db:"title"`
	Owner *splitUser
}

type splitUser struct {
	ID   int64  `db:"id"`
	Name string `db:"name"`
}

type splitTag struct {
	TagID int64  `db:"tag_id"`
	Label string `db:"label"`
}

func cols(names ...string) []column {
	out := make([]column, len(names))
	for i, n := range names {
		out[i] = column{name: n, key: normalizeColAscii(n), ord: i}
	}
	return out
}

func TestSplitColumns(t *testing.T) {
	parts, err := splitColumns(cols("id", "title", "Id", "name"), 2, "Id")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "title"}, columnNames(parts[0]))
	assert.Equal(t, []string{"Id", "name"}, columnNames(parts[1]))

	parts, err = splitColumns(cols("id", "a", "user_id", "b", "tag_id", "c"), 3, "user_id, tag_id")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "a"}, columnNames(parts[0]))
	assert.Equal(t, []string{"user_id", "b"}, columnNames(parts[1]))
	assert.Equal(t, []string{"tag_id", "c"}, columnNames(parts[2]))

	// the last name repeats for the remaining boundaries
	parts, err = splitColumns(cols("id", "x", "id", "y", "id", "z"), 3, "id")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "z"}, columnNames(parts[2]))

	parts, err = splitColumns(cols("a", "b", "c"), 3, "*")
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, columnNames(parts[2]))

	_, err = splitColumns(cols("id", "title"), 2, "owner_id")
	require.ErrorIs(t, err, ErrSplitColumnNotFound)
	var se *SplitError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "owner_id", se.SplitOn)
	assert.Equal(t, []string{"id", "title"}, se.Columns)

	// the split column must come after the start of the previous group
	_, err = splitColumns(cols("id", "title"), 2, "id")
	require.ErrorIs(t, err, ErrSplitColumnNotFound)
}

func TestQueryMap2_JoinWithNullableSide(t *testing.T) {
	db, f := newFakeDB(t, always(rowsOf(
		[]string{"id", "title", "id", "name"},
		[]driver.Value{int64(1), "hello", int64(7), "Ann"},
		[]driver.Value{int64(2), "orphan", nil, nil},
	)))
	m := newTestMapper(t)

	posts, err := QueryMap2(context.Background(), db, Command{
		SQL:    "SELECT p.id, p.title, u.id, u.name FROM posts p LEFT JOIN users u ON u.id = p.owner_id",
		Mapper: m,
	}, func(p splitPost, u *splitUser) splitPost {
		p.Owner = u
		return p
	})
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, splitPost{ID: 1, Title: "hello", Owner: &splitUser{ID: 7, Name: "Ann"}}, posts[0])
	assert.Equal(t, "orphan", posts[1].Title)
	assert.Nil(t, posts[1].Owner)
	assertReleased(t, db, f)
}

func TestQueryMap3_MultipleSplitNames(t *testing.T) {
	db, _ := newFakeDB(t, always(rowsOf(
		[]string{"id", "title", "id", "name", "tag_id", "label"},
		[]driver.Value{int64(1), "p", int64(2), "u", int64(3), "go"},
	)))

	type flat struct {
		Post string
		User string
		Tag  string
	}
	out, err := QueryMap3(context.Background(), db, Command{
		SQL:     "SELECT ...",
		SplitOn: "id,tag_id",
		Mapper:  newTestMapper(t),
	}, func(p splitPost, u splitUser, tg splitTag) flat {
		return flat{p.Title, u.Name, tg.Label}
	})
	require.NoError(t, err)
	assert.Equal(t, []flat{{"p", "u", "go"}}, out)
}

func TestQueryMap_ScalarGroups(t *testing.T) {
	db, _ := newFakeDB(t, always(rowsOf(
		[]string{"n", "s", "p"},
		[]driver.Value{int64(1), "a", nil},
	)))

	type triple struct {
		N int64
		S string
		P *int64
	}
	out, err := QueryMap3(context.Background(), db, Command{SQL: "SELECT 1, 'a', NULL", SplitOn: "*", Mapper: newTestMapper(t)},
		func(n int64, s string, p *int64) triple { return triple{n, s, p} })
	require.NoError(t, err)
	assert.Equal(t, []triple{{1, "a", nil}}, out)
}

func TestQueryMap_ConstructorInLaterGroup(t *testing.T) {
	m := newTestMapper(t)
	require.NoError(t, m.RegisterConstructor(func(id int64, name string) splitUser {
		return splitUser{ID: id * 100, Name: name + "!"}
	}, "id", "name"))

	db, _ := newFakeDB(t, always(rowsOf(
		[]string{"id", "title", "id", "name"},
		[]driver.Value{int64(1), "t", int64(2), "Bo"},
	)))
	out, err := QueryMap2(context.Background(), db, Command{SQL: "SELECT ...", Mapper: m},
		func(p splitPost, u splitUser) splitUser { return u })
	require.NoError(t, err)
	assert.Equal(t, []splitUser{{ID: 200, Name: "Bo!"}}, out)
}

func TestQueryMap_Errors(t *testing.T) {
	db, f := newFakeDB(t, always(rowsOf(
		[]string{"id", "title"},
		[]driver.Value{int64(1), "t"},
	)))
	m := newTestMapper(t)

	_, err := QueryMap2(context.Background(), db, Command{SQL: "SELECT ...", SplitOn: "owner_id", Mapper: m},
		func(p splitPost, u splitUser) splitPost { return p })
	require.ErrorIs(t, err, ErrSplitColumnNotFound)
	assertReleased(t, db, f)

	_, err = QueryMapN(context.Background(), db, Command{SQL: "SELECT ...", Mapper: m},
		[]reflect.Type{reflect.TypeFor[splitPost]()}, func([]any) int { return 0 })
	require.Error(t, err)

	_, err = QueryMapN(context.Background(), db, Command{SQL: "SELECT ...", Mapper: m},
		[]reflect.Type{reflect.TypeFor[splitPost](), nil}, func([]any) int { return 0 })
	require.Error(t, err)

	for _, err := range StreamMapN(context.Background(), db, Command{SQL: "SELECT ...", Mapper: m},
		make([]reflect.Type, 17), func([]any) int { return 0 }) {
		require.Error(t, err)
	}
}

func TestStreamMapN(t *testing.T) {
	db, f := newFakeDB(t, always(rowsOf(
		[]string{"id", "title", "id", "name"},
		[]driver.Value{int64(1), "a", int64(2), "b"},
		[]driver.Value{int64(3), "c", int64(4), "d"},
	)))
	types := []reflect.Type{reflect.TypeFor[splitPost](), reflect.TypeFor[splitUser]()}

	var names []string
	for name, err := range StreamMapN(context.Background(), db, Command{SQL: "SELECT ...", Mapper: newTestMapper(t)}, types,
		func(objs []any) string { return objs[0].(splitPost).Title + objs[1].(splitUser).Name }) {
		require.NoError(t, err)
		names = append(names, name)
	}
	assert.Equal(t, []string{"ab", "cd"}, names)
	assertReleased(t, db, f)
}

func TestQueryMap4To7(t *testing.T) {
	db, _ := newFakeDB(t, always(rowsOf(
		[]string{"a", "b", "c", "d", "e", "f", "g"},
		[]driver.Value{int64(1), int64(2), int64(3), int64(4), int64(5), int64(6), int64(7)},
	)))
	ctx := context.Background()
	cmd := Command{SQL: "SELECT 1, 2, 3, 4, 5, 6, 7", SplitOn: "*", Mapper: newTestMapper(t)}

	s4, err := QueryMap4(ctx, db, cmd, func(a, b, c, d int) int { return a + b + c + d })
	require.NoError(t, err)
	assert.Equal(t, []int{1 + 2 + 3 + 4}, s4, "the last group keeps the remaining columns")

	s5, err := QueryMap5(ctx, db, cmd, func(a, b, c, d, e int) int { return a + b + c + d + e })
	require.NoError(t, err)
	assert.Equal(t, []int{15}, s5)

	s6, err := QueryMap6(ctx, db, cmd, func(a, b, c, d, e, f int) int { return a + b + c + d + e + f })
	require.NoError(t, err)
	assert.Equal(t, []int{21}, s6)

	s7, err := QueryMap7(ctx, db, cmd, func(a, b, c, d, e, f, g int) int { return a + b + c + d + e + f + g })
	require.NoError(t, err)
	assert.Equal(t, []int{28}, s7)
}
