package sqlmap

import (
	"context"
	"fmt"
	"iter"
	"reflect"
	"strings"
)

// splitPlan maps one flat row onto several targets. Each group covers a
// contiguous run of columns and has its own row plan.
type splitPlan struct {
	groups []splitGroup
}

type splitGroup struct {
	typ      reflect.Type
	cols     []column
	plan     *rowPlan
	nullable bool // pointer or interface target: all-NULL columns yield nil
}

// splitColumns partitions cols into len(types) groups. splitOn is one name,
// a comma-separated list with one name per boundary (the last one repeats),
// or "*" to start a new group at every column. Each boundary is the first
// matching column after the start of the previous group.
func splitColumns(cols []column, n int, splitOn string) ([][]column, error) {
	bounds := make([]int, 0, n+1)
	bounds = append(bounds, 0)

	if strings.TrimSpace(splitOn) == "*" {
		if len(cols) < n {
			return nil, &SplitError{SplitOn: splitOn, Columns: columnNames(cols)}
		}
		for i := 1; i < n; i++ {
			bounds = append(bounds, i)
		}
	} else {
		names := strings.Split(splitOn, ",")
		for i := range names {
			names[i] = normalizeColAscii(strings.TrimSpace(names[i]))
		}
		for b := 1; b < n; b++ {
			name := names[min(b-1, len(names)-1)]
			prev := bounds[len(bounds)-1]
			found := -1
			for j := prev + 1; j < len(cols); j++ {
				if cols[j].key == name {
					found = j
					break
				}
			}
			if found < 0 {
				return nil, &SplitError{SplitOn: name, Columns: columnNames(cols)}
			}
			bounds = append(bounds, found)
		}
	}
	bounds = append(bounds, len(cols))

	groups := make([][]column, n)
	for i := 0; i < n; i++ {
		groups[i] = cols[bounds[i]:bounds[i+1]]
	}
	return groups, nil
}

func (m *Mapper) compileSplitPlan(ctx context.Context, types []reflect.Type, cols []column, splitOn string) (*splitPlan, error) {
	parts, err := splitColumns(cols, len(types), splitOn)
	if err != nil {
		return nil, err
	}
	sp := &splitPlan{groups: make([]splitGroup, len(types))}
	for i, t := range types {
		p, err := m.compileRowPlan(ctx, t, parts[i], true)
		if err != nil {
			return nil, err
		}
		sp.groups[i] = splitGroup{
			typ:      t,
			cols:     parts[i],
			plan:     p,
			nullable: t.Kind() == reflect.Pointer || t.Kind() == reflect.Interface,
		}
	}
	return sp, nil
}

func (sp *splitPlan) build(vals []any, row int, strict bool) ([]any, error) {
	objs := make([]any, len(sp.groups))
	for i, g := range sp.groups {
		if g.nullable && allNull(vals, g.cols) {
			objs[i] = reflect.Zero(g.typ).Interface()
			continue
		}
		v, err := g.plan.build(vals, row, strict)
		if err != nil {
			return nil, err
		}
		objs[i] = v.Interface()
	}
	return objs, nil
}

func allNull(vals []any, cols []column) bool {
	for _, c := range cols {
		if vals[c.ord] != nil {
			return false
		}
	}
	return true
}

func splitPlanFor[R any](m *Mapper, cmd *Command, types []reflect.Type, grid int, fn func([]any) R) planFunc[R] {
	splitOn := cmd.splitOn()
	id := newIdentity(cmd.SQL, m.dialect.Placeholder, cmd.Params, types, splitOn, grid, false)
	noCache := cmd.has(FlagNoCache)

	return func(ctx context.Context, cols []column, sig uint64) (decoder[R], error) {
		p, err := m.readerPlan(ctx, id, sig, noCache, func() (any, error) {
			return m.compileSplitPlan(ctx, types, cols, splitOn)
		})
		if err != nil {
			return nil, err
		}
		plan := p.(*splitPlan)
		strict := m.StrictNulls()
		return func(vals []any, row int) (R, error) {
			objs, err := plan.build(vals, row, strict)
			if err != nil {
				var zero R
				return zero, err
			}
			return fn(objs), nil
		}, nil
	}
}

func checkTypes(types []reflect.Type) error {
	if len(types) < 2 || len(types) > maxTypes {
		return fmt.Errorf("sqlmap: split mapping needs 2 to %d types, got %d", maxTypes, len(types))
	}
	for i, t := range types {
		if t == nil {
			return fmt.Errorf("sqlmap: split mapping type %d is nil", i)
		}
	}
	return nil
}

// QueryMapN maps each row onto len(types) objects, split at the columns
// named by cmd.SplitOn (default "Id"), and combines them with fn. fn
// receives one value per type, in order; pointer types whose columns are
// all NULL arrive as nil pointers.
//
// Example:
//
//	types := []reflect.Type{reflect.TypeFor[Post](), reflect.TypeFor[*User]()}
//	posts, err := sqlmap.QueryMapN(ctx, db, sqlmap.Command{
//	    SQL: `SELECT p.id, p.title, u.id, u.name FROM posts p LEFT JOIN users u ON u.id = p.owner_id`,
//	}, types, func(objs []any) Post {
//	    p := objs[0].(Post)
//	    p.Owner = objs[1].(*User)
//	    return p
//	})
func QueryMapN[R any](ctx context.Context, db DB, cmd Command, types []reflect.Type, fn func([]any) R) ([]R, error) {
	if err := checkTypes(types); err != nil {
		return nil, err
	}
	m := cmd.mapper()
	return collect(streamRows(ctx, db, cmd, "Query", splitPlanFor(m, &cmd, types, 0, fn)))
}

// StreamMapN is the unbuffered form of QueryMapN.
func StreamMapN[R any](ctx context.Context, db DB, cmd Command, types []reflect.Type, fn func([]any) R) iter.Seq2[R, error] {
	if err := checkTypes(types); err != nil {
		return func(yield func(R, error) bool) {
			var zero R
			yield(zero, err)
		}
	}
	m := cmd.mapper()
	return streamRows(ctx, db, cmd, "Stream", splitPlanFor(m, &cmd, types, 0, fn))
}

// cast asserts a split group value. A nil interface yields the zero T.
func cast[T any](v any) T {
	out, _ := v.(T)
	return out
}

// QueryMap2 maps each row onto T1 and T2, split at cmd.SplitOn, and
// combines them with fn.
//
//	posts, err := sqlmap.QueryMap2(ctx, db, sqlmap.Command{
//	    SQL: `SELECT p.*, u.* FROM posts p JOIN users u ON u.id = p.owner_id`,
//	}, func(p Post, u User) Post {
//	    p.Owner = &u
//	    return p
//	})
func QueryMap2[T1, T2, R any](ctx context.Context, db DB, cmd Command, fn func(T1, T2) R) ([]R, error) {
	types := []reflect.Type{reflect.TypeFor[T1](), reflect.TypeFor[T2]()}
	return QueryMapN(ctx, db, cmd, types, func(o []any) R {
		return fn(cast[T1](o[0]), cast[T2](o[1]))
	})
}

func QueryMap3[T1, T2, T3, R any](ctx context.Context, db DB, cmd Command, fn func(T1, T2, T3) R) ([]R, error) {
	types := []reflect.Type{reflect.TypeFor[T1](), reflect.TypeFor[T2](), reflect.TypeFor[T3]()}
	return QueryMapN(ctx, db, cmd, types, func(o []any) R {
		return fn(cast[T1](o[0]), cast[T2](o[1]), cast[T3](o[2]))
	})
}

func QueryMap4[T1, T2, T3, T4, R any](ctx context.Context, db DB, cmd Command, fn func(T1, T2, T3, T4) R) ([]R, error) {
	types := []reflect.Type{reflect.TypeFor[T1](), reflect.TypeFor[T2](), reflect.TypeFor[T3](), reflect.TypeFor[T4]()}
	return QueryMapN(ctx, db, cmd, types, func(o []any) R {
		return fn(cast[T1](o[0]), cast[T2](o[1]), cast[T3](o[2]), cast[T4](o[3]))
	})
}

func QueryMap5[T1, T2, T3, T4, T5, R any](ctx context.Context, db DB, cmd Command, fn func(T1, T2, T3, T4, T5) R) ([]R, error) {
	types := []reflect.Type{
		reflect.TypeFor[T1](), reflect.TypeFor[T2](), reflect.TypeFor[T3](), reflect.TypeFor[T4](), reflect.TypeFor[T5](),
	}
	return QueryMapN(ctx, db, cmd, types, func(o []any) R {
		return fn(cast[T1](o[0]), cast[T2](o[1]), cast[T3](o[2]), cast[T4](o[3]), cast[T5](o[4]))
	})
}

func QueryMap6[T1, T2, T3, T4, T5, T6, R any](ctx context.Context, db DB, cmd Command, fn func(T1, T2, T3, T4, T5, T6) R) ([]R, error) {
	types := []reflect.Type{
		reflect.TypeFor[T1](), reflect.TypeFor[T2](), reflect.TypeFor[T3](),
		reflect.TypeFor[T4](), reflect.TypeFor[T5](), reflect.TypeFor[T6](),
	}
	return QueryMapN(ctx, db, cmd, types, func(o []any) R {
		return fn(cast[T1](o[0]), cast[T2](o[1]), cast[T3](o[2]), cast[T4](o[3]), cast[T5](o[4]), cast[T6](o[5]))
	})
}

func QueryMap7[T1, T2, T3, T4, T5, T6, T7, R any](ctx context.Context, db DB, cmd Command, fn func(T1, T2, T3, T4, T5, T6, T7) R) ([]R, error) {
	types := []reflect.Type{
		reflect.TypeFor[T1](), reflect.TypeFor[T2](), reflect.TypeFor[T3](), reflect.TypeFor[T4](),
		reflect.TypeFor[T5](), reflect.TypeFor[T6](), reflect.TypeFor[T7](),
	}
	return QueryMapN(ctx, db, cmd, types, func(o []any) R {
		return fn(cast[T1](o[0]), cast[T2](o[1]), cast[T3](o[2]), cast[T4](o[3]), cast[T5](o[4]), cast[T6](o[5]), cast[T7](o[6]))
	})
}
