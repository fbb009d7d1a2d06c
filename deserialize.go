package sqlmap

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"

	"github.com/jmoiron/sqlx/reflectx"
)

var (
	rowType    = reflect.TypeFor[Row]()
	mapAnyType = reflect.TypeFor[map[string]any]()
)

// rowPlan is a compiled deserializer for one target type and one column
// layout. build captures ordinals, converters and field paths, so a row is
// materialized without any name lookup.
type rowPlan struct {
	target reflect.Type
	kind   string
	build  func(vals []any, row int, strict bool) (reflect.Value, error)
}

// compileRowPlan builds the deserializer for t over cols. firstOnly allows a
// scalar target to read the first of several columns.
func (m *Mapper) compileRowPlan(ctx context.Context, t reflect.Type, cols []column, firstOnly bool) (*rowPlan, error) {
	var (
		p   *rowPlan
		err error
	)
	base := derefPtr(t)
	switch {
	case t == rowType || t == mapAnyType || (t.Kind() == reflect.Interface && t.NumMethod() == 0):
		p = m.dynamicPlan(t, cols)
	case len(m.constructors(base)) > 0 || base.Kind() == reflect.Struct && !m.isLeafType(t):
		p, err = m.structPlan(t, cols)
	case m.isLeafType(t):
		p, err = m.scalarPlan(t, cols, firstOnly)
	default:
		err = &ConstructorError{Type: t, Columns: columnNames(cols)}
	}
	if err != nil {
		return nil, err
	}
	m.tel.compiled(ctx, p.kind)
	m.logger.Debug("sqlmap: compiled row plan",
		"type", t.String(), "kind", p.kind, "columns", len(cols))
	return p, nil
}

func (m *Mapper) scalarPlan(t reflect.Type, cols []column, firstOnly bool) (*rowPlan, error) {
	if len(cols) == 0 || (len(cols) > 1 && !firstOnly) {
		return nil, fmt.Errorf("%w: scalar %s needs one column, got %d (%v)",
			ErrColumnCount, t, len(cols), columnNames(cols))
	}
	col := cols[0]
	conv := m.converterFor(t)
	return &rowPlan{target: t, kind: "scalar", build: func(vals []any, row int, _ bool) (reflect.Value, error) {
		dst := reflect.New(t).Elem()
		src := vals[col.ord]
		if src == nil {
			return dst, nil
		}
		if err := conv(dst, src); err != nil {
			return reflect.Value{}, mismatch(col, row, t, src, err)
		}
		return dst, nil
	}}, nil
}

// dynamicPlan captures the column names once. Duplicates get numeric
// suffixes: the second "id" is "id1", the third "id2".
func (m *Mapper) dynamicPlan(t reflect.Type, cols []column) *rowPlan {
	rc := newRowColumns(m, cols)
	asMap := t == mapAnyType
	return &rowPlan{target: t, kind: "dynamic", build: func(vals []any, _ int, _ bool) (reflect.Value, error) {
		cp := make([]any, len(vals))
		copy(cp, vals)
		if asMap {
			mm := make(map[string]any, len(cp))
			for i, name := range rc.names {
				mm[name] = cp[i]
			}
			return reflect.ValueOf(mm), nil
		}
		r := Row{cols: rc, vals: cp}
		if t == rowType {
			return reflect.ValueOf(r), nil
		}
		out := reflect.New(t).Elem()
		out.Set(reflect.ValueOf(r))
		return out, nil
	}}
}

type ctorArg struct {
	col  column
	ok   bool // false: no column, zero value
	typ  reflect.Type
	conv convertFunc
}

type setter struct {
	col   column
	index []int
	typ   reflect.Type
	conv  convertFunc
}

func (m *Mapper) structPlan(t reflect.Type, cols []column) (*rowPlan, error) {
	base := derefPtr(t)
	loose := m.underscore.Load()
	ctor := m.selectConstructor(base, cols)
	if ctor == nil && base.Kind() != reflect.Struct {
		return nil, &ConstructorError{Type: t, Columns: columnNames(cols)}
	}

	consumed := make([]bool, len(cols))
	var args []ctorArg
	if ctor != nil {
		for _, p := range ctor.params {
			a := ctorArg{typ: p.typ, conv: m.converterFor(p.typ)}
			if i := p.position(cols, loose); i >= 0 {
				a.col, a.ok = cols[i], true
				consumed[i] = true
			}
			args = append(args, a)
		}
	}

	var setters []setter
	if base.Kind() == reflect.Struct {
		si := m.structIndexOf(base)
		taken := make(map[*member]bool)
		for i, col := range cols {
			if consumed[i] {
				continue
			}
			mb, ok := si.lookup(col.key, loose)
			if !ok || taken[mb] {
				continue
			}
			taken[mb] = true
			setters = append(setters, setter{col: col, index: mb.index, typ: mb.typ, conv: m.converterFor(mb.typ)})
		}
	}

	kind := "struct"
	if ctor != nil {
		kind = "constructor"
	}
	return &rowPlan{target: t, kind: kind, build: func(vals []any, row int, strict bool) (reflect.Value, error) {
		var obj reflect.Value
		if ctor != nil {
			in := make([]reflect.Value, len(args))
			for i, a := range args {
				dst := reflect.New(a.typ).Elem()
				if a.ok && vals[a.col.ord] != nil {
					src := vals[a.col.ord]
					if err := a.conv(dst, src); err != nil {
						return reflect.Value{}, mismatch(a.col, row, a.typ, src, err)
					}
				}
				in[i] = dst
			}
			v, err := ctor.call(in)
			if err != nil {
				return reflect.Value{}, fmt.Errorf("sqlmap: constructing %s (row %d): %w", base, row, err)
			}
			obj = v
		} else {
			obj = reflect.New(base).Elem()
		}

		for _, s := range setters {
			src := vals[s.col.ord]
			if src == nil {
				if strict {
					if f := fieldByIndexRead(obj, s.index); f.IsValid() && f.CanSet() {
						f.SetZero()
					}
				}
				continue
			}
			f := reflectx.FieldByIndexes(obj, s.index)
			if err := s.conv(f, src); err != nil {
				return reflect.Value{}, mismatch(s.col, row, s.typ, src, err)
			}
		}
		return wrapPtr(t, obj), nil
	}}, nil
}

// wrapPtr returns v as type t, allocating one pointer per level.
func wrapPtr(t reflect.Type, v reflect.Value) reflect.Value {
	if t.Kind() != reflect.Pointer {
		if v.Type() != t && v.Type().AssignableTo(t) {
			out := reflect.New(t).Elem()
			out.Set(v)
			return out
		}
		return v
	}
	inner := wrapPtr(t.Elem(), v)
	p := reflect.New(t.Elem())
	p.Elem().Set(inner)
	return p
}

func mismatch(col column, row int, dest reflect.Type, src any, err error) error {
	return &TypeMismatchError{
		Column:  col.name,
		Ordinal: col.ord,
		Row:     row,
		Source:  reflect.TypeOf(src),
		Dest:    dest,
		Value:   src,
		Err:     err,
	}
}

// scanBuffer receives one row as driver values.
type scanBuffer struct {
	vals []any
	ptrs []any
}

func newScanBuffer(n int) *scanBuffer {
	b := &scanBuffer{vals: make([]any, n), ptrs: make([]any, n)}
	for i := range b.vals {
		b.ptrs[i] = &b.vals[i]
	}
	return b
}

func (b *scanBuffer) scan(rows *sql.Rows) error {
	clear(b.vals)
	return rows.Scan(b.ptrs...)
}

// as unwraps a materialized value. An invalid value yields the zero T.
func as[T any](v reflect.Value) T {
	var zero T
	if !v.IsValid() {
		return zero
	}
	if out, ok := v.Interface().(T); ok {
		return out
	}
	return zero
}
