package sqlmap

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/lib/pq"
)

// paramSource is the closed capability every parameter source is adapted to:
// enumerable name/value pairs.
type paramSource interface {
	lookup(key string) (any, bool) // key is lowercased
	names() []string               // declaration or insertion order
}

// paramShape is the compiled applier for one struct type: the readable
// members and their index paths. It is built once per type and reused for
// every statement that binds a value of that type.
type paramShape struct {
	typ     reflect.Type
	members []*member
	byKey   map[string]*member
}

func (m *Mapper) compileShape(t reflect.Type) *paramShape {
	si := m.structIndexOf(t)
	ps := &paramShape{typ: t, members: si.members, byKey: si.byKey}
	m.tel.compiled(context.Background(), "params")
	m.logger.Debug("sqlmap: compiled parameter shape", "type", t.String(), "members", len(ps.members))
	return ps
}

type structSource struct {
	shape *paramShape
	v     reflect.Value
}

func (s structSource) lookup(key string) (any, bool) {
	mb, ok := s.shape.byKey[key]
	if !ok {
		return nil, false
	}
	fv := fieldByIndexRead(s.v, mb.index)
	if !fv.IsValid() {
		return nil, true // behind a nil embedded pointer
	}
	return fv.Interface(), true
}

func (s structSource) names() []string {
	out := make([]string, len(s.shape.members))
	for i, mb := range s.shape.members {
		out[i] = mb.name
	}
	return out
}

type mapSource struct {
	vals  map[string]any
	order []string
}

func (s mapSource) lookup(key string) (any, bool) {
	v, ok := s.vals[key]
	return v, ok
}

func (s mapSource) names() []string { return s.order }

// sourceOf adapts a parameter value. A nil value yields a nil source.
func (m *Mapper) sourceOf(params any) (paramSource, error) {
	if params == nil {
		return nil, nil
	}
	if p, ok := params.(*Params); ok {
		if p == nil {
			return nil, ErrNilParams
		}
		return p, nil
	}
	rv := reflect.ValueOf(params)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, ErrNilParams
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Struct:
		return structSource{shape: m.shapeOf(rv.Type()), v: rv}, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("%w: map key %s", ErrUnsupportedParameterShape, rv.Type().Key())
		}
		src := mapSource{vals: make(map[string]any, rv.Len())}
		iter := rv.MapRange()
		for iter.Next() {
			name := iter.Key().String()
			src.vals[strings.ToLower(name)] = iter.Value().Interface()
			src.order = append(src.order, name)
		}
		slices.Sort(src.order)
		return src, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedParameterShape, params)
	}
}

// batchItems reports whether params is a batch source for Exec: a slice or
// array whose elements are parameter objects.
func batchItems(params any) (reflect.Value, bool) {
	if params == nil {
		return reflect.Value{}, false
	}
	if _, ok := params.(Args); ok {
		return reflect.Value{}, false
	}
	rv := reflect.ValueOf(params)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return reflect.Value{}, false
	}
	et := derefPtr(rv.Type().Elem())
	switch et.Kind() {
	case reflect.Struct, reflect.Map, reflect.Interface:
		return rv, et != timeType
	}
	return reflect.Value{}, false
}

// bound is a command ready for the driver. static is set when the SQL text
// does not depend on the values (no list expansion, no literals), so a
// prepared statement can serve every element of a batch.
type bound struct {
	sql    string
	args   []any
	static bool
}

// bindCommand renders cmd.SQL against params: tokens become placeholders,
// lists expand, literals are inlined and output parameters are wrapped in
// sql.Out.
func (m *Mapper) bindCommand(cmd *Command, params any) (bound, error) {
	ph := m.dialect.Placeholder

	if args, ok := params.(Args); ok {
		q := cmd.SQL
		if cmd.Kind == KindStoredProcedure {
			q = procCallPositional(cmd.SQL, len(args), ph)
		}
		return bound{sql: rewritePlaceholders(q, ph), args: args, static: true}, nil
	}

	src, err := m.sourceOf(params)
	if err != nil {
		return bound{}, err
	}
	if p, ok := src.(*Params); ok {
		p.m = m
	}
	text := cmd.SQL
	if cmd.Kind == KindStoredProcedure {
		text = procCall(cmd.SQL, src, ph)
	}
	tmpl, err := m.templateOf(text)
	if err != nil {
		return bound{}, err
	}
	if len(tmpl.tokens) == 0 {
		return bound{sql: text, static: true}, nil
	}

	var (
		out     = make([]byte, 0, len(text)+16)
		args    = make([]any, 0, len(tmpl.tokens))
		n       = 0
		last    = 0
		static  = true
		emitted map[string]bool
	)
	if ph == PlaceholderNamed {
		emitted = make(map[string]bool)
	}
	next := func(name string, v any) {
		if ph == PlaceholderNamed {
			out = append(out, '@')
			out = append(out, name...)
			if key := strings.ToLower(name); !emitted[key] {
				emitted[key] = true
				args = append(args, sql.Named(name, v))
			}
			return
		}
		n++
		out = ph.appendPlaceholder(out, n)
		args = append(args, v)
	}
	// listPrefix picks the prefix of the element names of an expanded list:
	// base followed by the element number. Under named placeholders, when a
	// source member or an earlier binding already uses one of those names,
	// '_' is appended to base until all count names are free.
	listPrefix := func(base string, count int) string {
		if ph != PlaceholderNamed {
			return base
		}
	retry:
		for prefix := base; ; prefix += "_" {
			for i := 1; i <= count; i++ {
				key := strings.ToLower(prefix + strconv.Itoa(i))
				if emitted[key] {
					continue retry
				}
				if src != nil {
					if _, taken := src.lookup(key); taken {
						continue retry
					}
				}
			}
			return prefix
		}
	}

	for _, tok := range tmpl.tokens {
		out = append(out, text[last:tok.start]...)
		last = tok.end

		var (
			raw any
			ok  bool
		)
		if src != nil {
			raw, ok = src.lookup(tok.key)
		}
		if !ok {
			return bound{}, &ParameterError{Name: tok.name, SQL: text, Err: ErrUnresolvedParameter}
		}

		if prm, isParam := raw.(*Param); isParam {
			if prm.Direction != In {
				if tok.kind == tokLiteral {
					return bound{}, &ParameterError{Name: tok.name, SQL: text, Err: ErrUnsupportedParameterShape}
				}
				prm.out = nil
				if prm.Direction == InOut {
					prm.out = prm.Value
				}
				next(tok.name, sql.Out{Dest: &prm.out, In: prm.Direction == InOut})
				continue
			}
			raw = prm.Value
		}

		if tok.kind == tokLiteral {
			lit, err := formatLiteral(raw)
			if err != nil {
				return bound{}, &ParameterError{Name: tok.name, SQL: text, Err: err}
			}
			out = append(out, lit...)
			static = false
			continue
		}

		val, list, err := m.paramValue(raw)
		if err != nil {
			return bound{}, &ParameterError{Name: tok.name, SQL: text, Err: err}
		}
		if !list.IsValid() {
			next(tok.name, val)
			continue
		}

		if m.dialect.Arrays {
			next(tok.name, pq.Array(list.Interface()))
			continue
		}
		static = false
		switch {
		case list.Len() == 0:
			if tok.inParens {
				out = append(out, "SELECT NULL WHERE 1 = 0"...)
			} else {
				out = append(out, "(SELECT NULL WHERE 1 = 0)"...)
			}
		default:
			if !tok.inParens {
				out = append(out, '(')
			}
			prefix := listPrefix(tok.name, list.Len())
			for i := 0; i < list.Len(); i++ {
				if i > 0 {
					out = append(out, ',', ' ')
				}
				ev, _, err := m.paramValue(list.Index(i).Interface())
				if err != nil {
					return bound{}, &ParameterError{Name: tok.name, SQL: text, Err: err}
				}
				next(prefix+strconv.Itoa(i+1), ev)
			}
			if !tok.inParens {
				out = append(out, ')')
			}
		}
	}
	out = append(out, text[last:]...)
	return bound{sql: string(out), args: args, static: static}, nil
}

// paramValue classifies a parameter value. A valid list means the value is
// a sequence to expand; otherwise val is the argument to pass.
func (m *Mapper) paramValue(v any) (val any, list reflect.Value, err error) {
	if v == nil {
		return nil, reflect.Value{}, nil
	}
	rt := reflect.TypeOf(v)
	if h := m.handler(rt); h != nil {
		dv, err := h.Value(v)
		return dv, reflect.Value{}, err
	}
	if _, ok := v.(driver.Valuer); ok {
		return v, reflect.Value{}, nil
	}
	switch rt.Kind() {
	case reflect.Slice:
		if rt.Elem().Kind() == reflect.Uint8 {
			return v, reflect.Value{}, nil
		}
		return nil, reflect.ValueOf(v), nil
	case reflect.Array:
		rv := reflect.ValueOf(v)
		if rt.Elem().Kind() == reflect.Uint8 {
			b := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(b), rv)
			return b, reflect.Value{}, nil
		}
		return nil, rv, nil
	case reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return nil, reflect.Value{}, fmt.Errorf("%w: %s", ErrUnsupportedParameterShape, rt)
	}
	return v, reflect.Value{}, nil
}

// formatLiteral renders a value inlined into SQL text. Only numbers, bools
// and NULL are accepted.
func formatLiteral(v any) (string, error) {
	if v == nil {
		return "NULL", nil
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return "NULL", nil
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Bool:
		if rv.Bool() {
			return "1", nil
		}
		return "0", nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), nil
	case reflect.Float32:
		return strconv.FormatFloat(rv.Float(), 'g', -1, 32), nil
	case reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'g', -1, 64), nil
	}
	return "", fmt.Errorf("%w: literal of type %s", ErrUnsupportedParameterShape, rv.Type())
}

// procCall renders the call of a stored procedure from the source members.
// SQL Server style dialects get EXEC, the others CALL.
func procCall(name string, src paramSource, ph Placeholder) string {
	var (
		args []string
		ret  string
	)
	if src != nil {
		for _, n := range src.names() {
			if v, _ := src.lookup(strings.ToLower(n)); v != nil {
				if prm, ok := v.(*Param); ok && prm.Direction == ReturnValue {
					ret = n
					continue
				}
			}
			args = append(args, "@"+n)
		}
	}
	var b strings.Builder
	if ph == PlaceholderAtP || ph == PlaceholderNamed {
		b.WriteString("EXEC ")
		if ret != "" {
			b.WriteString("@" + ret + " = ")
		}
		b.WriteString(name)
		if len(args) > 0 {
			b.WriteByte(' ')
			b.WriteString(strings.Join(args, ", "))
		}
		return b.String()
	}
	b.WriteString("CALL ")
	b.WriteString(name)
	b.WriteByte('(')
	b.WriteString(strings.Join(args, ", "))
	b.WriteByte(')')
	return b.String()
}

func procCallPositional(name string, n int, ph Placeholder) string {
	marks := strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
	if ph == PlaceholderAtP || ph == PlaceholderNamed {
		if n == 0 {
			return "EXEC " + name
		}
		return "EXEC " + name + " " + marks
	}
	return "CALL " + name + "(" + marks + ")"
}
