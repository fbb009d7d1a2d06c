package sqlmap

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

var errorType = reflect.TypeFor[error]()

// constructor is a registered function that builds a target from columns.
type constructor struct {
	fn       reflect.Value
	params   []ctorParam
	out      reflect.Type // as returned: T or *T
	hasErr   bool
	explicit bool
	order    int
}

type ctorParam struct {
	name  string
	key   string
	loose string
	typ   reflect.Type
}

// RegisterConstructor registers fn as a way to build its result type from a
// row. fn must be func(...) T or func(...) *T, optionally with a trailing
// error result; names gives one column name per parameter.
//
// When several constructors of a type are registered, the one whose
// parameters all match result columns and that matches the most columns is
// used; ties go to the constructor registered first. Columns the constructor
// does not consume are still written to fields.
//
//	type Money struct{ Amount int64; Currency string }
//	err := m.RegisterConstructor(func(amount int64, currency string) Money {
//	    return Money{Amount: amount, Currency: strings.ToUpper(currency)}
//	}, "amount", "currency")
func (m *Mapper) RegisterConstructor(fn any, names ...string) error {
	return m.registerConstructor(fn, names, false)
}

// RegisterExplicitConstructor registers fn like RegisterConstructor but marks
// it as the one to use for its type regardless of the columns. Parameters
// with no matching column receive their zero value.
func (m *Mapper) RegisterExplicitConstructor(fn any, names ...string) error {
	return m.registerConstructor(fn, names, true)
}

func (m *Mapper) registerConstructor(fn any, names []string, explicit bool) error {
	fv := reflect.ValueOf(fn)
	if fv.Kind() != reflect.Func || fv.IsNil() {
		return fmt.Errorf("sqlmap: constructor must be a function, got %T", fn)
	}
	ft := fv.Type()
	if ft.IsVariadic() {
		return errors.New("sqlmap: variadic constructors are not supported")
	}
	switch {
	case ft.NumOut() == 1:
	case ft.NumOut() == 2 && ft.Out(1) == errorType:
	default:
		return fmt.Errorf("sqlmap: constructor %s must return T or (T, error)", ft)
	}
	if len(names) != ft.NumIn() {
		return fmt.Errorf("sqlmap: constructor %s has %d parameters but %d names", ft, ft.NumIn(), len(names))
	}

	c := &constructor{
		fn:       fv,
		out:      ft.Out(0),
		hasErr:   ft.NumOut() == 2,
		explicit: explicit,
	}
	for i, name := range names {
		key := toLowerAscii(strings.TrimSpace(name))
		c.params = append(c.params, ctorParam{name: name, key: key, loose: looseKey(key), typ: ft.In(i)})
	}

	target := derefPtr(c.out)
	m.mu.Lock()
	c.order = len(m.ctors[target])
	if explicit {
		for _, other := range m.ctors[target] {
			if other.explicit {
				m.mu.Unlock()
				return fmt.Errorf("sqlmap: %s already has an explicit constructor", target)
			}
		}
	}
	m.ctors[target] = append(m.ctors[target], c)
	m.mu.Unlock()

	m.logger.Debug("sqlmap: constructor registered", "type", target.String(), "params", len(names), "explicit", explicit)
	m.ResetCache()
	return nil
}

func (m *Mapper) constructors(t reflect.Type) []*constructor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ctors[t]
}

// selectConstructor picks the constructor for t given the observed columns.
// It returns nil when the zero value plus field setters should be used.
func (m *Mapper) selectConstructor(t reflect.Type, cols []column) *constructor {
	ctors := m.constructors(t)
	if len(ctors) == 0 {
		return nil
	}
	loose := m.underscore.Load()
	for _, c := range ctors {
		if c.explicit {
			return c
		}
	}

	var best *constructor
	for _, c := range ctors {
		if !c.matchesAll(cols, loose) {
			continue
		}
		if best == nil || len(c.params) > len(best.params) {
			best = c
		}
	}
	return best
}

func (c *constructor) matchesAll(cols []column, loose bool) bool {
	for _, p := range c.params {
		if p.position(cols, loose) < 0 {
			return false
		}
	}
	return true
}

// position returns the index in cols of the first column matching the
// parameter, or -1.
func (p ctorParam) position(cols []column, loose bool) int {
	for i, col := range cols {
		if col.key == p.key {
			return i
		}
	}
	if loose {
		for i, col := range cols {
			if looseKey(col.key) == p.loose {
				return i
			}
		}
	}
	return -1
}

// call invokes the constructor and returns the built value as t (never a
// pointer), so field setters can address it.
func (c *constructor) call(args []reflect.Value) (reflect.Value, error) {
	res := c.fn.Call(args)
	if c.hasErr && !res[1].IsNil() {
		return reflect.Value{}, res[1].Interface().(error)
	}
	v := res[0]
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return reflect.Value{}, errNilPtrResult
		}
		v = v.Elem()
	}
	out := reflect.New(v.Type()).Elem()
	out.Set(v)
	return out, nil
}
