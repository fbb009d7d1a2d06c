package sqlmap

import (
	"database/sql/driver"
	"fmt"
	"reflect"
	"strings"
)

// TypeHandler customizes how values of one Go type travel to and from the
// database. Parse receives the non-NULL driver value of a column; Value
// renders a parameter.
type TypeHandler interface {
	Parse(src any) (any, error)
	Value(v any) (driver.Value, error)
}

type funcHandler[T any] struct {
	parse func(src any) (T, error)
	value func(v T) (driver.Value, error)
}

func (h funcHandler[T]) Parse(src any) (any, error) {
	if h.parse == nil {
		return nil, fmt.Errorf("no parse function for %s: %w", reflect.TypeFor[T](), errUnsupported)
	}
	return h.parse(src)
}

func (h funcHandler[T]) Value(v any) (driver.Value, error) {
	if h.value == nil {
		return v, nil
	}
	t, ok := v.(T)
	if !ok {
		return nil, fmt.Errorf("type handler for %s got %T", reflect.TypeFor[T](), v)
	}
	return h.value(t)
}

// RegisterType registers parse/value functions for T on m (the default
// mapper when m is nil). Either function may be nil.
func RegisterType[T any](m *Mapper, parse func(src any) (T, error), value func(v T) (driver.Value, error)) {
	if m == nil {
		m = Default()
	}
	m.RegisterTypeHandler(reflect.TypeFor[T](), funcHandler[T]{parse: parse, value: value})
}

// RegisterTypeHandler installs h for t and purges compiled plans, which
// captured the previous conversions.
func (m *Mapper) RegisterTypeHandler(t reflect.Type, h TypeHandler) {
	m.mu.Lock()
	if h == nil {
		delete(m.handlers, t)
	} else {
		m.handlers[t] = h
	}
	m.mu.Unlock()
	m.logger.Debug("sqlmap: type handler registered", "type", t.String(), "removed", h == nil)
	m.ResetCache()
}

func (m *Mapper) handler(t reflect.Type) TypeHandler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handlers[t]
}

// Integer is the set of types RegisterEnum accepts.
type Integer interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 | ~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

// RegisterEnum lets string columns populate E by name. Names match
// case-insensitively; numeric values keep working through the underlying
// integer conversion.
func RegisterEnum[E Integer](m *Mapper, names map[string]E) {
	if m == nil {
		m = Default()
	}
	t := reflect.TypeFor[E]()
	lut := make(map[string]reflect.Value, len(names))
	for name, v := range names {
		lut[strings.ToLower(name)] = reflect.ValueOf(v)
	}
	m.mu.Lock()
	m.enums[t] = lut
	m.mu.Unlock()
	m.logger.Debug("sqlmap: enum registered", "type", t.String(), "names", len(lut))
	m.ResetCache()
}

func (m *Mapper) enumNames(t reflect.Type) map[string]reflect.Value {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enums[t]
}
