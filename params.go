package sqlmap

import (
	"fmt"
	"reflect"
	"strings"
)

// Direction is the direction of a Params entry.
type Direction int

const (
	In Direction = iota
	Out
	InOut
	ReturnValue
)

func (d Direction) String() string {
	switch d {
	case In:
		return "in"
	case Out:
		return "out"
	case InOut:
		return "inout"
	case ReturnValue:
		return "return"
	default:
		return fmt.Sprintf("Direction(%d)", int(d))
	}
}

// Param is one entry of a Params collection. DBType, Size, Precision and
// Scale describe the parameter to readers of the collection; database/sql
// drivers infer them from the value, so they are not sent.
type Param struct {
	Name      string
	Value     any
	Direction Direction
	DBType    string
	Size      int
	Precision uint8
	Scale     uint8

	out any // receives Out, InOut and ReturnValue results
}

// Params is an ordered parameter collection for values that do not come from
// a struct or map, for output parameters, and for parameter metadata.
//
// Example:
//
//	p := sqlmap.NewParams()
//	p.Add("id", 42)
//	p.Add("total", nil, sqlmap.WithDirection(sqlmap.Out))
//	_, err := sqlmap.ExecCommand(ctx, db, sqlmap.Command{
//	    SQL:    "sp_order_total",
//	    Params: p,
//	    Kind:   sqlmap.KindStoredProcedure,
//	})
//	total, err := sqlmap.Output[int64](p, "total")
//
// A Params converts through the Mapper that created it (Mapper.NewParams) or
// that last bound it, and through the default mapper before either.
type Params struct {
	list  []*Param
	index map[string]int
	m     *Mapper
}

// ParamOption sets metadata on a Param.
type ParamOption func(*Param)

func WithDirection(d Direction) ParamOption { return func(p *Param) { p.Direction = d } }
func WithSize(n int) ParamOption            { return func(p *Param) { p.Size = n } }
func WithDBType(t string) ParamOption       { return func(p *Param) { p.DBType = t } }

func WithPrecision(precision, scale uint8) ParamOption {
	return func(p *Param) { p.Precision, p.Scale = precision, scale }
}

func NewParams() *Params {
	return &Params{index: make(map[string]int)}
}

// NewParams returns an empty Params that reads struct members and converts
// outputs with m's tag name, type handlers and enums.
func (m *Mapper) NewParams() *Params {
	return &Params{index: make(map[string]int), m: m}
}

func (p *Params) mapper() *Mapper {
	if p.m != nil {
		return p.m
	}
	return Default()
}

// Add sets the parameter name to value. A leading '@', ':' or '?' is
// stripped. Adding an existing name replaces it in place.
func (p *Params) Add(name string, value any, opts ...ParamOption) *Params {
	name = strings.TrimLeft(name, "@:?")
	prm := &Param{Name: name, Value: value}
	for _, opt := range opts {
		opt(prm)
	}
	if p.index == nil {
		p.index = make(map[string]int)
	}
	key := strings.ToLower(name)
	if i, ok := p.index[key]; ok {
		p.list[i] = prm
		return p
	}
	p.index[key] = len(p.list)
	p.list = append(p.list, prm)
	return p
}

// AddParams merges the members of src, a struct, a string-keyed map or
// another *Params, as input parameters.
func (p *Params) AddParams(src any) error {
	if other, ok := src.(*Params); ok {
		for _, prm := range other.list {
			cp := *prm
			cp.out = nil
			p.Add(cp.Name, cp.Value, func(d *Param) { *d = cp })
		}
		return nil
	}
	ps, err := p.mapper().sourceOf(src)
	if err != nil {
		return err
	}
	for _, name := range ps.names() {
		v, _ := ps.lookup(strings.ToLower(name))
		p.Add(name, v)
	}
	return nil
}

// Get returns the named parameter.
func (p *Params) Get(name string) (*Param, bool) {
	i, ok := p.index[strings.ToLower(strings.TrimLeft(name, "@:?"))]
	if !ok {
		return nil, false
	}
	return p.list[i], true
}

// Names returns the parameter names in insertion order.
func (p *Params) Names() []string {
	out := make([]string, len(p.list))
	for i, prm := range p.list {
		out[i] = prm.Name
	}
	return out
}

func (p *Params) names() []string { return p.Names() }

func (p *Params) lookup(key string) (any, bool) {
	i, ok := p.index[key]
	if !ok {
		return nil, false
	}
	return p.list[i], true
}

// Output returns the value the driver wrote to an Out, InOut or ReturnValue
// parameter, converted to T.
func Output[T any](p *Params, name string) (T, error) {
	var zero T
	prm, ok := p.Get(name)
	if !ok {
		return zero, &ParameterError{Name: name, Err: ErrUnresolvedParameter}
	}
	if prm.Direction == In {
		return zero, fmt.Errorf("sqlmap: parameter %q is not an output parameter", name)
	}
	v, err := convertValue[T](p.mapper(), prm.out)
	if err != nil {
		return zero, &TypeMismatchError{
			Column: prm.Name,
			Source: reflect.TypeOf(prm.out),
			Dest:   reflect.TypeFor[T](),
			Value:  prm.out,
			Err:    err,
		}
	}
	return v, nil
}
