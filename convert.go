package sqlmap

import (
	"database/sql"
	"encoding"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// convertFunc writes src into the settable, addressable dst. src is never nil;
// NULL handling happens before conversion.
type convertFunc func(dst reflect.Value, src any) error

var (
	errOverflow     = errors.New("value out of range")
	errNotIntegral  = errors.New("value is not integral")
	errUnsupported  = errors.New("unsupported conversion")
	errUnknownEnum  = errors.New("unknown enum name")
	errNilPtrResult = errors.New("constructor returned nil")
)

var (
	scannerType         = reflect.TypeOf((*sql.Scanner)(nil)).Elem()
	textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
	timeType            = reflect.TypeOf(time.Time{})
	uuidType            = reflect.TypeOf(uuid.UUID{})
)

// timeLayouts are tried in order when a time.Time destination receives text.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
}

// converterFor builds the conversion for a destination type. The result is
// captured by compiled row plans, so it is built once per column.
func (m *Mapper) converterFor(dt reflect.Type) convertFunc {
	if h := m.handler(dt); h != nil {
		return handlerConv(h, dt)
	}
	if dt.Kind() == reflect.Pointer && !implementsScanner(dt) {
		elem := m.converterFor(dt.Elem())
		et := dt.Elem()
		return func(dst reflect.Value, src any) error {
			p := reflect.New(et)
			if err := elem(p.Elem(), src); err != nil {
				return err
			}
			dst.Set(p)
			return nil
		}
	}

	var next convertFunc
	switch {
	case dt == uuidType:
		next = uuidConv
	case implementsScanner(dt):
		next = scanConv
	default:
		next = baseConv(dt)
		if names := m.enumNames(dt); names != nil {
			next = enumConv(names, next)
		} else if dt != timeType && implementsTextUnmarshaler(dt) {
			next = textConv(next)
		}
	}
	return assignFirst(dt, next)
}

// assignFirst short-circuits values the driver already delivered in the
// destination type.
func assignFirst(dt reflect.Type, next convertFunc) convertFunc {
	return func(dst reflect.Value, src any) error {
		sv := reflect.ValueOf(src)
		if sv.Type() == dt {
			if b, ok := src.([]byte); ok {
				dst.SetBytes(append([]byte(nil), b...))
				return nil
			}
			dst.Set(sv)
			return nil
		}
		return next(dst, src)
	}
}

func handlerConv(h TypeHandler, dt reflect.Type) convertFunc {
	return func(dst reflect.Value, src any) error {
		v, err := h.Parse(src)
		if err != nil {
			return err
		}
		rv := reflect.ValueOf(v)
		switch {
		case !rv.IsValid():
			dst.Set(reflect.Zero(dt))
		case rv.Type().AssignableTo(dt):
			dst.Set(rv)
		case rv.Type().ConvertibleTo(dt):
			dst.Set(rv.Convert(dt))
		default:
			return fmt.Errorf("type handler returned %s: %w", rv.Type(), errUnsupported)
		}
		return nil
	}
}

func scanConv(dst reflect.Value, src any) error {
	if dst.CanAddr() {
		return dst.Addr().Interface().(sql.Scanner).Scan(src)
	}
	p := reflect.New(dst.Type())
	if err := p.Interface().(sql.Scanner).Scan(src); err != nil {
		return err
	}
	dst.Set(p.Elem())
	return nil
}

// uuidConv accepts raw [16]byte values on top of what uuid.UUID.Scan takes.
func uuidConv(dst reflect.Value, src any) error {
	if raw, ok := src.([16]byte); ok {
		dst.Set(reflect.ValueOf(uuid.UUID(raw)))
		return nil
	}
	return scanConv(dst, src)
}

func textConv(next convertFunc) convertFunc {
	return func(dst reflect.Value, src any) error {
		var text []byte
		switch v := src.(type) {
		case string:
			text = []byte(v)
		case []byte:
			text = v
		default:
			return next(dst, src)
		}
		return dst.Addr().Interface().(encoding.TextUnmarshaler).UnmarshalText(text)
	}
}

// enumConv resolves registered names case-insensitively and falls back to
// the numeric conversion for numbers and numeric strings.
func enumConv(names map[string]reflect.Value, next convertFunc) convertFunc {
	return func(dst reflect.Value, src any) error {
		var s string
		switch v := src.(type) {
		case string:
			s = v
		case []byte:
			s = string(v)
		default:
			return next(dst, src)
		}
		if ev, ok := names[strings.ToLower(strings.TrimSpace(s))]; ok {
			dst.Set(ev)
			return nil
		}
		if err := next(dst, src); err != nil {
			return fmt.Errorf("%w %q", errUnknownEnum, s)
		}
		return nil
	}
}

func baseConv(dt reflect.Type) convertFunc {
	switch dt.Kind() {
	case reflect.Interface:
		return func(dst reflect.Value, src any) error {
			if b, ok := src.([]byte); ok {
				src = append([]byte(nil), b...)
			}
			sv := reflect.ValueOf(src)
			if !sv.Type().AssignableTo(dt) {
				return errUnsupported
			}
			dst.Set(sv)
			return nil
		}
	case reflect.Bool:
		return convBool
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return convInt
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return convUint
	case reflect.Float32, reflect.Float64:
		return convFloat
	case reflect.String:
		return convString
	case reflect.Slice:
		if dt.Elem().Kind() == reflect.Uint8 {
			return convBytes
		}
	case reflect.Struct:
		if dt == timeType {
			return convTime
		}
	}
	return func(dst reflect.Value, src any) error {
		sv := reflect.ValueOf(src)
		switch {
		case sv.Type().AssignableTo(dt):
			dst.Set(sv)
		case sv.Kind() == dt.Kind() && sv.Type().ConvertibleTo(dt):
			dst.Set(sv.Convert(dt))
		default:
			return errUnsupported
		}
		return nil
	}
}

func convBool(dst reflect.Value, src any) error {
	switch v := src.(type) {
	case bool:
		dst.SetBool(v)
		return nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		dst.SetBool(b)
		return nil
	case []byte:
		return convBool(dst, string(v))
	}
	sv := reflect.ValueOf(src)
	switch sv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		dst.SetBool(sv.Int() != 0)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		dst.SetBool(sv.Uint() != 0)
	case reflect.Float32, reflect.Float64:
		dst.SetBool(sv.Float() != 0)
	default:
		return errUnsupported
	}
	return nil
}

func convInt(dst reflect.Value, src any) error {
	var n int64
	switch v := src.(type) {
	case string:
		p, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return err
		}
		n = p
	case []byte:
		return convInt(dst, string(v))
	case bool:
		if v {
			n = 1
		}
	default:
		sv := reflect.ValueOf(src)
		switch sv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			n = sv.Int()
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			u := sv.Uint()
			if u > math.MaxInt64 {
				return errOverflow
			}
			n = int64(u)
		case reflect.Float32, reflect.Float64:
			f := sv.Float()
			if f != math.Trunc(f) {
				return errNotIntegral
			}
			if f < math.MinInt64 || f >= math.MaxInt64 {
				return errOverflow
			}
			n = int64(f)
		default:
			return errUnsupported
		}
	}
	if dst.OverflowInt(n) {
		return errOverflow
	}
	dst.SetInt(n)
	return nil
}

func convUint(dst reflect.Value, src any) error {
	var n uint64
	switch v := src.(type) {
	case string:
		p, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return err
		}
		n = p
	case []byte:
		return convUint(dst, string(v))
	case bool:
		if v {
			n = 1
		}
	default:
		sv := reflect.ValueOf(src)
		switch sv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			i := sv.Int()
			if i < 0 {
				return errOverflow
			}
			n = uint64(i)
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			n = sv.Uint()
		case reflect.Float32, reflect.Float64:
			f := sv.Float()
			if f != math.Trunc(f) {
				return errNotIntegral
			}
			if f < 0 || f >= math.MaxUint64 {
				return errOverflow
			}
			n = uint64(f)
		default:
			return errUnsupported
		}
	}
	if dst.OverflowUint(n) {
		return errOverflow
	}
	dst.SetUint(n)
	return nil
}

func convFloat(dst reflect.Value, src any) error {
	var f float64
	switch v := src.(type) {
	case string:
		p, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return err
		}
		f = p
	case []byte:
		return convFloat(dst, string(v))
	default:
		sv := reflect.ValueOf(src)
		switch sv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			f = float64(sv.Int())
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			f = float64(sv.Uint())
		case reflect.Float32, reflect.Float64:
			f = sv.Float()
		default:
			return errUnsupported
		}
	}
	if dst.OverflowFloat(f) {
		return errOverflow
	}
	dst.SetFloat(f)
	return nil
}

func convString(dst reflect.Value, src any) error {
	switch v := src.(type) {
	case string:
		dst.SetString(v)
		return nil
	case []byte:
		dst.SetString(string(v))
		return nil
	case uuid.UUID:
		dst.SetString(v.String())
		return nil
	case [16]byte:
		dst.SetString(uuid.UUID(v).String())
		return nil
	case bool:
		dst.SetString(strconv.FormatBool(v))
		return nil
	case time.Time:
		dst.SetString(v.Format(time.RFC3339Nano))
		return nil
	}
	sv := reflect.ValueOf(src)
	switch sv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		dst.SetString(strconv.FormatInt(sv.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		dst.SetString(strconv.FormatUint(sv.Uint(), 10))
	case reflect.Float32:
		dst.SetString(strconv.FormatFloat(sv.Float(), 'g', -1, 32))
	case reflect.Float64:
		dst.SetString(strconv.FormatFloat(sv.Float(), 'g', -1, 64))
	case reflect.String:
		dst.SetString(sv.String())
	default:
		return errUnsupported
	}
	return nil
}

func convBytes(dst reflect.Value, src any) error {
	switch v := src.(type) {
	case []byte:
		dst.SetBytes(append([]byte(nil), v...))
	case string:
		dst.SetBytes([]byte(v))
	default:
		return errUnsupported
	}
	return nil
}

func convTime(dst reflect.Value, src any) error {
	var s string
	switch v := src.(type) {
	case time.Time:
		dst.Set(reflect.ValueOf(v))
		return nil
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return errUnsupported
	}
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			dst.Set(reflect.ValueOf(t))
			return nil
		}
	}
	return fmt.Errorf("unrecognized time format %q", s)
}

func implementsScanner(t reflect.Type) bool {
	return reflect.PointerTo(t).Implements(scannerType)
}

func implementsTextUnmarshaler(t reflect.Type) bool {
	return reflect.PointerTo(t).Implements(textUnmarshalerType)
}

func derefPtr(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

// convertValue converts a single value to T using m's rules.
func convertValue[T any](m *Mapper, src any) (T, error) {
	var out T
	if src == nil {
		return out, nil
	}
	dt := reflect.TypeFor[T]()
	dst := reflect.New(dt).Elem()
	if err := m.converterFor(dt)(dst, src); err != nil {
		return out, err
	}
	if v, ok := dst.Interface().(T); ok {
		out = v
	}
	return out, nil
}
