package sqlmap

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// rowColumns is shared by every Row of one result set.
type rowColumns struct {
	names []string
	index map[string]int // lowercased name -> ordinal, first occurrence
	m     *Mapper        // converts for RowValue
}

func newRowColumns(m *Mapper, cols []column) *rowColumns {
	rc := &rowColumns{names: make([]string, len(cols)), index: make(map[string]int, len(cols)), m: m}
	seen := make(map[string]int, len(cols))
	for i, c := range cols {
		name := c.name
		for n := seen[c.key]; ; n++ {
			if n > 0 {
				name = c.name + strconv.Itoa(n)
			}
			if _, dup := rc.index[toLowerAscii(name)]; !dup {
				break
			}
		}
		seen[c.key]++
		rc.names[i] = name
		rc.index[toLowerAscii(name)] = i
	}
	return rc
}

// Row is a dynamic row: the column values in result order, addressable by
// position or by case-insensitive name. NULL is nil; values are not coerced.
// A repeated column name is suffixed with its occurrence number, so the
// second "id" of a join is "id1".
type Row struct {
	cols *rowColumns
	vals []any
}

// Len returns the number of columns.
func (r Row) Len() int { return len(r.vals) }

// Columns returns the column names, after duplicate suffixing.
func (r Row) Columns() []string {
	if r.cols == nil {
		return nil
	}
	return append([]string(nil), r.cols.names...)
}

// Values returns the column values in order.
func (r Row) Values() []any { return append([]any(nil), r.vals...) }

// Value returns the value at ordinal i, or nil when i is out of range.
func (r Row) Value(i int) any {
	if i < 0 || i >= len(r.vals) {
		return nil
	}
	return r.vals[i]
}

// Get returns the value of the named column.
func (r Row) Get(name string) (any, bool) {
	if r.cols == nil {
		return nil, false
	}
	i, ok := r.cols.index[toLowerAscii(name)]
	if !ok {
		return nil, false
	}
	return r.vals[i], true
}

// Map copies the row into a map keyed by column name.
func (r Row) Map() map[string]any {
	out := make(map[string]any, len(r.vals))
	if r.cols == nil {
		return out
	}
	for i, name := range r.cols.names {
		out[name] = r.vals[i]
	}
	return out
}

// MarshalJSON renders the row as an object with keys in column order.
// []byte values are rendered as strings.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if r.cols != nil {
		for i, name := range r.cols.names {
			if i > 0 {
				buf.WriteByte(',')
			}
			k, err := json.Marshal(name)
			if err != nil {
				return nil, err
			}
			buf.Write(k)
			buf.WriteByte(':')
			v := r.vals[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			enc, err := json.Marshal(v)
			if err != nil {
				return nil, err
			}
			buf.Write(enc)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// RowValue returns the named column of r converted to T with the rules of
// the mapper that read the row.
func RowValue[T any](r Row, name string) (T, error) {
	var zero T
	v, ok := r.Get(name)
	if !ok {
		return zero, fmt.Errorf("%w: %q (columns: %s)", ErrNoSuchColumn, name, strings.Join(r.Columns(), ", "))
	}
	m := r.cols.m
	if m == nil {
		m = Default()
	}
	out, err := convertValue[T](m, v)
	if err != nil {
		col := column{name: name, ord: r.cols.index[toLowerAscii(name)]}
		return zero, mismatch(col, 0, reflect.TypeFor[T](), v, err)
	}
	return out, nil
}
