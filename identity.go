package sqlmap

import (
	"database/sql"
	"hash/fnv"
	"reflect"
	"strconv"
)

// maxTypes bounds the number of target types in one split mapping.
const maxTypes = 16

// Identity keys compiled row plans. Two calls share a plan only when the SQL
// text, parameter type, dialect, target types, split names and grid position
// are all equal. The struct is comparable and is used directly as a map key.
type Identity struct {
	sql     string
	dialect Placeholder
	params  reflect.Type
	target  reflect.Type
	others  [maxTypes - 1]reflect.Type
	splitOn string
	grid    int
	first   bool
	hash    uint64
}

func newIdentity(sql string, ph Placeholder, params any, targets []reflect.Type, splitOn string, grid int, first bool) Identity {
	id := Identity{
		sql:     sql,
		dialect: ph,
		params:  reflect.TypeOf(params),
		splitOn: splitOn,
		grid:    grid,
		first:   first,
	}
	if len(targets) > 0 {
		id.target = targets[0]
		copy(id.others[:], targets[1:])
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(sql))
	_, _ = h.Write([]byte{0})
	for _, t := range targets {
		_, _ = h.Write([]byte(t.String()))
		_, _ = h.Write([]byte{0})
	}
	if id.params != nil {
		_, _ = h.Write([]byte(id.params.String()))
	}
	_, _ = h.Write([]byte(splitOn))
	_, _ = h.Write([]byte(strconv.Itoa(grid)))
	id.hash = h.Sum64()
	return id
}

// Hash returns the identity hash computed at construction.
func (id Identity) Hash() uint64 { return id.hash }

// column is one observed result column.
type column struct {
	name   string // as reported by the driver
	key    string // normalized for matching
	dbType string
	ord    int
}

// readColumns captures the column list of the current result set along with
// its signature: an FNV-1a hash over the count, names and database types.
func readColumns(rows *sql.Rows) ([]column, uint64, error) {
	cts, err := rows.ColumnTypes()
	if err != nil {
		return nil, 0, err
	}
	cols := make([]column, len(cts))
	h := fnv.New64a()
	_, _ = h.Write([]byte(strconv.Itoa(len(cts))))
	for i, ct := range cts {
		cols[i] = column{
			name:   ct.Name(),
			key:    normalizeColAscii(ct.Name()),
			dbType: ct.DatabaseTypeName(),
			ord:    i,
		}
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(cols[i].key))
		_, _ = h.Write([]byte{1})
		_, _ = h.Write([]byte(cols[i].dbType))
	}
	return cols, h.Sum64(), nil
}

func columnNames(cols []column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.name
	}
	return out
}

// normalizeColAscii strips one layer of identifier quoting and lowercases.
func normalizeColAscii(s string) string {
	if l := len(s); l >= 2 {
		switch s[0] {
		case '"':
			if s[l-1] == '"' {
				s = s[1 : l-1]
			}
		case '`':
			if s[l-1] == '`' {
				s = s[1 : l-1]
			}
		case '[':
			if s[l-1] == ']' {
				s = s[1 : l-1]
			}
		}
	}
	return toLowerAscii(s)
}

func toLowerAscii(s string) string {
	var need bool
	for i := 0; i < len(s); i++ {
		c := s[i]
		if 'A' <= c && c <= 'Z' {
			need = true
			break
		}
	}
	if !need {
		return s
	}
	b := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if 'A' <= c && c <= 'Z' {
			c = c + ('a' - 'A')
		}
		b[i] = c
	}
	return string(b)
}

// looseKey drops underscores for the relaxed name match.
func looseKey(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '_' {
			b := make([]byte, 0, len(s))
			for j := 0; j < len(s); j++ {
				if s[j] != '_' {
					b = append(b, s[j])
				}
			}
			return string(b)
		}
	}
	return s
}
