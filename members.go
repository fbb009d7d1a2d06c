package sqlmap

import (
	"reflect"
	"strings"

	"github.com/jmoiron/sqlx/reflectx"
)

// member is one addressable leaf of a struct: a field the mapper reads from
// or writes to as a single column or parameter.
type member struct {
	name  string // field name or tag name as declared
	key   string // lowercased, dotted for named nested structs
	index []int
	typ   reflect.Type
}

type structIndex struct {
	members []*member // declaration order, shallower fields first
	byKey   map[string]*member
	byLoose map[string]*member
}

// lookup finds the member for a normalized column key, falling back to the
// underscore-insensitive match when loose is set.
func (si *structIndex) lookup(key string, loose bool) (*member, bool) {
	if mb, ok := si.byKey[key]; ok {
		return mb, true
	}
	if loose {
		mb, ok := si.byLoose[looseKey(key)]
		return mb, ok
	}
	return nil, false
}

// buildStructIndex walks the reflectx field tree of t. Fields tagged
// `db:"-"` and unexported fields are skipped; anonymous structs and fields
// tagged `,inline` are flattened; other nested structs are reachable as
// "parent.child"; leaf types (scalars, Scanners, time.Time, handled types)
// are never descended into.
func (m *Mapper) buildStructIndex(t reflect.Type) *structIndex {
	si := &structIndex{
		byKey:   make(map[string]*member),
		byLoose: make(map[string]*member),
	}
	sm := m.fields.TypeMap(t)

	for _, fi := range sm.Index {
		chain := ancestry(fi)
		if len(chain) == 0 {
			continue
		}
		leaf := true
		var parts []string
		for i, node := range chain {
			last := i == len(chain)-1
			name, inline := m.fieldName(node)
			if node.Field.PkgPath != "" && node.Field.Type.Kind() == reflect.Pointer {
				leaf = false // unexported embedded pointer cannot be allocated
				break
			}
			if !last && m.isLeafType(node.Field.Type) {
				leaf = false // inside a leaf such as sql.NullString
				break
			}
			if last && !m.isLeafType(node.Field.Type) && reflectx.Deref(node.Field.Type).Kind() == reflect.Struct {
				leaf = false // container; its children are indexed on their own
				break
			}
			if inline || (node.Embedded && node.Field.Tag.Get(m.tag) == "") {
				if !last {
					continue
				}
			}
			parts = append(parts, name)
		}
		if !leaf || len(parts) == 0 {
			continue
		}
		key := strings.ToLower(strings.Join(parts, "."))
		mb := &member{name: parts[len(parts)-1], key: key, index: fi.Index, typ: fi.Field.Type}
		if _, dup := si.byKey[key]; dup {
			continue // shallower field wins, as with Go field promotion
		}
		si.byKey[key] = mb
		if lk := looseKey(key); si.byLoose[lk] == nil {
			si.byLoose[lk] = mb
		}
		si.members = append(si.members, mb)
	}
	return si
}

// ancestry returns the field chain from the outermost field down to fi,
// excluding the reflectx root.
func ancestry(fi *reflectx.FieldInfo) []*reflectx.FieldInfo {
	var chain []*reflectx.FieldInfo
	for n := fi; n != nil && len(n.Index) > 0; n = n.Parent {
		chain = append(chain, n)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

func (m *Mapper) fieldName(fi *reflectx.FieldInfo) (string, bool) {
	name, inline, _ := parseTag(fi.Field.Tag.Get(m.tag))
	if name == "" {
		name = fi.Field.Name
	}
	return name, inline
}

// isLeafType reports whether values of t map to a single column.
func (m *Mapper) isLeafType(t reflect.Type) bool {
	if m.handler(t) != nil || implementsScanner(t) {
		return true
	}
	bt := derefPtr(t)
	if m.handler(bt) != nil || implementsScanner(bt) {
		return true
	}
	switch bt.Kind() {
	case reflect.Struct:
		return bt == timeType
	case reflect.Interface, reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return false
	}
	return true
}

// parseTag supports: "-", "col", ",inline", "col,inline", "inline,col".
func parseTag(tag string) (name string, inline bool, omit bool) {
	if tag == "-" {
		return "", false, true
	}
	if tag == "" {
		return "", false, false
	}
	start := 0
	for i := 0; i <= len(tag); i++ {
		if i == len(tag) || tag[i] == ',' {
			part := tag[start:i]
			if part == "inline" {
				inline = true
			} else if part != "" && name == "" {
				name = part
			}
			start = i + 1
		}
	}
	return name, inline, false
}

// fieldByIndexRead walks index without allocating. A nil pointer on the way
// yields an invalid Value.
func fieldByIndexRead(v reflect.Value, index []int) reflect.Value {
	for _, i := range index {
		for v.Kind() == reflect.Pointer {
			if v.IsNil() {
				return reflect.Value{}
			}
			v = v.Elem()
		}
		v = v.Field(i)
	}
	return v
}
