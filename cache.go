package sqlmap

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"
)

// cacheSet groups every compiled accessor. ResetCache swaps the whole set, so
// a reader never sees plans from two generations.
type cacheSet struct {
	readers   sync.Map // Identity -> *readerEntry
	shapes    sync.Map // reflect.Type -> *paramShape
	structs   sync.Map // reflect.Type -> *structIndex
	templates sync.Map // string -> *template
}

func newCacheSet() *cacheSet { return &cacheSet{} }

// readerEntry is the slot for one Identity. The compiled reader is swapped in
// place when the column signature changes.
type readerEntry struct {
	cur atomic.Pointer[compiledReader]
}

type compiledReader struct {
	sig  uint64
	plan any // *rowPlan or *splitPlan
}

// readerPlan returns the compiled plan for id, recompiling when the live
// column signature differs from the cached one. Concurrent first compiles may
// both run; the last store wins and only finished plans are published.
func (m *Mapper) readerPlan(ctx context.Context, id Identity, sig uint64, noCache bool, compile func() (any, error)) (any, error) {
	if noCache {
		return compile()
	}
	cs := m.cache.Load()
	v, ok := cs.readers.Load(id)
	if !ok {
		v, _ = cs.readers.LoadOrStore(id, &readerEntry{})
	}
	e := v.(*readerEntry)
	if cur := e.cur.Load(); cur != nil {
		if cur.sig == sig {
			m.tel.hit(ctx)
			return cur.plan, nil
		}
		m.logger.Debug("sqlmap: column signature changed",
			"identity", id.hash, "old", cur.sig, "new", sig, "sql", snippet(id.sql))
	}
	m.tel.miss(ctx)

	plan, err := compile()
	if err != nil {
		return nil, err
	}
	e.cur.Store(&compiledReader{sig: sig, plan: plan})
	return plan, nil
}

// structIndexOf returns the member index for a struct type.
func (m *Mapper) structIndexOf(t reflect.Type) *structIndex {
	cs := m.cache.Load()
	if v, ok := cs.structs.Load(t); ok {
		return v.(*structIndex)
	}
	si := m.buildStructIndex(t)
	cs.structs.Store(t, si)
	return si
}

// shapeOf returns the compiled parameter shape for a struct type. Shapes are
// never invalidated except by ResetCache.
func (m *Mapper) shapeOf(t reflect.Type) *paramShape {
	cs := m.cache.Load()
	if v, ok := cs.shapes.Load(t); ok {
		return v.(*paramShape)
	}
	ps := m.compileShape(t)
	cs.shapes.Store(t, ps)
	return ps
}

// templateOf returns the parsed form of sql. Parse errors are not cached.
func (m *Mapper) templateOf(sql string) (*template, error) {
	cs := m.cache.Load()
	if v, ok := cs.templates.Load(sql); ok {
		return v.(*template), nil
	}
	t, err := parseTemplate(sql)
	if err != nil {
		return nil, err
	}
	cs.templates.Store(sql, t)
	return t, nil
}
