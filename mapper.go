package sqlmap

import (
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jmoiron/sqlx/reflectx"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Mapper owns the compiled-accessor caches, the type handler, enum and
// constructor registries, and the settings that shape compilation. A Mapper
// is safe for concurrent use. Package-level functions use Default; tests and
// applications that need isolation create their own with NewMapper and pass
// it through Command.Mapper.
type Mapper struct {
	cache  atomic.Pointer[cacheSet]
	fields *reflectx.Mapper
	tag    string

	dialect    Dialect
	strict     atomic.Bool
	underscore atomic.Bool

	mu       sync.RWMutex
	handlers map[reflect.Type]TypeHandler
	enums    map[reflect.Type]map[string]reflect.Value
	ctors    map[reflect.Type][]*constructor

	logger *slog.Logger
	tel    *telemetry
}

type options struct {
	logger     *slog.Logger
	dialect    Dialect
	strict     bool
	underscore bool
	tag        string
	meters     metric.MeterProvider
	tracers    trace.TracerProvider
}

// Option configures a Mapper.
type Option func(*options)

// WithLogger sets the structured logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithDialect sets the placeholder style and list binding mode.
func WithDialect(d Dialect) Option { return func(o *options) { o.dialect = d } }

// WithStrictNulls makes NULL columns explicitly reset destinations to their
// zero value instead of leaving them untouched.
func WithStrictNulls(on bool) Option { return func(o *options) { o.strict = on } }

// WithUnderscoreMatching lets columns such as first_name match FirstName.
func WithUnderscoreMatching(on bool) Option { return func(o *options) { o.underscore = on } }

// WithTagName sets the struct tag read for column names (default "db").
func WithTagName(tag string) Option { return func(o *options) { o.tag = tag } }

// WithMeterProvider records cache and command metrics on mp.
func WithMeterProvider(mp metric.MeterProvider) Option { return func(o *options) { o.meters = mp } }

// WithTracerProvider emits one span per command on tp.
func WithTracerProvider(tp trace.TracerProvider) Option { return func(o *options) { o.tracers = tp } }

// NewMapper returns a Mapper with empty caches.
func NewMapper(opts ...Option) *Mapper {
	o := options{tag: "db"}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	m := &Mapper{
		fields:   reflectx.NewMapperFunc(o.tag, strings.ToLower),
		tag:      o.tag,
		dialect:  o.dialect,
		handlers: make(map[reflect.Type]TypeHandler),
		enums:    make(map[reflect.Type]map[string]reflect.Value),
		ctors:    make(map[reflect.Type][]*constructor),
		logger:   o.logger,
	}
	m.strict.Store(o.strict)
	m.underscore.Store(o.underscore)
	m.tel = newTelemetry(o.meters, o.tracers, o.logger)
	m.cache.Store(newCacheSet())
	return m
}

// --- package-level lazy default mapper ---

var (
	defaultMapper atomic.Pointer[Mapper]
	defaultOnce   sync.Once
)

// Default returns the process-wide Mapper used when a Command names none.
func Default() *Mapper {
	if m := defaultMapper.Load(); m != nil {
		return m
	}
	defaultOnce.Do(func() { defaultMapper.CompareAndSwap(nil, NewMapper()) })
	return defaultMapper.Load()
}

// SetDefault replaces the process-wide Mapper.
func SetDefault(m *Mapper) {
	if m != nil {
		defaultMapper.Store(m)
	}
}

// ResetCache purges every compiled plan of the default mapper.
func ResetCache() { Default().ResetCache() }

// RegisterTypeHandler installs h for t on the default mapper.
func RegisterTypeHandler(t reflect.Type, h TypeHandler) { Default().RegisterTypeHandler(t, h) }

// SetStrictNulls sets the NULL policy of the default mapper.
func SetStrictNulls(on bool) { Default().SetStrictNulls(on) }

// ResetCache drops all compiled row plans, parameter shapes and parsed
// templates. Calls already holding the previous cache finish with it.
func (m *Mapper) ResetCache() {
	m.cache.Store(newCacheSet())
	m.logger.Debug("sqlmap: compiled accessor cache reset")
}

// SetStrictNulls sets the NULL policy. It applies to the next result set read
// and needs no cache reset.
func (m *Mapper) SetStrictNulls(on bool) { m.strict.Store(on) }

// StrictNulls reports the NULL policy.
func (m *Mapper) StrictNulls() bool { return m.strict.Load() }

// SetUnderscoreMatching toggles underscore-insensitive name matching. Plans
// compiled under the previous setting are purged.
func (m *Mapper) SetUnderscoreMatching(on bool) {
	if m.underscore.Swap(on) != on {
		m.ResetCache()
	}
}

// Dialect returns the placeholder dialect.
func (m *Mapper) Dialect() Dialect { return m.dialect }
