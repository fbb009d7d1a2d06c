package sqlmap

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/go-mizu/sqlmap"

// telemetry holds the metric instruments and tracer of a Mapper.
type telemetry struct {
	tracer   trace.Tracer
	hits     metric.Int64Counter
	misses   metric.Int64Counter
	compiles metric.Int64Counter
	duration metric.Float64Histogram
}

func newTelemetry(mp metric.MeterProvider, tp trace.TracerProvider, logger *slog.Logger) *telemetry {
	if mp == nil {
		mp = metricnoop.NewMeterProvider()
	}
	if tp == nil {
		tp = tracenoop.NewTracerProvider()
	}
	meter := mp.Meter(instrumentationName)
	noop := metricnoop.NewMeterProvider().Meter(instrumentationName)

	t := &telemetry{tracer: tp.Tracer(instrumentationName)}

	var err error
	if t.hits, err = meter.Int64Counter("sqlmap.cache.hits",
		metric.WithDescription("Row plan cache hits"),
		metric.WithUnit("{lookup}"),
	); err != nil {
		logger.Warn("sqlmap: failed to create cache hit counter", "error", err)
		t.hits, _ = noop.Int64Counter("sqlmap.cache.hits")
	}
	if t.misses, err = meter.Int64Counter("sqlmap.cache.misses",
		metric.WithDescription("Row plan cache misses, including signature changes"),
		metric.WithUnit("{lookup}"),
	); err != nil {
		logger.Warn("sqlmap: failed to create cache miss counter", "error", err)
		t.misses, _ = noop.Int64Counter("sqlmap.cache.misses")
	}
	if t.compiles, err = meter.Int64Counter("sqlmap.plan.compiles",
		metric.WithDescription("Compiled row plans"),
		metric.WithUnit("{plan}"),
	); err != nil {
		logger.Warn("sqlmap: failed to create compile counter", "error", err)
		t.compiles, _ = noop.Int64Counter("sqlmap.plan.compiles")
	}
	if t.duration, err = meter.Float64Histogram("sqlmap.command.duration",
		metric.WithDescription("Command latency including materialization"),
		metric.WithUnit("ms"),
	); err != nil {
		logger.Warn("sqlmap: failed to create duration histogram", "error", err)
		t.duration, _ = noop.Float64Histogram("sqlmap.command.duration")
	}
	return t
}

func (t *telemetry) hit(ctx context.Context)  { t.hits.Add(ctx, 1) }
func (t *telemetry) miss(ctx context.Context) { t.misses.Add(ctx, 1) }

func (t *telemetry) compiled(ctx context.Context, kind string) {
	t.compiles.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (t *telemetry) start(ctx context.Context, op, sql string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "sqlmap."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.operation", op),
			attribute.String("db.statement", sql),
		),
	)
}

func (t *telemetry) finish(ctx context.Context, span trace.Span, op string, start time.Time, err error) {
	elapsed := float64(time.Since(start).Microseconds()) / 1000.0
	t.duration.Record(context.WithoutCancel(ctx), elapsed, metric.WithAttributes(
		attribute.String("op", op),
		attribute.Bool("error", err != nil),
	))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
