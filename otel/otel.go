// Package orbitalotel provides OpenTelemetry instrumentation for orbital
// protocols. It implements the [orbital.DispatchHook] interface to add tracing
// and metrics to inbound call dispatch.
//
// Usage:
//
//	p := orbital.NewProtocol()
//	// ... register endpoints ...
//	orbitalotel.Instrument(p, orbitalotel.DefaultConfig())
package orbitalotel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/richinsley/orbital"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "orbital"

// Config configures OpenTelemetry instrumentation for a protocol.
type Config struct {
	// TracerProvider supplies the tracer. Defaults to otel.GetTracerProvider().
	TracerProvider trace.TracerProvider
	// MeterProvider supplies the meter. Defaults to otel.GetMeterProvider().
	MeterProvider metric.MeterProvider
	// EnableTracing enables span creation. Default true.
	EnableTracing bool
	// EnableMetrics enables counter and histogram recording. Default true.
	EnableMetrics bool
	// RecordExceptions calls RecordError on the span for failed dispatches.
	// Default true.
	RecordExceptions bool
	// ServiceName is the rpc.service attribute value. Defaults to "orbital".
	ServiceName string
	// CustomAttributes are added to every span.
	CustomAttributes []attribute.KeyValue
}

// DefaultConfig returns a Config with tracing, metrics and exception
// recording enabled. Providers are resolved from the global SDK when the hook
// is built.
func DefaultConfig() Config {
	return Config{
		EnableTracing:    true,
		EnableMetrics:    true,
		RecordExceptions: true,
	}
}

// NewHook builds the dispatch hook described by cfg.
func NewHook(cfg Config) orbital.DispatchHook {
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "orbital"
	}

	hook := &otelHook{
		cfg:    cfg,
		tracer: cfg.TracerProvider.Tracer(instrumentationName),
	}

	if cfg.EnableMetrics {
		meter := cfg.MeterProvider.Meter(instrumentationName)
		hook.requestCounter, _ = meter.Int64Counter("rpc.server.requests",
			metric.WithUnit("{request}"),
			metric.WithDescription("Number of inbound calls"),
		)
		hook.durationHistogram, _ = meter.Float64Histogram("rpc.server.duration",
			metric.WithUnit("s"),
			metric.WithDescription("Duration of inbound calls"),
		)
	}
	return hook
}

// Instrument attaches OpenTelemetry instrumentation to p.
// The hook is installed via [orbital.Protocol.SetDispatchHook].
func Instrument(p *orbital.Protocol, cfg Config) {
	p.SetDispatchHook(NewHook(cfg))
}

// Option returns a protocol option installing the hook.
func Option(cfg Config) orbital.Option {
	return orbital.WithDispatchHook(NewHook(cfg))
}

// otelHook implements orbital.DispatchHook with OpenTelemetry tracing and
// metrics.
type otelHook struct {
	cfg               Config
	tracer            trace.Tracer
	requestCounter    metric.Int64Counter
	durationHistogram metric.Float64Histogram
}

// spanToken is the HookToken returned by OnDispatchStart.
type spanToken struct {
	span      trace.Span
	startTime time.Time
}

// OnDispatchStart starts a server span named after the endpoint.
func (h *otelHook) OnDispatchStart(ctx context.Context, info orbital.DispatchInfo) (context.Context, orbital.HookToken) {
	if !h.cfg.EnableTracing {
		return ctx, &spanToken{startTime: time.Now()}
	}

	attrs := []attribute.KeyValue{
		attribute.String("rpc.system", "orbital"),
		attribute.String("rpc.service", h.cfg.ServiceName),
		attribute.String("rpc.method", info.Endpoint),
		attribute.Int64("rpc.orbital.seq_id", int64(info.SeqID)),
		attribute.Bool("rpc.orbital.correlated", info.Correlated),
		attribute.Int("rpc.orbital.args", info.Args),
		attribute.Int("rpc.orbital.arg_bytes", info.ArgBytes),
	}
	if info.Transport != "" {
		attrs = append(attrs, attribute.String("rpc.orbital.pipe", info.Transport))
	}
	attrs = append(attrs, h.cfg.CustomAttributes...)

	ctx, span := h.tracer.Start(ctx, fmt.Sprintf("orbital/%s", info.Endpoint),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrs...),
	)
	return ctx, &spanToken{span: span, startTime: time.Now()}
}

// OnDispatchEnd records metrics and ends the span.
func (h *otelHook) OnDispatchEnd(ctx context.Context, token orbital.HookToken, info orbital.DispatchInfo, err error) {
	st, ok := token.(*spanToken)
	if !ok {
		return
	}
	duration := time.Since(st.startTime)

	status := "ok"
	if err != nil {
		status = "error"
	}

	if h.cfg.EnableMetrics {
		metricAttrs := metric.WithAttributes(
			attribute.String("rpc.system", "orbital"),
			attribute.String("rpc.service", h.cfg.ServiceName),
			attribute.String("rpc.method", info.Endpoint),
			attribute.String("status", status),
		)
		if h.requestCounter != nil {
			h.requestCounter.Add(ctx, 1, metricAttrs)
		}
		if h.durationHistogram != nil {
			h.durationHistogram.Record(ctx, duration.Seconds(), metricAttrs)
		}
	}

	if st.span == nil {
		return
	}
	if st.span.IsRecording() {
		if err != nil {
			st.span.SetStatus(codes.Error, err.Error())
			if h.cfg.RecordExceptions {
				st.span.RecordError(err)
			}
			st.span.SetAttributes(attribute.String("rpc.orbital.error_type", errorType(err)))
		} else {
			st.span.SetStatus(codes.Ok, "")
		}
	}
	st.span.End()
}

func errorType(err error) string {
	var herr *orbital.HandlerError
	if errors.As(err, &herr) {
		if herr.Panic != nil {
			return "panic"
		}
		if herr.Err != nil {
			return fmt.Sprintf("%T", herr.Err)
		}
	}
	return fmt.Sprintf("%T", err)
}
