// Package tracing records one OpenTelemetry span per task run. Spans of
// preempting tasks nest under the span they preempted.
package tracing

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"srprt/internal/sched"
)

const instrumentation = "srprt/internal/tracing"

// Provider is a tracer provider that owns the file its exporter writes to.
type Provider struct {
	*sdktrace.TracerProvider
	out io.Closer
}

// Shutdown flushes pending spans, then closes the output file.
func (p *Provider) Shutdown(ctx context.Context) error {
	err := p.TracerProvider.Shutdown(ctx)
	if p.out != nil {
		if cerr := p.out.Close(); err == nil {
			err = cerr
		}
		p.out = nil
	}
	return err
}

// NewProvider builds a tracer provider writing to the stdout exporter. If
// outputFile is empty traces go to os.Stdout. The caller owns Shutdown.
func NewProvider(serviceName string, runID uuid.UUID, outputFile string) (*Provider, error) {
	p := &Provider{}
	var w io.Writer = os.Stdout
	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			return nil, err
		}
		w, p.out = f, f
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err == nil {
		p.TracerProvider, err = NewProviderWithExporter(serviceName, runID, exporter)
	}
	if err != nil {
		if p.out != nil {
			p.out.Close()
		}
		return nil, err
	}
	return p, nil
}

// NewProviderWithExporter is NewProvider for any SpanExporter.
func NewProviderWithExporter(serviceName string, runID uuid.UUID, exporter sdktrace.SpanExporter) (*sdktrace.TracerProvider, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.instance.id", runID.String()),
		),
	)
	if err != nil {
		return nil, err
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
		sdktrace.WithResource(res),
	), nil
}

// Observer turns dispatch/finish pairs into spans. It is a sched.Observer.
type Observer struct {
	tracer trace.Tracer

	mu    sync.Mutex
	stack []active // one per nested run, innermost last
}

type active struct {
	ctx  context.Context
	span trace.Span
}

var _ sched.Observer = (*Observer)(nil)

// NewObserver traces with a tracer from tp.
func NewObserver(tp trace.TracerProvider) *Observer {
	return &Observer{tracer: tp.Tracer(instrumentation)}
}

func (o *Observer) Observe(ev sched.StatusEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	attrs := []attribute.KeyValue{
		attribute.String("task.name", ev.Task),
		attribute.Int("task.id", int(ev.TaskID)),
		attribute.Int("task.priority", int(ev.Priority)),
		attribute.Int("task.slot", ev.Slot),
		attribute.Int64("monotonic.tick", int64(ev.Tick)),
	}

	switch ev.Kind {
	case sched.StatusDispatch:
		ctx, span := o.tracer.Start(o.parent(), ev.Task,
			trace.WithTimestamp(ev.Time),
			trace.WithAttributes(attrs...),
		)
		o.stack = append(o.stack, active{ctx: ctx, span: span})

	case sched.StatusFinish, sched.StatusSuspend:
		if len(o.stack) == 0 {
			return
		}
		top := o.stack[len(o.stack)-1]
		o.stack = o.stack[:len(o.stack)-1]
		if ev.Kind == sched.StatusSuspend {
			top.span.AddEvent("suspend", trace.WithTimestamp(ev.Time))
		}
		top.span.SetAttributes(attribute.Int64("monotonic.end_tick", int64(ev.Tick)))
		top.span.SetStatus(codes.Ok, "")
		top.span.End(trace.WithTimestamp(ev.Time))

	case sched.StatusReject:
		_, span := o.tracer.Start(o.parent(), "reject "+ev.Task,
			trace.WithTimestamp(ev.Time),
			trace.WithAttributes(attrs...),
		)
		span.RecordError(sched.ErrCapacity)
		span.SetStatus(codes.Error, sched.ErrCapacity.Error())
		span.End(trace.WithTimestamp(ev.Time))

	default:
		if len(o.stack) > 0 {
			o.stack[len(o.stack)-1].span.AddEvent(ev.Kind.String(),
				trace.WithTimestamp(ev.Time),
				trace.WithAttributes(attrs...),
			)
		}
	}
}

func (o *Observer) parent() context.Context {
	if len(o.stack) == 0 {
		return context.Background()
	}
	return o.stack[len(o.stack)-1].ctx
}
