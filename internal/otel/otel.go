package otel

import (
	"context"
	"sync"

	eventbus "github.com/hanpama/monoquery/internal/eventbus"
	events "github.com/hanpama/monoquery/internal/events"
	reqid "github.com/hanpama/monoquery/internal/reqid"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Setup configures OpenTelemetry and attaches eventbus subscribers.
// If endpoint is empty, no telemetry is configured.
func Setup(endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	unregister := newSubscriber(otel.Tracer("monoquery")).register()

	return func(ctx context.Context) error {
		unregister()
		return tp.Shutdown(ctx)
	}, nil
}

// spanKey identifies the spans of one request, or of one element of a batch.
type spanKey struct {
	rid  int64
	item int
}

func keyOf(ctx context.Context) spanKey {
	rid, _ := reqid.FromContext(ctx)
	return spanKey{rid: rid, item: reqid.Item(ctx)}
}

type subscriber struct {
	tracer     trace.Tracer
	httpSpans  sync.Map // rid -> trace.Span
	querySpans sync.Map // spanKey -> trace.Span
	fetchSpans sync.Map // spanKey -> trace.Span
}

func newSubscriber(tracer trace.Tracer) *subscriber {
	return &subscriber{tracer: tracer}
}

// parent returns ctx carrying the innermost open span of the same request.
func (s *subscriber) parent(ctx context.Context, withQuery bool) context.Context {
	k := keyOf(ctx)
	if withQuery {
		if v, ok := s.querySpans.Load(k); ok {
			return trace.ContextWithSpan(ctx, v.(trace.Span))
		}
	}
	if v, ok := s.httpSpans.Load(k.rid); ok {
		return trace.ContextWithSpan(ctx, v.(trace.Span))
	}
	return ctx
}

func endWithError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (s *subscriber) register() (unregister func()) {
	var unsubs []func()
	add := func(u func()) { unsubs = append(unsubs, u) }

	add(eventbus.Subscribe(func(ctx context.Context, e events.HTTPStart) {
		rid, _ := reqid.FromContext(ctx)
		_, span := s.tracer.Start(ctx, "http.request")
		span.SetAttributes(
			semconv.HTTPMethodKey.String(e.Request.Method),
			attribute.String("http.target", e.Request.URL.Path),
		)
		s.httpSpans.Store(rid, span)
	}))

	add(eventbus.Subscribe(func(ctx context.Context, e events.HTTPFinish) {
		rid, _ := reqid.FromContext(ctx)
		v, ok := s.httpSpans.LoadAndDelete(rid)
		if !ok {
			return
		}
		span := v.(trace.Span)
		span.SetAttributes(semconv.HTTPStatusCodeKey.Int(e.Status))
		span.End()
	}))

	add(eventbus.Subscribe(func(ctx context.Context, e events.QueryStart) {
		_, span := s.tracer.Start(s.parent(ctx, false), "monoquery.query")
		span.SetAttributes(
			attribute.String("graphql.operation.name", e.OperationName),
			attribute.String("graphql.operation.type", e.OperationType),
			attribute.Int("monoquery.fragments", e.Fragments),
		)
		s.querySpans.Store(keyOf(ctx), span)
	}))

	add(eventbus.Subscribe(func(ctx context.Context, e events.QueryFinish) {
		v, ok := s.querySpans.LoadAndDelete(keyOf(ctx))
		if !ok {
			return
		}
		endWithError(v.(trace.Span), e.Err)
	}))

	add(eventbus.Subscribe(func(ctx context.Context, e events.FetchStart) {
		_, span := s.tracer.Start(s.parent(ctx, true), "monoquery.fetch", trace.WithSpanKind(trace.SpanKindClient))
		span.SetAttributes(
			attribute.String("http.url", e.Endpoint),
			attribute.String("graphql.operation.name", e.OperationName),
		)
		s.fetchSpans.Store(keyOf(ctx), span)
	}))

	add(eventbus.Subscribe(func(ctx context.Context, e events.FetchFinish) {
		v, ok := s.fetchSpans.LoadAndDelete(keyOf(ctx))
		if !ok {
			return
		}
		span := v.(trace.Span)
		if e.Status != 0 {
			span.SetAttributes(semconv.HTTPStatusCodeKey.Int(e.Status))
		}
		endWithError(span, e.Err)
	}))

	// Splitting runs synchronously, so it is recorded as a finished span.
	add(eventbus.Subscribe(func(ctx context.Context, e events.SplitFinish) {
		_, span := s.tracer.Start(s.parent(ctx, false), "monoquery.split")
		span.SetAttributes(
			attribute.Int("monoquery.fragments", e.Fragments),
			attribute.Int("monoquery.fragments_found", e.Found),
			attribute.Int("monoquery.indices_consumed", e.IndicesConsumed),
		)
		endWithError(span, e.Err)
	}))

	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}
