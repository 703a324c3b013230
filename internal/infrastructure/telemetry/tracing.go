package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope of every span started here
const TracerName = "opscore"

// Span attribute keys shared by the Sapo and Shopee clients and the jobs
// that drive them.
const (
	AttrSession     = attribute.Key("sapo.session")
	AttrHTTPMethod  = attribute.Key("http.method")
	AttrHTTPPath    = attribute.Key("http.path")
	AttrHTTPStatus  = attribute.Key("http.status_code")
	AttrAttempt     = attribute.Key("retry.attempt")
	AttrRetryReason = attribute.Key("retry.reason")
	AttrOrderID     = attribute.Key("order_id")
	AttrShop        = attribute.Key("shopee.shop")
	AttrRunID       = attribute.Key("express.run_id")
	AttrLimit       = attribute.Key("express.limit")
	AttrOrdersCount = attribute.Key("orders.count")
)

// StartSpan starts an internal span; the caller ends it.
//
//	ctx, span := telemetry.StartSpan(ctx, "promotion.refresh")
//	defer span.End()
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return start(ctx, name, trace.SpanKindInternal, attrs)
}

// StartClientSpan starts a span for an outbound call to system, named
// "system.operation".
func StartClientSpan(ctx context.Context, system, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return start(ctx, system+"."+operation, trace.SpanKindClient, attrs)
}

func start(ctx context.Context, name string, kind trace.SpanKind, attrs []attribute.KeyValue) (context.Context, trace.Span) {
	opts := []trace.SpanStartOption{trace.WithSpanKind(kind)}
	if len(attrs) > 0 {
		opts = append(opts, trace.WithAttributes(attrs...))
	}
	return otel.GetTracerProvider().Tracer(TracerName).Start(ctx, name, opts...)
}

// RecordError marks span failed with err. A nil err is ignored.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
