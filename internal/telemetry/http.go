package telemetry

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	// HTTPInstrumentationName names the tracer and meter of served HTTP routes
	HTTPInstrumentationName = "github.com/aviregistry/operator-ingest/http"

	unknownRoute = "unknown_route"
)

// HTTPMiddleware returns chi middleware that traces and measures every
// request. Nil providers disable the corresponding signal.
func HTTPMiddleware(tp trace.TracerProvider, mp metric.MeterProvider) (func(http.Handler) http.Handler, error) {
	var (
		tracer   trace.Tracer
		duration metric.Float64Histogram
		total    metric.Int64Counter
	)

	if tp != nil {
		tracer = tp.Tracer(HTTPInstrumentationName)
	}
	if mp != nil {
		meter := mp.Meter(HTTPInstrumentationName)

		var err error
		duration, err = meter.Float64Histogram(
			"operator_ingest_http_request_duration_seconds",
			metric.WithDescription("Duration of served HTTP requests in seconds"),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5),
		)
		if err != nil {
			return nil, err
		}
		total, err = meter.Int64Counter(
			"operator_ingest_http_requests_total",
			metric.WithDescription("Total number of served HTTP requests"),
			metric.WithUnit("{request}"),
		)
		if err != nil {
			return nil, err
		}
	}

	propagator := otel.GetTextMapPropagator()

	return func(next http.Handler) http.Handler {
		if tracer == nil && duration == nil {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			var span trace.Span
			if tracer != nil {
				ctx = propagator.Extract(ctx, propagation.HeaderCarrier(r.Header))
				ctx, span = tracer.Start(ctx, fmt.Sprintf("%s %s", r.Method, r.URL.Path),
					trace.WithSpanKind(trace.SpanKindServer),
					trace.WithAttributes(
						semconv.HTTPRequestMethodKey.String(r.Method),
						semconv.URLPath(r.URL.Path),
					),
				)
				defer span.End()
			}

			next.ServeHTTP(ww, r.WithContext(ctx))

			// chi fills in the pattern while routing
			route := routePattern(r)
			status := ww.Status()

			if span != nil {
				span.SetName(fmt.Sprintf("%s %s", r.Method, route))
				span.SetAttributes(
					semconv.HTTPRouteKey.String(route),
					semconv.HTTPResponseStatusCode(status),
				)
				if status >= http.StatusBadRequest {
					span.SetStatus(codes.Error, http.StatusText(status))
				}
			}

			if duration != nil {
				attrs := metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("route", route),
					attribute.String("status_code", strconv.Itoa(status)),
				)
				duration.Record(ctx, time.Since(start).Seconds(), attrs)
				total.Add(ctx, 1, attrs)
			}
		})
	}, nil
}

// routePattern returns the matched chi route. Unmatched requests share one
// value to keep attribute cardinality bounded.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return unknownRoute
}
