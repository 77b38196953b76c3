// Package observability sets up OpenTelemetry tracing for the API server and
// the evaluator binary. Both export spans over OTLP/gRPC; the resource
// carries the component name so server and worker spans can be told apart.
package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc/credentials"

	"github.com/tbourn/go-alerts-backend/internal/config"
)

// Build identifies the running binary in exported spans.
type Build struct {
	Version    string // semantic version or commit
	Component  string // "server" or "evaluator"
	InstanceID string // worker id; also used for rule leases
}

// Test seams.
var (
	newOTLPClient = otlptracegrpc.NewClient

	newOTLPExporterFn = func(ctx context.Context, client otlptrace.Client) (*otlptrace.Exporter, error) {
		return otlptrace.New(ctx, client)
	}

	newServiceResourceFn = func(ctx context.Context, serviceName string, b Build) (*resource.Resource, error) {
		attrs := []attribute.KeyValue{
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(b.Version),
		}
		if b.InstanceID != "" {
			attrs = append(attrs, semconv.ServiceInstanceID(b.InstanceID))
		}
		if b.Component != "" {
			attrs = append(attrs, attribute.String("alerts.component", b.Component))
		}
		return resource.New(ctx, resource.WithAttributes(attrs...))
	}
)

// SetupOTel configures tracing and returns a shutdown function. When tracing
// is disabled the shutdown is a no-op and globals are left untouched.
func SetupOTel(ctx context.Context, cfg config.OTELConfig, b Build) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	} else {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}

	exp, err := newOTLPExporterFn(ctx, newOTLPClient(opts...))
	if err != nil {
		return nil, err
	}
	res, err := newServiceResourceFn(ctx, cfg.ServiceName, b)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRatio(cfg.SampleRatio)))),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	return tp.Shutdown, nil
}

// sampleRatio clamps r to [0, 1].
func sampleRatio(r float64) float64 {
	return min(max(r, 0), 1)
}
