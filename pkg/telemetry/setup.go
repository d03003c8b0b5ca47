package telemetry

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
)

// Configures OpenTelemetry for the client and installs the global trace
// provider. The OTLP exporter wins if both exporters are configured.
func SetupTelemetry(config Config) (*tracesdk.TracerProvider, error) {
	res, err := newResource(config.ID)
	if err != nil {
		return nil, err
	}

	exporter, err := newExporter(config)
	if err != nil {
		return nil, err
	}

	tp := tracesdk.NewTracerProvider(
		tracesdk.WithSampler(tracesdk.AlwaysSample()),
		tracesdk.WithBatcher(exporter),
		tracesdk.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	tracer = otel.Tracer(PACKAGE)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp, nil
}

func newExporter(config Config) (tracesdk.SpanExporter, error) {
	if config.OTLP.Host != "" {
		options := []otlptracehttp.Option{otlptracehttp.WithEndpoint(config.OTLP.Host)}
		if !config.OTLP.Secure {
			options = append(options, otlptracehttp.WithInsecure())
		}

		return otlptrace.New(context.Background(), otlptracehttp.NewClient(options...))
	}

	return jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(config.JaegerURL)))
}

// Creates a new resource to identify this client instance.
func newResource(id string) (*resource.Resource, error) {
	if id == "" {
		random, err := uuid.NewRandom()
		if err != nil {
			return nil, err
		}
		id = random.String()
	}

	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(PACKAGE),
		attribute.String("ID", id),
	), nil
}
