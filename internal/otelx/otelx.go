// Package otelx configures the global OpenTelemetry tracer provider for
// sitepack commands.
package otelx

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/keithlinneman/pdfsplit-web/internal/xerrors"
)

// ShutdownTimeout bounds the final span flush; pack runs are short and must
// not hang on an absent collector.
const ShutdownTimeout = 5 * time.Second

type Options struct {
	Enabled   bool
	Endpoint  string
	Sample    float64
	Service   string
	Component string
	Version   string
}

// ShutdownFunc flushes and stops the provider.
type ShutdownFunc func(context.Context) error

// Init installs a tracer provider and propagators. When disabled the SDK
// provider still runs with no exporter so spans created by publish and the
// preview server stay valid.
func Init(ctx context.Context, o Options) (ShutdownFunc, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	if !o.Enabled {
		otel.SetTracerProvider(sdktrace.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	endpoint, insecure, err := ParseEndpoint(o.Endpoint)
	if err != nil {
		return nil, err
	}
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
	if insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	dialCtx, dialCancel := context.WithTimeout(ctx, 3*time.Second)
	defer dialCancel()
	exp, err := otlptracegrpc.New(dialCtx, opts...)
	if err != nil {
		return nil, xerrors.Wrapf(err, "create otlp exporter for %s", endpoint)
	}

	// partial resources are fine; detectors fail on minimal CI images
	res, _ := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName(o.Service, o.Component)),
			semconv.ServiceVersionKey.String(o.Version),
		),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(
			sdktrace.TraceIDRatioBased(clampSample(o.Sample)),
		)),
		sdktrace.WithBatcher(exp,
			sdktrace.WithMaxQueueSize(512),
			sdktrace.WithBatchTimeout(time.Second),
		),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, ShutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			return xerrors.Wrap(err, "flush traces")
		}
		return nil
	}, nil
}

// ParseEndpoint accepts host:port or an http(s):// URL. Plain host:port and
// http:// dial without TLS.
func ParseEndpoint(raw string) (hostport string, insecure bool, err error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return "", false, xerrors.New("otlp endpoint is required when tracing is enabled")
	case strings.HasPrefix(raw, "https://"):
		hostport, insecure = strings.TrimPrefix(raw, "https://"), false
	case strings.HasPrefix(raw, "http://"):
		hostport, insecure = strings.TrimPrefix(raw, "http://"), true
	case strings.Contains(raw, "://"):
		return "", false, xerrors.Newf("unsupported otlp endpoint scheme: %q", raw)
	default:
		hostport, insecure = raw, true
	}
	hostport = strings.TrimSuffix(hostport, "/")
	if hostport == "" || strings.Contains(hostport, "/") {
		return "", false, xerrors.Newf("otlp endpoint must be host:port, got %q", raw)
	}
	return hostport, insecure, nil
}

func serviceName(service, component string) string {
	if component == "" {
		return service
	}
	return service + "." + component
}

func clampSample(s float64) float64 {
	switch {
	case s < 0:
		return 0
	case s > 1:
		return 1
	}
	return s
}
