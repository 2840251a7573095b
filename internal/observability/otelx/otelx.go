// Package otelx installs the OTLP tracer provider behind the reddit fetch
// spans and exposes the tracers the service uses.
package otelx

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/bakkerme/mini-reddit/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultServiceName = "mini-reddit"

	protocolGRPC = "grpc"
	protocolHTTP = "http/protobuf"

	// RedditScope names the tracer around reddit API fetches.
	RedditScope = "github.com/bakkerme/mini-reddit/internal/sources/reddit"
)

// ShutdownFunc flushes pending spans and stops the tracer provider.
type ShutdownFunc func(context.Context) error

// Upstream describes the reddit endpoint the process talks to. It ends up on
// the resource so every exported span says which upstream it measured.
type Upstream struct {
	BaseURL   string
	UserAgent string
}

func (u Upstream) attributes() []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if u.BaseURL != "" {
		attrs = append(attrs, attribute.String("reddit.base_url", u.BaseURL))
	}
	if u.UserAgent != "" {
		attrs = append(attrs, attribute.String("reddit.user_agent", u.UserAgent))
	}
	return attrs
}

// Tracer returns the tracer for scope from the global provider. Before Init,
// or with tracing disabled, it is a no-op tracer.
func Tracer(scope string) trace.Tracer {
	return otel.Tracer(scope)
}

// Init sets up span export for the fetchers. Disabled tracing leaves the
// global no-op provider in place.
func Init(ctx context.Context, logger *slog.Logger, cfg config.OTelEnvConfig, upstream Upstream) (ShutdownFunc, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.Enabled {
		logger.Debug("tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = defaultServiceName
	}
	ratio := math.Min(math.Max(cfg.SampleRatio, 0), 1)
	protocol := protocolOrDefault(cfg)
	endpoint := endpointOrDefault(cfg)

	exporter, err := newExporter(ctx, protocol, endpoint, cfg)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	attrs := append([]attribute.KeyValue{semconv.ServiceName(name)}, upstream.attributes()...)
	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(attrs...),
	)
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(2*time.Second)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		logger.Warn("span export failed", "error", err)
	}))

	logger.Info("tracing enabled", "service", name, "protocol", protocol, "endpoint", endpoint, "sample_ratio", ratio, "reddit_base_url", upstream.BaseURL)
	return provider.Shutdown, nil
}

func newExporter(ctx context.Context, protocol, endpoint string, cfg config.OTelEnvConfig) (*otlptrace.Exporter, error) {
	switch protocol {
	case protocolHTTP:
		var opts []otlptracehttp.Option
		if strings.Contains(endpoint, "://") {
			opts = append(opts, otlptracehttp.WithEndpointURL(endpoint))
		} else {
			opts = append(opts, otlptracehttp.WithEndpoint(endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
		}
		return otlptracehttp.New(ctx, opts...)
	case protocolGRPC:
		host, err := grpcHost(endpoint)
		if err != nil {
			return nil, err
		}
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(host)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
		}
		return otlptracegrpc.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported OTEL_EXPORTER_OTLP_PROTOCOL %q (want %s or %s)", protocol, protocolGRPC, protocolHTTP)
	}
}

// grpcHost strips the scheme from a URL-style endpoint; the grpc exporter
// wants host:port.
func grpcHost(endpoint string) (string, error) {
	if !strings.Contains(endpoint, "://") {
		return endpoint, nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse OTEL_EXPORTER_OTLP_ENDPOINT: %w", err)
	}
	return u.Host, nil
}

func endpointOrDefault(cfg config.OTelEnvConfig) string {
	if v := strings.TrimSpace(cfg.Endpoint); v != "" {
		return v
	}
	if protocolOrDefault(cfg) == protocolHTTP {
		return "localhost:4318"
	}
	return "localhost:4317"
}

func protocolOrDefault(cfg config.OTelEnvConfig) string {
	switch v := strings.ToLower(strings.TrimSpace(cfg.Protocol)); v {
	case "":
		return protocolGRPC
	case "http":
		return protocolHTTP
	default:
		return v
	}
}
