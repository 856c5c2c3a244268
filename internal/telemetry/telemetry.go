// Package telemetry wires the OpenTelemetry meter provider used by every delivery component.
//
// Components obtain meters through otel.Meter; until NewProvider installs an exporting
// provider those meters are no-ops, so packages and tests never need telemetry set up.
package telemetry

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.32.0"
)

const (
	defaultServiceName = "adslot"
	serviceVersion     = "1.0.0"
	defaultEndpoint    = "localhost:4318"
	defaultEnvironment = "sandbox"
)

var environment atomic.Value

// Config holds the exporter and resource settings of a Provider.
type Config struct {
	Enabled          bool
	EnableMetrics    bool
	OTLPEndpoint     string
	OTLPInsecure     bool
	ExportInterval   time.Duration
	ServiceName      string
	ServiceVersion   string
	ServiceNamespace string
	// Environment labels every instrument (sandbox, production).
	Environment string
}

// DefaultConfig reads the standard OTEL_* variables, falling back to ADSLOT_ENV for the environment.
func DefaultConfig() Config {
	return Config{
		Enabled:          os.Getenv("OTEL_ENABLED") != "false",
		EnableMetrics:    os.Getenv("OTEL_METRICS_ENABLED") != "false",
		OTLPEndpoint:     envOr(defaultEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTLPInsecure:     os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true",
		ExportInterval:   30 * time.Second,
		ServiceName:      envOr(defaultServiceName, "OTEL_SERVICE_NAME"),
		ServiceVersion:   serviceVersion,
		ServiceNamespace: strings.TrimSpace(os.Getenv("OTEL_SERVICE_NAMESPACE")),
		Environment:      envOr(defaultEnvironment, "OTEL_RESOURCE_ENVIRONMENT", "ADSLOT_ENV"),
	}
}

// envOr returns the first non-blank variable among keys, or fallback.
func envOr(fallback string, keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return fallback
}

// Provider owns the exporting meter provider. A disabled Provider is valid and exports nothing.
type Provider struct {
	mp  *sdkmetric.MeterProvider
	cfg Config
}

// NewProvider records the metric environment and, when enabled, installs an OTLP/HTTP meter
// provider as the global one.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	SetEnvironment(cfg.Environment)
	p := &Provider{cfg: cfg}
	if !cfg.Enabled || !cfg.EnableMetrics {
		return p, nil
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, err
	}
	mp, err := newMeterProvider(ctx, res, cfg)
	if err != nil {
		return nil, fmt.Errorf("create meter provider: %w", err)
	}
	otel.SetMeterProvider(mp)
	p.mp = mp
	return p, nil
}

// Exporting reports whether metrics leave the process.
func (p *Provider) Exporting() bool { return p != nil && p.mp != nil }

// Meter returns a meter from the exporting provider, or the global meter when disabled.
func (p *Provider) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if !p.Exporting() {
		return otel.Meter(name, opts...)
	}
	return p.mp.Meter(name, opts...)
}

// Shutdown flushes pending metrics and stops the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	if !p.Exporting() {
		return nil
	}
	if err := p.mp.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown meter provider: %w", err)
	}
	return nil
}

func newResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		attribute.String("environment", Environment()),
	}
	if cfg.ServiceNamespace != "" {
		attrs = append(attrs, semconv.ServiceNamespaceKey.String(cfg.ServiceNamespace))
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(attrs...),
		resource.WithProcessRuntimeName(),
		resource.WithProcessRuntimeVersion(),
		resource.WithHost(),
	)
	if err != nil {
		return nil, fmt.Errorf("create telemetry resource: %w", err)
	}
	return res, nil
}

func newMeterProvider(ctx context.Context, res *resource.Resource, cfg Config) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(stripScheme(cfg.OTLPEndpoint))}
	if cfg.OTLPInsecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}

	interval := cfg.ExportInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
		sdkmetric.WithView(createHistogramViews()...),
	), nil
}

// Bucket boundaries in milliseconds, except fetch.attempts.
var histogramBuckets = map[string][]float64{
	"fetch.duration":           {10, 25, 50, 100, 250, 500, 1000, 2000, 4000, 8000, 10000},
	"delivery.render.duration": {50, 100, 250, 500, 1000, 2000, 3000, 5000, 10000, 15000},
	"fetch.attempts":           {1, 2, 3, 4, 5},
}

func createHistogramViews() []sdkmetric.View {
	views := make([]sdkmetric.View, 0, len(histogramBuckets))
	for name, bounds := range histogramBuckets {
		views = append(views, sdkmetric.NewView(
			sdkmetric.Instrument{Name: name, Kind: sdkmetric.InstrumentKindHistogram},
			sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{Boundaries: bounds}},
		))
	}
	return views
}

// stripScheme reduces an endpoint URL to host:port, the form otlpmetrichttp expects.
func stripScheme(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	for _, scheme := range []string{"http://", "https://"} {
		endpoint = strings.TrimPrefix(endpoint, scheme)
	}
	return strings.TrimSuffix(endpoint, "/")
}

// SetEnvironment sets the environment label attached to every instrument.
func SetEnvironment(env string) {
	environment.Store(strings.ToLower(strings.TrimSpace(env)))
}

// Environment returns the environment label, sandbox when unset.
func Environment() string {
	if env, _ := environment.Load().(string); env != "" {
		return env
	}
	return defaultEnvironment
}
