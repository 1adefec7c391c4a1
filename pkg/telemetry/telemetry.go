// Package telemetry wires StrataDB's metrics and traces: an OpenTelemetry
// meter backed by a private Prometheus registry, optionally served on an
// owned /metrics listener. Unlike a fire-and-forget exporter goroutine,
// the listener's lifecycle belongs to the Telemetry value: Shutdown stops
// it and flushes the providers.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

// Config controls the telemetry system.
type Config struct {
	// Enabled toggles telemetry; when false every handle is a no-op.
	Enabled bool `yaml:"enabled"`
	// ServiceName identifies this process in metrics and traces.
	ServiceName string `yaml:"service_name"`
	// MetricsAddr is the host:port to serve /metrics on. Empty keeps the
	// registry in-process only, with no listener.
	MetricsAddr string `yaml:"metrics_addr"`
	// TraceSampleRatio is the fraction of traces to sample; values
	// outside (0, 1] mean always sample.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

// Telemetry owns the configured providers and the optional metrics
// listener. The Meter is what storage components instrument against.
type Telemetry struct {
	Meter  metric.Meter
	Tracer trace.Tracer

	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	server         *http.Server
	serveErr       chan error
}

// New initializes metrics and tracing. A disabled config returns no-op
// handles whose Shutdown does nothing, so callers never branch.
func New(cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{
			Meter:  noopmetric.NewMeterProvider().Meter(""),
			Tracer: nooptrace.NewTracerProvider().Tracer(""),
		}, nil
	}

	res, err := newResource(cfg.ServiceName)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}

	tel := &Telemetry{
		meterProvider: sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(exporter),
		),
		tracerProvider: newTracerProvider(res, cfg.TraceSampleRatio),
	}
	tel.Meter = tel.meterProvider.Meter(cfg.ServiceName)
	tel.Tracer = tel.tracerProvider.Tracer(cfg.ServiceName)

	otel.SetMeterProvider(tel.meterProvider)
	otel.SetTracerProvider(tel.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	if cfg.MetricsAddr != "" {
		tel.serveMetrics(cfg.MetricsAddr, registry)
	}
	return tel, nil
}

// newResource describes this process for every exported signal.
func newResource(serviceName string) (*resource.Resource, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("describing telemetry resource: %w", err)
	}
	return res, nil
}

// newTracerProvider builds the ratio-sampled tracer provider.
func newTracerProvider(res *resource.Resource, ratio float64) *sdktrace.TracerProvider {
	if ratio <= 0 || ratio > 1 {
		ratio = 1.0
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(ratio)),
	)
}

// serveMetrics starts the /metrics listener over the private registry.
// Listen errors surface on Shutdown rather than crashing the process.
func (t *Telemetry) serveMetrics(addr string, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	t.server = &http.Server{Addr: addr, Handler: mux}
	t.serveErr = make(chan error, 1)
	go func() {
		if err := t.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.serveErr <- err
		}
		close(t.serveErr)
	}()
}

// Shutdown stops the metrics listener and flushes both providers. It is
// a no-op for disabled telemetry.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.server != nil {
		if err := t.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stopping metrics listener: %w", err))
		}
		if err := <-t.serveErr; err != nil {
			errs = append(errs, fmt.Errorf("metrics listener failed: %w", err))
		}
	}
	if t.tracerProvider != nil {
		if err := t.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down tracer provider: %w", err))
		}
	}
	if t.meterProvider != nil {
		if err := t.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down meter provider: %w", err))
		}
	}
	return errors.Join(errs...)
}
