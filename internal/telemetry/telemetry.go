package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/CodeMonkeyCybersecurity/webvuln/internal/config"
	"github.com/CodeMonkeyCybersecurity/webvuln/internal/core"
	"github.com/CodeMonkeyCybersecurity/webvuln/pkg/types"
)

type telemetry struct {
	tracerProvider *sdktrace.TracerProvider

	scanCounter    metric.Int64Counter
	scanDuration   metric.Float64Histogram
	phaseDuration  metric.Float64Histogram
	findingCounter metric.Int64Counter
}

// New installs a global tracer provider exporting over OTLP/HTTP. A disabled
// config yields a no-op implementation and touches no global state.
func New(ctx context.Context, cfg config.TelemetryConfig) (core.Telemetry, error) {
	if !cfg.Enabled {
		return NewNoop(), nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion("1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var exporter sdktrace.SpanExporter

	switch cfg.ExporterType {
	case "otlp", "otlphttp":
		client := otlptracehttp.NewClient(
			otlptracehttp.WithEndpoint(cfg.Endpoint),
			otlptracehttp.WithInsecure(),
		)
		exp, err := otlptrace.New(ctx, client)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		exporter = exp
	default:
		return nil, fmt.Errorf("unsupported exporter type: %s", cfg.ExporterType)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SampleRate)),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	t, err := newInstruments(otel.Meter(cfg.ServiceName))
	if err != nil {
		return nil, err
	}
	t.tracerProvider = tp
	return t, nil
}

func newInstruments(meter metric.Meter) (*telemetry, error) {
	scanCounter, err := meter.Int64Counter("webvuln.scans.total",
		metric.WithDescription("Total number of scans"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	scanDuration, err := meter.Float64Histogram("webvuln.scan.duration",
		metric.WithDescription("Scan duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	phaseDuration, err := meter.Float64Histogram("webvuln.phase.duration",
		metric.WithDescription("Scan phase duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	findingCounter, err := meter.Int64Counter("webvuln.findings.total",
		metric.WithDescription("Total number of findings"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &telemetry{
		scanCounter:    scanCounter,
		scanDuration:   scanDuration,
		phaseDuration:  phaseDuration,
		findingCounter: findingCounter,
	}, nil
}

func (t *telemetry) RecordScan(status types.ScanStatus, duration float64) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("scan.status", string(status)))

	t.scanCounter.Add(ctx, 1, attrs)
	t.scanDuration.Record(ctx, duration, attrs)
}

func (t *telemetry) RecordPhase(phase string, duration float64, failed bool) {
	t.phaseDuration.Record(context.Background(), duration, metric.WithAttributes(
		attribute.String("phase", phase),
		attribute.Bool("phase.failed", failed),
	))
}

func (t *telemetry) RecordFinding(severity types.Severity, kind types.VulnerabilityKind) {
	t.findingCounter.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("finding.severity", string(severity)),
		attribute.String("finding.kind", string(kind)),
	))
}

func (t *telemetry) Close() error {
	if t.tracerProvider == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return t.tracerProvider.Shutdown(ctx)
}

// NewNoop returns a Telemetry that records nothing.
func NewNoop() core.Telemetry {
	return &noopTelemetry{}
}

type noopTelemetry struct{}

func (n *noopTelemetry) RecordScan(status types.ScanStatus, duration float64)                {}
func (n *noopTelemetry) RecordPhase(phase string, duration float64, failed bool)             {}
func (n *noopTelemetry) RecordFinding(severity types.Severity, kind types.VulnerabilityKind) {}
func (n *noopTelemetry) Close() error                                                        { return nil }
