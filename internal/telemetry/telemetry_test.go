package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/CodeMonkeyCybersecurity/webvuln/internal/config"
	"github.com/CodeMonkeyCybersecurity/webvuln/pkg/types"
)

func TestNewDisabledReturnsNoop(t *testing.T) {
	tel, err := New(context.Background(), config.TelemetryConfig{Enabled: false})
	require.NoError(t, err)
	assert.IsType(t, &noopTelemetry{}, tel)

	tel.RecordScan(types.ScanStatusCompleted, 1.5)
	tel.RecordPhase("crawl", 0.5, false)
	tel.RecordFinding(types.SeverityHigh, types.KindXSS)
	assert.NoError(t, tel.Close())
}

func TestNewRejectsUnknownExporter(t *testing.T) {
	_, err := New(context.Background(), config.TelemetryConfig{
		Enabled:      true,
		ServiceName:  "webvuln-test",
		ExporterType: "zipkin",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported exporter type")
}

func TestInstrumentsRecordWithoutProvider(t *testing.T) {
	tel, err := newInstruments(noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)

	tel.RecordScan(types.ScanStatusPartial, 2)
	tel.RecordPhase("sqli", 0.1, true)
	tel.RecordFinding(types.SeverityCritical, types.KindVCSExposure)
	assert.NoError(t, tel.Close())
}
