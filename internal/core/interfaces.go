package core

import (
	"github.com/CodeMonkeyCybersecurity/webvuln/pkg/types"
)

// Telemetry receives scan-level signals. Implementations must be safe for
// concurrent use since several targets may be scanned at once.
type Telemetry interface {
	RecordScan(status types.ScanStatus, duration float64)
	RecordPhase(phase string, duration float64, failed bool)
	RecordFinding(severity types.Severity, kind types.VulnerabilityKind)
	Close() error
}
