package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/CodeMonkeyCybersecurity/webvuln/internal/orchestrator"
	"github.com/CodeMonkeyCybersecurity/webvuln/pkg/types"
)

// printer writes progress and summaries for concurrent scans to one writer.
type printer struct {
	mu  sync.Mutex
	out io.Writer
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out}
}

func (p *printer) observer(target string) orchestrator.Observer {
	return func(ev orchestrator.Event) {
		p.mu.Lock()
		defer p.mu.Unlock()

		switch ev.Type {
		case orchestrator.EventStateChanged:
			color.New(color.FgCyan).Fprintf(p.out, "[%s] %s\n", target, ev.State)
		case orchestrator.EventFinding:
			f := ev.Finding
			fmt.Fprintf(p.out, "[%s]   %s %s at %s%s\n", target, colorSeverity(f.Severity), f.Kind, f.URL, paramSuffix(f.Parameter))
		case orchestrator.EventPhaseDone:
			if ev.Err != nil {
				color.New(color.FgRed).Fprintf(p.out, "[%s]   %s failed: %v\n", target, ev.Phase, ev.Err)
				return
			}
			fmt.Fprintf(p.out, "[%s]   %s %s (%d findings, %s)\n", target, colorPhaseStatus(true), ev.Phase, ev.Findings, ev.Duration.Round(time.Millisecond))
		}
	}
}

func (p *printer) summary(r *types.ScanReport) {
	p.mu.Lock()
	defer p.mu.Unlock()

	w := p.out
	fmt.Fprintln(w)
	color.New(color.Bold).Fprintf(w, "Scan report for %s\n", r.Target)
	fmt.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintf(w, "Status:        %s\n", colorStatus(r.Status))
	fmt.Fprintf(w, "Pages scanned: %d (max %d, %d failed)\n", r.PagesScanned, r.MaxPages, r.FailedPages)
	fmt.Fprintf(w, "Forms tested:  %d\n", r.FormsTested)
	fmt.Fprintf(w, "Checks:        %s\n", strings.Join(r.ChecksPerformed, ", "))
	fmt.Fprintf(w, "Duration:      %s\n", r.Duration.Round(time.Millisecond))

	for _, phase := range r.Phases {
		if phase.Error != "" {
			color.New(color.FgRed).Fprintf(w, "  %s %s: %s\n", colorPhaseStatus(false), phase.Name, phase.Error)
		}
	}

	fmt.Fprintf(w, "\nTotal findings: %d\n", len(r.Findings))
	counts := r.Summary()
	for _, sev := range types.Severities {
		if counts[sev] > 0 {
			fmt.Fprintf(w, "  %-8s %d\n", colorSeverity(sev), counts[sev])
		}
	}

	for _, f := range r.Findings {
		fmt.Fprintf(w, "\n%s - %s\n", colorSeverity(f.Severity), f.Description)
		fmt.Fprintf(w, "  Tester: %s | Type: %s | URL: %s%s\n", f.Tester, f.Kind, f.URL, paramSuffix(f.Parameter))
		if f.Payload != "" {
			fmt.Fprintf(w, "  Payload: %s\n", f.Payload)
		}
		if f.Evidence != "" {
			fmt.Fprintf(w, "  Evidence: %s\n", f.Evidence)
		}
		if f.Recommendation != "" {
			fmt.Fprintf(w, "  Fix: %s\n", f.Recommendation)
		}
	}
}

// writeReports writes a single report as an object and several as an array.
// A path of "-" writes to out.
func writeReports(path string, out io.Writer, reports []*types.ScanReport) error {
	var v interface{} = reports
	if len(reports) == 1 {
		v = reports[0]
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	data = append(data, '\n')

	if path == "-" {
		_, err = out.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}
	return nil
}

func paramSuffix(param string) string {
	if param == "" {
		return ""
	}
	return " (" + param + ")"
}

func colorStatus(status types.ScanStatus) string {
	switch status {
	case types.ScanStatusCompleted:
		return color.New(color.FgGreen).Sprint("✓ " + string(status))
	case types.ScanStatusPartial:
		return color.New(color.FgYellow).Sprint("⚠ " + string(status))
	case types.ScanStatusCancelled:
		return color.New(color.FgRed).Sprint("✗ " + string(status))
	default:
		return string(status)
	}
}

func colorPhaseStatus(ok bool) string {
	if ok {
		return color.New(color.FgGreen).Sprint("✓")
	}
	return color.New(color.FgRed).Sprint("✗")
}

func colorSeverity(severity types.Severity) string {
	switch severity {
	case types.SeverityCritical:
		return color.New(color.FgRed, color.Bold).Sprint("CRITICAL")
	case types.SeverityHigh:
		return color.New(color.FgRed).Sprint("HIGH")
	case types.SeverityMedium:
		return color.New(color.FgYellow).Sprint("MEDIUM")
	case types.SeverityLow:
		return color.New(color.FgCyan).Sprint("LOW")
	case types.SeverityInfo:
		return color.New(color.FgWhite).Sprint("INFO")
	default:
		return strings.ToUpper(string(severity))
	}
}
