package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeMonkeyCybersecurity/webvuln/internal/config"
	"github.com/CodeMonkeyCybersecurity/webvuln/internal/orchestrator"
	"github.com/CodeMonkeyCybersecurity/webvuln/pkg/types"
)

func init() {
	color.NoColor = true
}

func TestLoadConfigLayers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "webvuln.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
scan:
  max_depth: 5
  delay: 1s
logger:
  level: debug
`), 0o600))

	t.Setenv("WEBVULN_SCAN_MAX_PAGES", "7")
	t.Setenv("WEBVULN_SCAN_ENABLED_CHECKS", "sqli,xss")

	v := viper.New()
	setDefaults(v, config.DefaultConfig())
	v.Set("config_file", path)

	c, err := loadConfig(v)
	require.NoError(t, err)

	assert.Equal(t, 7, c.Scan.MaxPages)
	assert.Equal(t, 5, c.Scan.MaxDepth)
	assert.Equal(t, time.Second, c.Scan.Delay)
	assert.Equal(t, []string{"sqli", "xss"}, c.Scan.EnabledChecks)
	assert.Equal(t, "debug", c.Logger.Level)
	assert.Equal(t, config.DefaultConfig().HTTP.UserAgent, c.HTTP.UserAgent)
	assert.Equal(t, config.DefaultConfig().Scan.Timeout, c.Scan.Timeout)
	assert.NoError(t, c.Validate())
}

func TestLoadConfigMissingFile(t *testing.T) {
	v := viper.New()
	setDefaults(v, config.DefaultConfig())
	v.Set("config_file", filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := loadConfig(v)
	assert.Error(t, err)
}

func TestQuickConfig(t *testing.T) {
	base := config.DefaultConfig()
	quick := quickConfig(base)

	assert.Equal(t, quickMaxPages, quick.Scan.MaxPages)
	assert.Equal(t, []string{config.CheckSQLi, config.CheckXSS}, quick.Scan.EnabledChecks)
	assert.Equal(t, config.DefaultScanConfig().MaxPages, base.Scan.MaxPages)
	assert.Len(t, base.Scan.EnabledChecks, len(config.DefaultChecks))
}

const permissionText = `I, Jane Doe, have explicit permission to test this host.
Target: %s
Date: 2026-01-31
Signature: Jane Doe
`

func TestCheckPermission(t *testing.T) {
	file := filepath.Join(t.TempDir(), "permission.txt")
	require.NoError(t, os.WriteFile(file, []byte(fmt.Sprintf(permissionText, "staging.example.com")), 0o600))

	tests := []struct {
		name    string
		req     scanRequest
		input   string
		allowed bool
	}{
		{"authorized flag", scanRequest{Targets: []string{"https://x.test"}, Authorized: true}, "", true},
		{"file names target", scanRequest{Targets: []string{"https://staging.example.com/app"}, PermissionFile: file}, "", true},
		{"file misses target", scanRequest{Targets: []string{"https://prod.example.com"}, PermissionFile: file}, "", false},
		{"unreadable file", scanRequest{Targets: []string{"https://x.test"}, PermissionFile: file + ".missing"}, "", false},
		{"prompt yes", scanRequest{Targets: []string{"https://x.test"}}, "yes\n", true},
		{"prompt y", scanRequest{Targets: []string{"https://x.test"}}, " Y \n", true},
		{"prompt no", scanRequest{Targets: []string{"https://x.test"}}, "no\n", false},
		{"prompt eof", scanRequest{Targets: []string{"https://x.test"}}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := checkPermission(strings.NewReader(tt.input), &out, tt.req)
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, orchestrator.ErrPermissionDenied)
			}
		})
	}
}

func TestSummaryListsSeverityCounts(t *testing.T) {
	report := &types.ScanReport{
		Target:          "http://app.test",
		Status:          types.ScanStatusPartial,
		PagesScanned:    3,
		MaxPages:        50,
		FormsTested:     1,
		ChecksPerformed: []string{"sqli", "config"},
		Phases:          []types.PhaseResult{{Name: "config", Error: "target unreachable"}},
		Findings: []types.Finding{
			{Severity: types.SeverityHigh, Kind: types.KindSQLInjection, Tester: "sqli", URL: "http://app.test/login", Parameter: "user", Description: "SQL injection in user", Payload: "'"},
			{Severity: types.SeverityLow, Kind: types.KindMissingSecurityHeader, Tester: "config", URL: "http://app.test", Description: "Missing Referrer-Policy"},
		},
	}

	var out bytes.Buffer
	newPrinter(&out).summary(report)
	text := out.String()

	assert.Contains(t, text, "Scan report for http://app.test")
	assert.Contains(t, text, "partial")
	assert.Contains(t, text, "Total findings: 2")
	assert.Contains(t, text, "HIGH")
	assert.Contains(t, text, "LOW")
	assert.NotContains(t, text, "CRITICAL")
	assert.Contains(t, text, "config: target unreachable")
	assert.Contains(t, text, "http://app.test/login (user)")
}

func TestWriteReports(t *testing.T) {
	dir := t.TempDir()
	one := &types.ScanReport{ID: "a", Target: "http://a.test", Status: types.ScanStatusCompleted}
	two := &types.ScanReport{ID: "b", Target: "http://b.test", Status: types.ScanStatusCompleted}

	single := filepath.Join(dir, "single.json")
	require.NoError(t, writeReports(single, nil, []*types.ScanReport{one}))
	data, err := os.ReadFile(single)
	require.NoError(t, err)
	var got types.ScanReport
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "http://a.test", got.Target)

	var out bytes.Buffer
	require.NoError(t, writeReports("-", &out, []*types.ScanReport{one, two}))
	var many []types.ScanReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &many))
	assert.Len(t, many, 2)
}

func TestRunScansEndToEnd(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `<html><body>
<a href="/about">About</a>
<form action="/search" method="get"><input type="text" name="q"><input type="submit"></form>
</body></html>`)
	})
	mux.HandleFunc("/about", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><p>About us</p></body></html>`)
	})
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><body>Results for %s</body></html>`, r.URL.Query().Get("q"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	c := config.DefaultConfig()
	c.Scan.Delay = 0
	c.Scan.MaxPages = 5
	c.Scan.EnabledChecks = []string{config.CheckXSS}

	output := filepath.Join(t.TempDir(), "report.json")
	var out bytes.Buffer
	err := runScans(context.Background(), strings.NewReader(""), &out, c, scanRequest{
		Targets:     []string{server.URL},
		Authorized:  true,
		Output:      output,
		Concurrency: 1,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	var report types.ScanReport
	require.NoError(t, json.Unmarshal(data, &report))

	assert.Equal(t, types.ScanStatusCompleted, report.Status)
	assert.Equal(t, 2, report.PagesScanned)
	assert.Equal(t, []string{config.CheckXSS}, report.ChecksPerformed)
	require.NotEmpty(t, report.Findings)
	assert.Equal(t, types.KindXSS, report.Findings[0].Kind)
	assert.Equal(t, "q", report.Findings[0].Parameter)

	text := out.String()
	assert.Contains(t, text, "Scan report for "+server.URL)
	assert.Contains(t, text, "Report written to "+output)
}

func TestRunScansRejectsBeforeSendingTraffic(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer server.Close()

	err := runScans(context.Background(), strings.NewReader("no\n"), &bytes.Buffer{}, config.DefaultConfig(),
		scanRequest{Targets: []string{server.URL}, Concurrency: 1})
	assert.ErrorIs(t, err, orchestrator.ErrPermissionDenied)

	err = runScans(context.Background(), strings.NewReader(""), &bytes.Buffer{}, config.DefaultConfig(),
		scanRequest{Targets: []string{"ftp://" + strings.TrimPrefix(server.URL, "http://")}, Authorized: true, Concurrency: 1})
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	assert.Zero(t, hits)
}
