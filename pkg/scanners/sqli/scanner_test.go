package sqli

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeMonkeyCybersecurity/webvuln/internal/httpclient"
	"github.com/CodeMonkeyCybersecurity/webvuln/internal/session"
	"github.com/CodeMonkeyCybersecurity/webvuln/pkg/discovery/web"
	"github.com/CodeMonkeyCybersecurity/webvuln/pkg/types"
)

func newTestSession(t *testing.T) *session.Session {
	t.Helper()
	s, err := session.New(session.Options{
		Timeout:     5 * time.Second,
		MaxBodySize: 1 << 20,
		HTTP:        httpclient.DefaultConfig(),
	}, nil, nil)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

var testPayloads = []string{"'", "' OR '1'='1", "' UNION SELECT NULL--"}

func testOptions() Options {
	return Options{MaxPayloadsPerField: 10, MaxURLPayloads: 5, MaxURLs: 10}
}

// vulnerableSearch answers with a database error only for the boolean payload.
func vulnerableSearch(w http.ResponseWriter, r *http.Request) {
	q := r.FormValue("q")
	if strings.Contains(q, "OR '1'='1") {
		fmt.Fprint(w, "<p>You have an error in your SQL syntax</p>")
		return
	}
	fmt.Fprintf(w, "<p>%d results</p>", len(q))
}

func TestScanFormReportsOneHighFinding(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(vulnerableSearch))
	defer server.Close()

	scanner := NewScanner(newTestSession(t), testPayloads, testOptions(), nil)
	form := web.Form{
		ActionURL: server.URL + "/search",
		Method:    http.MethodPost,
		Fields: []web.Field{
			{Name: "q", Type: "text"},
			{Name: "csrf_token", Type: "hidden", Value: "abc"},
		},
	}

	findings := scanner.ScanForm(context.Background(), form)
	require.Len(t, findings, 1)

	f := findings[0]
	assert.Equal(t, types.KindSQLInjection, f.Kind)
	assert.Equal(t, types.SeverityHigh, f.Severity)
	assert.Equal(t, "q", f.Parameter)
	assert.Equal(t, "' OR '1'='1", f.Payload)
	assert.Equal(t, "boolean-based", f.Technique)
	assert.Contains(t, f.Evidence, "SQL syntax")
	assert.Equal(t, "Use parameterized queries or prepared statements", f.Recommendation)
	assert.NotEmpty(t, f.ID)
}

func TestScanFormIgnoresErrorsPresentInBaseline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "Tutorial: how to fix a SQL syntax error")
	}))
	defer server.Close()

	scanner := NewScanner(newTestSession(t), testPayloads, testOptions(), nil)
	form := web.Form{
		ActionURL: server.URL + "/docs",
		Method:    http.MethodGet,
		Fields:    []web.Field{{Name: "q", Type: "search"}},
	}

	assert.Empty(t, scanner.ScanForm(context.Background(), form))
}

func TestScanFormReportsNewSignatureBesideBaselineError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<p>You have an error in your SQL syntax; check your MySQL server version</p>")
		if strings.Contains(r.FormValue("q"), "'") {
			fmt.Fprint(w, "<p>PostgreSQL query failed: ERROR: unterminated quoted string</p>")
		}
	}))
	defer server.Close()

	scanner := NewScanner(newTestSession(t), testPayloads, testOptions(), nil)
	form := web.Form{
		ActionURL: server.URL + "/search",
		Method:    http.MethodGet,
		Fields:    []web.Field{{Name: "q", Type: "text"}},
	}

	findings := scanner.ScanForm(context.Background(), form)
	require.Len(t, findings, 1)
	assert.Equal(t, "'", findings[0].Payload)
	assert.Contains(t, findings[0].Description, "postgresql")
	assert.Contains(t, findings[0].Evidence, "PostgreSQL")
}

func TestScanFormRespectsPayloadLimit(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		fmt.Fprint(w, "ok")
	}))
	defer server.Close()

	opts := testOptions()
	opts.MaxPayloadsPerField = 2
	scanner := NewScanner(newTestSession(t), testPayloads, opts, nil)
	form := web.Form{
		ActionURL: server.URL + "/f",
		Method:    http.MethodGet,
		Fields:    []web.Field{{Name: "a", Type: "text"}, {Name: "b", Type: "hidden"}},
	}

	assert.Empty(t, scanner.ScanForm(context.Background(), form))
	assert.Equal(t, int32(1+2), requests.Load(), "one baseline plus two payloads")
}

func TestRunDeduplicatesEndpointParameters(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/search", vulnerableSearch)
	server := httptest.NewServer(mux)
	defer server.Close()

	form := web.Form{
		ActionURL: server.URL + "/search",
		Method:    http.MethodGet,
		Fields:    []web.Field{{Name: "q", Type: "text"}},
	}
	crawl := &web.CrawlResult{
		BaseURL: server.URL,
		Forms:   []web.Form{form, form},
		Visits: []web.Visit{
			{URL: server.URL + "/search?q=shoes"},
			{URL: server.URL + "/search?q=boots"},
		},
	}

	scanner := NewScanner(newTestSession(t), testPayloads, testOptions(), nil)
	findings, err := scanner.Run(context.Background(), crawl)
	require.NoError(t, err)
	require.Len(t, findings, 1)

	seen := make(map[string]bool)
	for _, f := range findings {
		assert.False(t, seen[f.DedupKey()])
		seen[f.DedupKey()] = true
	}
}

func TestScanURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Query().Get("id"), "'") {
			fmt.Fprint(w, "Warning: mysql_fetch_array() expects parameter 1 to be resource")
			return
		}
		fmt.Fprint(w, "item")
	}))
	defer server.Close()

	scanner := NewScanner(newTestSession(t), testPayloads, testOptions(), nil)
	findings := scanner.ScanURL(context.Background(), server.URL+"/item?id=7&sort=asc")
	require.Len(t, findings, 1)
	assert.Equal(t, "id", findings[0].Parameter)
	assert.Equal(t, "'", findings[0].Payload)
	assert.Equal(t, http.MethodGet, findings[0].Method)
	assert.Equal(t, server.URL+"/item", findings[0].URL)
}

func TestRunStopsOnCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(vulnerableSearch))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	scanner := NewScanner(newTestSession(t), testPayloads, testOptions(), nil)
	crawl := &web.CrawlResult{Forms: []web.Form{{
		ActionURL: server.URL + "/search",
		Method:    http.MethodGet,
		Fields:    []web.Field{{Name: "q", Type: "text"}},
	}}}

	findings, err := scanner.Run(ctx, crawl)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, findings)
}
