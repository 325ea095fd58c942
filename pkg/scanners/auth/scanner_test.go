package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeMonkeyCybersecurity/webvuln/internal/httpclient"
	"github.com/CodeMonkeyCybersecurity/webvuln/internal/session"
	"github.com/CodeMonkeyCybersecurity/webvuln/pkg/discovery/web"
	"github.com/CodeMonkeyCybersecurity/webvuln/pkg/payloads"
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

func testCatalogue() payloads.Authentication {
	return payloads.Authentication{
		WeakCredentials: []payloads.Credential{
			{Username: "root", Password: "toor"},
			{Username: "admin", Password: "admin"},
		},
		ProtectedPaths: []string{"/admin", "/account", "/settings"},
	}
}

// newApp serves a login that accepts admin/admin, an unprotected /admin, a
// redirecting /account and a catch-all 200 page for everything else.
func newApp() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc", Path: "/"})
			fmt.Fprint(w, "<h1>Home</h1>")
			return
		}
		fmt.Fprintf(w, "<h1>Page %s not found</h1>", r.URL.Path)
	})
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.FormValue("user") == "admin" && r.FormValue("pass") == "admin" {
			http.Redirect(w, r, "/home", http.StatusFound)
			return
		}
		fmt.Fprint(w, `<p>Invalid credentials</p><form method="post"><input type="password" name="pass"></form>`)
	})
	mux.HandleFunc("/admin", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<h1>Administration</h1><table><tr><td>users: 42</td></tr></table>")
	})
	mux.HandleFunc("/account", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/login", http.StatusFound)
	})
	return httptest.NewServer(mux)
}

func TestTestCredentials(t *testing.T) {
	server := newApp()
	defer server.Close()

	scanner := NewScanner(newTestSession(t), testCatalogue(), Options{MaxLoginForms: 5, MaxCredentials: 5}, nil)
	form := loginForm(server.URL + "/login")
	form.PageURL = server.URL + "/"

	findings := scanner.TestCredentials(context.Background(), []web.Form{form, form})
	require.Len(t, findings, 1, "duplicate login forms are tested once")
	assert.Equal(t, types.SeverityCritical, findings[0].Severity)
	assert.Equal(t, types.KindWeakCredentials, findings[0].Kind)
	assert.Equal(t, "admin:admin", findings[0].Payload)
	assert.Equal(t, "user", findings[0].Parameter)
}

func TestTestCredentialsRespectsLimit(t *testing.T) {
	server := newApp()
	defer server.Close()

	scanner := NewScanner(newTestSession(t), testCatalogue(), Options{MaxLoginForms: 5, MaxCredentials: 1}, nil)
	form := loginForm(server.URL + "/login")
	assert.Empty(t, scanner.TestCredentials(context.Background(), []web.Form{form}))
}

func TestTestBypass(t *testing.T) {
	server := newApp()
	defer server.Close()

	scanner := NewScanner(newTestSession(t), testCatalogue(), Options{}, nil)
	findings := scanner.TestBypass(context.Background(), server.URL)

	require.Len(t, findings, 1, "/account redirects to login and /settings is the catch-all page")
	assert.Equal(t, server.URL+"/admin", findings[0].URL)
	assert.Equal(t, types.SeverityHigh, findings[0].Severity)
}

func TestTestCookies(t *testing.T) {
	server := newApp()
	defer server.Close()

	scanner := NewScanner(newTestSession(t), testCatalogue(), Options{}, nil)
	findings := scanner.TestCookies(context.Background(), server.URL+"/")
	assert.Len(t, findings, 3)
}

func TestRunCombinesChecks(t *testing.T) {
	server := newApp()
	defer server.Close()

	form := loginForm(server.URL + "/login")
	crawl := &web.CrawlResult{BaseURL: server.URL + "/", Forms: []web.Form{form}}

	scanner := NewScanner(newTestSession(t), testCatalogue(), Options{MaxLoginForms: 1, MaxCredentials: 5}, nil)
	findings, err := scanner.Run(context.Background(), crawl)
	require.NoError(t, err)

	kinds := map[types.VulnerabilityKind]int{}
	for _, f := range findings {
		assert.Equal(t, Name, f.Tester)
		kinds[f.Kind]++
	}
	assert.Equal(t, 1, kinds[types.KindWeakCredentials])
	assert.Equal(t, 1, kinds[types.KindAuthBypass])
	assert.Equal(t, 1, kinds[types.KindMissingCSRFToken])
	assert.Equal(t, 2, kinds[types.KindInsecurePasswordForm])
}

func TestRunUsesSeedCookies(t *testing.T) {
	// Nothing on this server sets cookies; the crawl already captured them.
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	crawl := &web.CrawlResult{
		BaseURL:     server.URL + "/",
		SeedFetched: true,
		SeedCookies: []*http.Cookie{{Name: "session", Value: "abc"}},
	}

	scanner := NewScanner(newTestSession(t), testCatalogue(), Options{}, nil)
	findings, err := scanner.Run(context.Background(), crawl)
	require.NoError(t, err)

	kinds := map[types.VulnerabilityKind]int{}
	for _, f := range findings {
		kinds[f.Kind]++
	}
	assert.Equal(t, 3, kinds[types.KindInsecureCookie])
	assert.Zero(t, kinds[types.KindSessionManagement])
}
