package web

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeMonkeyCybersecurity/webvuln/internal/httpclient"
	"github.com/CodeMonkeyCybersecurity/webvuln/internal/session"
)

// site serves a small link graph and records every request path.
type site struct {
	mu    sync.Mutex
	hits  []string
	pages map[string]string
	away  string
}

func (s *site) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.hits = append(s.hits, r.URL.RequestURI())
	s.mu.Unlock()

	switch r.URL.Path {
	case "/broken":
		panic(http.ErrAbortHandler)
	case "/data.json":
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"href": "/never-followed"}`)
		return
	case "/away":
		http.Redirect(w, r, s.away, http.StatusFound)
		return
	}

	body, ok := s.pages[r.URL.Path]
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, body)
}

func (s *site) requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.hits...)
}

func links(hrefs ...string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, h := range hrefs {
		fmt.Fprintf(&b, `<a href="%s">x</a>`, h)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func newTestSession(t *testing.T) *session.Session {
	t.Helper()
	sess, err := session.New(session.Options{
		Timeout: 2 * time.Second,
		HTTP:    httpclient.DefaultConfig(),
	}, nil, nil)
	require.NoError(t, err)
	t.Cleanup(sess.Close)
	return sess
}

// newSite builds the test graph; /away redirects to away.
func newSite(away string) *site {
	return &site{away: away, pages: map[string]string{
		"/":        links("/a", "/b", "/a#frag", "https://external.example.com/", "mailto:x@y.z") + `<form method="post" action="/submit"><input name="q"></form>`,
		"/a":       links("/", "/c", "/a?y=2&x=1"),
		"/b":       links("/c", "/data.json", "/broken", "/away"),
		"/c":       links("/d"),
		"/d":       links("/e"),
		"/e":       links("/"),
		"/missing": "",
	}}
}

func newOtherHost(t *testing.T) *httptest.Server {
	t.Helper()
	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<form action="/steal"><input name="x"></form><a href="/deeper">d</a>`)
	}))
	t.Cleanup(other.Close)
	return other
}

func TestCrawlMaxPagesOne(t *testing.T) {
	st := newSite("/")
	server := httptest.NewServer(st)
	defer server.Close()

	spider := NewSpider(newTestSession(t), Options{MaxPages: 1, MaxDepth: 3}, nil, nil)
	result, err := spider.Crawl(context.Background(), server.URL+"/")
	require.NoError(t, err)

	assert.Equal(t, []string{server.URL + "/"}, result.VisitedURLs())
	assert.Equal(t, 1, result.TotalPages)
	assert.Equal(t, []string{"/"}, st.requests())
}

func TestCrawlProperties(t *testing.T) {
	other := newOtherHost(t)
	st := newSite(other.URL + "/")
	server := httptest.NewServer(st)
	defer server.Close()

	var events []FetchEvent
	spider := NewSpider(newTestSession(t), Options{MaxPages: 50, MaxDepth: 3}, nil, func(ev FetchEvent) {
		events = append(events, ev)
	})
	result, err := spider.Crawl(context.Background(), server.URL)
	require.NoError(t, err)

	visited := result.VisitedURLs()

	t.Run("no duplicate visits", func(t *testing.T) {
		seen := make(map[string]bool)
		for _, u := range visited {
			key, err := NormalizeURL(u)
			require.NoError(t, err)
			assert.False(t, seen[key], "visited twice: %s", u)
			seen[key] = true
		}
		requested := make(map[string]int)
		for _, path := range st.requests() {
			// The transport may replay an aborted idempotent request once.
			if path != "/broken" {
				requested[path]++
			}
		}
		for path, n := range requested {
			assert.Equal(t, 1, n, "requested %s %d times", path, n)
		}
	})

	t.Run("scope containment", func(t *testing.T) {
		for _, u := range visited {
			assert.True(t, strings.HasPrefix(u, server.URL), "out of scope: %s", u)
		}
		require.Len(t, result.ExternalLinks, 1)
		assert.Equal(t, "https://external.example.com/", result.ExternalLinks[0].URL)
		assert.True(t, result.ExternalLinks[0].External)
	})

	t.Run("depth monotonic and bounded", func(t *testing.T) {
		prev := 0
		for _, v := range result.Visits {
			assert.GreaterOrEqual(t, v.Depth, prev)
			assert.LessOrEqual(t, v.Depth, 3)
			prev = v.Depth
		}
		assert.NotContains(t, visited, server.URL+"/e", "/e is at depth 4")
	})

	t.Run("failures and non-html", func(t *testing.T) {
		assert.Equal(t, []string{server.URL + "/broken"}, result.FailedURLs)
		assert.Contains(t, visited, server.URL+"/data.json")
		assert.NotContains(t, st.requests(), "/never-followed")
		assert.Equal(t, len(visited)-len(result.FailedURLs), result.TotalPages)
	})

	t.Run("forms collected", func(t *testing.T) {
		require.Equal(t, 1, result.TotalForms)
		assert.Equal(t, server.URL+"/submit", result.Forms[0].ActionURL)
	})

	t.Run("fetch events", func(t *testing.T) {
		assert.Len(t, events, len(visited))
	})

	t.Run("query urls", func(t *testing.T) {
		assert.Equal(t, []string{server.URL + "/a?y=2&x=1"}, result.URLsWithQuery())
	})
}

func TestCrawlBoundedByMaxPages(t *testing.T) {
	// Every page links to ten fresh pages.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		var hrefs []string
		for i := 0; i < 10; i++ {
			hrefs = append(hrefs, fmt.Sprintf("%s/%d", strings.TrimSuffix(r.URL.Path, "/"), i))
		}
		fmt.Fprint(w, links(hrefs...))
	}))
	defer server.Close()

	for _, maxPages := range []int{1, 5, 12} {
		t.Run(fmt.Sprint(maxPages), func(t *testing.T) {
			spider := NewSpider(newTestSession(t), Options{MaxPages: maxPages, MaxDepth: 5}, nil, nil)
			result, err := spider.Crawl(context.Background(), server.URL)
			require.NoError(t, err)
			assert.Len(t, result.Visits, maxPages)
		})
	}
}

func TestCrawlDepthZero(t *testing.T) {
	server := httptest.NewServer(newSite("/"))
	defer server.Close()

	spider := NewSpider(newTestSession(t), Options{MaxPages: 10, MaxDepth: 0}, nil, nil)
	result, err := spider.Crawl(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Len(t, result.Visits, 1)
}

func TestCrawlRedirectOffHostIsNotParsed(t *testing.T) {
	other := newOtherHost(t)
	server := httptest.NewServer(newSite(other.URL + "/"))
	defer server.Close()

	spider := NewSpider(newTestSession(t), Options{MaxPages: 10, MaxDepth: 1}, nil, nil)
	result, err := spider.Crawl(context.Background(), server.URL+"/away")
	require.NoError(t, err)

	require.Len(t, result.Visits, 1)
	assert.False(t, result.Visits[0].Failed)
	assert.Empty(t, result.Forms)
	assert.Empty(t, result.ExternalLinks)
}

func TestCrawlCancellationReturnsPartialResult(t *testing.T) {
	server := httptest.NewServer(newSite("/"))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	spider := NewSpider(newTestSession(t), Options{MaxPages: 50, MaxDepth: 3}, nil, func(FetchEvent) {
		cancel()
	})

	result, err := spider.Crawl(ctx, server.URL)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)
	assert.Len(t, result.Visits, 1)
}

func TestCrawlRejectsBadInput(t *testing.T) {
	spider := NewSpider(newTestSession(t), Options{MaxPages: 0, MaxDepth: 1}, nil, nil)
	_, err := spider.Crawl(context.Background(), "http://example.com")
	assert.Error(t, err)

	spider = NewSpider(newTestSession(t), Options{MaxPages: 1, MaxDepth: 1}, nil, nil)
	_, err = spider.Crawl(context.Background(), "not a url")
	assert.Error(t, err)
}

func TestCrawlRedirectTargetFetchedOnce(t *testing.T) {
	var mu sync.Mutex
	hits := make(map[string]int)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits[r.URL.Path]++
		mu.Unlock()

		w.Header().Set("Content-Type", "text/html")
		switch r.URL.Path {
		case "/":
			fmt.Fprint(w, links("/a", "/b"))
		case "/a":
			http.Redirect(w, r, "/b", http.StatusFound)
		case "/b":
			fmt.Fprint(w, `<form method="post" action="/login"><input name="user"></form>`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	spider := NewSpider(newTestSession(t), Options{MaxPages: 10, MaxDepth: 2}, nil, nil)
	result, err := spider.Crawl(context.Background(), server.URL+"/")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, hits["/b"])
	assert.Equal(t, 1, result.TotalForms)
	assert.NotContains(t, result.VisitedURLs(), server.URL+"/b")
}

func TestCrawlKeepsSeedCookies(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc"})
			http.Redirect(w, r, "/home", http.StatusFound)
		default:
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, "<html><body>home</body></html>")
		}
	}))
	defer server.Close()

	spider := NewSpider(newTestSession(t), Options{MaxPages: 5, MaxDepth: 1}, nil, nil)
	result, err := spider.Crawl(context.Background(), server.URL+"/")
	require.NoError(t, err)

	assert.True(t, result.SeedFetched)
	require.Len(t, result.SeedCookies, 1)
	assert.Equal(t, "session", result.SeedCookies[0].Name)
	assert.Len(t, result.Visits, 1)
}

func TestCrawlUnreachableSeedHasNoCookies(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()

	spider := NewSpider(newTestSession(t), Options{MaxPages: 5, MaxDepth: 1}, nil, nil)
	result, err := spider.Crawl(context.Background(), server.URL)
	require.NoError(t, err)

	assert.False(t, result.SeedFetched)
	assert.Empty(t, result.SeedCookies)
}
