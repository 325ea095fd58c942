// Package session owns the HTTP state of a single scan: one connection pool,
// one cookie jar and one rate limiter shared by the crawler and every tester.
package session

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CodeMonkeyCybersecurity/webvuln/internal/httpclient"
	"github.com/CodeMonkeyCybersecurity/webvuln/internal/logger"
	"github.com/CodeMonkeyCybersecurity/webvuln/internal/metrics"
	"github.com/CodeMonkeyCybersecurity/webvuln/internal/ratelimit"
)

// ErrSessionClosed is returned by Do after Close.
var ErrSessionClosed = errors.New("session closed")

// Options configures a Session.
type Options struct {
	Timeout     time.Duration
	Delay       time.Duration
	MaxBodySize int64
	UserAgent   string
	HTTP        httpclient.ClientConfig
	RateLimit   ratelimit.Config
}

// Request describes one outgoing request. Form values are sent as the query
// string for GET and as an urlencoded body otherwise.
type Request struct {
	Method          string
	URL             string
	Form            url.Values
	FollowRedirects bool
	Phase           string
}

// Response is a fully read HTTP response.
type Response struct {
	URL        *url.URL
	StatusCode int
	Header     http.Header
	Body       []byte
	Cookies    []*http.Cookie
	Duration   time.Duration

	// FirstCookies are the cookies set by the first response of a followed
	// redirect chain. Without redirects they equal Cookies.
	FirstCookies []*http.Cookie
}

// BodyString returns the body as text.
func (r *Response) BodyString() string {
	return string(r.Body)
}

// IsHTML reports whether the response declares an HTML content type.
func (r *Response) IsHTML() bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "text/html")
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

// IsRedirect reports whether the status code is a 3xx redirect.
func (r *Response) IsRedirect() bool {
	switch r.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// Location returns the resolved redirect target, or "" if there is none.
func (r *Response) Location() string {
	loc := r.Header.Get("Location")
	if loc == "" {
		return ""
	}
	if r.URL == nil {
		return loc
	}
	ref, err := url.Parse(loc)
	if err != nil {
		return loc
	}
	return r.URL.ResolveReference(ref).String()
}

// Session serialises requests through a single limiter. Methods are safe for
// concurrent use, though a scan issues one request at a time.
type Session struct {
	follow   *http.Client
	noFollow *http.Client
	limiter  *ratelimit.Limiter
	opts     Options
	logger   *logger.Logger
	metrics  *metrics.Recorder

	requests  atomic.Int64
	closeOnce sync.Once
	closed    atomic.Bool
}

// New builds a session. rec may be nil.
func New(opts Options, log *logger.Logger, rec *metrics.Recorder) (*Session, error) {
	if opts.Timeout <= 0 {
		return nil, fmt.Errorf("session timeout must be positive, got %s", opts.Timeout)
	}
	if log == nil {
		log = logger.NewNop()
	}

	jar, err := httpclient.NewCookieJar()
	if err != nil {
		return nil, err
	}

	httpCfg := opts.HTTP
	httpCfg.Timeout = opts.Timeout
	transport := httpclient.NewTransport(httpCfg)

	followCfg := httpCfg
	followCfg.FollowRedirects = true
	noFollowCfg := httpCfg
	noFollowCfg.FollowRedirects = false

	limitCfg := opts.RateLimit
	limitCfg.MinDelay = opts.Delay

	return &Session{
		follow:   httpclient.NewClient(followCfg, transport, jar),
		noFollow: httpclient.NewClient(noFollowCfg, transport, jar),
		limiter:  ratelimit.NewLimiter(limitCfg),
		opts:     opts,
		logger:   log.WithComponent("session"),
		metrics:  rec,
	}, nil
}

// Do sends req. Cancellation is observed before the request is started and
// while waiting for the rate limiter; a request already on the wire runs to
// completion or to its own timeout.
func (s *Session) Do(ctx context.Context, req Request) (*Response, error) {
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	httpReq, err := s.build(req)
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.Timeout)
	defer cancel()
	httpReq = httpReq.WithContext(reqCtx)

	client := s.noFollow
	if req.FollowRedirects {
		client = s.follow
	}

	phase := req.Phase
	if phase == "" {
		phase = "default"
	}

	s.requests.Add(1)
	start := time.Now()
	resp, err := client.Do(httpReq)
	if err != nil {
		s.metrics.ObserveRequestError(phase)
		return nil, fmt.Errorf("%s %s: %w", httpReq.Method, req.URL, err)
	}
	defer httpclient.CloseBody(resp)

	body, err := httpclient.ReadBody(resp, s.opts.MaxBodySize)
	duration := time.Since(start)
	if err != nil {
		s.metrics.ObserveRequestError(phase)
		return nil, fmt.Errorf("reading %s: %w", req.URL, err)
	}

	s.metrics.ObserveRequest(phase, resp.StatusCode, duration)
	s.logger.LogHTTPRequest(ctx, httpReq.Method, req.URL, resp.StatusCode, duration, "phase", phase)

	first := resp
	for first.Request != nil && first.Request.Response != nil {
		first = first.Request.Response
	}

	return &Response{
		URL:          resp.Request.URL,
		StatusCode:   resp.StatusCode,
		Header:       resp.Header,
		Body:         body,
		Cookies:      resp.Cookies(),
		FirstCookies: first.Cookies(),
		Duration:     duration,
	}, nil
}

func (s *Session) build(req Request) (*http.Request, error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	target, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid request URL %q: %w", req.URL, err)
	}

	var httpReq *http.Request
	if method == http.MethodGet || method == http.MethodHead {
		if len(req.Form) > 0 {
			query := target.Query()
			for key, values := range req.Form {
				query[key] = values
			}
			target.RawQuery = query.Encode()
		}
		httpReq, err = http.NewRequest(method, target.String(), nil)
	} else {
		httpReq, err = http.NewRequest(method, target.String(), strings.NewReader(req.Form.Encode()))
		if err == nil {
			httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	if s.opts.UserAgent != "" {
		httpReq.Header.Set("User-Agent", s.opts.UserAgent)
	}
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,*/*;q=0.8")
	return httpReq, nil
}

// Requests returns how many requests have been sent.
func (s *Session) Requests() int64 {
	return s.requests.Load()
}

// Close releases pooled connections. It is idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.follow.CloseIdleConnections()
		s.logger.Debugw("Session closed", "requests", s.requests.Load())
	})
}

// LimiterStats reports how the session's rate limiter has been used.
func (s *Session) LimiterStats() ratelimit.Stats {
	return s.limiter.GetStats()
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	return s.closed.Load()
}
