// pkg/scanners/sqli/scanner.go
//
// SQL injection tester. Substitutes payloads into form fields and query
// parameters one at a time and looks for database error signatures in the
// response.

package sqli

import (
	"context"
	"fmt"
	"net/http"

	"github.com/CodeMonkeyCybersecurity/webvuln/internal/logger"
	"github.com/CodeMonkeyCybersecurity/webvuln/internal/session"
	"github.com/CodeMonkeyCybersecurity/webvuln/pkg/discovery/web"
	"github.com/CodeMonkeyCybersecurity/webvuln/pkg/scanners"
	"github.com/CodeMonkeyCybersecurity/webvuln/pkg/types"
)

const Name = "sqli"

var fieldTypes = []string{"text", "search", "number", "email", "tel", "textarea"}

type Options struct {
	MaxPayloadsPerField int
	MaxURLPayloads      int
	MaxURLs             int
}

// Scanner tests forms and URLs for SQL injection
type Scanner struct {
	requester scanners.Requester
	payloads  []string
	opts      Options
	logger    *logger.Logger
	tracker   *scanners.Tracker
}

// NewScanner creates a SQL injection tester using payloads in order
func NewScanner(requester scanners.Requester, payloads []string, opts Options, log *logger.Logger) *Scanner {
	if log == nil {
		log = logger.NewNop()
	}
	return &Scanner{
		requester: requester,
		payloads:  payloads,
		opts:      opts,
		logger:    log.WithTester(Name),
		tracker:   scanners.NewTracker(),
	}
}

func (s *Scanner) Name() string { return Name }

// Run scans every discovered form, then up to MaxURLs visited URLs that carry
// a query string.
func (s *Scanner) Run(ctx context.Context, crawl *web.CrawlResult) ([]types.Finding, error) {
	s.tracker = scanners.NewTracker()

	var findings []types.Finding
	for _, form := range crawl.Forms {
		if err := ctx.Err(); err != nil {
			return findings, err
		}
		findings = append(findings, s.ScanForm(ctx, form)...)
	}

	urls := crawl.URLsWithQuery()
	if s.opts.MaxURLs > 0 && len(urls) > s.opts.MaxURLs {
		urls = urls[:s.opts.MaxURLs]
	}
	for _, u := range urls {
		if err := ctx.Err(); err != nil {
			return findings, err
		}
		findings = append(findings, s.ScanURL(ctx, u)...)
	}

	s.logger.Infow("SQL injection testing completed",
		"forms", len(crawl.Forms),
		"urls", len(urls),
		"findings_count", len(findings),
	)
	return findings, ctx.Err()
}

// ScanForm tests each text-like field of form.
func (s *Scanner) ScanForm(ctx context.Context, form web.Form) []types.Finding {
	var fields []web.Field
	for _, field := range form.TestableFields(fieldTypes...) {
		if s.tracker.Claim(form.ActionURL, field.Name) {
			fields = append(fields, field)
		}
	}
	if len(fields) == 0 {
		return nil
	}

	known := s.baselineSignatures(ctx, scanners.FormRequest(form, "", "", Name))

	var findings []types.Finding
	for _, field := range fields {
		f, ok := s.probe(ctx, known, form.ActionURL, form.Method, field.Name, s.opts.MaxPayloadsPerField,
			func(payload string) session.Request {
				return scanners.FormRequest(form, field.Name, payload, Name)
			})
		if ok {
			findings = append(findings, f)
		}
	}
	return findings
}

// ScanURL tests each query parameter of rawURL.
func (s *Scanner) ScanURL(ctx context.Context, rawURL string) []types.Finding {
	all, err := scanners.QueryParams(rawURL)
	if err != nil {
		return nil
	}
	var params []string
	for _, param := range all {
		if s.tracker.Claim(rawURL, param) {
			params = append(params, param)
		}
	}
	if len(params) == 0 {
		return nil
	}

	known := s.baselineSignatures(ctx, session.Request{Method: http.MethodGet, URL: rawURL, FollowRedirects: true, Phase: Name})

	var findings []types.Finding
	for _, param := range params {
		f, ok := s.probe(ctx, known, rawURL, http.MethodGet, param, s.opts.MaxURLPayloads,
			func(payload string) session.Request {
				target, err := scanners.WithParam(rawURL, param, payload)
				if err != nil {
					target = rawURL
				}
				return session.Request{Method: http.MethodGet, URL: target, FollowRedirects: true, Phase: Name}
			})
		if ok {
			findings = append(findings, f)
		}
	}
	return findings
}

// probe tries payloads against one parameter and stops at the first positive.
func (s *Scanner) probe(ctx context.Context, known map[string]bool, endpoint, method, param string, limit int,
	build func(payload string) session.Request) (types.Finding, bool) {

	payloads := s.payloads
	if limit > 0 && len(payloads) > limit {
		payloads = payloads[:limit]
	}

	for _, payload := range payloads {
		if ctx.Err() != nil {
			return types.Finding{}, false
		}

		resp, err := s.requester.Do(ctx, build(payload))
		if err != nil {
			s.logger.Debugw("SQL injection probe failed", "url", endpoint, "parameter", param, "error", err)
			continue
		}

		result := classifyExcluding(payload, resp.BodyString(), known)
		if !result.Vulnerable {
			continue
		}

		f := types.NewFinding(types.Finding{
			Tester:         Name,
			Kind:           types.KindSQLInjection,
			Severity:       types.SeverityHigh,
			URL:            web.EndpointKey(endpoint),
			Method:         method,
			Parameter:      param,
			Payload:        payload,
			Technique:      Technique(payload),
			Evidence:       result.Evidence,
			Description:    fmt.Sprintf("SQL injection in parameter %q (%s)", param, result.Signature),
			Recommendation: "Use parameterized queries or prepared statements",
		})
		s.logger.LogVulnerability(ctx, string(f.Severity), string(f.Kind), f.URL,
			"parameter", param, "payload", payload, "technique", f.Technique)
		return f, true
	}
	return types.Finding{}, false
}

// baselineSignatures records error signatures the endpoint already shows with
// untouched input so they are not attributed to a payload.
func (s *Scanner) baselineSignatures(ctx context.Context, req session.Request) map[string]bool {
	resp, err := s.requester.Do(ctx, req)
	if err != nil {
		s.logger.Debugw("Baseline request failed", "url", req.URL, "error", err)
		return nil
	}
	return matchedSignatures(resp.BodyString())
}
