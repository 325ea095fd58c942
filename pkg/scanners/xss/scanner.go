// pkg/scanners/xss/scanner.go
//
// Reflected cross-site scripting tester. Mirrors the SQL injection tester:
// one parameter at a time, first positive per parameter wins.

package xss

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

const Name = "xss"

var fieldTypes = []string{"text", "search", "textarea", "url", "email"}

type Options struct {
	MaxPayloadsPerField int
	MaxURLPayloads      int
	MaxURLs             int
}

// Scanner tests forms and URLs for reflected XSS
type Scanner struct {
	requester scanners.Requester
	payloads  []string
	opts      Options
	logger    *logger.Logger
	tracker   *scanners.Tracker
}

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

	s.logger.Infow("XSS testing completed",
		"forms", len(crawl.Forms),
		"urls", len(urls),
		"findings_count", len(findings),
	)
	return findings, ctx.Err()
}

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

	known := s.baselineRules(ctx, scanners.FormRequest(form, "", "", Name))

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

	known := s.baselineRules(ctx, session.Request{Method: http.MethodGet, URL: rawURL, FollowRedirects: true, Phase: Name})

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
			s.logger.Debugw("XSS probe failed", "url", endpoint, "parameter", param, "error", err)
			continue
		}

		body := resp.BodyString()
		d := Detect(payload, body)
		if !d.Vulnerable || known[d.Rule] {
			continue
		}

		f := types.NewFinding(types.Finding{
			Tester:         Name,
			Kind:           types.KindXSS,
			Severity:       types.SeverityHigh,
			URL:            web.EndpointKey(endpoint),
			Method:         method,
			Parameter:      param,
			Payload:        payload,
			Technique:      ClassifyTechnique(payload, body),
			Evidence:       d.Evidence,
			Description:    fmt.Sprintf("Reflected XSS in parameter %q (%s)", param, d.Rule),
			Recommendation: "Encode output and implement Content-Security-Policy",
		})
		s.logger.LogVulnerability(ctx, string(f.Severity), string(f.Kind), f.URL,
			"parameter", param, "payload", payload, "technique", f.Technique)
		return f, true
	}
	return types.Finding{}, false
}

// baselineRules records context rules that fire without any payload, such as
// a page that legitimately ships an alert() script.
func (s *Scanner) baselineRules(ctx context.Context, req session.Request) map[string]bool {
	resp, err := s.requester.Do(ctx, req)
	if err != nil {
		s.logger.Debugw("Baseline request failed", "url", req.URL, "error", err)
		return nil
	}
	return contextRules(resp.BodyString())
}
