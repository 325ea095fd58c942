// pkg/scanners/auth/scanner.go
//
// Authentication tester:
// 1. Weak/default credentials against discovered login forms
// 2. Unauthenticated access to common protected paths
// 3. Session cookie attributes set by the crawl's seed response
// 4. CSRF and password handling of every form

package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/CodeMonkeyCybersecurity/webvuln/internal/logger"
	"github.com/CodeMonkeyCybersecurity/webvuln/internal/session"
	"github.com/CodeMonkeyCybersecurity/webvuln/pkg/discovery/web"
	"github.com/CodeMonkeyCybersecurity/webvuln/pkg/payloads"
	"github.com/CodeMonkeyCybersecurity/webvuln/pkg/scanners"
	"github.com/CodeMonkeyCybersecurity/webvuln/pkg/scanners/baseline"
	"github.com/CodeMonkeyCybersecurity/webvuln/pkg/types"
)

const Name = "auth"

type Options struct {
	MaxLoginForms  int
	MaxCredentials int
}

// Scanner performs authentication testing
type Scanner struct {
	requester scanners.Requester
	catalogue payloads.Authentication
	opts      Options
	logger    *logger.Logger
}

func NewScanner(requester scanners.Requester, catalogue payloads.Authentication, opts Options, log *logger.Logger) *Scanner {
	if log == nil {
		log = logger.NewNop()
	}
	return &Scanner{
		requester: requester,
		catalogue: catalogue,
		opts:      opts,
		logger:    log.WithTester(Name),
	}
}

func (s *Scanner) Name() string { return Name }

func (s *Scanner) Run(ctx context.Context, crawl *web.CrawlResult) ([]types.Finding, error) {
	var findings []types.Finding

	findings = append(findings, s.TestCredentials(ctx, crawl.Forms)...)
	if err := ctx.Err(); err != nil {
		return findings, err
	}

	findings = append(findings, s.TestBypass(ctx, crawl.BaseURL)...)
	if err := ctx.Err(); err != nil {
		return findings, err
	}

	if crawl.SeedFetched {
		findings = append(findings, CookieFindings(crawl.BaseURL, crawl.SeedCookies)...)
	} else {
		findings = append(findings, s.TestCookies(ctx, crawl.BaseURL)...)
	}
	if err := ctx.Err(); err != nil {
		return findings, err
	}

	seen := make(map[string]bool)
	for _, form := range crawl.Forms {
		key := form.Method + " " + web.EndpointKey(form.ActionURL)
		if seen[key] {
			continue
		}
		seen[key] = true
		findings = append(findings, FormFindings(form)...)
	}

	s.logger.Infow("Authentication testing completed",
		"forms", len(crawl.Forms),
		"findings_count", len(findings),
	)
	return findings, nil
}

// TestCredentials tries the weak credential list against up to MaxLoginForms
// distinct login forms.
func (s *Scanner) TestCredentials(ctx context.Context, forms []web.Form) []types.Finding {
	var findings []types.Finding
	tested := scanners.NewTracker()
	count := 0

	for _, form := range forms {
		if s.opts.MaxLoginForms > 0 && count >= s.opts.MaxLoginForms {
			break
		}
		if !IsLoginForm(form) || !tested.Claim(form.ActionURL, form.Method) {
			continue
		}
		count++

		if f, ok := s.testForm(ctx, form); ok {
			findings = append(findings, f)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return findings
}

func (s *Scanner) testForm(ctx context.Context, form web.Form) (types.Finding, bool) {
	user, ok := usernameField(form)
	if !ok {
		s.logger.Debugw("Login form has no username field", "action", form.ActionURL)
		return types.Finding{}, false
	}
	password, _ := form.PasswordField()

	creds := s.catalogue.WeakCredentials
	if s.opts.MaxCredentials > 0 && len(creds) > s.opts.MaxCredentials {
		creds = creds[:s.opts.MaxCredentials]
	}

	for _, cred := range creds {
		if ctx.Err() != nil {
			return types.Finding{}, false
		}

		values := form.Values()
		values.Set(user.Name, cred.Username)
		values.Set(password.Name, cred.Password)

		resp, err := s.requester.Do(ctx, session.Request{
			Method: form.Method,
			URL:    form.ActionURL,
			Form:   values,
			Phase:  Name,
		})
		if err != nil {
			s.logger.Debugw("Credential attempt failed", "action", form.ActionURL, "error", err)
			continue
		}

		if !IsLoginSuccess(resp) {
			continue
		}

		f := types.NewFinding(types.Finding{
			Tester:         Name,
			Kind:           types.KindWeakCredentials,
			Severity:       types.SeverityCritical,
			URL:            web.EndpointKey(form.ActionURL),
			Method:         form.Method,
			Parameter:      user.Name,
			Payload:        cred.Username + ":" + cred.Password,
			Evidence:       fmt.Sprintf("HTTP %d %s", resp.StatusCode, resp.Location()),
			Description:    fmt.Sprintf("Login accepted default credentials %s/%s", cred.Username, cred.Password),
			Recommendation: "Remove default accounts and enforce a strong password policy",
		})
		s.logger.LogVulnerability(ctx, string(f.Severity), string(f.Kind), f.URL, "username", cred.Username)
		return f, true
	}
	return types.Finding{}, false
}

// TestBypass requests each protected path without credentials.
func (s *Scanner) TestBypass(ctx context.Context, baseURL string) []types.Finding {
	fp, err := baseline.Calibrate(ctx, s.requester, baseURL, Name)
	if err != nil {
		s.logger.Debugw("Soft-404 calibration failed", "error", err)
	}

	var findings []types.Finding
	for _, path := range s.catalogue.ProtectedPaths {
		if ctx.Err() != nil {
			break
		}
		target, err := scanners.JoinPath(baseURL, path)
		if err != nil {
			continue
		}

		resp, err := s.requester.Do(ctx, session.Request{
			Method:          http.MethodGet,
			URL:             target,
			FollowRedirects: true,
			Phase:           Name,
		})
		if err != nil {
			s.logger.Debugw("Protected path request failed", "url", target, "error", err)
			continue
		}

		body := resp.BodyString()
		if resp.StatusCode != http.StatusOK || LooksLikeLoginPage(body) || fp.Matches(resp) {
			continue
		}

		f := types.NewFinding(types.Finding{
			Tester:         Name,
			Kind:           types.KindAuthBypass,
			Severity:       types.SeverityHigh,
			URL:            web.EndpointKey(target),
			Method:         http.MethodGet,
			Evidence:       scanners.Truncate(body, 200),
			Description:    fmt.Sprintf("Protected path %s is reachable without authentication", path),
			Recommendation: "Require authentication for administrative and account pages",
		})
		s.logger.LogVulnerability(ctx, string(f.Severity), string(f.Kind), f.URL)
		findings = append(findings, f)
	}
	return findings
}

// TestCookies inspects cookies set on the first, unredirected response of
// baseURL. Run only uses it when the crawl never reached the seed, since the
// session jar would replay cookies the crawl already received.
func (s *Scanner) TestCookies(ctx context.Context, baseURL string) []types.Finding {
	resp, err := s.requester.Do(ctx, session.Request{Method: http.MethodGet, URL: baseURL, Phase: Name})
	if err != nil {
		s.logger.Debugw("Cookie check request failed", "url", baseURL, "error", err)
		return nil
	}
	return CookieFindings(baseURL, resp.Cookies)
}
