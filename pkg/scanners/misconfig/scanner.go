// pkg/scanners/misconfig/scanner.go
//
// Security misconfiguration tester. Stateless checks against the base URL:
// security headers, exposed files, default pages, verbose errors, version
// control metadata and directory listings.

package misconfig

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/CodeMonkeyCybersecurity/webvuln/internal/logger"
	"github.com/CodeMonkeyCybersecurity/webvuln/internal/session"
	"github.com/CodeMonkeyCybersecurity/webvuln/pkg/discovery/web"
	"github.com/CodeMonkeyCybersecurity/webvuln/pkg/payloads"
	"github.com/CodeMonkeyCybersecurity/webvuln/pkg/scanners"
	"github.com/CodeMonkeyCybersecurity/webvuln/pkg/scanners/baseline"
	"github.com/CodeMonkeyCybersecurity/webvuln/pkg/types"
)

const Name = "config"

type Scanner struct {
	requester scanners.Requester
	catalogue payloads.Config
	logger    *logger.Logger
}

func NewScanner(requester scanners.Requester, catalogue payloads.Config, log *logger.Logger) *Scanner {
	if log == nil {
		log = logger.NewNop()
	}
	return &Scanner{
		requester: requester,
		catalogue: catalogue,
		logger:    log.WithTester(Name),
	}
}

func (s *Scanner) Name() string { return Name }

func (s *Scanner) Run(ctx context.Context, crawl *web.CrawlResult) ([]types.Finding, error) {
	base := crawl.BaseURL
	var findings []types.Finding

	// A failing base page only costs the header check; the path checks
	// request their own URLs.
	resp, baseErr := s.get(ctx, base)
	if baseErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warnw("Base URL unreachable, skipping security header check", "url", base, "error", baseErr)
	} else {
		findings = append(findings, HeaderFindings(base, resp.Header)...)
	}

	fp, err := baseline.Calibrate(ctx, s.requester, base, Name)
	if err != nil {
		s.logger.Debugw("Soft-404 calibration failed", "error", err)
	}

	checks := []func(context.Context, string, *baseline.Fingerprint) []types.Finding{
		s.checkExposedFiles,
		s.checkDefaultPages,
		s.checkErrorProbes,
		s.checkVCS,
		s.checkListings,
	}
	for _, check := range checks {
		if err := ctx.Err(); err != nil {
			return findings, err
		}
		findings = append(findings, check(ctx, base, fp)...)
	}

	s.logger.Infow("Configuration testing completed", "findings_count", len(findings))
	if err := ctx.Err(); err != nil {
		return findings, err
	}
	if baseErr != nil {
		return findings, fmt.Errorf("security headers not checked, base URL unreachable: %w", baseErr)
	}
	return findings, nil
}

func (s *Scanner) get(ctx context.Context, target string) (*session.Response, error) {
	return s.requester.Do(ctx, session.Request{
		Method:          http.MethodGet,
		URL:             target,
		FollowRedirects: true,
		Phase:           Name,
	})
}

// probe fetches each path under base and hands 200 responses that are not
// the soft-404 page to match. It stops early if match returns stop.
func (s *Scanner) probe(ctx context.Context, base string, paths []string, fp *baseline.Fingerprint,
	match func(path, target string, resp *session.Response) (f *types.Finding, stop bool)) []types.Finding {

	var findings []types.Finding
	for _, path := range paths {
		if ctx.Err() != nil {
			break
		}
		target, err := scanners.JoinPath(base, path)
		if err != nil {
			continue
		}
		resp, err := s.get(ctx, target)
		if err != nil {
			s.logger.Debugw("Probe failed", "url", target, "error", err)
			continue
		}
		if resp.StatusCode == http.StatusOK && fp.Matches(resp) {
			continue
		}

		f, stop := match(path, target, resp)
		if f != nil {
			s.logger.LogVulnerability(ctx, string(f.Severity), string(f.Kind), f.URL)
			findings = append(findings, *f)
		}
		if stop {
			break
		}
	}
	return findings
}

func (s *Scanner) checkExposedFiles(ctx context.Context, base string, fp *baseline.Fingerprint) []types.Finding {
	return s.probe(ctx, base, s.catalogue.ExposedFiles, fp, func(path, target string, resp *session.Response) (*types.Finding, bool) {
		if resp.StatusCode != http.StatusOK || len(resp.Body) == 0 {
			return nil, false
		}
		return finding(types.KindSensitiveFile, types.SeverityMedium, target, resp,
			fmt.Sprintf("Sensitive file is publicly accessible: %s", path),
			"Remove the file from the web root or deny access to it"), false
	})
}

func (s *Scanner) checkDefaultPages(ctx context.Context, base string, fp *baseline.Fingerprint) []types.Finding {
	return s.probe(ctx, base, s.catalogue.DefaultPages, fp, func(path, target string, resp *session.Response) (*types.Finding, bool) {
		lower := strings.ToLower(resp.BodyString())
		if resp.StatusCode != http.StatusOK || strings.Contains(lower, "not found") || strings.Contains(lower, "error") {
			return nil, false
		}
		return finding(types.KindDefaultPage, types.SeverityHigh, target, resp,
			fmt.Sprintf("Administrative or default page is exposed: %s", path),
			"Remove default pages and restrict administrative interfaces"), false
	})
}

func (s *Scanner) checkErrorProbes(ctx context.Context, base string, fp *baseline.Fingerprint) []types.Finding {
	return s.probe(ctx, base, s.catalogue.ErrorProbes, fp, func(path, target string, resp *session.Response) (*types.Finding, bool) {
		if resp.StatusCode != http.StatusInternalServerError {
			return nil, false
		}
		marker, ok := VerboseErrorMarker(resp.BodyString())
		if !ok {
			return nil, false
		}
		f := finding(types.KindVerboseError, types.SeverityMedium, target, resp,
			fmt.Sprintf("Verbose error page on %s (%q)", path, marker),
			"Disable debug output and show generic error pages in production")
		return f, false
	})
}

func (s *Scanner) checkVCS(ctx context.Context, base string, fp *baseline.Fingerprint) []types.Finding {
	return s.probe(ctx, base, s.catalogue.VCSPaths, fp, func(path, target string, resp *session.Response) (*types.Finding, bool) {
		if resp.StatusCode != http.StatusOK || !LooksLikeVCSFile(path, resp.BodyString()) {
			return nil, false
		}
		return finding(types.KindVCSExposure, types.SeverityCritical, target, resp,
			fmt.Sprintf("Version control metadata is exposed: %s", path),
			"Block access to version control directories and remove them from deployments"), true
	})
}

func (s *Scanner) checkListings(ctx context.Context, base string, fp *baseline.Fingerprint) []types.Finding {
	return s.probe(ctx, base, s.catalogue.ListingDirs, fp, func(path, target string, resp *session.Response) (*types.Finding, bool) {
		if resp.StatusCode != http.StatusOK || !IsDirectoryListing(resp.BodyString()) {
			return nil, false
		}
		return finding(types.KindDirectoryListing, types.SeverityMedium, target, resp,
			fmt.Sprintf("Directory listing is enabled: %s", path),
			"Disable automatic directory indexes"), false
	})
}

func finding(kind types.VulnerabilityKind, sev types.Severity, target string, resp *session.Response, desc, rec string) *types.Finding {
	f := types.NewFinding(types.Finding{
		Tester:         Name,
		Kind:           kind,
		Severity:       sev,
		URL:            web.EndpointKey(target),
		Method:         http.MethodGet,
		Evidence:       fmt.Sprintf("HTTP %d: %s", resp.StatusCode, scanners.Truncate(resp.BodyString(), 200)),
		Description:    desc,
		Recommendation: rec,
	})
	return &f
}
