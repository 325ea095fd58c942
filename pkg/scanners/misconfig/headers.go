package misconfig

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/CodeMonkeyCybersecurity/webvuln/pkg/discovery/web"
	"github.com/CodeMonkeyCybersecurity/webvuln/pkg/types"
)

// HeaderCheck is one entry of the security header checklist.
type HeaderCheck struct {
	Name           string
	Severity       types.Severity
	Recommendation string
}

var SecurityHeaders = []HeaderCheck{
	{"X-Frame-Options", types.SeverityMedium, "Add X-Frame-Options: DENY or SAMEORIGIN"},
	{"X-Content-Type-Options", types.SeverityLow, "Add X-Content-Type-Options: nosniff"},
	{"Strict-Transport-Security", types.SeverityMedium, "Add Strict-Transport-Security: max-age=31536000; includeSubDomains"},
	{"Content-Security-Policy", types.SeverityMedium, "Implement a restrictive Content-Security-Policy"},
	{"X-XSS-Protection", types.SeverityLow, "Add X-XSS-Protection: 1; mode=block"},
	{"Referrer-Policy", types.SeverityLow, "Add Referrer-Policy: strict-origin-when-cross-origin"},
	{"Permissions-Policy", types.SeverityLow, "Add a Permissions-Policy limiting browser features"},
}

var versioned = regexp.MustCompile(`[0-9/]`)

// HeaderFindings reports missing security headers and version leaks in
// header. One finding is produced per missing header.
func HeaderFindings(pageURL string, header http.Header) []types.Finding {
	endpoint := web.EndpointKey(pageURL)
	var findings []types.Finding

	for _, check := range SecurityHeaders {
		if header.Get(check.Name) != "" {
			continue
		}
		findings = append(findings, types.NewFinding(types.Finding{
			Tester:         Name,
			Kind:           types.KindMissingSecurityHeader,
			Severity:       check.Severity,
			URL:            endpoint,
			Parameter:      check.Name,
			Description:    fmt.Sprintf("Missing security header: %s", check.Name),
			Recommendation: check.Recommendation,
		}))
	}

	if server := header.Get("Server"); server != "" && versioned.MatchString(server) {
		findings = append(findings, disclosure(endpoint, "Server", server,
			"Remove version details from the Server header"))
	}
	if powered := header.Get("X-Powered-By"); powered != "" {
		findings = append(findings, disclosure(endpoint, "X-Powered-By", powered,
			"Remove the X-Powered-By header"))
	}
	return findings
}

func disclosure(endpoint, name, value, rec string) types.Finding {
	return types.NewFinding(types.Finding{
		Tester:         Name,
		Kind:           types.KindInformationDisclosure,
		Severity:       types.SeverityLow,
		URL:            endpoint,
		Parameter:      name,
		Evidence:       name + ": " + value,
		Description:    fmt.Sprintf("%s header discloses server software", name),
		Recommendation: rec,
	})
}

var listingMarkers = []string{"index of /", "directory listing", "parent directory", "[to parent directory]"}

// IsDirectoryListing reports whether body is an auto-generated index page.
func IsDirectoryListing(body string) bool {
	lower := strings.ToLower(body)
	for _, m := range listingMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

var errorMarkers = []string{
	"stack trace", "traceback (most recent call last)", "exception", "fatal error",
	"warning:", "on line", "sqlstate", "syntax error", "debug", "at line",
}

// VerboseErrorMarker returns the first debug or stack trace marker in body.
func VerboseErrorMarker(body string) (string, bool) {
	lower := strings.ToLower(body)
	for _, m := range errorMarkers {
		if strings.Contains(lower, m) {
			return m, true
		}
	}
	return "", false
}

// vcsMarkers are content checks for files whose format is known.
var vcsMarkers = map[string]string{
	"/.git/config":  "[core]",
	"/.git/HEAD":    "ref:",
	"/.svn/entries": "dir",
	"/.hg/hgrc":     "[",
}

// LooksLikeVCSFile checks body against the expected format of path, when
// one is known.
func LooksLikeVCSFile(path, body string) bool {
	marker, ok := vcsMarkers[path]
	if !ok {
		return len(body) > 0
	}
	return strings.Contains(body, marker)
}
