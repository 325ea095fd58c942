package auth

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/CodeMonkeyCybersecurity/webvuln/internal/session"
	"github.com/CodeMonkeyCybersecurity/webvuln/pkg/discovery/web"
	"github.com/CodeMonkeyCybersecurity/webvuln/pkg/types"
)

var loginKeywords = []string{"login", "signin", "sign-in", "sign_in", "auth", "logon"}

// IsLoginForm reports whether form has a password field and a login keyword
// in its action or page URL.
func IsLoginForm(form web.Form) bool {
	if _, ok := form.PasswordField(); !ok {
		return false
	}
	haystack := strings.ToLower(form.ActionURL + " " + form.PageURL)
	for _, kw := range loginKeywords {
		if strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}

// usernameField returns the first text or email field of form.
func usernameField(form web.Form) (web.Field, bool) {
	for _, f := range form.Fields {
		if f.Name != "" && (f.Type == "text" || f.Type == "email") {
			return f, true
		}
	}
	return web.Field{}, false
}

var (
	failureMarkers = []string{"invalid", "incorrect", "failed", "denied", "error"}
	successMarkers = []string{"welcome", "dashboard", "logout", "profile"}
)

// IsLoginSuccess judges a login response. A redirect away from the login
// page, or a page with success markers and no failure markers, counts as
// success. This is a heuristic and will misjudge unusual applications.
func IsLoginSuccess(resp *session.Response) bool {
	if resp.IsRedirect() {
		location := resp.Location()
		return location != "" && !strings.Contains(strings.ToLower(location), "login")
	}

	lower := strings.ToLower(resp.BodyString())
	for _, m := range failureMarkers {
		if strings.Contains(lower, m) {
			return false
		}
	}
	for _, m := range successMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// LooksLikeLoginPage reports whether body presents a login prompt.
func LooksLikeLoginPage(body string) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err == nil {
		password := doc.Find("input").FilterFunction(func(_ int, s *goquery.Selection) bool {
			return strings.EqualFold(s.AttrOr("type", ""), "password")
		})
		if password.Length() > 0 {
			return true
		}
	}
	lower := strings.ToLower(body)
	return strings.Contains(lower, "login") || strings.Contains(lower, "log in") || strings.Contains(lower, "sign in")
}

// CookieFindings checks each cookie for the Secure, HttpOnly and SameSite
// attributes. A response without cookies yields a single informational
// finding.
func CookieFindings(pageURL string, cookies []*http.Cookie) []types.Finding {
	endpoint := web.EndpointKey(pageURL)
	if len(cookies) == 0 {
		return []types.Finding{types.NewFinding(types.Finding{
			Tester:      Name,
			Kind:        types.KindSessionManagement,
			Severity:    types.SeverityInfo,
			URL:         endpoint,
			Description: "No cookies set on the initial response; session handling could not be assessed",
		})}
	}

	var findings []types.Finding
	for _, c := range cookies {
		if !c.Secure {
			findings = append(findings, cookieFinding(endpoint, c, "Secure", types.SeverityMedium,
				"Set the Secure flag so the cookie is only sent over HTTPS"))
		}
		if !c.HttpOnly {
			findings = append(findings, cookieFinding(endpoint, c, "HttpOnly", types.SeverityMedium,
				"Set the HttpOnly flag so scripts cannot read the cookie"))
		}
		if c.SameSite != http.SameSiteLaxMode && c.SameSite != http.SameSiteStrictMode {
			findings = append(findings, cookieFinding(endpoint, c, "SameSite", types.SeverityLow,
				"Set SameSite=Lax or SameSite=Strict"))
		}
	}
	return findings
}

func cookieFinding(endpoint string, c *http.Cookie, attr string, sev types.Severity, rec string) types.Finding {
	return types.NewFinding(types.Finding{
		Tester:         Name,
		Kind:           types.KindInsecureCookie,
		Severity:       sev,
		URL:            endpoint,
		Parameter:      c.Name,
		Technique:      attr,
		Evidence:       c.String(),
		Description:    fmt.Sprintf("Cookie %q is missing the %s attribute", c.Name, attr),
		Recommendation: rec,
	})
}

// FormFindings reports CSRF and password-handling weaknesses of one form.
// It makes no requests.
func FormFindings(form web.Form) []types.Finding {
	endpoint := web.EndpointKey(form.ActionURL)
	var findings []types.Finding

	if form.Method == http.MethodPost && !form.HasCSRFToken {
		findings = append(findings, types.NewFinding(types.Finding{
			Tester:         Name,
			Kind:           types.KindMissingCSRFToken,
			Severity:       types.SeverityMedium,
			URL:            endpoint,
			Method:         form.Method,
			Description:    fmt.Sprintf("POST form on %s has no anti-CSRF token", form.PageURL),
			Recommendation: "Include a per-session anti-CSRF token in state-changing forms",
		}))
	}

	password, ok := form.PasswordField()
	if !ok {
		return findings
	}

	if form.Method == http.MethodGet {
		findings = append(findings, passwordFinding(form, endpoint, password.Name, types.SeverityHigh, "get",
			"Password is submitted in the query string",
			"Submit credentials with POST"))
	}
	if u, err := url.Parse(form.ActionURL); err == nil && u.Scheme != "https" {
		findings = append(findings, passwordFinding(form, endpoint, password.Name, types.SeverityHigh, "cleartext",
			"Password is submitted over an unencrypted connection",
			"Serve login forms and their targets over HTTPS only"))
	}
	if !strings.EqualFold(password.Autocomplete, "off") && !strings.EqualFold(form.Autocomplete, "off") &&
		!strings.EqualFold(password.Autocomplete, "new-password") {
		findings = append(findings, passwordFinding(form, endpoint, password.Name, types.SeverityLow, "autocomplete",
			"Password field allows browser autocomplete",
			"Set autocomplete=\"off\" or \"new-password\" on password fields"))
	}
	return findings
}

func passwordFinding(form web.Form, endpoint, field string, sev types.Severity, technique, desc, rec string) types.Finding {
	return types.NewFinding(types.Finding{
		Tester:         Name,
		Kind:           types.KindInsecurePasswordForm,
		Severity:       sev,
		URL:            endpoint,
		Method:         form.Method,
		Parameter:      field,
		Technique:      technique,
		Description:    desc,
		Recommendation: rec,
	})
}
