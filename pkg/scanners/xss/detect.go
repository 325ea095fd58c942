package xss

import (
	"html"
	"net/url"
	"regexp"
	"strings"

	"github.com/CodeMonkeyCybersecurity/webvuln/pkg/scanners"
)

// Marker is the token every built-in payload carries.
const Marker = "XSS"

// Detection rules, strongest first.
const (
	RuleReflection = "reflection"
	RuleExecutable = "executable_context"
	RuleSink       = "dangerous_sink"
)

type Detection struct {
	Vulnerable bool
	Rule       string
	Evidence   string
}

var executable = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<[a-z][^>]*\bon[a-z]+\s*=\s*[^>]*` + Marker),
	regexp.MustCompile(`(?is)<script[^>]*>[^<]*` + Marker),
}

var sinks = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<script[^>]*>[^<]*?alert\s*\(`),
	regexp.MustCompile(`(?is)<img[^>]*\bonerror\s*=\s*[^>]*alert\s*\(`),
	regexp.MustCompile(`(?is)<svg[^>]*\bonload\s*=\s*[^>]*alert\s*\(`),
	regexp.MustCompile(`(?is)<iframe[^>]*\bsrc\s*=\s*["']?\s*javascript:`),
}

// Detect reports whether body reflects payload in an executable way. It is
// pure and checks the rules in order: verbatim reflection, an event handler
// or script block carrying the marker, then known dangerous sinks.
func Detect(payload, body string) Detection {
	if payload != "" {
		if idx := strings.Index(body, payload); idx >= 0 {
			return Detection{
				Vulnerable: true,
				Rule:       RuleReflection,
				Evidence:   scanners.Excerpt(body, idx, idx+len(payload), 50),
			}
		}
	}
	if d, ok := firstMatch(RuleExecutable, executable, body); ok {
		return d
	}
	if d, ok := firstMatch(RuleSink, sinks, body); ok {
		return d
	}
	return Detection{}
}

func firstMatch(rule string, patterns []*regexp.Regexp, body string) (Detection, bool) {
	for _, re := range patterns {
		if loc := re.FindStringIndex(body); loc != nil {
			return Detection{
				Vulnerable: true,
				Rule:       rule,
				Evidence:   scanners.Excerpt(body, loc[0], loc[1], 50),
			}, true
		}
	}
	return Detection{}, false
}

// contextRules reports which non-reflection rules already fire on body.
func contextRules(body string) map[string]bool {
	rules := make(map[string]bool)
	if _, ok := firstMatch(RuleExecutable, executable, body); ok {
		rules[RuleExecutable] = true
	}
	if _, ok := firstMatch(RuleSink, sinks, body); ok {
		rules[RuleSink] = true
	}
	return rules
}

const (
	TechniqueTag       = "tag-based"
	TechniqueAttribute = "attribute-based"
	TechniqueProtocol  = "protocol-based"
	TechniqueEncoded   = "encoded"
	TechniqueReflected = "reflected"
)

var (
	tagPattern     = regexp.MustCompile(`(?i)<\s*[a-z]+`)
	handlerPattern = regexp.MustCompile(`(?i)\bon[a-z]+\s*=`)
)

// ClassifyTechnique labels how payload achieved execution in body. The result
// depends only on its inputs; precedence is tag, attribute, protocol, encoded.
func ClassifyTechnique(payload, body string) string {
	lowerBody := strings.ToLower(body)

	if tag := tagPattern.FindString(payload); tag != "" && strings.Contains(lowerBody, strings.ToLower(tag)) {
		return TechniqueTag
	}
	if handler := handlerPattern.FindString(payload); handler != "" && strings.Contains(lowerBody, strings.ToLower(handler)) {
		return TechniqueAttribute
	}
	if strings.Contains(strings.ToLower(payload), "javascript:") && strings.Contains(lowerBody, "javascript:") {
		return TechniqueProtocol
	}
	if isEncoded(payload) || escapedIn(payload, body) {
		return TechniqueEncoded
	}
	return TechniqueReflected
}

func escapedIn(payload, body string) bool {
	escaped := html.EscapeString(payload)
	return escaped != payload && strings.Contains(body, escaped)
}

func isEncoded(payload string) bool {
	if html.UnescapeString(payload) != payload {
		return true
	}
	if decoded, err := url.QueryUnescape(payload); err == nil && decoded != payload {
		return true
	}
	return strings.Contains(strings.ToLower(payload), `\x3c`)
}
