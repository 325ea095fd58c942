package validation

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
)

// ErrPermissionFile is wrapped by every permission file rejection.
var ErrPermissionFile = errors.New("invalid permission file")

// requiredStatements must all appear in a signed authorization statement,
// for example:
//
//	I, Jane Doe, have explicit permission to test the system below.
//	Target: https://staging.example.com
//	Date: 2026-01-31
//	Signature: Jane Doe
var requiredStatements = []string{"I,", "have explicit permission", "Target:", "Date:", "Signature:"}

var targetLine = regexp.MustCompile(`(?mi)^[ \t]*Target:[ \t]*(\S+)`)

// Permission is a parsed authorization statement.
type Permission struct {
	Targets []string
	Text    string
}

// LoadPermissionFile reads and checks an authorization statement.
func LoadPermissionFile(path string) (*Permission, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPermissionFile, err)
	}
	return ParsePermission(string(data))
}

// ParsePermission checks that text contains every required statement and
// collects the Target: lines.
func ParsePermission(text string) (*Permission, error) {
	var missing []string
	for _, stmt := range requiredStatements {
		if !strings.Contains(text, stmt) {
			missing = append(missing, stmt)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", ErrPermissionFile, strings.Join(missing, ", "))
	}

	p := &Permission{Text: text}
	for _, m := range targetLine.FindAllStringSubmatch(text, -1) {
		p.Targets = append(p.Targets, m[1])
	}
	return p, nil
}

// Covers reports whether target's host is named by one of the Target: lines.
// A Target line may be a bare host or a URL.
func (p *Permission) Covers(target string) bool {
	host := hostOf(target)
	if host == "" {
		return false
	}
	for _, t := range p.Targets {
		if hostOf(t) == host {
			return true
		}
	}
	return false
}

func hostOf(s string) string {
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
