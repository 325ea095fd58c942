package scanners

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/CodeMonkeyCybersecurity/webvuln/internal/session"
	"github.com/CodeMonkeyCybersecurity/webvuln/pkg/discovery/web"
)

// FormRequest builds a submission of form with value placed in field and
// every other field holding its original value.
func FormRequest(form web.Form, field, value, phase string) session.Request {
	values := form.Values()
	if field != "" {
		values.Set(field, value)
	}
	return session.Request{
		Method:          form.Method,
		URL:             form.ActionURL,
		Form:            values,
		FollowRedirects: true,
		Phase:           phase,
	}
}

// QueryParams returns the sorted parameter names of rawURL.
func QueryParams(rawURL string) ([]string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	names := make([]string, 0)
	for name := range u.Query() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// WithParam returns rawURL with param replaced by value. Other parameters
// keep their values.
func WithParam(rawURL, param, value string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", rawURL, err)
	}
	query := u.Query()
	query.Set(param, value)
	u.RawQuery = query.Encode()
	u.Fragment = ""
	return u.String(), nil
}

// Excerpt returns up to radius characters either side of body[start:end].
func Excerpt(body string, start, end, radius int) string {
	if start < 0 || end > len(body) || start > end {
		return Truncate(body, 2*radius)
	}
	from := start - radius
	if from < 0 {
		from = 0
	}
	to := end + radius
	if to > len(body) {
		to = len(body)
	}
	out := body[from:to]
	if from > 0 {
		out = "..." + out
	}
	if to < len(body) {
		out += "..."
	}
	return out
}

// Truncate shortens s to n bytes, marking the cut.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// JoinPath appends path, with its query, to base's path. base's trailing
// slash, query and fragment are dropped.
func JoinPath(base, path string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", base, err)
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("invalid path %q: %w", path, err)
	}
	root := &url.URL{Scheme: u.Scheme, Host: u.Host, Path: strings.TrimSuffix(u.Path, "/")}
	if !strings.HasPrefix(ref.Path, "/") {
		ref.Path = "/" + ref.Path
	}
	root.Path += ref.Path
	root.RawQuery = ref.RawQuery
	return root.String(), nil
}

// Tracker remembers which (endpoint, parameter) pairs have been tested.
type Tracker struct {
	seen map[string]bool
}

func NewTracker() *Tracker {
	return &Tracker{seen: make(map[string]bool)}
}

// Claim marks the pair as tested and reports whether it was new.
func (t *Tracker) Claim(endpoint, param string) bool {
	key := web.EndpointKey(endpoint) + "\x00" + param
	if t.seen[key] {
		return false
	}
	t.seen[key] = true
	return true
}
