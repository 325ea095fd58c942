package web

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"
)

// NormalizeURL returns the canonical form used for visited-set membership:
// lower-cased scheme and host, default port removed, empty path as "/",
// query parameters sorted by key and the fragment dropped.
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return "", fmt.Errorf("URL %q is not absolute", raw)
	}
	return normalize(u), nil
}

func normalize(u *url.URL) string {
	n := *u
	n.Scheme = strings.ToLower(n.Scheme)
	n.Host = hostKey(u)
	n.Fragment = ""
	n.RawFragment = ""
	n.User = nil
	if n.Path == "" {
		n.Path = "/"
		n.RawPath = ""
	}
	if n.RawQuery != "" {
		n.RawQuery = sortedQuery(n.RawQuery)
	}
	n.ForceQuery = false
	return n.String()
}

// sortedQuery orders parameters by key while keeping the order of repeated
// keys. Values are left encoded as they were.
func sortedQuery(raw string) string {
	parts := strings.Split(raw, "&")
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return queryKey(kept[i]) < queryKey(kept[j])
	})
	return strings.Join(kept, "&")
}

func queryKey(pair string) string {
	key, _, _ := strings.Cut(pair, "=")
	if unescaped, err := url.QueryUnescape(key); err == nil {
		return unescaped
	}
	return key
}

// hostKey is the lower-cased host with the scheme's default port removed.
func hostKey(u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	scheme := strings.ToLower(u.Scheme)
	if port == "" || (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		if strings.Contains(host, ":") {
			return "[" + host + "]"
		}
		return host
	}
	return net.JoinHostPort(host, port)
}

// SameHost reports whether a and b address the same host and port.
func SameHost(a, b *url.URL) bool {
	return hostKey(a) == hostKey(b)
}

// EndpointKey identifies an endpoint independent of its query string.
func EndpointKey(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	u.ForceQuery = false
	return normalize(u)
}

// ignoredSchemes are link targets that are never fetched.
var ignoredSchemes = []string{"javascript:", "mailto:", "tel:", "data:"}

// resolveLink resolves href against base. It returns nil for links that
// cannot be crawled.
func resolveLink(base *url.URL, href string) *url.URL {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return nil
	}
	lower := strings.ToLower(href)
	for _, scheme := range ignoredSchemes {
		if strings.HasPrefix(lower, scheme) {
			return nil
		}
	}

	ref, err := url.Parse(href)
	if err != nil {
		return nil
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return nil
	}
	abs.Fragment = ""
	abs.RawFragment = ""
	return abs
}
