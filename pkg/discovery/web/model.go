package web

import (
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// Field is one named control of an HTML form.
type Field struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	Value        string `json:"value,omitempty"`
	Required     bool   `json:"required,omitempty"`
	Autocomplete string `json:"autocomplete,omitempty"`
}

// Form is built once per <form> element and not modified afterwards.
type Form struct {
	ActionURL     string  `json:"action_url"`
	Method        string  `json:"method"`
	Enctype       string  `json:"enctype,omitempty"`
	Autocomplete  string  `json:"autocomplete,omitempty"`
	Fields        []Field `json:"fields"`
	PageURL       string  `json:"page_url"`
	HasCSRFToken  bool    `json:"has_csrf_token"`
	CSRFTokenName string  `json:"csrf_token_name,omitempty"`
}

var csrfIndicators = []string{
	"csrf", "token", "_token", "authenticity_token",
	"csrf_token", "csrfmiddlewaretoken", "auth_token",
}

// IsCSRFFieldName reports whether name looks like an anti-CSRF token field.
func IsCSRFFieldName(name string) bool {
	if name == "" {
		return false
	}
	lower := strings.ToLower(name)
	for _, indicator := range csrfIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}

// Values returns every named field with its original value. When several
// fields share a name the last one wins.
func (f Form) Values() url.Values {
	values := url.Values{}
	for _, field := range f.Fields {
		if field.Name == "" {
			continue
		}
		values.Set(field.Name, field.Value)
	}
	return values
}

// TestableFields returns the named, user-editable fields whose type is one of
// types. Hidden, submit and CSRF token fields are never returned. Duplicate
// names are reported once.
func (f Form) TestableFields(types ...string) []Field {
	allowed := make(map[string]bool, len(types))
	for _, t := range types {
		allowed[t] = true
	}

	seen := make(map[string]bool)
	var out []Field
	for _, field := range f.Fields {
		switch {
		case field.Name == "", seen[field.Name]:
			continue
		case field.Type == "hidden", field.Type == "submit", field.Type == "button":
			continue
		case IsCSRFFieldName(field.Name):
			continue
		case !allowed[field.Type]:
			continue
		}
		seen[field.Name] = true
		out = append(out, field)
	}
	return out
}

// PasswordField returns the first password field, if any.
func (f Form) PasswordField() (Field, bool) {
	for _, field := range f.Fields {
		if field.Type == "password" {
			return field, true
		}
	}
	return Field{}, false
}

// Link is a hyperlink discovered on a crawled page.
type Link struct {
	URL         string   `json:"url"`
	Domain      string   `json:"domain"`
	QueryParams []string `json:"query_params,omitempty"`
	External    bool     `json:"external"`
}

func newLink(seed, target *url.URL) Link {
	var params []string
	for key := range target.Query() {
		params = append(params, key)
	}
	sort.Strings(params)
	return Link{
		URL:         target.String(),
		Domain:      hostKey(target),
		QueryParams: params,
		External:    !SameHost(seed, target),
	}
}

// Visit records one fetched URL.
type Visit struct {
	URL        string `json:"url"`
	Depth      int    `json:"depth"`
	StatusCode int    `json:"status_code,omitempty"`
	Failed     bool   `json:"failed,omitempty"`
}

// CrawlResult is the crawler's output. It must be treated as read-only once
// returned.
type CrawlResult struct {
	BaseURL       string   `json:"base_url"`
	Visits        []Visit  `json:"visits"`
	FailedURLs    []string `json:"failed_urls,omitempty"`
	ExternalLinks []Link   `json:"external_links,omitempty"`
	Forms         []Form   `json:"forms"`
	TotalPages    int      `json:"total_pages"`
	TotalForms    int      `json:"total_forms"`

	// SeedFetched reports whether the seed URL answered. SeedCookies are
	// the cookies its first response set, before any redirect was followed.
	SeedFetched bool           `json:"-"`
	SeedCookies []*http.Cookie `json:"-"`
}

// VisitedURLs returns the visited URLs in visit order.
func (r *CrawlResult) VisitedURLs() []string {
	out := make([]string, len(r.Visits))
	for i, v := range r.Visits {
		out[i] = v.URL
	}
	return out
}

// URLsWithQuery returns successfully fetched URLs that carry query parameters.
func (r *CrawlResult) URLsWithQuery() []string {
	var out []string
	for _, v := range r.Visits {
		if v.Failed || !strings.Contains(v.URL, "?") {
			continue
		}
		out = append(out, v.URL)
	}
	return out
}
