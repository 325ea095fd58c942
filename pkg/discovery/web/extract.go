package web

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Page holds what was extracted from one HTML document.
type Page struct {
	Title string
	Links []*url.URL
	Forms []Form
}

// ParsePage extracts crawlable links and forms from body. Links are resolved
// against pageURL (or a <base href>) and deduplicated; scope is not applied.
func ParsePage(pageURL *url.URL, body []byte) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	base := pageURL
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if resolved := resolveLink(pageURL, href); resolved != nil {
			base = resolved
		}
	}

	page := &Page{Title: strings.TrimSpace(doc.Find("title").First().Text())}

	seen := make(map[string]bool)
	doc.Find("a[href]").Each(func(i int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		abs := resolveLink(base, href)
		if abs == nil {
			return
		}
		key := normalize(abs)
		if seen[key] {
			return
		}
		seen[key] = true
		page.Links = append(page.Links, abs)
	})

	doc.Find("form").Each(func(i int, sel *goquery.Selection) {
		page.Forms = append(page.Forms, parseForm(pageURL, base, sel))
	})

	return page, nil
}

func parseForm(pageURL, base *url.URL, sel *goquery.Selection) Form {
	form := Form{
		ActionURL:    pageURL.String(),
		Method:       "GET",
		PageURL:      pageURL.String(),
		Enctype:      strings.TrimSpace(sel.AttrOr("enctype", "")),
		Autocomplete: strings.ToLower(strings.TrimSpace(sel.AttrOr("autocomplete", ""))),
	}

	if action, ok := sel.Attr("action"); ok && strings.TrimSpace(action) != "" {
		if ref, err := url.Parse(strings.TrimSpace(action)); err == nil {
			resolved := base.ResolveReference(ref)
			resolved.Fragment = ""
			form.ActionURL = resolved.String()
		}
	}

	if method := strings.TrimSpace(sel.AttrOr("method", "")); method != "" {
		form.Method = strings.ToUpper(method)
	}

	sel.Find("input, textarea, select").Each(func(i int, el *goquery.Selection) {
		field := Field{
			Name:         el.AttrOr("name", ""),
			Required:     el.Is("[required]"),
			Autocomplete: strings.ToLower(strings.TrimSpace(el.AttrOr("autocomplete", ""))),
		}

		switch goquery.NodeName(el) {
		case "textarea":
			field.Type = "textarea"
			field.Value = el.Text()
		case "select":
			field.Type = "select"
			option := el.Find("option[selected]").First()
			if option.Length() == 0 {
				option = el.Find("option").First()
			}
			field.Value = option.AttrOr("value", strings.TrimSpace(option.Text()))
		default:
			field.Type = strings.ToLower(strings.TrimSpace(el.AttrOr("type", "text")))
			if field.Type == "" {
				field.Type = "text"
			}
			field.Value = el.AttrOr("value", "")
		}

		if field.Name != "" && IsCSRFFieldName(field.Name) && !form.HasCSRFToken {
			form.HasCSRFToken = true
			form.CSRFTokenName = field.Name
		}

		form.Fields = append(form.Fields, field)
	})

	return form
}
