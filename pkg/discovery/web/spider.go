package web

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/CodeMonkeyCybersecurity/webvuln/internal/logger"
	"github.com/CodeMonkeyCybersecurity/webvuln/internal/session"
)

// Fetcher performs the crawler's GET requests.
type Fetcher interface {
	Do(ctx context.Context, req session.Request) (*session.Response, error)
}

// Options bounds a crawl.
type Options struct {
	MaxPages int
	MaxDepth int
}

// FetchEvent describes the outcome of one fetch.
type FetchEvent struct {
	URL        string
	Depth      int
	StatusCode int
	Err        error
}

type crawlTarget struct {
	url   *url.URL
	key   string
	depth int
}

type crawlState struct {
	// seen holds every URL that is visited or queued, so len(seen) bounds
	// the number of pages the crawl can ever fetch.
	seen     map[string]bool
	visited  map[string]bool
	external map[string]bool
}

// Spider crawls a single site breadth first, one request at a time.
type Spider struct {
	fetcher Fetcher
	opts    Options
	logger  *logger.Logger
	onFetch func(FetchEvent)
}

// NewSpider creates a crawler. onFetch may be nil.
func NewSpider(fetcher Fetcher, opts Options, log *logger.Logger, onFetch func(FetchEvent)) *Spider {
	if log == nil {
		log = logger.NewNop()
	}
	return &Spider{
		fetcher: fetcher,
		opts:    opts,
		logger:  log.WithComponent("crawler"),
		onFetch: onFetch,
	}
}

// Crawl visits pages reachable from seed on the seed's host. Pages are
// fetched in non-decreasing depth order and each normalised URL at most once.
// On cancellation the partial result is returned together with ctx.Err().
func (s *Spider) Crawl(ctx context.Context, seed string) (*CrawlResult, error) {
	if s.opts.MaxPages <= 0 {
		return nil, fmt.Errorf("max pages must be positive, got %d", s.opts.MaxPages)
	}
	if s.opts.MaxDepth < 0 {
		return nil, fmt.Errorf("max depth must not be negative, got %d", s.opts.MaxDepth)
	}

	seedURL, err := url.Parse(seed)
	if err != nil || !seedURL.IsAbs() || seedURL.Host == "" {
		return nil, fmt.Errorf("invalid seed URL %q", seed)
	}
	seedURL.Fragment = ""

	start := time.Now()
	result := &CrawlResult{BaseURL: seedURL.String()}

	seedKey := normalize(seedURL)
	queue := []crawlTarget{{url: seedURL, key: seedKey, depth: 0}}
	state := &crawlState{
		seen:     map[string]bool{seedKey: true},
		visited:  make(map[string]bool),
		external: make(map[string]bool),
	}

	s.logger.Infow("Web crawling started",
		"start_url", seedURL.String(),
		"max_pages", s.opts.MaxPages,
		"max_depth", s.opts.MaxDepth)

	for len(queue) > 0 && len(state.visited) < s.opts.MaxPages {
		if err := ctx.Err(); err != nil {
			s.logger.Infow("Web crawling cancelled", "visited", len(state.visited), "queued", len(queue))
			return result, err
		}

		target := queue[0]
		queue = queue[1:]

		if state.visited[target.key] || target.depth > s.opts.MaxDepth {
			continue
		}
		state.visited[target.key] = true

		links, err := s.visit(ctx, seedURL, target, state, result)
		if err != nil {
			continue
		}

		for _, link := range links {
			l := newLink(seedURL, link)
			if l.External {
				key := normalize(link)
				if !state.external[key] {
					state.external[key] = true
					result.ExternalLinks = append(result.ExternalLinks, l)
				}
				continue
			}

			nextDepth := target.depth + 1
			if nextDepth > s.opts.MaxDepth {
				continue
			}
			key := normalize(link)
			if state.seen[key] || len(state.seen) >= s.opts.MaxPages {
				continue
			}
			state.seen[key] = true
			queue = append(queue, crawlTarget{url: link, key: key, depth: nextDepth})
		}
	}

	result.TotalForms = len(result.Forms)

	s.logger.Infow("Web crawling completed",
		"start_url", seedURL.String(),
		"pages_crawled", result.TotalPages,
		"unique_urls", len(state.visited),
		"failed", len(result.FailedURLs),
		"forms", result.TotalForms,
		"external_links", len(result.ExternalLinks),
		"duration", time.Since(start).String())

	return result, nil
}

// visit fetches one page, records it and returns the links found on it.
// When the fetch followed a redirect to a page that was already visited,
// that page is not parsed again.
func (s *Spider) visit(ctx context.Context, seedURL *url.URL, target crawlTarget, state *crawlState, result *CrawlResult) ([]*url.URL, error) {
	pageURL := target.url.String()

	resp, err := s.fetcher.Do(ctx, session.Request{
		Method:          "GET",
		URL:             pageURL,
		FollowRedirects: true,
		Phase:           "crawl",
	})
	if err != nil {
		s.logger.Warnw("Failed to fetch page", "url", pageURL, "depth", target.depth, "error", err)
		result.Visits = append(result.Visits, Visit{URL: pageURL, Depth: target.depth, Failed: true})
		result.FailedURLs = append(result.FailedURLs, pageURL)
		s.emit(FetchEvent{URL: pageURL, Depth: target.depth, Err: err})
		return nil, err
	}

	result.Visits = append(result.Visits, Visit{URL: pageURL, Depth: target.depth, StatusCode: resp.StatusCode})
	result.TotalPages++
	s.emit(FetchEvent{URL: pageURL, Depth: target.depth, StatusCode: resp.StatusCode})

	if target.depth == 0 {
		result.SeedFetched = true
		result.SeedCookies = resp.FirstCookies
	}

	if !resp.IsHTML() {
		return nil, nil
	}

	// A redirect off the seed host is out of scope: the hop is recorded but
	// the foreign page is not parsed.
	if resp.URL != nil && !SameHost(seedURL, resp.URL) {
		s.logger.Debugw("Redirect left scope", "url", pageURL, "final_url", resp.URL.String())
		return nil, nil
	}

	finalURL := target.url
	if resp.URL != nil {
		finalURL = resp.URL
		if finalKey := normalize(finalURL); finalKey != target.key {
			if state.visited[finalKey] {
				s.logger.Debugw("Redirect target already visited", "url", pageURL, "final_url", finalURL.String())
				return nil, nil
			}
			state.visited[finalKey] = true
			state.seen[finalKey] = true
		}
	}

	page, err := ParsePage(finalURL, resp.Body)
	if err != nil {
		s.logger.Debugw("Failed to parse page", "url", pageURL, "error", err)
		return nil, nil
	}

	result.Forms = append(result.Forms, page.Forms...)
	return page.Links, nil
}

func (s *Spider) emit(ev FetchEvent) {
	if s.onFetch != nil {
		s.onFetch(ev)
	}
}
