// Package scanners holds the contracts shared by the vulnerability testers.
package scanners

import (
	"context"

	"github.com/CodeMonkeyCybersecurity/webvuln/internal/session"
	"github.com/CodeMonkeyCybersecurity/webvuln/pkg/discovery/web"
	"github.com/CodeMonkeyCybersecurity/webvuln/pkg/types"
)

// Requester sends a single HTTP request on behalf of a tester.
type Requester interface {
	Do(ctx context.Context, req session.Request) (*session.Response, error)
}

// Tester examines a finished crawl and reports findings. Testers share no
// mutable state with each other and must not modify the crawl result.
type Tester interface {
	Name() string
	Run(ctx context.Context, crawl *web.CrawlResult) ([]types.Finding, error)
}
