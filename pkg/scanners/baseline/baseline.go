// Package baseline fingerprints a site's response to a path that cannot
// exist, so probes that hit a catch-all "not found" page are not reported.
package baseline

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/twmb/murmur3"

	"github.com/CodeMonkeyCybersecurity/webvuln/internal/session"
	"github.com/CodeMonkeyCybersecurity/webvuln/pkg/scanners"
)

// SizeTolerance is the relative body-size difference still treated as the
// same page.
const SizeTolerance = 0.05

// Fingerprint describes a site's missing-page response. A nil Fingerprint
// matches nothing.
type Fingerprint struct {
	StatusCode int
	Hash       uint64
	Size       int
}

// Calibrate requests a random path under baseURL and fingerprints the result.
func Calibrate(ctx context.Context, requester scanners.Requester, baseURL, phase string) (*Fingerprint, error) {
	target, err := scanners.JoinPath(baseURL, "/"+uuid.NewString())
	if err != nil {
		return nil, err
	}

	resp, err := requester.Do(ctx, session.Request{
		Method:          http.MethodGet,
		URL:             target,
		FollowRedirects: true,
		Phase:           phase,
	})
	if err != nil {
		return nil, fmt.Errorf("soft-404 calibration failed: %w", err)
	}
	return fingerprint(resp), nil
}

func fingerprint(resp *session.Response) *Fingerprint {
	body := normalize(resp)
	return &Fingerprint{
		StatusCode: resp.StatusCode,
		Hash:       murmur3.Sum64(body),
		Size:       len(body),
	}
}

// normalize drops the request path from the body, since catch-all pages
// often echo it back.
func normalize(resp *session.Response) []byte {
	if resp.URL == nil || resp.URL.Path == "" || resp.URL.Path == "/" {
		return resp.Body
	}
	return bytes.ReplaceAll(resp.Body, []byte(resp.URL.Path), nil)
}

// Matches reports whether resp looks like the calibrated missing page.
func (f *Fingerprint) Matches(resp *session.Response) bool {
	if f == nil || resp == nil || resp.StatusCode != f.StatusCode {
		return false
	}

	other := fingerprint(resp)
	if other.Hash == f.Hash {
		return true
	}

	larger := f.Size
	if other.Size > larger {
		larger = other.Size
	}
	if larger == 0 {
		return true
	}
	diff := f.Size - other.Size
	if diff < 0 {
		diff = -diff
	}
	return float64(diff)/float64(larger) <= SizeTolerance
}
