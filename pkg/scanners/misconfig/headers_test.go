package misconfig

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeMonkeyCybersecurity/webvuln/pkg/types"
)

func hardenedHeaders() http.Header {
	h := http.Header{}
	for _, check := range SecurityHeaders {
		h.Set(check.Name, "set")
	}
	return h
}

func TestHeaderFindingsMissingCSPAndFrameOptions(t *testing.T) {
	h := hardenedHeaders()
	h.Del("Content-Security-Policy")
	h.Del("X-Frame-Options")

	findings := HeaderFindings("http://example.com/", h)
	require.Len(t, findings, 2)

	named := map[string]types.Finding{}
	for _, f := range findings {
		assert.Equal(t, types.KindMissingSecurityHeader, f.Kind)
		assert.Contains(t, f.Description, f.Parameter)
		named[f.Parameter] = f
	}
	require.Contains(t, named, "Content-Security-Policy")
	require.Contains(t, named, "X-Frame-Options")
	assert.Equal(t, types.SeverityMedium, named["X-Frame-Options"].Severity)
	assert.Equal(t, "Add X-Frame-Options: DENY or SAMEORIGIN", named["X-Frame-Options"].Recommendation)
}

func TestHeaderFindingsAllMissing(t *testing.T) {
	findings := HeaderFindings("http://example.com/", http.Header{})
	assert.Len(t, findings, len(SecurityHeaders))
}

func TestHeaderFindingsDisclosure(t *testing.T) {
	h := hardenedHeaders()
	h.Set("Server", "Apache/2.4.41 (Ubuntu)")
	h.Set("X-Powered-By", "PHP/7.4.3")

	findings := HeaderFindings("http://example.com/", h)
	require.Len(t, findings, 2)
	for _, f := range findings {
		assert.Equal(t, types.KindInformationDisclosure, f.Kind)
		assert.Equal(t, types.SeverityLow, f.Severity)
	}

	h.Set("Server", "nginx")
	h.Del("X-Powered-By")
	assert.Empty(t, HeaderFindings("http://example.com/", h))
}

func TestIsDirectoryListing(t *testing.T) {
	assert.True(t, IsDirectoryListing("<title>Index of /uploads</title>"))
	assert.True(t, IsDirectoryListing("<a href=\"../\">Parent Directory</a>"))
	assert.False(t, IsDirectoryListing("<h1>Gallery</h1>"))
}

func TestVerboseErrorMarker(t *testing.T) {
	marker, ok := VerboseErrorMarker("Traceback (most recent call last):\n  File \"app.py\"")
	assert.True(t, ok)
	assert.Equal(t, "traceback (most recent call last)", marker)

	_, ok = VerboseErrorMarker("<h1>Something went wrong</h1>")
	assert.False(t, ok)
}

func TestLooksLikeVCSFile(t *testing.T) {
	assert.True(t, LooksLikeVCSFile("/.git/config", "[core]\n\trepositoryformatversion = 0"))
	assert.False(t, LooksLikeVCSFile("/.git/config", "<html>home</html>"))
	assert.True(t, LooksLikeVCSFile("/.git/index", "DIRC"))
}
