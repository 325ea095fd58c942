package web

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"HTTP://Example.COM", "http://example.com/"},
		{"http://example.com:80/a", "http://example.com/a"},
		{"https://example.com:443/a", "https://example.com/a"},
		{"http://example.com:8080/a", "http://example.com:8080/a"},
		{"http://example.com/a#section", "http://example.com/a"},
		{"http://example.com/a?b=2&a=1", "http://example.com/a?a=1&b=2"},
		{"http://example.com/a?x=2&x=1", "http://example.com/a?x=2&x=1"},
		{"http://user:pw@example.com/", "http://example.com/"},
		{"http://[::1]:80/", "http://[::1]/"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeURL(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeURLRejectsRelative(t *testing.T) {
	_, err := NormalizeURL("/relative/path")
	assert.Error(t, err)
}

func TestNormalizeURLIsIdempotent(t *testing.T) {
	inputs := []string{
		"HTTP://Example.com:80?z=1&a=2#frag",
		"https://example.com/path/?q=%20x",
	}
	for _, in := range inputs {
		once, err := NormalizeURL(in)
		require.NoError(t, err)
		twice, err := NormalizeURL(once)
		require.NoError(t, err)
		assert.Equal(t, once, twice)
	}
}

func TestResolveLink(t *testing.T) {
	base, _ := url.Parse("http://example.com/dir/page.html")

	tests := []struct {
		href string
		want string
	}{
		{"other.html", "http://example.com/dir/other.html"},
		{"/root", "http://example.com/root"},
		{"//cdn.example.net/x.js", "http://cdn.example.net/x.js"},
		{"https://example.com/secure#top", "https://example.com/secure"},
		{"#top", ""},
		{"javascript:alert(1)", ""},
		{"JavaScript:void(0)", ""},
		{"mailto:admin@example.com", ""},
		{"tel:+123", ""},
		{"data:text/html,hi", ""},
		{"ftp://example.com/file", ""},
		{"   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.href, func(t *testing.T) {
			got := resolveLink(base, tt.href)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestSameHostAndEndpointKey(t *testing.T) {
	a, _ := url.Parse("http://Example.com:80/x")
	b, _ := url.Parse("http://example.com/y")
	c, _ := url.Parse("http://example.com:8080/y")
	d, _ := url.Parse("http://sub.example.com/y")

	assert.True(t, SameHost(a, b))
	assert.False(t, SameHost(b, c))
	assert.False(t, SameHost(b, d))

	assert.Equal(t, "http://example.com/search", EndpointKey("http://EXAMPLE.com/search?q=1"))
}
