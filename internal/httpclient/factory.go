// Package httpclient builds the HTTP clients used by a scan session.
package httpclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"os"
	"time"

	"golang.org/x/net/publicsuffix"
)

// ClientConfig configures the scanner HTTP clients
type ClientConfig struct {
	Timeout         time.Duration
	BlockPrivateIPs bool // If true, refuses to dial private, loopback and link-local addresses
	FollowRedirects bool
	MaxRedirects    int
	InsecureSkipTLS bool
	MaxIdleConns    int
	IdleConnTimeout time.Duration
}

// DefaultConfig returns the scanner's default client configuration
func DefaultConfig() ClientConfig {
	return ClientConfig{
		Timeout:         10 * time.Second,
		FollowRedirects: true,
		MaxRedirects:    10,
		MaxIdleConns:    10,
		IdleConnTimeout: 90 * time.Second,
	}
}

// NewTransport returns a transport honouring the address policy in config.
// Clients built from the same transport share one connection pool.
func NewTransport(config ClientConfig) *http.Transport {
	idle := config.MaxIdleConns
	if idle <= 0 {
		idle = 10
	}
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if config.BlockPrivateIPs {
				if err := validateAddress(ctx, addr); err != nil {
					return nil, fmt.Errorf("private address blocked: %w", err)
				}
			}
			dialer := net.Dialer{Timeout: config.Timeout}
			return dialer.DialContext(ctx, network, addr)
		},
		MaxIdleConns:          idle,
		MaxIdleConnsPerHost:   idle,
		IdleConnTimeout:       config.IdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: config.InsecureSkipTLS,
		},
	}
}

// NewCookieJar returns a jar scoped by the public suffix list.
func NewCookieJar() (http.CookieJar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	return jar, nil
}

// NewClient builds a client on top of transport. Pass a nil jar to disable
// cookie persistence.
func NewClient(config ClientConfig, transport http.RoundTripper, jar http.CookieJar) *http.Client {
	client := &http.Client{
		Timeout:   config.Timeout,
		Transport: transport,
		Jar:       jar,
	}

	if !config.FollowRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	} else if config.MaxRedirects > 0 {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= config.MaxRedirects {
				return fmt.Errorf("stopped after %d redirects", config.MaxRedirects)
			}
			return nil
		}
	}

	return client
}

// validateAddress resolves addr and rejects it if any address is private
func validateAddress(ctx context.Context, addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", host, err)
	}

	for _, ip := range ips {
		if isPrivateIP(ip) {
			return fmt.Errorf("%s resolves to %s", host, ip)
		}
	}

	return nil
}

// isPrivateIP checks if an IP address is private, loopback, link-local or unspecified
func isPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsPrivate() ||
		ip.IsUnspecified()
}

// ReadBody reads at most limit bytes of the response body.
func ReadBody(resp *http.Response, limit int64) ([]byte, error) {
	if resp == nil || resp.Body == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10 * 1024 * 1024
	}
	return io.ReadAll(io.LimitReader(resp.Body, limit))
}

// CloseBody drains and closes an HTTP response body so the connection can be
// reused.
//
// Usage:
//
//	defer httpclient.CloseBody(resp)
func CloseBody(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}

	_, _ = io.Copy(io.Discard, resp.Body)

	if err := resp.Body.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close HTTP response body: %v\n", err)
	}
}
