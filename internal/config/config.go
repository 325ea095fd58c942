package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Check names accepted in ScanConfig.EnabledChecks.
const (
	CheckSQLi   = "sqli"
	CheckXSS    = "xss"
	CheckAuth   = "auth"
	CheckConfig = "config"
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// DefaultChecks is the order testers run in when none are configured.
var DefaultChecks = []string{CheckSQLi, CheckXSS, CheckAuth, CheckConfig}

type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	Scan      ScanConfig      `mapstructure:"scan"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Payloads  PayloadsConfig  `mapstructure:"payloads"`
}

type LoggerConfig struct {
	Level       string   `mapstructure:"level"`
	Format      string   `mapstructure:"format"`
	OutputPaths []string `mapstructure:"output_paths"`
}

// ScanConfig bounds a single scan. Delay is the minimum spacing between
// requests and Timeout applies to each request individually.
type ScanConfig struct {
	MaxPages            int           `mapstructure:"max_pages"`
	MaxDepth            int           `mapstructure:"max_depth"`
	Delay               time.Duration `mapstructure:"delay"`
	Timeout             time.Duration `mapstructure:"timeout"`
	EnabledChecks       []string      `mapstructure:"enabled_checks"`
	MaxPayloadsPerField int           `mapstructure:"max_payloads_per_field"`
	MaxURLPayloads      int           `mapstructure:"max_url_payloads"`
	MaxURLs             int           `mapstructure:"max_urls"`
	MaxLoginForms       int           `mapstructure:"max_login_forms"`
	MaxCredentials      int           `mapstructure:"max_credentials"`
	MaxBodySize         int64         `mapstructure:"max_body_size"`
}

type HTTPConfig struct {
	UserAgent       string        `mapstructure:"user_agent"`
	MaxRedirects    int           `mapstructure:"max_redirects"`
	BlockPrivateIPs bool          `mapstructure:"block_private_ips"`
	InsecureSkipTLS bool          `mapstructure:"insecure_skip_tls"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	IdleConnTimeout time.Duration `mapstructure:"idle_conn_timeout"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	BurstSize         int     `mapstructure:"burst_size"`
}

type TelemetryConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	ServiceName  string  `mapstructure:"service_name"`
	ExporterType string  `mapstructure:"exporter_type"`
	Endpoint     string  `mapstructure:"endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// PayloadsConfig points at an optional YAML catalogue that replaces the
// built-in payload lists section by section.
type PayloadsConfig struct {
	File string `mapstructure:"file"`
}

func DefaultConfig() *Config {
	return &Config{
		Logger: LoggerConfig{
			Level:       "info",
			Format:      "console",
			OutputPaths: []string{"stderr"},
		},
		Scan: DefaultScanConfig(),
		HTTP: HTTPConfig{
			UserAgent:       "webvuln-scanner/1.0",
			MaxRedirects:    10,
			MaxIdleConns:    10,
			IdleConnTimeout: 90 * time.Second,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 10,
			BurstSize:         1,
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			ServiceName:  "webvuln",
			ExporterType: "otlp",
			Endpoint:     "localhost:4318",
			SampleRate:   1.0,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9090",
		},
	}
}

func DefaultScanConfig() ScanConfig {
	return ScanConfig{
		MaxPages:            50,
		MaxDepth:            3,
		Delay:               200 * time.Millisecond,
		Timeout:             10 * time.Second,
		EnabledChecks:       append([]string(nil), DefaultChecks...),
		MaxPayloadsPerField: 10,
		MaxURLPayloads:      5,
		MaxURLs:             10,
		MaxLoginForms:       2,
		MaxCredentials:      5,
		MaxBodySize:         10 * 1024 * 1024,
	}
}

// Validate rejects configurations that must never reach the network.
func (c *Config) Validate() error {
	if err := c.Scan.Validate(); err != nil {
		return err
	}
	if c.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("%w: rate_limit.requests_per_second must not be negative", ErrInvalidConfig)
	}
	if c.HTTP.MaxRedirects < 0 {
		return fmt.Errorf("%w: http.max_redirects must not be negative", ErrInvalidConfig)
	}
	return nil
}

func (s ScanConfig) Validate() error {
	switch {
	case s.MaxPages <= 0:
		return fmt.Errorf("%w: max_pages must be positive, got %d", ErrInvalidConfig, s.MaxPages)
	case s.MaxDepth < 0:
		return fmt.Errorf("%w: max_depth must not be negative, got %d", ErrInvalidConfig, s.MaxDepth)
	case s.Delay < 0:
		return fmt.Errorf("%w: delay must not be negative, got %s", ErrInvalidConfig, s.Delay)
	case s.Timeout <= 0:
		return fmt.Errorf("%w: timeout must be positive, got %s", ErrInvalidConfig, s.Timeout)
	case s.MaxPayloadsPerField <= 0 || s.MaxURLPayloads <= 0:
		return fmt.Errorf("%w: payload limits must be positive", ErrInvalidConfig)
	case s.MaxURLs < 0 || s.MaxLoginForms < 0 || s.MaxCredentials < 0:
		return fmt.Errorf("%w: tester limits must not be negative", ErrInvalidConfig)
	}

	seen := make(map[string]bool, len(s.EnabledChecks))
	for _, check := range s.EnabledChecks {
		name := strings.ToLower(strings.TrimSpace(check))
		switch name {
		case CheckSQLi, CheckXSS, CheckAuth, CheckConfig:
		default:
			return fmt.Errorf("%w: unknown check %q", ErrInvalidConfig, check)
		}
		if seen[name] {
			return fmt.Errorf("%w: check %q listed twice", ErrInvalidConfig, check)
		}
		seen[name] = true
	}
	return nil
}

// Checks returns the enabled checks normalised, falling back to DefaultChecks.
func (s ScanConfig) Checks() []string {
	if len(s.EnabledChecks) == 0 {
		return append([]string(nil), DefaultChecks...)
	}
	out := make([]string, 0, len(s.EnabledChecks))
	for _, check := range s.EnabledChecks {
		out = append(out, strings.ToLower(strings.TrimSpace(check)))
	}
	return out
}

// ValidateTarget checks that target is an absolute http(s) URL with a host.
func ValidateTarget(target string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(target))
	if err != nil {
		return nil, fmt.Errorf("%w: target %q: %v", ErrInvalidConfig, target, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: target %q must use http or https", ErrInvalidConfig, target)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: target %q has no host", ErrInvalidConfig, target)
	}
	return u, nil
}
