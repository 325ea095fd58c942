package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/CodeMonkeyCybersecurity/webvuln/internal/config"
	"github.com/CodeMonkeyCybersecurity/webvuln/internal/logger"
)

const envPrefix = "WEBVULN"

var (
	cfg *config.Config
	log *logger.Logger
)

var rootCmd = &cobra.Command{
	Use:   "webvuln",
	Short: "Authorized web application vulnerability scanner",
	Long: `webvuln - Web Application Vulnerability Scanner

Crawls a web application you are authorized to test and probes it for
SQL injection, reflected XSS, weak authentication and server
misconfiguration. Every scan ends with a report, even when it is
interrupted.

ONLY scan systems you own or have explicit written permission to test.

COMMANDS:
  webvuln scan <url>...     Full scan with the configured checks
  webvuln quick <url>       SQL injection and XSS only, 20 pages
  webvuln disclaimer        Print the legal disclaimer

CONFIGURATION:
  Flags override WEBVULN_* environment variables, which override the
  optional YAML file given with --config. Nested keys use underscores in
  the environment, e.g. WEBVULN_SCAN_MAX_PAGES=100.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "disclaimer" {
			return nil
		}

		var err error
		cfg, err = loadConfig(viper.GetViper())
		if err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		log, err = logger.New(cfg.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			log.Sync()
		}
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "YAML configuration file")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "console", "log format (json, console)")
	viper.BindPFlag("config_file", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("logger.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("logger.format", rootCmd.PersistentFlags().Lookup("log-format"))

	setDefaults(viper.GetViper(), config.DefaultConfig())
}

// setDefaults registers every configuration key so that AutomaticEnv can see
// keys that are never set by a flag or the config file.
func setDefaults(v *viper.Viper, d *config.Config) {
	v.SetDefault("logger.level", d.Logger.Level)
	v.SetDefault("logger.format", d.Logger.Format)
	v.SetDefault("logger.output_paths", d.Logger.OutputPaths)

	v.SetDefault("scan.max_pages", d.Scan.MaxPages)
	v.SetDefault("scan.max_depth", d.Scan.MaxDepth)
	v.SetDefault("scan.delay", d.Scan.Delay)
	v.SetDefault("scan.timeout", d.Scan.Timeout)
	v.SetDefault("scan.enabled_checks", d.Scan.EnabledChecks)
	v.SetDefault("scan.max_payloads_per_field", d.Scan.MaxPayloadsPerField)
	v.SetDefault("scan.max_url_payloads", d.Scan.MaxURLPayloads)
	v.SetDefault("scan.max_urls", d.Scan.MaxURLs)
	v.SetDefault("scan.max_login_forms", d.Scan.MaxLoginForms)
	v.SetDefault("scan.max_credentials", d.Scan.MaxCredentials)
	v.SetDefault("scan.max_body_size", d.Scan.MaxBodySize)

	v.SetDefault("http.user_agent", d.HTTP.UserAgent)
	v.SetDefault("http.max_redirects", d.HTTP.MaxRedirects)
	v.SetDefault("http.block_private_ips", d.HTTP.BlockPrivateIPs)
	v.SetDefault("http.insecure_skip_tls", d.HTTP.InsecureSkipTLS)
	v.SetDefault("http.max_idle_conns", d.HTTP.MaxIdleConns)
	v.SetDefault("http.idle_conn_timeout", d.HTTP.IdleConnTimeout)

	v.SetDefault("rate_limit.requests_per_second", d.RateLimit.RequestsPerSecond)
	v.SetDefault("rate_limit.burst_size", d.RateLimit.BurstSize)

	v.SetDefault("telemetry.enabled", d.Telemetry.Enabled)
	v.SetDefault("telemetry.service_name", d.Telemetry.ServiceName)
	v.SetDefault("telemetry.exporter_type", d.Telemetry.ExporterType)
	v.SetDefault("telemetry.endpoint", d.Telemetry.Endpoint)
	v.SetDefault("telemetry.sample_rate", d.Telemetry.SampleRate)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.addr", d.Metrics.Addr)

	v.SetDefault("payloads.file", d.Payloads.File)
}

// loadConfig merges the config file, WEBVULN_* environment and bound flags
// on top of the defaults.
func loadConfig(v *viper.Viper) (*config.Config, error) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file := v.GetString("config_file"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	c := &config.Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return c, nil
}
