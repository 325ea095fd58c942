package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/CodeMonkeyCybersecurity/webvuln/internal/config"
	"github.com/CodeMonkeyCybersecurity/webvuln/internal/logger"
	"github.com/CodeMonkeyCybersecurity/webvuln/internal/metrics"
	"github.com/CodeMonkeyCybersecurity/webvuln/internal/orchestrator"
	"github.com/CodeMonkeyCybersecurity/webvuln/internal/telemetry"
	"github.com/CodeMonkeyCybersecurity/webvuln/pkg/shutdown"
	"github.com/CodeMonkeyCybersecurity/webvuln/pkg/types"
)

const shutdownGrace = 10 * time.Second

// scanRequest holds the per-invocation options that are not part of the
// persistent configuration.
type scanRequest struct {
	Targets        []string
	Authorized     bool
	PermissionFile string
	Output         string
	Concurrency    int
}

var scanCmd = &cobra.Command{
	Use:   "scan <url> [url...]",
	Short: "Crawl targets and test them for common web vulnerabilities",
	Long: `Crawl each target breadth-first within its origin, then run the enabled
checks (sqli, xss, auth, config) against what was found.

Several targets are scanned as independent scans, --concurrency at a time.
Interrupting with Ctrl+C stops the running scans at their next request and
still prints and writes their reports.

Examples:
  webvuln scan https://staging.example.com --authorized
  webvuln scan https://app.test --permission-file permission.txt --checks sqli,xss
  webvuln scan https://a.test https://b.test --authorized --output report.json`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := requestFromFlags(cmd, args)
		return runScans(commandContext(cmd), cmd.InOrStdin(), cmd.OutOrStdout(), cfg, req)
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)

	flags := scanCmd.Flags()
	flags.Int("max-pages", 50, "maximum pages to crawl per target")
	flags.Int("max-depth", 3, "maximum link depth from the start URL")
	flags.Duration("delay", 200*time.Millisecond, "minimum delay between requests")
	flags.Duration("timeout", 10*time.Second, "per-request timeout")
	flags.StringSlice("checks", config.DefaultChecks, "checks to run (sqli,xss,auth,config)")
	flags.String("payloads", "", "YAML payload catalogue overriding the built-in lists")
	flags.Float64("rate-limit", 10, "requests per second across the session")
	flags.Bool("metrics", false, "expose Prometheus metrics while scanning")
	flags.String("metrics-addr", ":9090", "listen address for /metrics")

	viper.BindPFlag("scan.max_pages", flags.Lookup("max-pages"))
	viper.BindPFlag("scan.max_depth", flags.Lookup("max-depth"))
	viper.BindPFlag("scan.delay", flags.Lookup("delay"))
	viper.BindPFlag("scan.timeout", flags.Lookup("timeout"))
	viper.BindPFlag("scan.enabled_checks", flags.Lookup("checks"))
	viper.BindPFlag("payloads.file", flags.Lookup("payloads"))
	viper.BindPFlag("rate_limit.requests_per_second", flags.Lookup("rate-limit"))
	viper.BindPFlag("metrics.enabled", flags.Lookup("metrics"))
	viper.BindPFlag("metrics.addr", flags.Lookup("metrics-addr"))

	addAuthorizationFlags(scanCmd)
	flags.Int("concurrency", 2, "targets scanned at the same time")
}

// addAuthorizationFlags registers the flags shared by every command that
// sends traffic to a target.
func addAuthorizationFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("authorized", false, "confirm you have explicit permission to test the targets")
	cmd.Flags().String("permission-file", "", "signed authorization statement naming the targets")
	cmd.Flags().StringP("output", "o", "", "write the JSON report to this file (- for stdout)")
}

func requestFromFlags(cmd *cobra.Command, args []string) scanRequest {
	req := scanRequest{Targets: args, Concurrency: 1}
	req.Authorized, _ = cmd.Flags().GetBool("authorized")
	req.PermissionFile, _ = cmd.Flags().GetString("permission-file")
	req.Output, _ = cmd.Flags().GetString("output")
	if n, err := cmd.Flags().GetInt("concurrency"); err == nil && n > 0 {
		req.Concurrency = n
	}
	return req
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// runScans checks authorization, then scans every target with its own
// orchestrator and prints and writes the reports. Reports of interrupted
// scans are still written.
func runScans(ctx context.Context, in io.Reader, out io.Writer, c *config.Config, req scanRequest) error {
	if c == nil {
		c = config.DefaultConfig()
	}
	for _, target := range req.Targets {
		if _, err := config.ValidateTarget(target); err != nil {
			return err
		}
	}
	if err := c.Validate(); err != nil {
		return err
	}
	if err := checkPermission(in, out, req); err != nil {
		return err
	}

	l := log
	if l == nil {
		l = logger.NewNop()
	}

	handler := shutdown.NewHandler(l)
	defer handler.Shutdown()
	ctx, cancel := handler.Watch(ctx, shutdownGrace)
	defer cancel()

	tel, err := telemetry.New(ctx, c.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	handler.RegisterShutdownFunc(tel.Close)

	var recorder *metrics.Recorder
	if c.Metrics.Enabled {
		recorder, err = metrics.NewRecorder()
		if err != nil {
			return fmt.Errorf("failed to initialize metrics: %w", err)
		}
		go func() {
			if err := recorder.Serve(ctx, c.Metrics.Addr); err != nil {
				l.Warnw("Metrics server stopped", "addr", c.Metrics.Addr, "error", err)
			}
		}()
		l.Infow("Serving Prometheus metrics", "addr", c.Metrics.Addr, "path", "/metrics")
	}

	console := newPrinter(out)
	reports := make([]*types.ScanReport, len(req.Targets))
	scanErrs := make([]error, len(req.Targets))

	var g errgroup.Group
	g.SetLimit(req.Concurrency)
	for i, target := range req.Targets {
		g.Go(func() error {
			o := orchestrator.New(c, orchestrator.Options{
				Observer:  console.observer(target),
				Metrics:   recorder,
				Telemetry: tel,
				Logger:    l.WithTarget(target),
			})
			reports[i], scanErrs[i] = o.Run(ctx, target, true)
			return nil
		})
	}
	_ = g.Wait()

	var written []*types.ScanReport
	for i, report := range reports {
		if report == nil {
			continue
		}
		console.summary(report)
		if scanErrs[i] != nil {
			l.Warnw("Scan did not complete", "target", req.Targets[i], "status", report.Status, "error", scanErrs[i])
		}
		written = append(written, report)
	}

	if req.Output != "" && len(written) > 0 {
		if err := writeReports(req.Output, out, written); err != nil {
			return err
		}
		if req.Output != "-" {
			fmt.Fprintf(out, "Report written to %s\n", req.Output)
		}
	}

	return errors.Join(scanErrs...)
}
