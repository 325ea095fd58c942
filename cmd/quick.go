package cmd

import (
	"github.com/spf13/cobra"

	"github.com/CodeMonkeyCybersecurity/webvuln/internal/config"
)

const quickMaxPages = 20

var quickCmd = &cobra.Command{
	Use:   "quick <url>",
	Short: "Fast scan for SQL injection and XSS only",
	Long: `Crawl at most 20 pages and test them for SQL injection and reflected XSS.

Example:
  webvuln quick https://staging.example.com --authorized`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScans(commandContext(cmd), cmd.InOrStdin(), cmd.OutOrStdout(),
			quickConfig(cfg), requestFromFlags(cmd, args))
	},
}

func init() {
	rootCmd.AddCommand(quickCmd)
	addAuthorizationFlags(quickCmd)
}

// quickConfig copies c with the crawl and checks narrowed.
func quickConfig(c *config.Config) *config.Config {
	if c == nil {
		c = config.DefaultConfig()
	}
	quick := *c
	quick.Scan.MaxPages = quickMaxPages
	quick.Scan.EnabledChecks = []string{config.CheckSQLi, config.CheckXSS}
	return &quick
}
