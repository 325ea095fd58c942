package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const disclaimerText = `This tool sends attack payloads to web applications. Use it ONLY against
systems you own or have explicit written permission to test.

Unauthorized scanning may be illegal in your jurisdiction and can disrupt
the systems you point it at. You are solely responsible for how you use it.

Before scanning, either:
  - pass --authorized to confirm you hold permission, or
  - pass --permission-file with a signed statement containing
      I, <name>, have explicit permission to test ...
      Target: <host or URL>
      Date: <date>
      Signature: <name>`

var disclaimerCmd = &cobra.Command{
	Use:   "disclaimer",
	Short: "Show the legal disclaimer",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		color.New(color.FgRed, color.Bold).Fprintln(out, "LEGAL DISCLAIMER")
		fmt.Fprintln(out, disclaimerText)
	},
}

func init() {
	rootCmd.AddCommand(disclaimerCmd)
}
