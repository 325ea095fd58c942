package cmd

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/CodeMonkeyCybersecurity/webvuln/internal/orchestrator"
	"github.com/CodeMonkeyCybersecurity/webvuln/internal/validation"
)

// checkPermission accepts --authorized, a permission file naming every
// target, or an explicit "yes" typed at the prompt.
func checkPermission(in io.Reader, out io.Writer, req scanRequest) error {
	if req.Authorized {
		return nil
	}

	if req.PermissionFile != "" {
		perm, err := validation.LoadPermissionFile(req.PermissionFile)
		if err != nil {
			return fmt.Errorf("%w: %v", orchestrator.ErrPermissionDenied, err)
		}
		for _, target := range req.Targets {
			if !perm.Covers(target) {
				return fmt.Errorf("%w: %s is not named in %s", orchestrator.ErrPermissionDenied, target, req.PermissionFile)
			}
		}
		return nil
	}

	color.New(color.FgYellow).Fprintln(out, "Only scan systems you own or have explicit written permission to test.")
	fmt.Fprintf(out, "Do you have explicit permission to test %s? (yes/no): ", strings.Join(req.Targets, ", "))

	line, _ := bufio.NewReader(in).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "yes", "y":
		return nil
	default:
		return orchestrator.ErrPermissionDenied
	}
}
