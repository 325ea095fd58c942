package main

import (
	"os"

	"github.com/CodeMonkeyCybersecurity/webvuln/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
