// Package main is the entry point for the warden credential service.
package main

import (
	"fmt"
	"os"

	"github.com/aussiebroadwan/warden/internal/guard/app"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	app.BuildVersion = version

	cmd := NewRootCmd()
	cmd.Version = fmt.Sprintf("%s (commit: %s)", version, commit)

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
