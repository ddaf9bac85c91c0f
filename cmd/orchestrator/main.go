// ============================================================================
// Batchkit - Main Entry Point
// ============================================================================
//
// File: cmd/orchestrator/main.go
// Purpose: Application entry point and CLI initialization.
//
// Usage:
//   ./batchkit run                                 # Start the orchestrator
//   ./batchkit submit --dir ./inbox                # Submit a batch and wait
//   ./batchkit cancel --batch-id 123                # Cancel a batch
//   ./batchkit status                               # View runtime config
//
// ============================================================================

package main

import (
	"fmt"
	"os"

	"github.com/ChuLiYu/batchkit/internal/cli"
)

// Build-time version injection via ldflags.
var (
	version = "1.0.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "Fatal error: %v\n", r)
			os.Exit(1)
		}
	}()

	rootCmd := cli.BuildCLI()
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
