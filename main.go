// Copyright (c) 2026 Stagehand Team
// Stagehand - VM provisioning and backup toolkit
// This source code is licensed under the MIT license found in the LICENSE file.

// Command-line entrypoint for Stagehand.
//
// Usage:
//
//	go run . [flags]
//	./stagehand [command] [flags]
//
// Without a command the terminal view of known instances opens. See --help.
package main

import (
	"os"

	"github.com/stagehand-ops/stagehand/internal/execx"
	"github.com/stagehand-ops/stagehand/ui/cli"
)

// main exits with the failing external command's exit code, or 1.
func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(execx.ExitCode(err))
	}
}
