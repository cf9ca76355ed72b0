// The main package for the kblog executable.
//
// Run locally with go run . serve --config kblog.yaml, or rely on KBLOG_*
// environment overrides.
package main

import (
	"github.com/JakeFAU/kblog/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
