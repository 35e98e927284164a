// Package main is the truthrank entry point.
//
// Usage:
//
//	truthrank serve --config truthrank.yaml
//	truthrank worker
//	truthrank migrate up
//	truthrank run-job recalculate_ranks
package main

import (
	"fmt"
	"os"

	"github.com/truthrank/truthrank/cmd/truthrank/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
