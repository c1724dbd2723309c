// Package main is the entry point for the reviewflow service CLI.
package main

import (
	"fmt"
	"os"

	"github.com/reviewflow/reviewflow/cmd/reviewflow/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
