// Package main is the entry point for the capkit CLI.
package main

import (
	"fmt"
	"os"

	"github.com/xuacker/capkit/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
