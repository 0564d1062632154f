// Package main is tallyctl, the operator CLI for tally-connect.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "tallyctl: %v\n", err)
		os.Exit(1)
	}
}
