// Package main is the entry point for the voicegate server CLI.
//
// Usage:
//
//	voicegate [flags] <command>
//
// Commands:
//
//	serve    - Run the voice gateway server
//	version  - Show version information
package main

import (
	"fmt"
	"os"

	"github.com/echoear/voicegate/cmd/voicegate/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
