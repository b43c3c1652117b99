package main

import "github.com/spf13/cobra"

// The PTY bridge needs a Unix pseudo-terminal.
func addBridgeCommand(*cobra.Command) {}
