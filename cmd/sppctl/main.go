package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds a 'v' prefix to numeric versions
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

var rootCmd = &cobra.Command{
	Use:   "sppctl",
	Short: "Bluetooth Classic serial (SPP) command-line tool",
	Long: `Bluetooth Classic Serial Port Profile (RFCOMM) command-line tool that provides:

- Discover paired and nearby Bluetooth Classic devices
- Open an interactive serial session to a device
- Send one-shot payloads
- Serve the JSON line plugin protocol over stdin/stdout
- Bridge a serial session to a local PTY for legacy serial tools

The radio backend (BlueZ or a table of local serial ports) is selected in the
configuration file passed with --config.`,
	Version: formatVersion(version),
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		// Ctrl+C is a normal exit
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	// main() prints errors itself
	rootCmd.SilenceErrors = true
	rootCmd.SetVersionTemplate(fmt.Sprintf("{{.Name}} {{.Version}} (commit %s, built %s)\n", commit, date))

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(serveCmd)
	addBridgeCommand(rootCmd)

	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("config", "", "Path to the YAML configuration file")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable debug logging")

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
