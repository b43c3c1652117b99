package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/sppbridge/internal/discovery"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Discover paired and nearby devices",
	Long: `Lists paired devices and runs a bounded inquiry for nearby ones.
Paired devices come first, then inquiry results in the order they were seen.

Examples:
  sppctl scan
  sppctl scan --duration 15s --format json
  sppctl scan --allow 00:11:22:33:44:55`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
	scanAllow    []string
	scanBlock    []string
	scanNoColor  bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Inquiry duration (default from config, 8s)")
	scanCmd.Flags().StringVar(&scanFormat, "format", "table", "Output format: table or json")
	scanCmd.Flags().StringSliceVar(&scanAllow, "allow", nil, "Only report these addresses")
	scanCmd.Flags().StringSliceVar(&scanBlock, "block", nil, "Never report these addresses")
	scanCmd.Flags().BoolVar(&scanNoColor, "no-color", false, "Disable colored output")
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format %q (must be table or json)", scanFormat)
	}

	st, err := newStack(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	cmd.SilenceUsage = true

	opts := st.cfg.ScanOptions()
	if scanDuration > 0 {
		opts.Timeout = scanDuration
	}
	opts.AllowList = append(opts.AllowList, scanAllow...)
	opts.BlockList = append(opts.BlockList, scanBlock...)

	// Source of each device, collected while the scan runs.
	sources := make(map[string]discovery.Source)
	collected := make(chan struct{})
	stopCollect := make(chan struct{})
	go func() {
		defer close(collected)
		for {
			select {
			case f := <-st.scanner.Found():
				sources[f.Descriptor.Address] = f.Source
			case <-stopCollect:
				for {
					select {
					case f := <-st.scanner.Found():
						sources[f.Descriptor.Address] = f.Source
					default:
						return
					}
				}
			}
		}
	}()

	progress := NewCountdownProgressPrinter(cmd.ErrOrStderr(), "Scanning for devices", discovery.PhaseScanning, opts.Timeout, discovery.PhaseProcessing)
	progress.Start()
	result, err := st.scanner.Scan(cmd.Context(), opts, progress.Callback())
	progress.Stop()
	close(stopCollect)
	<-collected
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if scanFormat == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	return printScanTable(out, result, sources)
}

func printScanTable(out io.Writer, result *discovery.Result, sources map[string]discovery.Source) error {
	if result.Len() == 0 {
		_, err := fmt.Fprintln(out, "No devices found")
		return err
	}

	if scanNoColor {
		color.NoColor = true
	}
	paired := color.New(color.FgGreen).SprintFunc()

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tSOURCE")
	for _, d := range result.Descriptors() {
		source := sources[d.Address]
		if source == "" {
			source = discovery.SourceInquiry
		}
		label := string(source)
		if source == discovery.SourceBonded {
			// Last column, so escape codes do not disturb alignment.
			label = paired(label)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", d.DisplayName(), d.Address, label)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "\n%d device(s) found\n", result.Len())
	return err
}
