package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/sppbridge/internal/codec"
)

var writeCmd = &cobra.Command{
	Use:   "write <device-address> <data>",
	Short: "Send one payload to a device",
	Long: `Connects, writes the payload, optionally prints what the device answers
for --wait, and disconnects.

Examples:
  # Send text followed by CRLF
  sppctl write 00:11:22:33:44:55 "AT" --eol crlf

  # Send raw bytes given as base64
  sppctl write 00:11:22:33:44:55 QVQNCg== --base64

  # Send and print the answer for two seconds
  sppctl write 00:11:22:33:44:55 "AT+VERSION?" --eol crlf --wait 2s`,
	Args: cobra.ExactArgs(2),
	RunE: runWrite,
}

var (
	writeService string
	writeBase64  bool
	writeEOL     string
	writeWait    time.Duration
)

func init() {
	writeCmd.Flags().StringVar(&writeService, "service", "", "Service UUID (default SPP)")
	writeCmd.Flags().BoolVar(&writeBase64, "base64", false, "Treat data as padded base64; raw text by default")
	writeCmd.Flags().StringVar(&writeEOL, "eol", "none", "Line ending appended to text data: crlf, lf, cr or none")
	writeCmd.Flags().DurationVar(&writeWait, "wait", 0, "Print device output for this long after writing")
}

func runWrite(cmd *cobra.Command, args []string) error {
	address, data := args[0], args[1]

	eol, err := lineEnding(writeEOL)
	if err != nil {
		return err
	}
	if writeBase64 {
		if len(eol) > 0 {
			return fmt.Errorf("--eol cannot be combined with --base64")
		}
		if _, err := codec.Decode(data); err != nil {
			return fmt.Errorf("failed to parse data: %w", err)
		}
	}

	st, err := newStack(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lost := make(chan string, 1)
	if writeWait > 0 {
		detach := st.hub.Add(deviceOutput(cmd.OutOrStdout(), lost, st))
		defer detach()
	}

	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Writing to %s", address), "Connecting", "Connected")
	progress.Start()
	err = st.sessions.Connect(ctx, address, writeService)
	progress.Callback()("Connected")
	if err != nil {
		return err
	}

	if writeBase64 {
		err = st.sessions.Write(ctx, data)
	} else {
		err = st.sessions.WriteBytes(append([]byte(data), eol...))
	}
	if err != nil {
		return err
	}
	st.logger.WithField("address", st.sessions.Address()).Info("Write successful")

	if writeWait > 0 {
		wait := time.NewTimer(writeWait)
		defer wait.Stop()
		select {
		case <-ctx.Done():
		case <-wait.C:
		case msg := <-lost:
			return fmt.Errorf("%w: %s", ErrConnectionLost, msg)
		}
	}
	return nil
}
