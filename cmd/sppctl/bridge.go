//go:build !windows

package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/srg/sppbridge/internal/bridge"
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge <device-address>",
	Short: "Expose a serial session as a local PTY",
	Long: `Connects to the device and creates a pseudo-terminal. Bytes written to the
PTY are sent to the device and bytes from the device appear on the PTY, so
tools that expect a serial port (screen, minicom, pyserial) work unchanged.

Examples:
  sppctl bridge 00:11:22:33:44:55
  sppctl bridge 00:11:22:33:44:55 --symlink /tmp/hc05`,
	Args: cobra.ExactArgs(1),
	RunE: runBridge,
}

var (
	bridgeService string
	bridgeSymlink string
)

func addBridgeCommand(root *cobra.Command) {
	bridgeCmd.Flags().StringVar(&bridgeService, "service", "", "Service UUID (default SPP)")
	bridgeCmd.Flags().StringVar(&bridgeSymlink, "symlink", "", "Create a symlink to the PTY device (default from config)")
	root.AddCommand(bridgeCmd)
}

func runBridge(cmd *cobra.Command, args []string) error {
	st, err := newStack(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	cmd.SilenceUsage = true

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	symlink := bridgeSymlink
	if symlink == "" {
		symlink = st.cfg.Bridge.Symlink
	}
	opts := &bridge.Options{
		Address: args[0],
		Service: bridgeService,
		Symlink: symlink,
		Logger:  st.logger,
	}
	opts.Buffers.ReadCap = st.cfg.Bridge.BufferSize
	opts.Buffers.WriteCap = st.cfg.Bridge.BufferSize

	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Starting bridge for %s", args[0]), "Connecting", "Running", "Failed")
	progress.Start()
	defer progress.Stop()

	_, err = bridge.Run(ctx, st.sessions, st.hub, opts, progress.Callback(), func(b bridge.Bridge) (struct{}, error) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Bridging %s to %s\n", b.Address(), b.TTYName())
		if b.TTYSymlink() != "" {
			fmt.Fprintf(out, "Symlink: %s -> %s\n", b.TTYSymlink(), b.TTYName())
		}
		fmt.Fprintln(out, "Press Ctrl+C to stop.")

		select {
		case <-ctx.Done():
			st.logger.Info("Bridge shutting down...")
			return struct{}{}, nil
		case msg := <-b.Lost():
			return struct{}{}, fmt.Errorf("%w: %s", ErrConnectionLost, msg)
		}
	})
	return err
}
