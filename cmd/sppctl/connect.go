package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/sppbridge/internal/codec"
	"github.com/srg/sppbridge/internal/device"
	"github.com/srg/sppbridge/internal/events"
	"github.com/srg/sppbridge/internal/groutine"
	"github.com/srg/sppbridge/internal/servicedb"
)

var connectCmd = &cobra.Command{
	Use:   "connect <device-address>",
	Short: "Open an interactive serial session",
	Long: `Connects to the device and copies its output to stdout. Each line typed on
stdin is sent to the device followed by the selected line ending. The session
ends on Ctrl+C or when the device drops the link. Once stdin ends, device output
keeps printing for --linger.

Examples:
  sppctl connect 00:11:22:33:44:55
  sppctl connect 00:11:22:33:44:55 --eol lf --service 1101`,
	Args: cobra.ExactArgs(1),
	RunE: runConnect,
}

var (
	connectService string
	connectEOL     string
	connectLinger  time.Duration
)

func init() {
	connectCmd.Flags().StringVar(&connectService, "service", "", "Service UUID (default SPP 00001101-0000-1000-8000-00805F9B34FB)")
	connectCmd.Flags().StringVar(&connectEOL, "eol", "crlf", "Line ending appended to each input line: crlf, lf, cr or none")
	connectCmd.Flags().DurationVar(&connectLinger, "linger", time.Second, "How long to keep printing device output after stdin ends")
}

// lineEnding maps an --eol value to its bytes.
func lineEnding(name string) ([]byte, error) {
	switch name {
	case "crlf":
		return []byte("\r\n"), nil
	case "lf":
		return []byte("\n"), nil
	case "cr":
		return []byte("\r"), nil
	case "none", "":
		return nil, nil
	}
	return nil, fmt.Errorf("invalid line ending %q (must be crlf, lf, cr or none)", name)
}

func runConnect(cmd *cobra.Command, args []string) error {
	eol, err := lineEnding(connectEOL)
	if err != nil {
		return err
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
	detach := st.hub.Add(deviceOutput(cmd.OutOrStdout(), lost, st))
	defer detach()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Connecting to %s", args[0]), "Connecting", "Connected")
	progress.Start()
	err = st.sessions.Connect(ctx, args[0], connectService)
	progress.Callback()("Connected")
	if err != nil {
		return err
	}
	service := connectService
	if service == "" {
		service = st.cfg.Session.Service
	}
	svc, _ := device.ParseServiceUUID(service)
	fmt.Fprintf(cmd.ErrOrStderr(), "Connected to %s on %s. Press Ctrl+C to exit.\n", st.sessions.Address(), servicedb.Describe(svc))

	// The forwarder can outlive this call parked in a read, so it gets its
	// own reader and a context that ends with the session.
	in := cmd.InOrStdin()
	fwdCtx, cancelFwd := context.WithCancel(ctx)
	defer cancelFwd()
	inputDone := groutine.Go(fwdCtx, "stdin-forward", func(ctx context.Context) {
		forwardLines(ctx, in, eol, st)
	})

	select {
	case <-ctx.Done():
		return nil
	case msg := <-lost:
		return fmt.Errorf("%w: %s", ErrConnectionLost, msg)
	case <-inputDone:
	}

	linger := time.NewTimer(connectLinger)
	defer linger.Stop()
	select {
	case <-ctx.Done():
	case <-linger.C:
	case msg := <-lost:
		return fmt.Errorf("%w: %s", ErrConnectionLost, msg)
	}
	return nil
}

// deviceOutput writes decoded device data to out and reports a dropped link on lost.
func deviceOutput(out io.Writer, lost chan<- string, st *stack) events.Sink {
	return events.Func(func(e events.Event) {
		switch e.Kind {
		case events.KindData:
			data, err := codec.Decode(e.Data)
			if err != nil {
				st.logger.WithError(err).Warn("Dropping undecodable data event")
				return
			}
			_, _ = out.Write(data)
		case events.KindConnectionLost:
			select {
			case lost <- e.Message:
			default:
			}
		}
	})
}

// forwardLines sends each line of r to the session until r ends, a write fails or ctx is done.
func forwardLines(ctx context.Context, r io.Reader, eol []byte, st *stack) {
	if ctx.Err() != nil {
		return
	}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := make([]byte, 0, len(scanner.Bytes())+len(eol))
		line = append(append(line, scanner.Bytes()...), eol...)
		if err := st.sessions.WriteBytes(line); err != nil {
			st.logger.WithError(err).Warn("Failed to send input line")
			return
		}
	}
	if err := scanner.Err(); err != nil {
		st.logger.WithError(err).Debug("Input closed with error")
	}
}
