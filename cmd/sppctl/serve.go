package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/srg/sppbridge/internal/events"
	"github.com/srg/sppbridge/internal/plugin"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the JSON line plugin protocol on stdin/stdout",
	Long: `Reads one JSON request per line from stdin and writes one JSON response per
line to stdout. Asynchronous data and connectionLost notifications are
interleaved with responses. Logs go to stderr.

Requests:
  {"id":1,"method":"scan"}
  {"id":2,"method":"connect","params":{"mac":"00:11:22:33:44:55"}}
  {"id":3,"method":"write","params":{"data":"QVQNCg=="}}
  {"id":4,"method":"disconnect"}`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	st, err := newStack(cmd)
	if err != nil {
		return err
	}
	defer st.Close()

	cmd.SilenceUsage = true

	backlog, err := events.NewBacklog(st.cfg.Events.Backlog)
	if err != nil {
		return err
	}
	detach := st.hub.Add(backlog)
	defer detach()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p := plugin.New(st.scanner, st.sessions, st.cfg.ScanOptions(), st.logger)
	st.logger.WithField("backend", st.cfg.Backend).Info("Serving plugin protocol on stdio")
	return plugin.NewServer(p, backlog, st.logger).Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
}
