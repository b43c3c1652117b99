//go:build !windows

// Package bridge exposes the serial session as a local pseudo-terminal so
// ordinary serial tools (screen, minicom, pyserial) can talk to the remote
// device.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/sppbridge/internal/codec"
	"github.com/srg/sppbridge/internal/events"
	"github.com/srg/sppbridge/internal/ptyio"
	"github.com/srg/sppbridge/internal/session"
)

// Bridge is a running session-to-PTY bridge.
type Bridge interface {
	Address() string
	TTYName() string
	TTYSymlink() string // empty if not created
	PTY() ptyio.PTY
	// Lost yields the reason once the remote link drops.
	Lost() <-chan string
}

// Options configures Run.
type Options struct {
	Address string
	Service string // empty selects the session default
	// Symlink, when set, is created pointing at the PTY slave.
	Symlink string
	Buffers ptyio.Buffers
	Logger  *logrus.Logger
}

// ProgressCallback is called when the bridge phase changes
type ProgressCallback func(phase string)

// Callback is executed with the running bridge
type Callback[R any] func(Bridge) (R, error)

type bridgeImpl struct {
	address string
	symlink string
	pty     ptyio.PTY
	lost    chan string
	once    sync.Once
}

func (b *bridgeImpl) Address() string     { return b.address }
func (b *bridgeImpl) TTYName() string     { return b.pty.TTYName() }
func (b *bridgeImpl) TTYSymlink() string  { return b.symlink }
func (b *bridgeImpl) PTY() ptyio.PTY      { return b.pty }
func (b *bridgeImpl) Lost() <-chan string { return b.lost }
func (b *bridgeImpl) markLost(msg string) { b.once.Do(func() { b.lost <- msg; close(b.lost) }) }

// Run connects sessions to opts.Address, creates the PTY and pumps bytes
// both ways while callback runs. hub must be the sink sessions emits into.
// The session, PTY and symlink are torn down when callback returns.
func Run[R any](
	ctx context.Context,
	sessions *session.Manager,
	hub *events.Multi,
	opts *Options,
	progress ProgressCallback,
	callback Callback[R],
) (R, error) {
	var zero R

	if opts == nil {
		return zero, errors.New("failed to execute bridge: options are required")
	}
	if opts.Address == "" {
		return zero, errors.New("failed to execute bridge: device address is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	if progress == nil {
		progress = func(string) {}
	}

	var (
		pty     ptyio.PTY
		symlink string
		detach  = func() {}
	)
	defer func() {
		detach()
		if symlink != "" {
			if err := os.Remove(symlink); err != nil {
				logger.WithError(err).WithField("ttySymlink", symlink).Warn("Failed to remove tty symlink")
			}
		}
		if pty != nil {
			_ = pty.Close()
		}
		if sessions.IsConnected() {
			if err := sessions.Disconnect(); err != nil {
				logger.WithError(err).Warn("Disconnect failed")
			}
		}
	}()

	progress("Connecting")
	if err := sessions.Connect(ctx, opts.Address, opts.Service); err != nil {
		progress("Failed")
		return zero, err
	}
	progress("Connected")

	progress("Setting up PTY")
	var err error
	pty, err = ptyio.New(&ptyio.Options{Buffers: opts.Buffers, Logger: logger})
	if err != nil {
		return zero, err
	}
	logger.WithField("tty", pty.TTYName()).Info("Created PTY device")

	if opts.Symlink != "" {
		if err := os.Symlink(pty.TTYName(), opts.Symlink); err != nil {
			return zero, fmt.Errorf("failed to create tty symlink %s -> %s: %w", opts.Symlink, pty.TTYName(), err)
		}
		symlink = opts.Symlink
		logger.WithFields(logrus.Fields{"ttySymlink": symlink, "target": pty.TTYName()}).Info("Created PTY symlink")
	}

	b := &bridgeImpl{
		address: sessions.Address(),
		symlink: symlink,
		pty:     pty,
		lost:    make(chan string, 1),
	}

	detach = hub.Add(events.Func(func(e events.Event) {
		switch e.Kind {
		case events.KindData:
			data, err := codec.Decode(e.Data)
			if err != nil {
				logger.WithError(err).Warn("Dropping undecodable data event")
				return
			}
			_, _ = pty.Write(data)
		case events.KindConnectionLost:
			b.markLost(e.Message)
		}
	}))

	pty.SetReadCallback(func(data []byte) {
		if err := sessions.WriteBytes(data); err != nil {
			logger.WithError(err).Warn("Failed to forward PTY input")
		}
	})

	progress("Running")
	return callback(b)
}
