//go:build !windows

// Package ptyio wraps the master side of a pseudo-terminal with byte rings
// pumped by background goroutines, so a remote serial device can be exposed
// as a local tty without the session ever blocking on a slow terminal.
//
// Writes queue bytes for the slave and never block; when the ring is full
// the excess is dropped and counted. Bytes typed into the slave are handed to
// the read callback, or buffered for Read when no callback is set.
package ptyio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
	"github.com/srg/sppbridge/internal/groutine"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// ReadCallback receives bytes written into the slave. It runs on a
// background goroutine and must not retain data.
type ReadCallback func(data []byte)

// Buffers sizes the rings and loop timing. Zero fields take the tag defaults.
type Buffers struct {
	ReadCap  int `default:"4096"` // bytes buffered from the slave
	WriteCap int `default:"4096"` // bytes queued for the slave
	// PollTimeout bounds how long the loops wait before re-checking for shutdown.
	PollTimeout time.Duration `default:"50ms"`
}

// Options configures New.
type Options struct {
	Buffers
	Logger *logrus.Logger
	// OnError is called at most once per loop when it stops on an unexpected error.
	OnError func(error)
}

// PTY is a non-blocking pseudo-terminal master.
type PTY interface {
	io.ReadWriteCloser
	Stats() Stats
	TTYName() string
	SetReadCallback(cb ReadCallback)
}

// Stats are runtime counters of one PTY.
type Stats struct {
	WriteQueueLen int
	ReadQueueLen  int

	DroppedWrite uint64
	DroppedRead  uint64
	ReadTotal    uint64
	WriteTotal   uint64
}

var discardLogger = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}()

type ringPTY struct {
	logger      *logrus.Logger
	master      *os.File
	slave       *os.File
	ttyName     string
	pollTimeout int
	onError     func(error)
	errOnce     [2]sync.Once

	writeBuf *ringbuffer.RingBuffer
	readBuf  *ringbuffer.RingBuffer

	readCb     atomic.Pointer[ReadCallback]
	readNotify chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool

	droppedWrite atomic.Uint64
	droppedRead  atomic.Uint64
	readTotal    atomic.Uint64
	writeTotal   atomic.Uint64
}

// New opens a PTY pair in raw mode and starts its pump goroutines.
// The slave stays open for the lifetime of the PTY.
func New(opts *Options) (PTY, error) {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	defaults.SetDefaults(&o.Buffers)
	if o.Logger == nil {
		o.Logger = discardLogger
	}

	master, slave, err := open()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &ringPTY{
		logger:      o.Logger,
		master:      master,
		slave:       slave,
		ttyName:     slave.Name(),
		pollTimeout: int(o.PollTimeout / time.Millisecond),
		onError:     o.OnError,
		writeBuf:    ringbuffer.New(o.WriteCap),
		readBuf:     ringbuffer.New(o.ReadCap),
		readNotify:  make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
	}
	if p.pollTimeout <= 0 {
		p.pollTimeout = 1
	}

	p.wg.Add(3)
	groutine.Go(ctx, "pty-read-loop", func(context.Context) { p.readLoop() })
	groutine.Go(ctx, "pty-write-loop", func(context.Context) { p.writeLoop() })
	groutine.Go(ctx, "pty-dispatcher", func(context.Context) { p.dispatch() })

	return p, nil
}

func open() (master, slave *os.File, err error) {
	master, slave, err = pty.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create PTY (check permissions and available PTY devices): %w", err)
	}

	fail := func(step string, err error) (*os.File, *os.File, error) {
		cerr := errors.Join(master.Close(), slave.Close())
		if cerr != nil {
			return nil, nil, fmt.Errorf("failed to %s %s: %w (cleanup: %v)", step, slave.Name(), err, cerr)
		}
		return nil, nil, fmt.Errorf("failed to %s %s: %w", step, slave.Name(), err)
	}

	if _, err := term.MakeRaw(int(slave.Fd())); err != nil {
		return fail("set raw mode on", err)
	}
	if err := syscall.SetNonblock(int(master.Fd()), true); err != nil {
		return fail("set non-blocking mode on master of", err)
	}
	return master, slave, nil
}

func (p *ringPTY) fail(loop int, err error) {
	p.logger.WithError(err).Warn("PTY loop stopped")
	if p.onError != nil {
		p.errOnce[loop].Do(func() { p.onError(err) })
	}
}

func (p *ringPTY) writeLoop() {
	defer p.wg.Done()

	master := p.master
	pollFd := []unix.PollFd{{Fd: int32(master.Fd()), Events: unix.POLLOUT}}
	buf := make([]byte, 4096)

	for p.ctx.Err() == nil {
		if p.writeBuf.IsEmpty() {
			// Nothing queued: sleep on the poll timeout, then re-check.
			_, _ = unix.Poll(nil, p.pollTimeout)
			continue
		}

		n, err := p.writeBuf.TryRead(buf)
		if n == 0 || (err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty)) {
			continue
		}

		for off := 0; off < n; {
			w, err := master.Write(buf[off:n])
			if w > 0 {
				off += w
				p.writeTotal.Add(uint64(w))
			}
			switch {
			case err == nil:
			case errors.Is(err, syscall.EINTR):
			case errors.Is(err, syscall.EAGAIN):
				if _, perr := unix.Poll(pollFd, p.pollTimeout); perr != nil && !errors.Is(perr, syscall.EINTR) {
					p.logger.WithError(perr).Debug("PTY write poll failed")
				}
				if p.ctx.Err() != nil {
					return
				}
			case errors.Is(err, os.ErrClosed), errors.Is(err, syscall.EBADF):
				return
			default:
				p.fail(1, fmt.Errorf("pty write: %w", err))
				return
			}
		}
	}
}

func (p *ringPTY) readLoop() {
	defer p.wg.Done()

	master := p.master
	pollFd := []unix.PollFd{{Fd: int32(master.Fd()), Events: unix.POLLIN}}
	buf := make([]byte, 4096)

	for p.ctx.Err() == nil {
		ready, err := unix.Poll(pollFd, p.pollTimeout)
		if err != nil && !errors.Is(err, syscall.EINTR) {
			p.logger.WithError(err).Debug("PTY read poll failed")
			continue
		}
		if ready == 0 {
			continue
		}

		n, err := master.Read(buf)
		if n > 0 {
			w, werr := p.readBuf.Write(buf[:n])
			if werr != nil && !overflow(werr) {
				p.logger.WithError(werr).Debug("PTY read buffer write failed")
			}
			if w < n {
				p.droppedRead.Add(uint64(n - w))
			}
			p.readTotal.Add(uint64(w))
			if w > 0 {
				p.signal()
			}
		}

		switch {
		case err == nil:
		case errors.Is(err, syscall.EAGAIN), errors.Is(err, syscall.EINTR):
		case errors.Is(err, syscall.EIO):
			// No process has the slave open right now; poll reports
			// POLLHUP until one does.
			_, _ = unix.Poll(nil, p.pollTimeout)
		case errors.Is(err, io.EOF), errors.Is(err, os.ErrClosed), errors.Is(err, syscall.EBADF):
			return
		default:
			p.fail(0, fmt.Errorf("pty read: %w", err))
			return
		}
	}
}

// overflow reports a ring buffer that took only part of a write, or none.
func overflow(err error) bool {
	return errors.Is(err, ringbuffer.ErrIsFull) || errors.Is(err, ringbuffer.ErrTooMuchDataToWrite)
}

func (p *ringPTY) signal() {
	select {
	case p.readNotify <- struct{}{}:
	default:
	}
}

// dispatch hands buffered slave input to the read callback.
func (p *ringPTY) dispatch() {
	defer p.wg.Done()

	tmp := make([]byte, 4096)
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.readNotify:
		}

		for p.ctx.Err() == nil {
			cb := p.readCb.Load()
			if cb == nil {
				break
			}
			n, _ := p.readBuf.TryRead(tmp)
			if n == 0 {
				break
			}
			p.deliver(*cb, tmp[:n])
		}
	}
}

func (p *ringPTY) deliver(cb ReadCallback, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			p.readCb.Store(nil)
			p.fail(0, fmt.Errorf("read callback panic: %v", r))
		}
	}()
	cb(data)
}

// Write queues data for the slave. It never blocks; bytes that do not fit
// are dropped and n reports how many were queued.
func (p *ringPTY) Write(data []byte) (int, error) {
	if p.closed.Load() {
		return 0, os.ErrClosed
	}
	if len(data) == 0 {
		return 0, nil
	}
	n, err := p.writeBuf.Write(data)
	if err != nil && !overflow(err) {
		return n, err
	}
	if n < len(data) {
		p.droppedWrite.Add(uint64(len(data) - n))
		p.logger.WithFields(logrus.Fields{"queued": n, "dropped": len(data) - n}).Warn("PTY write buffer overflow")
	}
	return n, nil
}

// Read returns buffered slave input without blocking; syscall.EAGAIN means
// nothing is buffered.
func (p *ringPTY) Read(b []byte) (int, error) {
	if p.closed.Load() {
		return 0, os.ErrClosed
	}
	if len(b) == 0 {
		return 0, nil
	}
	n, err := p.readBuf.TryRead(b)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
		return 0, err
	}
	if n == 0 {
		return 0, syscall.EAGAIN
	}
	return n, nil
}

// SetReadCallback installs cb, or removes it when nil. Input buffered while
// no callback was set is delivered to the new one.
func (p *ringPTY) SetReadCallback(cb ReadCallback) {
	if p.closed.Load() {
		return
	}
	if cb == nil {
		p.readCb.Store(nil)
		return
	}
	p.readCb.Store(&cb)
	p.signal()
}

func (p *ringPTY) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.cancel()
	err := errors.Join(p.master.Close(), p.slave.Close())

	done := make(chan struct{})
	groutine.Go(context.Background(), "pty-wait-close", func(context.Context) {
		p.wg.Wait()
		close(done)
	})

	timeout := 3*time.Duration(p.pollTimeout)*time.Millisecond + time.Second
	select {
	case <-done:
	case <-time.After(timeout):
		p.logger.WithField("tty", p.ttyName).Errorf("PTY loops still running %v after close", timeout)
	}
	return err
}

func (p *ringPTY) Stats() Stats {
	return Stats{
		WriteQueueLen: p.writeBuf.Length(),
		ReadQueueLen:  p.readBuf.Length(),
		DroppedWrite:  p.droppedWrite.Load(),
		DroppedRead:   p.droppedRead.Load(),
		ReadTotal:     p.readTotal.Load(),
		WriteTotal:    p.writeTotal.Load(),
	}
}

// TTYName is the slave device path, e.g. /dev/pts/5.
func (p *ringPTY) TTYName() string { return p.ttyName }
