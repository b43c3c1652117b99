//go:build linux

package bluez

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/srg/sppbridge/internal/device"
	"golang.org/x/sys/unix"
)

// fdSocket wraps a connected RFCOMM stream descriptor. The descriptor is put
// in non-blocking mode so the runtime poller owns it and Close interrupts a
// pending Read.
type fdSocket struct {
	file *os.File
	in   *fdInput
	out  *fdOutput

	closeOnce sync.Once
	closeErr  error
}

func newFDSocket(fd int, name string) (*fdSocket, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("set non-blocking: %w", err)
	}
	f := os.NewFile(uintptr(fd), name)
	if f == nil {
		return nil, fmt.Errorf("invalid socket descriptor %d", fd)
	}
	s := &fdSocket{file: f}
	s.in = &fdInput{file: f}
	s.out = &fdOutput{file: f, w: bufio.NewWriter(f)}
	return s, nil
}

func (s *fdSocket) Input() io.ReadCloser        { return s.in }
func (s *fdSocket) Output() device.OutputStream { return s.out }

func (s *fdSocket) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.file.Close()
	})
	return s.closeErr
}

// shutdown half-closes the descriptor. A descriptor already closed by the
// socket counts as shut down.
func shutdown(f *os.File, how int) error {
	rc, err := f.SyscallConn()
	if err != nil {
		return nil
	}
	var serr error
	if err := rc.Control(func(fd uintptr) {
		serr = unix.Shutdown(int(fd), how)
	}); err != nil {
		return nil
	}
	if serr == unix.ENOTCONN {
		return nil
	}
	return serr
}

type fdInput struct {
	file *os.File
	once sync.Once
	err  error
}

func (in *fdInput) Read(p []byte) (int, error) {
	return in.file.Read(p)
}

// Close shuts down the receive side; a blocked Read returns io.EOF.
func (in *fdInput) Close() error {
	in.once.Do(func() {
		in.err = shutdown(in.file, unix.SHUT_RD)
	})
	return in.err
}

type fdOutput struct {
	file *os.File
	mu   sync.Mutex
	w    *bufio.Writer
	once sync.Once
	err  error
}

func (o *fdOutput) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.w.Write(p)
}

func (o *fdOutput) Flush() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.w.Flush()
}

// Close flushes pending bytes and shuts down the send side.
func (o *fdOutput) Close() error {
	o.once.Do(func() {
		o.mu.Lock()
		ferr := o.w.Flush()
		o.mu.Unlock()
		serr := shutdown(o.file, unix.SHUT_WR)
		if ferr != nil {
			o.err = ferr
		} else {
			o.err = serr
		}
	})
	return o.err
}
