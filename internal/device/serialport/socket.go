package serialport

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/srg/sppbridge/internal/device"
)

// portSocket adapts a serial port to device.Socket. The port has a single
// descriptor, so the halves only mark themselves closed and the port is
// released once both are closed or the socket is.
type portSocket struct {
	port io.ReadWriteCloser
	in   *portInput
	out  *portOutput

	once     sync.Once
	closeErr error
}

func newPortSocket(port io.ReadWriteCloser) *portSocket {
	s := &portSocket{port: port}
	s.in = &portInput{s: s}
	s.out = &portOutput{s: s}
	return s
}

func (s *portSocket) Input() io.ReadCloser        { return s.in }
func (s *portSocket) Output() device.OutputStream { return s.out }

func (s *portSocket) Close() error {
	s.in.closed.Store(true)
	s.out.closed.Store(true)
	return s.release()
}

func (s *portSocket) release() error {
	s.once.Do(func() { s.closeErr = s.port.Close() })
	return s.closeErr
}

func (s *portSocket) maybeRelease() error {
	if s.in.closed.Load() && s.out.closed.Load() {
		return s.release()
	}
	return nil
}

type portInput struct {
	s      *portSocket
	closed atomic.Bool
}

// hangupReads is how many immediate empty reads mean the line hung up.
const hangupReads = 3

// Read blocks until data arrives or the input is closed. Read timeouts of
// the port show up as empty reads and are retried; empty reads that return
// immediately mean the tty was hung up.
func (in *portInput) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	fast := 0
	for {
		if in.closed.Load() {
			return 0, io.EOF
		}
		start := time.Now()
		n, err := in.s.port.Read(p)
		if n > 0 {
			return n, nil
		}
		if err == nil || errors.Is(err, io.EOF) {
			if time.Since(start) < readTimeout/10 {
				fast++
				if fast >= hangupReads {
					return 0, io.EOF
				}
			} else {
				fast = 0
			}
			continue
		}
		if in.closed.Load() {
			return 0, io.EOF
		}
		return 0, err
	}
}

func (in *portInput) Close() error {
	in.closed.Store(true)
	return in.s.maybeRelease()
}

var errOutputClosed = errors.New("serial output closed")

type portOutput struct {
	s      *portSocket
	closed atomic.Bool
}

func (o *portOutput) Write(p []byte) (int, error) {
	if o.closed.Load() {
		return 0, errOutputClosed
	}
	return o.s.port.Write(p)
}

// Flush is a no-op: writes go straight to the port. serial.Port.Flush
// discards pending data and must not be used here.
func (o *portOutput) Flush() error {
	if o.closed.Load() {
		return errOutputClosed
	}
	return nil
}

func (o *portOutput) Close() error {
	o.closed.Store(true)
	return o.s.maybeRelease()
}
