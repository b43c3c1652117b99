package testutils

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/srg/sppbridge/internal/device"
)

// ErrSocketClosed is returned by reads and writes on a closed FakeSocket stream.
var ErrSocketClosed = errors.New("socket closed")

type readStep struct {
	data []byte
	err  error
}

// FakeSocket is a scripted device.Socket. Inbound data is pushed with Feed,
// FailRead and EOF; outbound bytes are recorded and can be inspected after Flush.
type FakeSocket struct {
	in  *FakeInput
	out *FakeOutput

	mu       sync.Mutex
	closed   bool
	CloseErr error
}

// NewFakeSocket returns an open FakeSocket with an empty read script.
func NewFakeSocket() *FakeSocket {
	return &FakeSocket{
		in:  &FakeInput{steps: make(chan readStep, 256), closed: make(chan struct{})},
		out: &FakeOutput{},
	}
}

func (s *FakeSocket) Input() io.ReadCloser        { return s.in }
func (s *FakeSocket) Output() device.OutputStream { return s.out }

// In and Out expose the concrete streams for scripting and inspection.
func (s *FakeSocket) In() *FakeInput   { return s.in }
func (s *FakeSocket) Out() *FakeOutput { return s.out }

func (s *FakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	// Closing the socket also tears down a blocked read.
	s.in.shutdown()
	return s.CloseErr
}

func (s *FakeSocket) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Feed queues one chunk to be returned by a future Read.
func (s *FakeSocket) Feed(data []byte) { s.in.steps <- readStep{data: append([]byte(nil), data...)} }

// FailRead makes the next Read fail with err.
func (s *FakeSocket) FailRead(err error) { s.in.steps <- readStep{err: err} }

// EOF makes the next Read report end of stream.
func (s *FakeSocket) EOF() { s.in.steps <- readStep{err: io.EOF} }

// FakeInput is the readable half of a FakeSocket.
type FakeInput struct {
	steps   chan readStep
	pending []byte

	closed    chan struct{}
	closeOnce sync.Once
	CloseErr  error

	reads   atomic.Int64
	readers atomic.Int32
	peak    atomic.Int32
}

func (in *FakeInput) Read(p []byte) (int, error) {
	in.reads.Add(1)
	cur := in.readers.Add(1)
	defer in.readers.Add(-1)
	for {
		old := in.peak.Load()
		if cur <= old || in.peak.CompareAndSwap(old, cur) {
			break
		}
	}

	if len(in.pending) > 0 {
		n := copy(p, in.pending)
		in.pending = in.pending[n:]
		return n, nil
	}

	select {
	case <-in.closed:
		return 0, ErrSocketClosed
	default:
	}

	select {
	case step := <-in.steps:
		if step.err != nil {
			return 0, step.err
		}
		n := copy(p, step.data)
		in.pending = step.data[n:]
		return n, nil
	case <-in.closed:
		return 0, ErrSocketClosed
	}
}

func (in *FakeInput) Close() error {
	in.shutdown()
	return in.CloseErr
}

func (in *FakeInput) shutdown() {
	in.closeOnce.Do(func() { close(in.closed) })
}

// IsClosed reports whether the input was closed directly or through its socket.
func (in *FakeInput) IsClosed() bool {
	select {
	case <-in.closed:
		return true
	default:
		return false
	}
}

// Reads returns how many Read calls were made.
func (in *FakeInput) Reads() int64 { return in.reads.Load() }

// PeakConcurrentReaders is the largest number of Read calls that were in flight at once.
func (in *FakeInput) PeakConcurrentReaders() int32 { return in.peak.Load() }

// FakeOutput records writes. Bytes move from pending to flushed on Flush.
type FakeOutput struct {
	mu      sync.Mutex
	pending bytes.Buffer
	flushed bytes.Buffer
	writes  int
	flushes int
	closed  bool

	// MaxWrite, when positive, caps the bytes accepted per Write call.
	MaxWrite int
	WriteErr error
	FlushErr error
	CloseErr error
}

func (o *FakeOutput) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return 0, ErrSocketClosed
	}
	if o.WriteErr != nil {
		return 0, o.WriteErr
	}
	o.writes++
	n := len(p)
	if o.MaxWrite > 0 && n > o.MaxWrite {
		n = o.MaxWrite
	}
	o.pending.Write(p[:n])
	return n, nil
}

func (o *FakeOutput) Flush() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.FlushErr != nil {
		return o.FlushErr
	}
	o.flushes++
	o.flushed.Write(o.pending.Bytes())
	o.pending.Reset()
	return nil
}

func (o *FakeOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	return o.CloseErr
}

// Flushed returns every byte that has been written and flushed.
func (o *FakeOutput) Flushed() []byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]byte(nil), o.flushed.Bytes()...)
}

// Unflushed returns bytes written since the last Flush.
func (o *FakeOutput) Unflushed() []byte {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]byte(nil), o.pending.Bytes()...)
}

func (o *FakeOutput) Writes() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.writes
}

func (o *FakeOutput) Flushes() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.flushes
}

func (o *FakeOutput) IsClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}
