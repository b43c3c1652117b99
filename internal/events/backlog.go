package events

import (
	"fmt"
	"sync/atomic"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
)

// MaxBacklog caps the backlog size to guard against misconfiguration.
const MaxBacklog uint32 = 1024 * 1024

// Backlog is a Sink that parks events in an overlapped ring buffer until a
// consumer drains them. When full, the oldest events are overwritten.
// Ready is signalled after every Emit so a pump can sleep between bursts.
//
// All methods are safe for concurrent use.
type Backlog struct {
	buffer  mpmc.RichOverlappedRingBuffer[Event]
	ready   chan struct{}
	metrics Metrics
}

// NewBacklog creates a Backlog; size may be rounded up by the ring buffer.
func NewBacklog(size uint32) (*Backlog, error) {
	if size == 0 {
		return nil, fmt.Errorf("backlog size must be > 0")
	}
	if size > MaxBacklog {
		return nil, fmt.Errorf("backlog size %d exceeds maximum %d", size, MaxBacklog)
	}
	return &Backlog{
		buffer: mpmc.NewOverlappedRingBuffer[Event](size),
		ready:  make(chan struct{}, 1),
	}, nil
}

func (b *Backlog) Emit(e Event) {
	overwrites, err := b.buffer.EnqueueM(e)
	if err != nil {
		b.metrics.addError()
		return
	}
	b.metrics.addOverwritten(int(overwrites))
	b.metrics.addWritten(1)

	select {
	case b.ready <- struct{}{}:
	default:
	}
}

// Ready fires at least once after events become available.
func (b *Backlog) Ready() <-chan struct{} {
	return b.ready
}

// Drain hands buffered events to fn in FIFO order until the buffer is empty
// or fn fails. It returns the number of events delivered.
func (b *Backlog) Drain(fn func(Event) error) (int, error) {
	n := 0
	for !b.buffer.IsEmpty() {
		e, err := b.buffer.Dequeue()
		if err != nil {
			b.metrics.addError()
			return n, fmt.Errorf("backlog dequeue: %w", err)
		}
		b.metrics.addProcessed(1)
		if err := fn(e); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (b *Backlog) Cap() uint32 { return b.buffer.Cap() }

func (b *Backlog) GetMetrics() Metrics {
	return Metrics{
		Processed:   atomic.LoadInt64(&b.metrics.Processed),
		Written:     atomic.LoadInt64(&b.metrics.Written),
		Overwritten: atomic.LoadInt64(&b.metrics.Overwritten),
		Errors:      atomic.LoadInt64(&b.metrics.Errors),
	}
}
