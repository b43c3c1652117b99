package session

import (
	"context"
	"errors"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/srg/sppbridge/internal/codec"
	"github.com/srg/sppbridge/internal/events"
	"github.com/srg/sppbridge/internal/groutine"
)

// startReader moves the reader of s from Idle to Running. Only the caller
// that wins the flag starts a goroutine; the others get false.
func (m *Manager) startReader(s *session) bool {
	if !s.reading.CompareAndSwap(false, true) {
		return false
	}
	groutine.Go(context.Background(), "spp-reader", func(ctx context.Context) {
		m.readLoop(s)
	})
	return true
}

// readLoop forwards chunks until the stream ends, fails or Disconnect clears
// the flag. Every chunk becomes exactly one data event, in read order.
func (m *Manager) readLoop(s *session) {
	defer close(s.stopped)
	defer s.reading.Store(false)

	log := m.logger.WithField("address", s.address)
	log.Debug("Reader started")

	buf := make([]byte, m.opts.ReadBufferSize)
	for s.reading.Load() {
		n, err := s.input.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			m.sink.Emit(events.Data(codec.Encode(chunk)))
		}

		switch {
		case err == nil && n > 0:
			continue
		case s.closing.Load():
			log.Debug("Reader stopped by disconnect")
			return
		case err == nil, errors.Is(err, io.EOF):
			log.Info("Stream ended")
			m.release(s)
			return
		default:
			log.WithFields(logrus.Fields{"error": err}).Warn("Connection lost")
			m.sink.Emit(events.ConnectionLost(err.Error()))
			m.release(s)
			return
		}
	}
	log.Debug("Reader stopped")
}
