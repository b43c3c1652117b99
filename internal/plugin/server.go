package plugin

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/sppbridge/internal/events"
	"github.com/srg/sppbridge/internal/groutine"
)

// maxLineSize bounds one request line.
const maxLineSize = 1 << 20

// Request is one call read from the host.
type Request struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response answers the Request with the same ID.
type Response struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Result interface{}     `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Notification carries one event to the host.
type Notification struct {
	Event events.Kind       `json:"event"`
	Data  map[string]string `json:"data"`
}

// NotificationFor converts an event to its wire form.
func NotificationFor(e events.Event) Notification {
	n := Notification{Event: e.Kind, Data: map[string]string{}}
	switch e.Kind {
	case events.KindData:
		n.Data["data"] = e.Data
	case events.KindConnectionLost:
		n.Data["message"] = e.Message
	}
	return n
}

// Server speaks newline-delimited JSON: requests in, responses and event
// notifications out. Calls run concurrently; output lines never interleave.
type Server struct {
	plugin  *Plugin
	backlog *events.Backlog
	logger  *logrus.Logger

	mu  sync.Mutex
	enc *json.Encoder
}

// NewServer creates a Server. The backlog must be the sink the session
// manager emits into; a nil backlog serves calls only.
func NewServer(p *Plugin, backlog *events.Backlog, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	return &Server{plugin: p, backlog: backlog, logger: logger}
}

// Serve handles requests from r until it is exhausted or ctx is cancelled.
// In-flight calls are waited for and pending events flushed before it returns.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	s.mu.Lock()
	s.enc = json.NewEncoder(w)
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var pumpDone <-chan struct{}
	if s.backlog != nil {
		pumpDone = groutine.Go(ctx, "plugin-events", s.pump)
	}

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	groutine.Go(ctx, "plugin-reader", func(ctx context.Context) {
		defer close(lines)
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		for sc.Scan() {
			line := append([]byte(nil), sc.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	})

	var calls sync.WaitGroup
	var err error
loop:
	for {
		select {
		case <-ctx.Done():
			err = ctx.Err()
			break loop
		case line, ok := <-lines:
			if !ok {
				select {
				case err = <-readErr:
				default:
				}
				break loop
			}
			if len(line) == 0 {
				continue
			}
			calls.Add(1)
			groutine.Go(ctx, "plugin-call", func(ctx context.Context) {
				defer calls.Done()
				s.handle(ctx, line)
			})
		}
	}

	calls.Wait()
	cancel()
	if pumpDone != nil {
		<-pumpDone
		s.flush()
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Server) handle(ctx context.Context, line []byte) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		s.send(Response{Error: fmt.Sprintf("invalid request: %v", err)})
		return
	}
	if req.Method == "" {
		s.send(Response{ID: req.ID, Error: "method is required"})
		return
	}

	result, err := s.plugin.Call(ctx, req.Method, req.Params)
	if err != nil {
		s.send(Response{ID: req.ID, Error: err.Error()})
		return
	}
	s.send(Response{ID: req.ID, Result: result})
}

// pump forwards backlog events until ctx is done.
func (s *Server) pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.backlog.Ready():
			s.flush()
		}
	}
}

func (s *Server) flush() {
	if _, err := s.backlog.Drain(func(e events.Event) error {
		return s.send(NotificationFor(e))
	}); err != nil {
		s.logger.WithError(err).Warn("Failed to deliver events")
	}
}

func (s *Server) send(v interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(v); err != nil {
		s.logger.WithError(err).Debug("Failed to write message")
		return err
	}
	return nil
}
