package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/srg/sppbridge/internal/codec"
	"github.com/srg/sppbridge/internal/device"
	"github.com/srg/sppbridge/internal/events"
	"github.com/srg/sppbridge/internal/permission"
	"github.com/srg/sppbridge/internal/testutils"
	"github.com/stretchr/testify/suite"
)

const testAddr = "AA:BB:CC:DD:EE:FF"

type ManagerTestSuite struct {
	suite.Suite
	helper  *testutils.TestHelper
	adapter *testutils.FakeAdapter
	events  *events.Channel
	manager *Manager
}

func (s *ManagerTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.adapter = testutils.NewFakeAdapter()
	s.events = events.NewChannel(64)
	gate := permission.NewGate(testutils.GrantAll(), s.helper.Logger)
	s.manager = NewManager(s.adapter, gate, s.events, &Options{StopTimeout: time.Second}, s.helper.Logger)
}

func (s *ManagerTestSuite) TearDownTest() {
	_ = s.manager.Disconnect()
}

func (s *ManagerTestSuite) nextEvent() events.Event {
	select {
	case e := <-s.events.C():
		return e
	case <-time.After(2 * time.Second):
		s.FailNow("timed out waiting for event")
		return events.Event{}
	}
}

func (s *ManagerTestSuite) noEvent(wait time.Duration) {
	select {
	case e := <-s.events.C():
		s.Failf("unexpected event", "%+v", e)
	case <-time.After(wait):
	}
}

func (s *ManagerTestSuite) connect() *testutils.FakeSocket {
	s.Require().NoError(s.manager.Connect(context.Background(), testAddr, ""))
	sock := s.adapter.LastSocket()
	s.Require().NotNil(sock)
	return sock
}

func (s *ManagerTestSuite) TestConnect() {
	s.Run("dials normalized address with SPP by default", func() {
		s.Require().NoError(s.manager.Connect(context.Background(), "aa:bb:cc:dd:ee:ff", ""))
		s.True(s.manager.IsConnected())
		s.Equal(testAddr, s.manager.Address())
		s.Equal([]string{testAddr}, s.adapter.Dialed())
		s.Equal(device.SPPUUID, s.adapter.DialOptions()[0].Service)
		s.Equal(1, s.adapter.CancelCalls(), "inquiry is cancelled before paging")
		s.Require().NoError(s.manager.Disconnect())
	})

	s.Run("custom service UUID", func() {
		s.Require().NoError(s.manager.Connect(context.Background(), testAddr, "0x1103"))
		opts := s.adapter.DialOptions()
		s.Equal("00001103-0000-1000-8000-00805f9b34fb", opts[len(opts)-1].Service.String())
		s.Require().NoError(s.manager.Disconnect())
	})
}

func (s *ManagerTestSuite) TestConnectFailuresKeepNoState() {
	tests := []struct {
		name    string
		address string
		service string
		setup   func()
		is      error
	}{
		{name: "invalid address", address: "nope", is: device.ErrInvalidAddress},
		{name: "invalid service", address: testAddr, service: "xyz", is: device.ErrInvalidService},
		{
			name:    "dial failure",
			address: testAddr,
			setup:   func() { s.adapter.DialErr = errors.New("page timeout") },
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.adapter.DialErr = nil
			if tt.setup != nil {
				tt.setup()
			}
			err := s.manager.Connect(context.Background(), tt.address, tt.service)

			var ce *device.ConnectError
			s.Require().ErrorAs(err, &ce)
			if tt.is != nil {
				s.ErrorIs(err, tt.is)
			}
			s.False(s.manager.IsConnected())
			s.Empty(s.manager.Address())
		})
	}
	s.adapter.DialErr = nil
	s.connect()
}

func (s *ManagerTestSuite) TestConnectPermissionDenied() {
	gate := permission.NewGate(permission.NewStaticPlatform(permission.ModernAPILevel, permission.Scan), s.helper.Logger)
	m := NewManager(s.adapter, gate, s.events, nil, s.helper.Logger)

	err := m.Connect(context.Background(), testAddr, "")
	s.ErrorIs(err, device.ErrPermissionDenied)
	s.Empty(s.adapter.Dialed())
}

func (s *ManagerTestSuite) TestConnectPromptsThenProceeds() {
	platform := permission.NewStaticPlatform(permission.ModernAPILevel)
	platform.OnRequest = func(caps []permission.Capability) []permission.Capability { return caps }
	m := NewManager(s.adapter, permission.NewGate(platform, s.helper.Logger), s.events, nil, s.helper.Logger)

	s.Require().NoError(m.Connect(context.Background(), testAddr, ""))
	s.Equal(1, platform.Prompts())
	s.Require().NoError(m.Disconnect())
}

func (s *ManagerTestSuite) TestConnectWhileConnectedIsRejected() {
	first := s.connect()

	err := s.manager.Connect(context.Background(), "00:11:22:33:44:55", "")
	s.ErrorIs(err, device.ErrAlreadyConnected)
	s.Equal(testAddr, s.manager.Address())
	s.Len(s.adapter.Sockets(), 1)
	s.False(first.IsClosed())
}

func (s *ManagerTestSuite) TestConcurrentConnectOpensOneSession() {
	var wg sync.WaitGroup
	var ok atomic.Int32
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.manager.Connect(context.Background(), testAddr, "") == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	s.EqualValues(1, ok.Load())
	s.Len(s.adapter.Sockets(), 1)
}

func (s *ManagerTestSuite) TestReaderStartsOnce() {
	s.connect()
	sess := s.manager.session()
	s.Require().NotNil(sess)

	var wg sync.WaitGroup
	var started atomic.Int32
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.manager.startReader(sess) {
				started.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Zero(started.Load(), "reader already running since connect")
	s.True(sess.reading.Load())

	sock := s.adapter.LastSocket()
	for i := 0; i < 4; i++ {
		sock.Feed([]byte{byte(i)})
		s.nextEvent()
	}
	s.EqualValues(1, sock.In().PeakConcurrentReaders())
}

func (s *ManagerTestSuite) TestReaderCASOnIdleSession() {
	sock := testutils.NewFakeSocket()
	sess := &session{
		address: testAddr,
		socket:  sock,
		input:   sock.Input(),
		output:  sock.Output(),
		stopped: make(chan struct{}),
	}

	var wg sync.WaitGroup
	var started atomic.Int32
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.manager.startReader(sess) {
				started.Add(1)
			}
		}()
	}
	wg.Wait()
	s.EqualValues(1, started.Load())

	sess.closing.Store(true)
	sess.reading.Store(false)
	s.Require().NoError(closeStreams(sess))
	<-sess.stopped
	s.EqualValues(1, sock.In().PeakConcurrentReaders())
}

func (s *ManagerTestSuite) TestDataEventsPreserveOrder() {
	sock := s.connect()
	chunks := [][]byte{[]byte("AT\r\n"), {0x00, 0xff}, []byte("OK")}
	for _, c := range chunks {
		sock.Feed(c)
	}
	for _, c := range chunks {
		e := s.nextEvent()
		s.Equal(events.KindData, e.Kind)
		s.Equal(codec.Encode(c), e.Data)
	}
}

func (s *ManagerTestSuite) TestLargeChunkIsSplitAtReadBuffer() {
	sock := s.connect()
	big := make([]byte, 2500)
	for i := range big {
		big[i] = byte(i)
	}
	sock.Feed(big)

	var got []byte
	for len(got) < len(big) {
		e := s.nextEvent()
		chunk, err := codec.Decode(e.Data)
		s.Require().NoError(err)
		s.LessOrEqual(len(chunk), 1024)
		got = append(got, chunk...)
	}
	s.Equal(big, got)
}

func (s *ManagerTestSuite) TestWrite() {
	s.Run("before connect", func() {
		err := s.manager.Write(context.Background(), "AAA=")
		s.ErrorIs(err, device.ErrNoSession)
		var we *device.WriteError
		s.ErrorAs(err, &we)
	})

	sock := s.connect()

	s.Run("decoded bytes are written and flushed", func() {
		s.Require().NoError(s.manager.Write(context.Background(), "AAA="))
		s.Equal([]byte{0x00, 0x00}, sock.Out().Flushed())
		s.Empty(sock.Out().Unflushed())
		s.Equal(1, sock.Out().Flushes())
	})

	s.Run("malformed payload", func() {
		err := s.manager.Write(context.Background(), "***")
		var de *codec.DecodeError
		s.ErrorAs(err, &de)
		s.Equal([]byte{0x00, 0x00}, sock.Out().Flushed())
	})

	s.Run("short writes are completed", func() {
		sock.Out().MaxWrite = 3
		s.Require().NoError(s.manager.WriteBytes([]byte("0123456789")))
		s.Equal(append([]byte{0, 0}, "0123456789"...), sock.Out().Flushed())
		sock.Out().MaxWrite = 0
	})

	s.Run("write failure reports progress", func() {
		sock.Out().WriteErr = errors.New("broken pipe")
		err := s.manager.WriteBytes([]byte("x"))
		var we *device.WriteError
		s.Require().ErrorAs(err, &we)
		s.Zero(we.Written)
		s.EqualError(errors.Unwrap(err), "broken pipe")
		sock.Out().WriteErr = nil
	})

	s.Run("flush failure", func() {
		sock.Out().FlushErr = errors.New("flush failed")
		err := s.manager.WriteBytes([]byte("y"))
		var we *device.WriteError
		s.Require().ErrorAs(err, &we)
		s.Equal(1, we.Written)
		sock.Out().FlushErr = nil
	})

	s.Run("cancelled context", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		s.ErrorIs(s.manager.Write(ctx, "AAA="), context.Canceled)
	})
}

func (s *ManagerTestSuite) TestReadFailureEmitsOneConnectionLost() {
	sock := s.connect()
	sock.FailRead(errors.New("software caused connection abort"))

	e := s.nextEvent()
	s.Equal(events.ConnectionLost("software caused connection abort"), e)
	s.noEvent(50 * time.Millisecond)

	s.True(testutils.Eventually(time.Second, func() bool { return !s.manager.IsConnected() }))
	s.True(testutils.Eventually(time.Second, sock.IsClosed))
	s.True(sock.In().IsClosed())
	s.True(sock.Out().IsClosed())

	second := s.connect()
	second.Feed([]byte("hi"))
	s.Equal(events.Data(codec.Encode([]byte("hi"))), s.nextEvent())
	s.Len(s.adapter.Sockets(), 2)
}

func (s *ManagerTestSuite) TestEOFStopsWithoutEvent() {
	sock := s.connect()
	sock.EOF()

	s.True(testutils.Eventually(time.Second, func() bool { return !s.manager.IsConnected() }))
	s.noEvent(50 * time.Millisecond)
	s.True(testutils.Eventually(time.Second, sock.IsClosed))
}

func (s *ManagerTestSuite) TestDisconnect() {
	s.Run("without session is a no-op", func() {
		s.NoError(s.manager.Disconnect())
		s.NoError(s.manager.Disconnect())
	})

	s.Run("closes everything and suppresses connectionLost", func() {
		sock := s.connect()
		s.Require().NoError(s.manager.Disconnect())

		s.False(s.manager.IsConnected())
		s.True(sock.In().IsClosed())
		s.True(sock.Out().IsClosed())
		s.True(sock.IsClosed())
		s.noEvent(50 * time.Millisecond)

		s.NoError(s.manager.Disconnect())
	})

	s.Run("close errors are joined and the session is cleared", func() {
		sock := s.connect()
		sock.In().CloseErr = errors.New("input busy")
		sock.CloseErr = errors.New("socket busy")

		err := s.manager.Disconnect()
		var de *device.DisconnectError
		s.Require().ErrorAs(err, &de)
		s.Contains(err.Error(), "input busy")
		s.Contains(err.Error(), "socket busy")
		s.True(sock.Out().IsClosed(), "later closes still attempted")
		s.False(s.manager.IsConnected())

		s.ErrorIs(s.manager.WriteBytes([]byte{1}), device.ErrNoSession)
		s.connect()
	})
}

func (s *ManagerTestSuite) TestDisconnectDuringConnect() {
	// GOAL: Verify Disconnect wins over a Connect that is still dialling
	//
	// TEST SCENARIO: dial blocks → Disconnect → dial completes → Connect fails, socket closed, no session
	s.Run("dial that completes anyway", func() {
		dialing, proceed := make(chan struct{}), make(chan struct{})
		var sock *testutils.FakeSocket
		s.adapter.DialFunc = func(ctx context.Context, address string, opts device.DialOptions) (device.Socket, error) {
			close(dialing)
			<-proceed
			sock = testutils.NewFakeSocket()
			return sock, nil
		}
		defer func() { s.adapter.DialFunc = nil }()

		done := make(chan error, 1)
		go func() { done <- s.manager.Connect(context.Background(), testAddr, "") }()
		<-dialing
		s.Require().NoError(s.manager.Disconnect())
		close(proceed)

		err := <-done
		var ce *device.ConnectError
		s.Require().ErrorAs(err, &ce)
		s.ErrorIs(err, context.Canceled)
		s.False(s.manager.IsConnected())
		s.True(sock.IsClosed())
		s.True(sock.In().IsClosed())
		s.noEvent(50 * time.Millisecond)
	})

	s.Run("dial that honours cancellation", func() {
		dialing := make(chan struct{})
		s.adapter.DialFunc = func(ctx context.Context, address string, opts device.DialOptions) (device.Socket, error) {
			close(dialing)
			<-ctx.Done()
			return nil, ctx.Err()
		}
		defer func() { s.adapter.DialFunc = nil }()

		done := make(chan error, 1)
		go func() { done <- s.manager.Connect(context.Background(), testAddr, "") }()
		<-dialing
		s.Require().NoError(s.manager.Disconnect())

		select {
		case err := <-done:
			s.ErrorIs(err, context.Canceled)
		case <-time.After(2 * time.Second):
			s.FailNow("Connect kept dialling after Disconnect")
		}
		s.False(s.manager.IsConnected())
	})

	s.Run("next Connect is unaffected", func() {
		s.connect()
		s.True(s.manager.IsConnected())
	})
}

func (s *ManagerTestSuite) TestDisconnectRightAfterConnect() {
	// GOAL: Verify Disconnect never waits out StopTimeout on a fresh session
	for i := 0; i < 20; i++ {
		sock := s.connect()
		start := time.Now()
		s.Require().NoError(s.manager.Disconnect())
		s.Less(time.Since(start), 500*time.Millisecond)
		s.True(sock.IsClosed())
	}
	s.noEvent(20 * time.Millisecond)
}

func (s *ManagerTestSuite) TestNoAdapter() {
	m := NewManager(nil, nil, nil, nil, s.helper.Logger)
	s.ErrorIs(m.Connect(context.Background(), testAddr, ""), device.ErrAdapterUnavailable)
}

func TestManagerTestSuite(t *testing.T) {
	suite.Run(t, new(ManagerTestSuite))
}
