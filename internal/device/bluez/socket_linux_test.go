//go:build linux

package bluez

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// socketPair returns an fdSocket and the raw peer descriptor.
func socketPair(t *testing.T) (*fdSocket, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)

	sock, err := newFDSocket(fds[0], "test-rfcomm")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sock.Close()
		_ = unix.Close(fds[1])
	})
	return sock, fds[1]
}

func TestFDSocket_ReadWrite(t *testing.T) {
	sock, peer := socketPair(t)

	_, err := unix.Write(peer, []byte("OK\r\n"))
	require.NoError(t, err)

	buf := make([]byte, 1024)
	n, err := sock.Input().Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "OK\r\n", string(buf[:n]))

	n, err = sock.Output().Write([]byte{0x00, 0x00})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Nothing reaches the peer before Flush.
	require.NoError(t, unix.SetNonblock(peer, true))
	_, err = unix.Read(peer, buf)
	assert.ErrorIs(t, err, unix.EAGAIN)

	require.NoError(t, sock.Output().Flush())
	n, err = unix.Read(peer, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x00}, buf[:n])
}

func TestFDSocket_CloseInputUnblocksRead(t *testing.T) {
	sock, _ := socketPair(t)

	done := make(chan error, 1)
	go func() {
		_, err := sock.Input().Read(make([]byte, 16))
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, sock.Input().Close())
	require.NoError(t, sock.Input().Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(2 * time.Second):
		t.Fatal("read was not interrupted")
	}
}

func TestFDSocket_CloseSocketUnblocksRead(t *testing.T) {
	sock, _ := socketPair(t)

	done := make(chan error, 1)
	go func() {
		_, err := sock.Input().Read(make([]byte, 16))
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, sock.Close())

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("read was not interrupted")
	}

	// Half-closing after the socket is gone is not an error.
	assert.NoError(t, sock.Input().Close())
	assert.NoError(t, sock.Output().Close())
}

func TestFDSocket_OutputCloseFlushesAndSignalsEOF(t *testing.T) {
	sock, peer := socketPair(t)

	_, err := sock.Output().Write([]byte("bye"))
	require.NoError(t, err)
	require.NoError(t, sock.Output().Close())

	buf := make([]byte, 16)
	n, err := unix.Read(peer, buf)
	require.NoError(t, err)
	assert.Equal(t, "bye", string(buf[:n]))

	n, err = unix.Read(peer, buf)
	require.NoError(t, err)
	assert.Zero(t, n, "peer sees end of stream")
}
