package testutils

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/srg/sppbridge/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeSocket_ReadScript(t *testing.T) {
	sock := NewFakeSocket()
	sock.Feed([]byte("hello"))
	sock.FailRead(errors.New("link loss"))

	buf := make([]byte, 3)
	n, err := sock.Input().Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hel", string(buf[:n]))

	n, err = sock.Input().Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "lo", string(buf[:n]))

	_, err = sock.Input().Read(buf)
	assert.EqualError(t, err, "link loss")
}

func TestFakeSocket_CloseUnblocksRead(t *testing.T) {
	sock := NewFakeSocket()
	done := make(chan error, 1)
	go func() {
		_, err := sock.Input().Read(make([]byte, 8))
		done <- err
	}()

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, sock.Input().Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrSocketClosed)
	case <-time.After(time.Second):
		t.Fatal("read did not unblock")
	}
	assert.True(t, sock.In().IsClosed())
}

func TestFakeSocket_EOF(t *testing.T) {
	sock := NewFakeSocket()
	sock.EOF()
	_, err := sock.Input().Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestFakeOutput(t *testing.T) {
	out := NewFakeSocket().Out()
	out.MaxWrite = 2

	n, err := out.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, out.Flushed())
	assert.Equal(t, []byte{1, 2}, out.Unflushed())

	require.NoError(t, out.Flush())
	assert.Equal(t, []byte{1, 2}, out.Flushed())
	assert.Equal(t, 1, out.Flushes())

	require.NoError(t, out.Close())
	_, err = out.Write([]byte{4})
	assert.ErrorIs(t, err, ErrSocketClosed)
}

func TestFakeAdapter_Discovery(t *testing.T) {
	adapter := NewAdapterBuilder().
		FromJSON(`{"bonded":[{"address":"%s","name":"HC-05"}],"found":[{"address":"AA:BB:CC:DD:EE:02","name":null}]}`, "AA:BB:CC:DD:EE:01").
		Build()

	bonded, err := adapter.BondedDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, bonded, 1)
	d, err := device.ReadDescriptor(bonded[0])
	require.NoError(t, err)
	assert.Equal(t, "HC-05", d.DisplayName())

	var mu sync.Mutex
	var seen []string
	sub, err := adapter.Subscribe(func(rd device.RemoteDevice) {
		addr, _ := rd.Address()
		mu.Lock()
		seen = append(seen, addr)
		mu.Unlock()
	})
	require.NoError(t, err)

	require.NoError(t, adapter.StartDiscovery(context.Background()))
	assert.True(t, adapter.IsDiscovering())
	assert.True(t, Eventually(time.Second, func() bool { return !adapter.IsDiscovering() }))

	mu.Lock()
	assert.Equal(t, []string{"AA:BB:CC:DD:EE:02"}, seen)
	mu.Unlock()

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	assert.Equal(t, 1, adapter.ClosedSubscriptions())
	assert.Zero(t, adapter.ActiveSubscriptions())
}

func TestFakeAdapter_Unavailable(t *testing.T) {
	adapter := NewAdapterBuilder().Unavailable().Build()
	_, err := adapter.BondedDevices(context.Background())
	assert.ErrorIs(t, err, device.ErrAdapterUnavailable)
	assert.ErrorIs(t, adapter.StartDiscovery(context.Background()), device.ErrAdapterUnavailable)
}

func TestFakeAdapter_Dial(t *testing.T) {
	adapter := NewFakeAdapter()
	sock, err := adapter.Dial(context.Background(), "AA:BB:CC:DD:EE:FF", device.DialOptions{Service: device.SPPUUID})
	require.NoError(t, err)
	assert.Same(t, adapter.LastSocket(), sock)
	assert.Equal(t, []string{"AA:BB:CC:DD:EE:FF"}, adapter.Dialed())
	assert.Equal(t, device.SPPUUID, adapter.DialOptions()[0].Service)

	adapter.DialErr = errors.New("page timeout")
	_, err = adapter.Dial(context.Background(), "AA:BB:CC:DD:EE:FF", device.DialOptions{})
	assert.EqualError(t, err, "page timeout")
}
