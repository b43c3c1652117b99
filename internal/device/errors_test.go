package device

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsComparesKind(t *testing.T) {
	err := fmt.Errorf("%w: hci0 is powered off", &Error{Kind: AdapterUnavailable, Msg: "not ready"})

	assert.ErrorIs(t, err, ErrAdapterUnavailable)
	assert.NotErrorIs(t, err, ErrNoSession)
	assert.True(t, IsKind(err, AdapterUnavailable))
	assert.False(t, IsKind(io.EOF, AdapterUnavailable))
}

func TestError_Message(t *testing.T) {
	assert.Equal(t, "no_session", ErrNoSession.Error())
	assert.Equal(t, "invalid_address: zz", (&Error{Kind: InvalidAddress, Msg: "zz"}).Error())

	var nilErr *Error
	assert.Equal(t, "<nil>", nilErr.Error())
	assert.False(t, nilErr.Is(ErrNoSession))
}

func TestWrapperErrors(t *testing.T) {
	cause := errors.New("host is down")

	t.Run("ConnectError", func(t *testing.T) {
		err := error(&ConnectError{Address: "AA:BB:CC:DD:EE:FF", Err: cause})
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, "connect to AA:BB:CC:DD:EE:FF failed: host is down", err.Error())
		assert.Equal(t, "connect failed: host is down", (&ConnectError{Err: cause}).Error())
	})

	t.Run("WriteError", func(t *testing.T) {
		err := error(&WriteError{Err: ErrNoSession})
		assert.ErrorIs(t, err, ErrNoSession)
		assert.Equal(t, "write failed: no_session", err.Error())
		assert.Contains(t, (&WriteError{Written: 3, Err: cause}).Error(), "after 3 bytes")
	})

	t.Run("DisconnectError", func(t *testing.T) {
		err := error(&DisconnectError{Err: cause})
		assert.ErrorIs(t, err, cause)
		var de *DisconnectError
		assert.True(t, errors.As(err, &de))
	})
}
