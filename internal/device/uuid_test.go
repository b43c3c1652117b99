package device

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServiceUUID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "empty string selects SPP",
			input:    "",
			expected: "00001101-0000-1000-8000-00805f9b34fb",
		},
		{
			name:     "SPP uppercase",
			input:    "00001101-0000-1000-8000-00805F9B34FB",
			expected: "00001101-0000-1000-8000-00805f9b34fb",
		},
		{
			name:     "16-bit short form",
			input:    "1101",
			expected: "00001101-0000-1000-8000-00805f9b34fb",
		},
		{
			name:     "16-bit short form with 0x prefix",
			input:    "0X1101",
			expected: "00001101-0000-1000-8000-00805f9b34fb",
		},
		{
			name:     "32-bit short form",
			input:    "0000110a",
			expected: "0000110a-0000-1000-8000-00805f9b34fb",
		},
		{
			name:     "custom 128-bit UUID without dashes",
			input:    "6e400001b5a3f393e0a9e50e24dcca9e",
			expected: "6e400001-b5a3-f393-e0a9-e50e24dcca9e",
		},
		{
			name:     "surrounding whitespace",
			input:    "  1101 ",
			expected: "00001101-0000-1000-8000-00805f9b34fb",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := ParseServiceUUID(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, u.String())
		})
	}
}

func TestParseServiceUUID_Invalid(t *testing.T) {
	for _, input := range []string{"zzzz", "0x12", "not-a-uuid", "1234-5678"} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseServiceUUID(input)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidService)
		})
	}
}

func TestFormatServiceUUID(t *testing.T) {
	assert.Equal(t, "00001101-0000-1000-8000-00805F9B34FB", FormatServiceUUID(SPPUUID))
}

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		wantErr  bool
	}{
		{name: "upper case", input: "AA:BB:CC:DD:EE:FF", expected: "AA:BB:CC:DD:EE:FF"},
		{name: "lower case", input: "aa:bb:cc:dd:ee:ff", expected: "AA:BB:CC:DD:EE:FF"},
		{name: "dash separated", input: "00-11-22-33-44-55", expected: "00:11:22:33:44:55"},
		{name: "trims whitespace", input: " 00:11:22:33:44:55\n", expected: "00:11:22:33:44:55"},
		{name: "empty", input: "", wantErr: true},
		{name: "too short", input: "00:11:22:33:44", wantErr: true},
		{name: "EUI-64 rejected", input: "00:11:22:33:44:55:66:77", wantErr: true},
		{name: "garbage", input: "hello", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeAddress(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAddress)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestDescriptor(t *testing.T) {
	t.Run("empty name is absent", func(t *testing.T) {
		d := NewDescriptor("AA:BB:CC:DD:EE:FF", "")
		assert.Nil(t, d.Name)
		assert.Equal(t, UnknownName, d.DisplayName())
	})

	t.Run("name is kept", func(t *testing.T) {
		d := NewDescriptor("AA:BB:CC:DD:EE:FF", "HC-05")
		require.NotNil(t, d.Name)
		assert.Equal(t, "HC-05", d.DisplayName())
	})
}

type stubRemote struct {
	addr, name       string
	addrErr, nameErr error
}

func (s stubRemote) Address() (string, error) { return s.addr, s.addrErr }
func (s stubRemote) Name() (string, error)    { return s.name, s.nameErr }

func TestReadDescriptor(t *testing.T) {
	t.Run("normalizes address", func(t *testing.T) {
		d, err := ReadDescriptor(stubRemote{addr: "aa:bb:cc:dd:ee:ff", name: "HC-05"})
		require.NoError(t, err)
		assert.Equal(t, "AA:BB:CC:DD:EE:FF", d.Address)
		assert.Equal(t, "HC-05", d.DisplayName())
	})

	t.Run("address failure", func(t *testing.T) {
		boom := errors.New("stale object")
		_, err := ReadDescriptor(stubRemote{addrErr: boom})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("name failure", func(t *testing.T) {
		boom := errors.New("permission revoked")
		_, err := ReadDescriptor(stubRemote{addr: "AA:BB:CC:DD:EE:FF", nameErr: boom})
		assert.ErrorIs(t, err, boom)
	})
}
