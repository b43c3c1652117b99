// Package codec converts between raw serial bytes and the text form used on
// the plugin boundary: standard base64 with padding and no line wrapping.
package codec

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

var enc = base64.StdEncoding

var errLineBreak = errors.New("line break in encoded data")

// DecodeError reports an input that is not valid padded base64.
type DecodeError struct {
	Offset int64
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid base64 at offset %d: %v", e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Encode returns the padded base64 form of b. An empty or nil slice encodes to "".
func Encode(b []byte) string {
	return enc.EncodeToString(b)
}

// Decode parses s. Embedded newlines are rejected so that a value produced by
// Encode is the only accepted shape.
func Decode(s string) ([]byte, error) {
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		return nil, &DecodeError{Offset: int64(i), Err: errLineBreak}
	}
	b, err := enc.DecodeString(s)
	if err != nil {
		if cie, ok := err.(base64.CorruptInputError); ok {
			return nil, &DecodeError{Offset: int64(cie), Err: err}
		}
		return nil, &DecodeError{Err: err}
	}
	return b, nil
}

// EncodedLen is the length of the encoded form of n bytes.
func EncodedLen(n int) int {
	return enc.EncodedLen(n)
}
