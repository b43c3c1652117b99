package testutils

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// recordingT captures failures instead of failing the enclosing test.
type recordingT struct {
	errors []string
}

func (r *recordingT) Errorf(format string, args ...interface{}) {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

func TestJSONAsserter_DefaultOptions(t *testing.T) {
	opts := NewJSONAsserter(t).GetOptions()
	assert.False(t, opts.IgnoreExtraKeys)
	assert.True(t, opts.AllowPresencePlaceholder)
	assert.False(t, opts.IgnoreArrayOrder)
	assert.Empty(t, opts.IgnoredFields)
}

func TestJSONAsserter_Assert(t *testing.T) {
	tests := []struct {
		name     string
		opts     []Option
		actual   string
		expected string
		pass     bool
	}{
		{
			name:     "equal objects",
			actual:   `{"address":"AA:BB:CC:DD:EE:FF","name":null}`,
			expected: `{"name":null,"address":"AA:BB:CC:DD:EE:FF"}`,
			pass:     true,
		},
		{
			name:     "root arrays",
			actual:   `[{"address":"01"},{"address":"02"}]`,
			expected: `[{"address":"01"},{"address":"02"}]`,
			pass:     true,
		},
		{
			name:     "value mismatch",
			actual:   `{"id":1,"result":{}}`,
			expected: `{"id":2,"result":{}}`,
		},
		{
			name:     "extra key fails by default",
			actual:   `{"id":1,"result":{},"extra":true}`,
			expected: `{"id":1,"result":{}}`,
		},
		{
			name:     "extra key ignored",
			opts:     []Option{WithIgnoreExtraKeys(true)},
			actual:   `{"id":1,"result":{},"extra":true}`,
			expected: `{"id":1,"result":{}}`,
			pass:     true,
		},
		{
			name:     "presence placeholder",
			actual:   `{"id":1,"error":"connect to AA:BB:CC:DD:EE:FF failed: boom"}`,
			expected: `{"id":1,"error":"<<PRESENCE>>"}`,
			pass:     true,
		},
		{
			name:     "presence placeholder requires the key",
			actual:   `{"id":1}`,
			expected: `{"id":1,"error":"<<PRESENCE>>"}`,
		},
		{
			name:     "ignored fields",
			opts:     []Option{WithIgnoredFields("message")},
			actual:   `{"event":"connectionLost","data":{"message":"EOF"}}`,
			expected: `{"event":"connectionLost","data":{}}`,
			pass:     true,
		},
		{
			name:     "array order",
			opts:     []Option{WithIgnoreArrayOrder(true)},
			actual:   `{"devices":[{"address":"02"},{"address":"01"}]}`,
			expected: `{"devices":[{"address":"01"},{"address":"02"}]}`,
			pass:     true,
		},
		{
			name:     "array order matters by default",
			actual:   `{"devices":[{"address":"02"},{"address":"01"}]}`,
			expected: `{"devices":[{"address":"01"},{"address":"02"}]}`,
		},
		{
			name:     "invalid actual",
			actual:   `{`,
			expected: `{}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingT{}
			NewJSONAsserter(rec).WithOptions(tt.opts...).Assert(tt.actual, tt.expected)
			if tt.pass {
				assert.Empty(t, rec.errors)
			} else {
				assert.NotEmpty(t, rec.errors)
			}
		})
	}
}

func TestJSONAsserter_AssertLines(t *testing.T) {
	out := `{"id":1,"result":{}}
{"event":"data","data":{"data":"AAA="}}
`
	rec := &recordingT{}
	ja := NewJSONAsserter(rec)

	ja.AssertLines(out, `{"id":1,"result":{}}`, `{"event":"data","data":{"data":"AAA="}}`)
	assert.Empty(t, rec.errors)

	ja.AssertLines(out, `{"id":1,"result":{}}`)
	assert.Len(t, rec.errors, 1)
	assert.Contains(t, rec.errors[0], "expected 1 lines, got 2")
}

func TestMustJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, MustJSON(map[string]int{"a": 1}))
	assert.Panics(t, func() { MustJSON(make(chan int)) })
}
