package testutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTextAsserter(t *testing.T) {
	t.Run("identical", func(t *testing.T) {
		rec := &recordingT{}
		NewTextAsserter(rec).Assert("a\nb", "a\nb")
		assert.Empty(t, rec.errors)
	})

	t.Run("difference shows unified diff", func(t *testing.T) {
		diff := NewTextAsserter(t).Diff("a\nc\n", "a\nb\n")
		assert.Contains(t, diff, "--- expected")
		assert.Contains(t, diff, "+++ actual")
		assert.Contains(t, diff, "-b")
		assert.Contains(t, diff, "+c")
	})

	t.Run("trailing whitespace", func(t *testing.T) {
		rec := &recordingT{}
		NewTextAsserter(rec).WithOptions(WithIgnoreTrailingWhitespace(true)).Assert("a  \nb\t", "a\nb")
		assert.Empty(t, rec.errors)
	})

	t.Run("trim and empty lines", func(t *testing.T) {
		rec := &recordingT{}
		NewTextAsserter(rec).
			WithOptions(WithTrimSpace(true), WithIgnoreEmptyLines(true)).
			Assert("\n\na\n\nb\n\n", "a\nb")
		assert.Empty(t, rec.errors)
	})

	t.Run("colors mark whitespace", func(t *testing.T) {
		diff := NewTextAsserter(t).WithOptions(WithEnableColors(true)).Diff("a b\n", "a\n")
		assert.Contains(t, diff, "a·b")
	})
}
