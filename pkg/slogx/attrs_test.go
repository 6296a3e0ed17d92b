package slogx

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAttrs(t *testing.T) {
	t.Run("error", func(t *testing.T) {
		attr := Error(errors.New("boom"))
		assert.Equal(t, "error", attr.Key)
		assert.Equal(t, "boom", attr.Value.String())
	})

	t.Run("nil error", func(t *testing.T) {
		assert.Equal(t, "", Error(nil).Value.String())
	})

	t.Run("stream id", func(t *testing.T) {
		attr := StreamID("abc")
		assert.Equal(t, KeyStreamID, attr.Key)
		assert.Equal(t, "abc", attr.Value.String())
	})
}
