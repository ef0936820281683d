package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/collarhub/collarhub/internal/codec"
)

func TestFrameIsCommand(t *testing.T) {
	assert.True(t, codec.Frame{0xAA, 0x07, 0x32, 0x00, 0x1E, 0xBB}.IsCommand())
	assert.True(t, codec.Frame{0xAA, 0x07, 0x00, 0x64, 0x1E, 0xBB}.IsCommand(), "double-send applies to the whole command variant, not just nonzero shock")
	assert.False(t, codec.Frame{0xEE, 0x02, 0xBB}.IsCommand())
	assert.False(t, codec.Frame(nil).IsCommand())
}
