package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	orig := NewStatus(true, nil)
	b, err := Marshal(orig)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"status","bleConnected":true}`, string(b))

	got, err := Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, TypeStatus, got.Type)
	require.NotNil(t, got.BLEConnected)
	assert.True(t, *got.BLEConnected)
}

func TestUnmarshal_MissingTypeIsNotAnError(t *testing.T) {
	got, err := Unmarshal([]byte(`{"foo":"bar"}`))
	require.NoError(t, err)
	assert.Equal(t, Type(""), got.Type)
}

func TestUnmarshal_MalformedJSONReturnsError(t *testing.T) {
	_, err := Unmarshal([]byte(`{not json`))
	assert.Error(t, err)
}

func TestNewCommand(t *testing.T) {
	e := NewCommand(7, "aa0732001eBB")
	assert.Equal(t, TypeCommand, e.Type)
	assert.Equal(t, int64(7), e.ID)
	assert.Equal(t, "aa0732001eBB", e.Data)
}
