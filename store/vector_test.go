package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorCodec(t *testing.T) {
	vec := []float32{0, 1.5, -2.25, 3.14159}

	data := EncodeVector(vec)
	assert.Len(t, data, 4+4*len(vec))

	got, err := DecodeVector(data)
	require.NoError(t, err)
	assert.Equal(t, vec, got)
}

func TestVectorCodec_Empty(t *testing.T) {
	data := EncodeVector(nil)
	got, err := DecodeVector(data)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDecodeVector_Invalid(t *testing.T) {
	_, err := DecodeVector([]byte{1, 2})
	assert.Error(t, err)

	// Dimension prefix disagrees with payload length.
	data := EncodeVector([]float32{1, 2, 3})
	_, err = DecodeVector(data[:len(data)-4])
	assert.Error(t, err)
}
