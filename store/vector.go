package store

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Vector blob layout: a uint32 little-endian dimension prefix followed by
// dimension float32 values, little-endian, 4 bytes each. This is the storage
// contract for every vector column.

// EncodeVector serializes a vector into the blob layout.
func EncodeVector(vec []float32) []byte {
	buf := make([]byte, 4+4*len(vec))
	binary.LittleEndian.PutUint32(buf, uint32(len(vec)))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4+4*i:], math.Float32bits(v))
	}
	return buf
}

// DecodeVector parses a blob in the layout written by EncodeVector.
func DecodeVector(data []byte) ([]float32, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("vector blob too short: %d bytes", len(data))
	}
	dim := binary.LittleEndian.Uint32(data)
	if len(data) != int(4+4*dim) {
		return nil, fmt.Errorf("vector blob length %d does not match dimension %d", len(data), dim)
	}
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4+4*i:]))
	}
	return vec, nil
}
