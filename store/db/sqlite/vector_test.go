package sqlite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorBLOBRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		vec  []float32
	}{
		{"empty", []float32{}},
		{"single", []float32{0.5}},
		{"mixed signs", []float32{-1.5, 0, 3.25, -0.001}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blob := vectorToBLOB(tt.vec)
			assert.Len(t, blob, len(tt.vec)*4)

			got, err := blobToVector(blob)
			require.NoError(t, err)
			assert.Equal(t, tt.vec, got)
		})
	}
}

func TestBlobToVectorInvalidLength(t *testing.T) {
	_, err := blobToVector([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a    []float32
		b    []float32
		want float32
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1},
		{"orthogonal", []float32{1, 0, 0}, []float32{0, 1, 0}, 0},
		{"opposite", []float32{1, 0, 0}, []float32{-1, 0, 0}, -1},
		{"scale invariant", []float32{2, 0, 0}, []float32{5, 0, 0}, 1},
		{"dimension mismatch", []float32{1, 0}, []float32{1, 0, 0}, 0},
		{"zero vector", []float32{0, 0, 0}, []float32{1, 0, 0}, 0},
		{"both empty", nil, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, cosineSimilarity(tt.a, tt.b), 1e-6)
		})
	}
}
