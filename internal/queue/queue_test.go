package queue

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMinQueueOrder(t *testing.T) {
	pq := NewMin(8)
	rng := rand.New(rand.NewSource(1))

	distances := make([]float32, 100)
	for i := range distances {
		distances[i] = rng.Float32()
		pq.Push(Item{Node: uint32(i), Distance: distances[i]})
	}

	sort.Slice(distances, func(i, j int) bool { return distances[i] < distances[j] })

	for _, want := range distances {
		it, ok := pq.Pop()
		assert.True(t, ok)
		assert.Equal(t, want, it.Distance)
	}

	_, ok := pq.Pop()
	assert.False(t, ok)
}

func TestMaxQueueOrder(t *testing.T) {
	pq := NewMax(8)
	for _, d := range []float32{0.3, 0.9, 0.1, 0.5} {
		pq.Push(Item{Distance: d})
	}

	top, ok := pq.Top()
	assert.True(t, ok)
	assert.Equal(t, float32(0.9), top.Distance)

	min, ok := pq.Min()
	assert.True(t, ok)
	assert.Equal(t, float32(0.1), min.Distance)
}

func TestReset(t *testing.T) {
	pq := NewMin(4)
	pq.Push(Item{Distance: 1})
	pq.Reset()
	assert.Equal(t, 0, pq.Len())
	_, ok := pq.Top()
	assert.False(t, ok)
}
