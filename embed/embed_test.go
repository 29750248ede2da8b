package embed

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashEmbedder_Deterministic(t *testing.T) {
	e := NewHashEmbedder(64)

	a, err := e.Embed(context.Background(), "retries and idempotency keys")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "retries and idempotency keys")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestHashEmbedder_UnitNorm(t *testing.T) {
	e := NewHashEmbedder(32)

	vec, err := e.Embed(context.Background(), "some arbitrary text here")
	require.NoError(t, err)

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestHashEmbedder_EmptyText(t *testing.T) {
	e := NewHashEmbedder(32)

	_, err := e.Embed(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestHashEmbedder_TokenOverlap(t *testing.T) {
	e := NewHashEmbedder(256)

	a, _ := e.Embed(context.Background(), "database connection pool exhausted")
	b, _ := e.Embed(context.Background(), "database connection pool saturated")
	c, _ := e.Embed(context.Background(), "unrelated gardening advice")

	assert.Greater(t, dot(a, b), dot(a, c))
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func TestBatchEmbed_PreservesOrder(t *testing.T) {
	e := NewHashEmbedder(64)
	texts := []string{"first entry", "second entry", "third entry", "fourth entry"}

	got, err := BatchEmbed(context.Background(), e, texts, 2)
	require.NoError(t, err)
	require.Len(t, got, len(texts))

	for i, text := range texts {
		want, _ := e.Embed(context.Background(), text)
		assert.Equalf(t, want, got[i], "index %d", i)
	}
}

type failingEmbedder struct {
	calls atomic.Int32
}

func (f *failingEmbedder) Dimension() int { return 4 }

func (f *failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	f.calls.Add(1)
	return nil, errors.New("provider down")
}

func TestBatchEmbed_PropagatesError(t *testing.T) {
	_, err := BatchEmbed(context.Background(), &failingEmbedder{}, []string{"a", "b"}, 4)
	assert.EqualError(t, err, "provider down")
}

type nativeBatch struct{ *HashEmbedder }

func (n nativeBatch) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := n.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func TestBatchEmbed_UsesNativeBatchAPI(t *testing.T) {
	e := nativeBatch{NewHashEmbedder(16)}

	got, err := BatchEmbed(context.Background(), e, []string{"x y", "z"}, 1)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
