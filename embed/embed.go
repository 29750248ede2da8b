// Package embed defines the embedding boundary of the engine.
//
// The engine never computes embeddings itself; callers plug in any provider
// that satisfies Embedder. BatchEmbed fans single-text providers out over a
// bounded worker pool.
package embed

import (
	"context"
	"errors"
	"hash/fnv"
	"math"

	"golang.org/x/sync/errgroup"
)

// ErrEmptyText is returned when an empty string is embedded.
var ErrEmptyText = errors.New("embed: empty text")

// Embedder turns text into a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// BatchEmbedder is implemented by providers with a native batch API.
type BatchEmbedder interface {
	Embedder
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// BatchEmbed embeds texts, preserving order. Providers with a native batch
// endpoint are used directly; otherwise the texts are embedded concurrently,
// at most maxParallel at a time.
func BatchEmbed(ctx context.Context, embedder Embedder, texts []string, maxParallel int) ([][]float32, error) {
	if be, ok := embedder.(BatchEmbedder); ok {
		return be.EmbedBatch(ctx, texts)
	}
	if maxParallel < 1 {
		maxParallel = 1
	}

	vectors := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)

	for i, text := range texts {
		g.Go(func() error {
			vec, err := embedder.Embed(gctx, text)
			if err != nil {
				return err
			}
			vectors[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// HashEmbedder is a deterministic, dependency-free embedder for tests and
// offline tooling. Token FNV hashes are folded into a fixed-dimension
// unit vector; it captures token overlap, nothing more.
type HashEmbedder struct {
	dimension int
}

// NewHashEmbedder creates a hash embedder of the given dimension.
func NewHashEmbedder(dimension int) *HashEmbedder {
	if dimension < 1 {
		dimension = 64
	}
	return &HashEmbedder{dimension: dimension}
}

// Dimension returns the embedding dimension.
func (h *HashEmbedder) Dimension() int { return h.dimension }

// Embed hashes each whitespace token into two buckets and normalizes the
// result to unit length.
func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}

	vec := make([]float32, h.dimension)
	for _, token := range tokenize(text) {
		hasher := fnv.New64a()
		_, _ = hasher.Write([]byte(token))
		sum := hasher.Sum64()

		vec[sum%uint64(h.dimension)]++
		// Second bucket with flipped sign decorrelates colliding tokens.
		second := (sum >> 17) % uint64(h.dimension)
		if sum&1 == 0 {
			vec[second]++
		} else {
			vec[second]--
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}

func tokenize(text string) []string {
	var tokens []string
	start := -1
	for i, r := range text {
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			if start >= 0 {
				tokens = append(tokens, text[start:i])
				start = -1
			}
		case start < 0:
			start = i
		}
	}
	if start >= 0 {
		tokens = append(tokens, text[start:])
	}
	return tokens
}
