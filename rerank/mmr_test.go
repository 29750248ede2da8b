package rerank

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mmrPool() []Candidate {
	// Candidates 1 and 2 are near-duplicates close to the query; 3 points
	// in a different direction.
	return []Candidate{
		{ID: 1, Vector: []float32{1, 0}},
		{ID: 2, Vector: []float32{0.98, 0.02}},
		{ID: 3, Vector: []float32{0, 1}},
	}
}

func TestSelectDiverse_LambdaOneIsPureRelevance(t *testing.T) {
	query := []float32{1, 0}

	selected := SelectDiverse(mmrPool(), query, DiverseOptions{Lambda: 1, K: 3})
	require.Len(t, selected, 3)
	assert.Equal(t, uint64(1), selected[0].ID)
	assert.Equal(t, uint64(2), selected[1].ID)
	assert.Equal(t, uint64(3), selected[2].ID)
}

func TestSelectDiverse_LambdaZeroMaximizesDiversity(t *testing.T) {
	query := []float32{1, 0}

	selected := SelectDiverse(mmrPool(), query, DiverseOptions{Lambda: 0, K: 2})
	require.Len(t, selected, 2)

	// First pick is the first candidate (all query terms are ignored and
	// ties keep earlier order); the second pick must be the orthogonal
	// candidate, not the near-duplicate.
	assert.Equal(t, uint64(1), selected[0].ID)
	assert.Equal(t, uint64(3), selected[1].ID)
}

func TestSelectDiverse_BalancedLambdaSkipsNearDuplicate(t *testing.T) {
	query := []float32{1, 0}

	selected := SelectDiverse(mmrPool(), query, DiverseOptions{Lambda: 0.3, K: 2})
	require.Len(t, selected, 2)
	assert.Equal(t, uint64(1), selected[0].ID)
	assert.Equal(t, uint64(3), selected[1].ID)
}

func TestSelectDiverse_KLargerThanPool(t *testing.T) {
	selected := SelectDiverse(mmrPool(), []float32{1, 0}, DiverseOptions{Lambda: 0.7, K: 10})
	assert.Len(t, selected, 3)
}

func TestSelectDiverse_EmptyPool(t *testing.T) {
	assert.Nil(t, SelectDiverse(nil, []float32{1, 0}, DiverseOptions{Lambda: 0.5, K: 5}))
}
