package causal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/recallgraph/store"
)

// confoundedEpisodes builds 50 episodes in 5 context strata. Treatment
// assignment and baseline outcome both rise with the stratum, so the naive
// difference in means is badly inflated (1.32) while the true effect is a
// constant 0.2 in every stratum.
func confoundedEpisodes() []*store.Episode {
	treatedPerBlock := []int{2, 4, 5, 6, 8}

	var episodes []*store.Episode
	for b := 0; b < 5; b++ {
		for i := 0; i < 10; i++ {
			treated := i < treatedPerBlock[b]
			outcome := float64(b)
			if treated {
				outcome += 0.2
			}
			episodes = append(episodes, &store.Episode{
				FromID:  1,
				ToID:    2,
				Context: []float32{float32(b + 1), 0},
				Treated: treated,
				Outcome: outcome,
			})
		}
	}
	return episodes
}

func TestDiscoverEffects_DoublyRobust(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)

	for _, ep := range confoundedEpisodes() {
		require.NoError(t, g.RecordEpisode(ctx, ep))
	}

	effect, err := g.DiscoverEffects(ctx, 1, 2)
	require.NoError(t, err)

	// The stratified doubly-robust estimate recovers the true effect; a
	// collapse to difference-in-means would report ~1.32.
	assert.InDelta(t, 0.2, effect.Uplift, 1e-6)
	assert.Equal(t, 50, effect.SampleSize)
	assert.Greater(t, effect.Confidence, 0.5)
	assert.NotEmpty(t, effect.EdgeID)

	// Discovery upserted the edge.
	edge, err := g.GetEdge(ctx, effect.EdgeID)
	require.NoError(t, err)
	require.NotNil(t, edge.Uplift)
	assert.InDelta(t, 0.2, *edge.Uplift, 1e-6)
	assert.Equal(t, "discovered", edge.Mechanism)
}

func TestDiscoverEffects_InsufficientData(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, g.RecordEpisode(ctx, &store.Episode{
			FromID: 1, ToID: 2, Context: []float32{1, 0}, Treated: i%2 == 0, Outcome: 1,
		}))
	}

	_, err := g.DiscoverEffects(ctx, 1, 2)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestDiscoverEffects_SingleArm(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)

	for i := 0; i < 12; i++ {
		require.NoError(t, g.RecordEpisode(ctx, &store.Episode{
			FromID: 1, ToID: 2, Context: []float32{1, 0}, Treated: true, Outcome: 1,
		}))
	}

	_, err := g.DiscoverEffects(ctx, 1, 2)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestDetectConfounders(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)

	edgeID, err := g.AddEdge(ctx, &store.Edge{FromID: 1, ToID: 2, Confidence: 0.5})
	require.NoError(t, err)

	// Memory 7 is present exactly when treated and outcomes are high: a
	// textbook confounder. Memory 9 alternates independently of both.
	for i := 0; i < 20; i++ {
		treated := i%2 == 0
		outcome := 0.1
		cov7 := 0.0
		if treated {
			outcome = 0.9
			cov7 = 1.0
		}
		require.NoError(t, g.RecordEpisode(ctx, &store.Episode{
			FromID:  1,
			ToID:    2,
			Context: []float32{1, 0},
			Treated: treated,
			Outcome: outcome,
			Covariates: map[uint64]float64{
				7: cov7,
				9: float64(i % 4 / 2),
			},
		}))
	}

	candidates, err := g.DetectConfounders(ctx, edgeID)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, uint64(7), candidates[0].MemoryID)
	assert.InDelta(t, 1.0, candidates[0].TreatmentCorrelation, 1e-9)
	assert.InDelta(t, 1.0, candidates[0].OutcomeCorrelation, 1e-9)

	edge, err := g.GetEdge(ctx, edgeID)
	require.NoError(t, err)
	require.NotNil(t, edge.ConfounderScore)
	assert.InDelta(t, 1.0, *edge.ConfounderScore, 1e-9)
}

func TestDetectConfounders_NoCandidates(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)

	edgeID, err := g.AddEdge(ctx, &store.Edge{FromID: 1, ToID: 2, Confidence: 0.5})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, g.RecordEpisode(ctx, &store.Episode{
			FromID: 1, ToID: 2, Context: []float32{1, 0},
			Treated: i%2 == 0, Outcome: float64(i),
			Covariates: map[uint64]float64{5: 0.5},
		}))
	}

	candidates, err := g.DetectConfounders(ctx, edgeID)
	require.NoError(t, err)
	assert.Empty(t, candidates)

	edge, err := g.GetEdge(ctx, edgeID)
	require.NoError(t, err)
	assert.Nil(t, edge.ConfounderScore)
}
