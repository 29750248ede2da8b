package causal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/recallgraph/store"
)

func newTestGraph(t *testing.T, optFns ...func(o *Options)) *Graph {
	t.Helper()

	s, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "causal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return New(s, optFns...)
}

func TestAddEdge_GeneratesID(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)

	id, err := g.AddEdge(ctx, &store.Edge{FromID: 1, ToID: 2, Similarity: 0.8, Confidence: 0.4})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	// Upserting the same pair keeps the id.
	id2, err := g.AddEdge(ctx, &store.Edge{FromID: 1, ToID: 2, Similarity: 0.9, Confidence: 0.6})
	require.NoError(t, err)
	assert.Equal(t, id, id2)
}

func addObservations(t *testing.T, g *Graph, expID string, treatment, control []float64) {
	t.Helper()

	ctx := context.Background()
	for i, v := range treatment {
		require.NoError(t, g.RecordObservation(ctx, &store.Observation{
			ExperimentID: expID, EpisodeID: uint64(i), IsTreatment: true,
			OutcomeValue: v, OutcomeType: "task_success",
		}))
	}
	for i, v := range control {
		require.NoError(t, g.RecordObservation(ctx, &store.Observation{
			ExperimentID: expID, EpisodeID: uint64(100 + i), IsTreatment: false,
			OutcomeValue: v, OutcomeType: "task_success",
		}))
	}
}

func TestCalculateUplift(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)

	exp, err := g.CreateExperiment(ctx, ExperimentSpec{
		Hypothesis:  "recalling memory 1 improves task success",
		TreatmentID: 1,
	})
	require.NoError(t, err)
	require.Equal(t, store.StatusRunning, exp.Status)

	treatment := []float64{0.9, 0.8, 0.85, 0.95, 0.7, 0.9}
	control := []float64{0.5, 0.6, 0.55, 0.45, 0.65, 0.55}
	addObservations(t, g, exp.ID, treatment, control)

	got, err := g.CalculateUplift(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, got.Status)
	assert.Equal(t, 12, got.SampleSize)
	assert.InDelta(t, 0.85, got.TreatmentMean, 1e-9)
	assert.InDelta(t, 0.55, got.ControlMean, 1e-9)
	assert.InDelta(t, 0.30, got.Uplift, 1e-9)
	assert.Greater(t, got.Uplift, got.CILow)
	assert.Less(t, got.Uplift, got.CIHigh)
	assert.Less(t, got.PValue, 0.01, "clear separation should be significant")
	assert.NotNil(t, got.EndTime)
}

func TestCalculateUplift_Idempotent(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)

	exp, err := g.CreateExperiment(ctx, ExperimentSpec{TreatmentID: 1})
	require.NoError(t, err)
	addObservations(t, g, exp.ID,
		[]float64{1, 0.9, 0.8, 0.7, 0.95},
		[]float64{0.1, 0.2, 0.3, 0.15, 0.25})

	first, err := g.CalculateUplift(ctx, exp.ID)
	require.NoError(t, err)

	// Repeat calls return the frozen result even if more observations could
	// not have been added anyway.
	second, err := g.CalculateUplift(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Uplift, second.Uplift)
	assert.Equal(t, first.PValue, second.PValue)
	assert.Equal(t, first.CILow, second.CILow)
	assert.Equal(t, first.CIHigh, second.CIHigh)
	assert.Equal(t, first.SampleSize, second.SampleSize)
}

func TestCalculateUplift_InsufficientData(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)

	exp, err := g.CreateExperiment(ctx, ExperimentSpec{TreatmentID: 1})
	require.NoError(t, err)
	addObservations(t, g, exp.ID, []float64{1}, []float64{0})

	_, err = g.CalculateUplift(ctx, exp.ID)
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestRecordObservation_RejectsCompleted(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)

	exp, err := g.CreateExperiment(ctx, ExperimentSpec{TreatmentID: 1})
	require.NoError(t, err)
	addObservations(t, g, exp.ID,
		[]float64{1, 0.9, 0.8, 0.7, 0.95},
		[]float64{0.1, 0.2, 0.3, 0.15, 0.25})
	_, err = g.CalculateUplift(ctx, exp.ID)
	require.NoError(t, err)

	err = g.RecordObservation(ctx, &store.Observation{
		ExperimentID: exp.ID, IsTreatment: true, OutcomeValue: 1,
	})
	var notRunning *ErrExperimentNotRunning
	require.ErrorAs(t, err, &notRunning)
	assert.Equal(t, exp.ID, notRunning.ID)
	assert.Equal(t, store.StatusCompleted, notRunning.Status)
}

func TestFailExperiment(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)

	exp, err := g.CreateExperiment(ctx, ExperimentSpec{TreatmentID: 1})
	require.NoError(t, err)

	require.NoError(t, g.FailExperiment(ctx, exp.ID))

	err = g.RecordObservation(ctx, &store.Observation{ExperimentID: exp.ID})
	var notRunning *ErrExperimentNotRunning
	require.ErrorAs(t, err, &notRunning)
	assert.Equal(t, store.StatusFailed, notRunning.Status)

	_, err = g.CalculateUplift(ctx, exp.ID)
	assert.ErrorAs(t, err, &notRunning)
}

func TestResolveEdge(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)

	edgeID, err := g.AddEdge(ctx, &store.Edge{FromID: 1, ToID: 2, Similarity: 0.7})
	require.NoError(t, err)

	exp, err := g.CreateExperiment(ctx, ExperimentSpec{TreatmentID: 1})
	require.NoError(t, err)
	addObservations(t, g, exp.ID,
		[]float64{1, 0.9, 0.8, 0.7, 0.95},
		[]float64{0.1, 0.2, 0.3, 0.15, 0.25})
	_, err = g.CalculateUplift(ctx, exp.ID)
	require.NoError(t, err)

	edge, err := g.ResolveEdge(ctx, edgeID, exp.ID)
	require.NoError(t, err)
	require.NotNil(t, edge.Uplift)
	assert.InDelta(t, 0.67, *edge.Uplift, 1e-9)
	assert.Equal(t, "experiment", edge.Mechanism)
	assert.Contains(t, edge.EvidenceIDs, exp.ID)
	assert.Greater(t, edge.Confidence, 0.9)

	// Resolving twice does not duplicate evidence.
	edge, err = g.ResolveEdge(ctx, edgeID, exp.ID)
	require.NoError(t, err)
	assert.Len(t, edge.EvidenceIDs, 1)
}

func TestQueryCausalEffects(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)

	uplift := 0.5
	_, err := g.AddEdge(ctx, &store.Edge{FromID: 1, ToID: 2, Confidence: 0.9, Uplift: &uplift})
	require.NoError(t, err)
	_, err = g.AddEdge(ctx, &store.Edge{FromID: 1, ToID: 3, Confidence: 0.2})
	require.NoError(t, err)

	edges, err := g.QueryCausalEffects(ctx, EffectFilter{MinConfidence: 0.5})
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, uint64(2), edges[0].ToID)
}

func TestPruneEdges(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)

	small := 3
	_, err := g.AddEdge(ctx, &store.Edge{FromID: 1, ToID: 2, Confidence: 0.05})
	require.NoError(t, err)
	_, err = g.AddEdge(ctx, &store.Edge{FromID: 1, ToID: 3, Confidence: 0.9, SampleSize: &small})
	require.NoError(t, err)
	keptID, err := g.AddEdge(ctx, &store.Edge{FromID: 2, ToID: 3, Confidence: 0.9})
	require.NoError(t, err)

	n, err := g.PruneEdges(ctx, PrunePolicy{
		ConfidenceFloor: 0.1,
		MinSampleSize:   10,
		MaxAge:          time.Hour,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	edges, err := g.QueryCausalEffects(ctx, EffectFilter{})
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, keptID, edges[0].ID)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	g := newTestGraph(t)

	_, err := g.AddEdge(ctx, &store.Edge{FromID: 1, ToID: 2, Confidence: 0.4})
	require.NoError(t, err)
	_, err = g.AddEdge(ctx, &store.Edge{FromID: 1, ToID: 3, Confidence: 0.8})
	require.NoError(t, err)

	exp, err := g.CreateExperiment(ctx, ExperimentSpec{TreatmentID: 1})
	require.NoError(t, err)
	_, err = g.CreateExperiment(ctx, ExperimentSpec{TreatmentID: 2})
	require.NoError(t, err)
	addObservations(t, g, exp.ID,
		[]float64{1, 0.9, 0.8, 0.7, 0.95},
		[]float64{0.1, 0.2, 0.3, 0.15, 0.25})
	_, err = g.CalculateUplift(ctx, exp.ID)
	require.NoError(t, err)

	stats, err := g.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Edges)
	assert.InDelta(t, 0.6, stats.AvgConfidence, 1e-9)
	assert.Equal(t, 1, stats.ExperimentsRunning)
	assert.Equal(t, 1, stats.ExperimentsCompleted)
}

func TestRecordObservation_UnknownExperiment(t *testing.T) {
	g := newTestGraph(t)

	err := g.RecordObservation(context.Background(), &store.Observation{ExperimentID: "missing"})
	assert.True(t, errors.Is(err, store.ErrNotFound))
}
