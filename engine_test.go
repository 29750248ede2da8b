package recallgraph

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/recallgraph/blobstore"
	"github.com/hupe1980/recallgraph/embed"
	"github.com/hupe1980/recallgraph/hnsw"
	"github.com/hupe1980/recallgraph/rerank"
	"github.com/hupe1980/recallgraph/resource"
	"github.com/hupe1980/recallgraph/store"
)

func newTestEngine(t *testing.T, optFns ...Option) *Engine {
	t.Helper()

	st, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "recall.db"))
	require.NoError(t, err)

	seed := int64(42)
	optFns = append([]Option{
		WithHNSWOptions(func(o *hnsw.Options) { o.RandomSeed = &seed }),
	}, optFns...)

	eng, err := Open(context.Background(), embed.NewHashEmbedder(64), st, optFns...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func seedCorpus(t *testing.T, eng *Engine) []uint64 {
	t.Helper()
	ctx := context.Background()

	ids, err := eng.AddMemories(ctx, []Memory{
		{Type: "episodic", Content: "database connection pool exhausted during deploy"},
		{Type: "episodic", Content: "retries doubled the request rate"},
		{Type: "semantic", Content: "idempotency keys deduplicate writes"},
		{Type: "semantic", Content: "connection pool sizing follows peak concurrency"},
		{Type: "procedural", Content: "rollback procedure for failed deploys"},
	})
	require.NoError(t, err)
	require.Len(t, ids, 5)
	require.NoError(t, eng.Build(ctx))
	return ids
}

func TestEngine_RecallBasic(t *testing.T) {
	eng := newTestEngine(t)
	seedCorpus(t, eng)

	result, err := eng.Recall(context.Background(), RecallRequest{
		QueryID:   "q-1",
		QueryText: "connection pool exhausted",
		K:         3,
	})
	require.NoError(t, err)

	require.NotEmpty(t, result.Items)
	assert.LessOrEqual(t, len(result.Items), 3)
	assert.Contains(t, result.Items[0].Content, "connection pool")
	for i := 1; i < len(result.Items); i++ {
		assert.GreaterOrEqual(t, result.Items[i-1].Utility, result.Items[i].Utility)
	}

	require.NotNil(t, result.Certificate)
	verification, err := eng.VerifyCertificate(result.Certificate.ID)
	require.NoError(t, err)
	assert.True(t, verification.Valid)
}

func TestEngine_RecallValidation(t *testing.T) {
	eng := newTestEngine(t)
	seedCorpus(t, eng)

	_, err := eng.Recall(context.Background(), RecallRequest{QueryText: "", K: 3})
	assert.ErrorIs(t, err, ErrInvalidQuery)

	_, err = eng.Recall(context.Background(), RecallRequest{QueryText: "x", K: 0})
	assert.ErrorIs(t, err, ErrInvalidK)
}

func TestEngine_RecallBeforeBuild(t *testing.T) {
	eng := newTestEngine(t)

	_, err := eng.AddMemories(context.Background(), []Memory{{Type: "semantic", Content: "staged"}})
	require.NoError(t, err)

	_, err = eng.Recall(context.Background(), RecallRequest{QueryText: "staged", K: 1})
	assert.ErrorIs(t, err, hnsw.ErrIndexNotBuilt)
}

func TestEngine_BuildEmpty(t *testing.T) {
	eng := newTestEngine(t)

	err := eng.Build(context.Background())
	assert.ErrorIs(t, err, hnsw.ErrEmptyCorpus)
}

func TestEngine_UpliftPromotesCandidate(t *testing.T) {
	eng := newTestEngine(t, WithRerankOptions(rerank.WithWeights(1, 1, 0)))
	ids := seedCorpus(t, eng)
	ctx := context.Background()

	// "retries doubled the request rate" is less similar to the query than
	// the pool memories; a strong resolved uplift must still promote it.
	uplift := 5.0
	_, err := eng.Causal().AddEdge(ctx, &store.Edge{
		FromID:     ids[1],
		ToID:       ids[0],
		FromType:   "episodic",
		ToType:     "episodic",
		Similarity: 0.4,
		Uplift:     &uplift,
		Confidence: 0.9,
	})
	require.NoError(t, err)

	result, err := eng.Recall(ctx, RecallRequest{
		QueryID:   "q-uplift",
		QueryText: "connection pool exhausted",
		K:         3,
	})
	require.NoError(t, err)

	require.NotEmpty(t, result.Items)
	assert.Equal(t, ids[1], result.Items[0].ID)
	assert.InDelta(t, 5.0, result.Items[0].Uplift, 1e-9)
	assert.InDelta(t, 0.9, result.Items[0].Confidence, 1e-9)
}

func TestEngine_RecallRequirements(t *testing.T) {
	eng := newTestEngine(t)
	seedCorpus(t, eng)

	result, err := eng.Recall(context.Background(), RecallRequest{
		QueryID:      "q-req",
		QueryText:    "idempotency keys and retries",
		K:            4,
		Requirements: []string{"idempotency", "unobtainium"},
	})
	require.NoError(t, err)

	cert := result.Certificate
	assert.Less(t, cert.CompletenessScore, 1.0)
	assert.NotEmpty(t, cert.Warnings)
	assert.NotEmpty(t, cert.MinimalWhy)
}

func TestEngine_RemoveExcludesFromRecall(t *testing.T) {
	eng := newTestEngine(t)
	ids := seedCorpus(t, eng)
	ctx := context.Background()

	require.NoError(t, eng.Remove(ctx, ids[0]))

	result, err := eng.Recall(ctx, RecallRequest{
		QueryID:   "q-removed",
		QueryText: "database connection pool exhausted during deploy",
		K:         5,
	})
	require.NoError(t, err)
	for _, item := range result.Items {
		assert.NotEqual(t, ids[0], item.ID)
	}
}

func TestEngine_AddAfterBuild(t *testing.T) {
	eng := newTestEngine(t)
	seedCorpus(t, eng)
	ctx := context.Background()

	ids, err := eng.AddMemories(ctx, []Memory{
		{Type: "semantic", Content: "circuit breakers shed load under pressure"},
	})
	require.NoError(t, err)

	result, err := eng.Recall(ctx, RecallRequest{
		QueryID:   "q-new",
		QueryText: "circuit breakers shed load under pressure",
		K:         1,
	})
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	assert.Equal(t, ids[0], result.Items[0].ID)
}

func TestEngine_SnapshotRoundTrip(t *testing.T) {
	snapshots := blobstore.NewMemoryStore()
	ctx := context.Background()

	eng := newTestEngine(t, WithSnapshots(snapshots, "index.snap", hnsw.CodecZstd))
	seedCorpus(t, eng)
	require.NoError(t, eng.Snapshot(ctx))

	st, err := store.NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "restored.db"))
	require.NoError(t, err)

	restored, err := Open(ctx, embed.NewHashEmbedder(64), st,
		WithSnapshots(snapshots, "index.snap", hnsw.CodecZstd))
	require.NoError(t, err)
	defer restored.Close()

	result, err := restored.Recall(ctx, RecallRequest{
		QueryID:   "q-restored",
		QueryText: "connection pool exhausted",
		K:         2,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Items)

	// Ids assigned after restore must not collide with snapshot contents.
	ids, err := restored.AddMemories(ctx, []Memory{{Type: "semantic", Content: "fresh entry"}})
	require.NoError(t, err)
	assert.Greater(t, ids[0], uint64(5))
}

func TestEngine_SnapshotWithIOBudget(t *testing.T) {
	snapshots := blobstore.NewMemoryStore()
	ctx := context.Background()

	eng := newTestEngine(t,
		WithSnapshots(snapshots, "index.snap", hnsw.CodecLZ4),
		WithResourceConfig(resource.Config{IOLimitBytesPerSec: 1 << 20}),
	)
	seedCorpus(t, eng)

	require.NoError(t, eng.Snapshot(ctx))

	names, err := snapshots.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"index.snap"}, names)
}

func TestEngine_DiversityRecall(t *testing.T) {
	eng := newTestEngine(t, WithDiversity(0.5))
	seedCorpus(t, eng)

	result, err := eng.Recall(context.Background(), RecallRequest{
		QueryID:   "q-diverse",
		QueryText: "connection pool",
		K:         3,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Items)

	seen := make(map[uint64]struct{})
	for _, item := range result.Items {
		_, dup := seen[item.ID]
		assert.False(t, dup)
		seen[item.ID] = struct{}{}
	}
}

func TestEngine_DiversityChangesSelection(t *testing.T) {
	eng := newTestEngine(t, WithDiversity(0.5))
	ctx := context.Background()

	// Three copies of the best match saturate the top of the utility
	// ranking; diversity must pull the off-topic memory in from the
	// oversampled pool instead of returning two copies.
	dup := "database connection pool exhausted"
	ids, err := eng.AddMemories(ctx, []Memory{
		{Type: "episodic", Content: dup},
		{Type: "episodic", Content: dup},
		{Type: "episodic", Content: dup},
		{Type: "procedural", Content: "database failover runbook"},
	})
	require.NoError(t, err)
	require.NoError(t, eng.Build(ctx))

	result, err := eng.Recall(ctx, RecallRequest{
		QueryID:   "q-mmr",
		QueryText: "database connection pool",
		K:         2,
	})
	require.NoError(t, err)
	require.Len(t, result.Items, 2)

	got := map[uint64]struct{}{}
	for _, item := range result.Items {
		got[item.ID] = struct{}{}
	}
	assert.Contains(t, got, ids[3], "expected the diverse memory in %v", got)
}

func TestEngine_Stats(t *testing.T) {
	eng := newTestEngine(t)
	seedCorpus(t, eng)

	_, err := eng.Recall(context.Background(), RecallRequest{
		QueryID:   "q-stats",
		QueryText: "retries",
		K:         2,
	})
	require.NoError(t, err)

	stats, err := eng.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Index.Live)
	assert.True(t, stats.Index.Built)
	assert.Equal(t, int64(1), stats.Certificates.Issued)
}

func TestEngine_MetricsCollected(t *testing.T) {
	metrics := &BasicMetricsCollector{}
	eng := newTestEngine(t, WithMetricsCollector(metrics))
	seedCorpus(t, eng)

	_, err := eng.Recall(context.Background(), RecallRequest{
		QueryID:   "q-metrics",
		QueryText: "retries",
		K:         2,
	})
	require.NoError(t, err)

	snapshot := metrics.GetStats()
	assert.Equal(t, int64(1), snapshot.AddCount)
	assert.Equal(t, int64(5), snapshot.AddItems)
	assert.Equal(t, int64(1), snapshot.RecallCount)
	assert.Equal(t, int64(0), snapshot.RecallErrors)
}

func TestEngine_Close(t *testing.T) {
	eng := newTestEngine(t)
	seedCorpus(t, eng)

	require.NoError(t, eng.Close())
	require.NoError(t, eng.Close())

	_, err := eng.Recall(context.Background(), RecallRequest{QueryText: "x", K: 1})
	assert.ErrorIs(t, err, ErrClosed)

	_, err = eng.AddMemories(context.Background(), []Memory{{Content: "y"}})
	assert.ErrorIs(t, err, ErrClosed)
}
