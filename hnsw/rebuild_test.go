package hnsw

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/recallgraph/resource"
)

func TestRebuilder_RebuildNow(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t, 2)
	require.NoError(t, idx.Build(ctx, randomRecords(30, 2, 9)))
	for i := 0; i < 5; i++ {
		require.NoError(t, idx.Remove(uint64(i+1)))
	}

	ctrl := resource.NewController(resource.Config{MaxBackgroundWorkers: 1})
	r := NewRebuilder(idx, ctrl, time.Minute, nil)

	require.NoError(t, r.RebuildNow(ctx))
	assert.Equal(t, int64(1), r.Rebuilds())

	stats := idx.Stats()
	assert.Equal(t, 25, stats.Size)
	assert.Equal(t, uint64(0), stats.Tombstones)
	assert.Equal(t, int64(0), ctrl.MemoryUsage(), "memory released after rebuild")
}

func TestRebuilder_EmptyIndex(t *testing.T) {
	idx := newTestIndex(t, 2)
	r := NewRebuilder(idx, nil, time.Minute, nil)

	err := r.RebuildNow(context.Background())
	assert.ErrorIs(t, err, ErrEmptyCorpus)
}

func TestRebuilder_StartStop(t *testing.T) {
	idx := newTestIndex(t, 2)
	require.NoError(t, idx.Build(context.Background(), randomRecords(10, 2, 9)))

	r := NewRebuilder(idx, nil, 10*time.Millisecond, nil)
	r.Start()
	time.Sleep(30 * time.Millisecond)
	r.Stop()

	// Stop is idempotent.
	r.Stop()
}
