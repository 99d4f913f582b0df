package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVecEngineSearchReturnsMostSimilarFirst(t *testing.T) {
	e := NewVecEngine(4, MetricCosine, false)
	require.NoError(t, e.Mutate(Mutation{Op: MutateAdd, FrameID: 0, Vector: []float32{1, 0, 0, 0}}), "add 0")
	require.NoError(t, e.Mutate(Mutation{Op: MutateAdd, FrameID: 1, Vector: []float32{0, 1, 0, 0}}), "add 1")

	hits, err := e.Search(SearchRequest{QueryVector: []float32{0.9, 0.1, 0, 0}, TopK: 10})
	require.NoError(t, err, "search")
	require.Len(t, hits, 2)
	require.Equal(t, uint64(0), hits[0].FrameID, "expected frame 0 first, got %+v", hits)
}

func TestVecEngineRejectsDimensionMismatch(t *testing.T) {
	e := NewVecEngine(4, MetricCosine, false)
	err := e.Mutate(Mutation{Op: MutateAdd, FrameID: 0, Vector: []float32{1, 0, 0}})
	require.Error(t, err, "expected dimension mismatch error")
}

func TestVecEngineTieBreaksByFrameIDAscending(t *testing.T) {
	e := NewVecEngine(2, MetricDot, false)
	e.Mutate(Mutation{Op: MutateAdd, FrameID: 5, Vector: []float32{1, 0}})
	e.Mutate(Mutation{Op: MutateAdd, FrameID: 2, Vector: []float32{1, 0}})

	hits, err := e.Search(SearchRequest{QueryVector: []float32{1, 0}, TopK: 10})
	require.NoError(t, err, "search")
	require.Len(t, hits, 2)
	require.Equal(t, uint64(2), hits[0].FrameID, "expected tie broken by ascending frame id, got %+v", hits)
	require.Equal(t, uint64(5), hits[1].FrameID)
}

func TestVecEngineSerializeDeserializeRoundTrip(t *testing.T) {
	e := NewVecEngine(3, MetricEuclidean, true)
	e.Mutate(Mutation{Op: MutateAdd, FrameID: 7, Vector: []float32{3, 4, 0}})

	blob, err := e.Serialize()
	require.NoError(t, err, "serialize")

	reloaded := NewVecEngine(0, "", false)
	require.NoError(t, reloaded.Deserialize(blob), "deserialize")
	require.Equal(t, 3, reloaded.dimension)
	require.Equal(t, MetricEuclidean, reloaded.metric)
	require.True(t, reloaded.normalize, "deserialize did not restore engine configuration: %+v", reloaded)

	hits, err := reloaded.Search(SearchRequest{QueryVector: []float32{3, 4, 0}, TopK: 1})
	require.NoError(t, err, "search after reload")
	require.Len(t, hits, 1)
	require.Equal(t, uint64(7), hits[0].FrameID, "expected frame 7 after reload, got %+v", hits)
}

func TestMetalVecEngineBoundsConcurrentAllocations(t *testing.T) {
	vec := NewVecEngine(2, MetricCosine, false)
	vec.Mutate(Mutation{Op: MutateAdd, FrameID: 0, Vector: []float32{1, 0}})
	m := NewMetalVecEngine(vec, 2)

	require.NoError(t, m.pool.Acquire(context.Background()), "acquire 1")
	require.NoError(t, m.pool.Acquire(context.Background()), "acquire 2")

	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	require.Error(t, m.pool.Acquire(ctx), "expected third acquisition to block beyond pool capacity")

	inUse, capacity := m.BufferPoolStats()
	require.Equal(t, 2, inUse)
	require.Equal(t, 2, capacity)
}
