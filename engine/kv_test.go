package engine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKVEngineFactsForRespectsValidityWindow(t *testing.T) {
	e := NewKVEngine()
	e.AssertFact(1, "frame-1", "status", "active", 1000, 2000, true, 1000)
	e.AssertFact(1, "frame-1", "status", "archived", 2000, 0, false, 2000)

	asOf1500 := e.FactsFor(1, 1500)
	require.Len(t, asOf1500, 1, "expected only the active fact at t=1500, got %+v", asOf1500)
	require.Equal(t, "active", asOf1500[0].Value)

	asOf2500 := e.FactsFor(1, 2500)
	require.Len(t, asOf2500, 1, "expected only the archived fact at t=2500, got %+v", asOf2500)
	require.Equal(t, "archived", asOf2500[0].Value)
}

func TestKVEngineRemoveDropsAllFactsForFrame(t *testing.T) {
	e := NewKVEngine()
	e.AssertFact(1, "s", "p", "v", 0, 0, false, 0)
	require.NoError(t, e.Mutate(Mutation{Op: MutateRemove, FrameID: 1}), "remove")
	require.Empty(t, e.FactsFor(1, 0), "expected no facts after remove")
}

func TestKVEngineSerializeDeserializeRoundTrip(t *testing.T) {
	e := NewKVEngine()
	e.AssertFact(1, "frame-1", "status", "active", 1000, 0, false, 1000)
	e.AssertFact(2, "frame-2", "owner", "alice", 500, 0, false, 500)

	blob, err := e.Serialize()
	require.NoError(t, err, "serialize")

	reloaded := NewKVEngine()
	require.NoError(t, reloaded.Deserialize(blob), "deserialize")

	facts := reloaded.FactsFor(1, 1000)
	require.Len(t, facts, 1, "expected frame-1 fact after reload, got %+v", facts)
	require.Equal(t, "frame-1", facts[0].Subject)
}
