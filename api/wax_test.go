package api

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/waxdb/wax/engine"
	"github.com/waxdb/wax/ragcontext"
	"github.com/waxdb/wax/search"
	"github.com/waxdb/wax/storage"
)

func tempStorePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "store.wax")
}

type byteCounter struct{}

func (byteCounter) Count(text string) (uint32, error) { return uint32(len(text)), nil }

func TestCreatePutCommitReopenRoundTrip(t *testing.T) {
	path := tempStorePath(t)
	store, err := Create(path, storage.CreateOptions{})
	require.NoError(t, err, "create")

	id, err := store.Put(context.Background(), []byte("hello wax"), storage.PutOptions{Kind: "text", Role: storage.RoleChunk})
	require.NoError(t, err, "put")
	require.NoError(t, store.Commit(context.Background()), "commit")
	require.NoError(t, store.Close(), "close")

	reopened, err := Open(path, storage.ReadWrite)
	require.NoError(t, err, "reopen")
	defer reopened.Close()

	content, err := reopened.FrameContent(id)
	require.NoError(t, err, "frame content")
	require.Equal(t, "hello wax", string(content), "expected round-tripped content")
}

func TestCommitFailsWithPendingEmbeddingsAndNoStagedVecIndex(t *testing.T) {
	path := tempStorePath(t)
	store, err := Create(path, storage.CreateOptions{})
	require.NoError(t, err, "create")
	defer store.Close()

	store.EnableVectorSearch(VectorEngineOptions{Dimension: 4, Metric: engine.MetricCosine})

	id, err := store.Put(context.Background(), []byte("doc"), storage.PutOptions{Kind: "text", Role: storage.RoleChunk})
	require.NoError(t, err, "put")
	require.NoError(t, store.PutEmbedding(context.Background(), id, []float32{1, 0, 0, 0}), "put embedding")

	err = store.Commit(context.Background())
	require.Error(t, err, "expected commit to fail with pending embeddings and no staged vec index")
	require.Contains(t, err.Error(), "vector index must be staged before committing embeddings")

	require.NoError(t, store.StageVecIndexForNextCommit(context.Background()), "stage vec index")
	require.NoError(t, store.Commit(context.Background()), "commit after staging")
}

func TestSearchAndBuildContextEndToEnd(t *testing.T) {
	path := tempStorePath(t)
	store, err := Create(path, storage.CreateOptions{})
	require.NoError(t, err, "create")
	defer store.Close()

	lex := engine.NewLexEngine()
	store.EnableTextSearch(lex)

	idA, err := store.Put(context.Background(), []byte("the quick brown fox"), storage.PutOptions{Kind: "text", Role: storage.RoleChunk})
	require.NoError(t, err, "put a")
	idB, err := store.Put(context.Background(), []byte("a slow green turtle"), storage.PutOptions{Kind: "text", Role: storage.RoleChunk})
	require.NoError(t, err, "put b")
	require.NoError(t, lex.Mutate(engine.Mutation{Op: engine.MutateIndex, FrameID: idA, Text: "the quick brown fox"}), "index a")
	require.NoError(t, lex.Mutate(engine.Mutation{Op: engine.MutateIndex, FrameID: idB, Text: "a slow green turtle"}), "index b")
	require.NoError(t, store.StageLexIndexForNextCommit(context.Background()), "stage lex index")
	require.NoError(t, store.Commit(context.Background()), "commit")

	resp, err := store.Search(search.Request{
		Mode: search.ModeTextOnly, HasQueryText: true, QueryText: "quick fox", TopK: 5,
	})
	require.NoError(t, err, "search")
	require.Len(t, resp.Results, 1, "expected only frame %d to match, got %+v", idA, resp.Results)
	require.Equal(t, idA, resp.Results[0].FrameID)

	ctx, err := store.BuildContext(resp, byteCounter{}, ragcontext.Config{
		Mode: ragcontext.ModeFast, MaxSnippets: 3, MaxContextTokens: 1000,
	})
	require.NoError(t, err, "build context")
	require.NotEmpty(t, ctx.Items, "expected at least one packed item")
}

func TestVerifyShallowSucceedsAfterCommit(t *testing.T) {
	path := tempStorePath(t)
	store, err := Create(path, storage.CreateOptions{})
	require.NoError(t, err, "create")
	defer store.Close()

	_, err = store.Put(context.Background(), []byte("content"), storage.PutOptions{Kind: "text", Role: storage.RoleChunk})
	require.NoError(t, err, "put")
	require.NoError(t, store.Commit(context.Background()), "commit")

	report, err := store.Verify(false)
	require.NoError(t, err, "verify")
	require.Equal(t, 1, report.CommittedFrames, "expected one committed frame, got %+v", report)
}
