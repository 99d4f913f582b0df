// Example usage of Wax.
// Demonstrates create, put, stage+commit of a lexical index, and a
// text-only hybrid search.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/waxdb/wax/api"
	"github.com/waxdb/wax/engine"
	"github.com/waxdb/wax/search"
	"github.com/waxdb/wax/storage"
)

func main() {
	const path = "example.wax"
	defer os.Remove(path)

	store, err := api.Create(path, storage.CreateOptions{})
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	fmt.Println("=== Wax — example usage ===")
	fmt.Println()

	lex := engine.NewLexEngine()
	store.EnableTextSearch(lex)

	ctx := context.Background()
	docs := []string{
		"the quick brown fox jumps over the lazy dog",
		"a slow green turtle naps under warm sunlight",
		"foxes and dogs rarely share the same den",
	}

	fmt.Println("--- put ---")
	ids := make([]uint64, 0, len(docs))
	for _, text := range docs {
		id, err := store.Put(ctx, []byte(text), storage.PutOptions{Kind: "text", Role: storage.RoleChunk})
		if err != nil {
			log.Fatalf("put: %v", err)
		}
		if err := lex.Mutate(engine.Mutation{Op: engine.MutateIndex, FrameID: id, Text: text}); err != nil {
			log.Fatalf("index: %v", err)
		}
		fmt.Printf("  put frame #%d: %q\n", id, text)
		ids = append(ids, id)
	}
	fmt.Println()

	if err := store.StageLexIndexForNextCommit(ctx); err != nil {
		log.Fatalf("stage lex index: %v", err)
	}
	if err := store.Commit(ctx); err != nil {
		log.Fatalf("commit: %v", err)
	}
	fmt.Println("--- committed ---")
	fmt.Println()

	fmt.Println("--- search \"fox\" (text_only) ---")
	resp, err := store.Search(search.Request{
		Mode: search.ModeTextOnly, HasQueryText: true, QueryText: "fox", TopK: 5,
	})
	if err != nil {
		log.Fatalf("search: %v", err)
	}
	for _, r := range resp.Results {
		fmt.Printf("  frame #%d fused_score=%.4f\n", r.FrameID, r.FusedScore)
	}

	report, err := store.Verify(true)
	if err != nil {
		log.Fatalf("verify: %v", err)
	}
	fmt.Printf("\n--- verify (deep) ---\n  committed_frames=%d wal_frontier_seq=%d\n", report.CommittedFrames, report.WALFrontierSeq)
}
