package storage

import "testing"

func newTestCatalog(t *testing.T) *FrameCatalog {
	t.Helper()
	f := newFile(NewMemFile())
	if err := f.Truncate(1 << 20); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	wal := newWALRing(f, 0, 1<<16)
	payloads := newPayloadStore(f, 1<<16, 0)
	return newFrameCatalog(wal, payloads, 1)
}

func TestFrameCatalogPutAssignsDenseMonotonicIDs(t *testing.T) {
	c := newTestCatalog(t)
	id1, err := c.Put([]byte("a"), PutOptions{Kind: "text", Role: RoleDocument})
	if err != nil {
		t.Fatalf("put 1: %v", err)
	}
	id2, err := c.Put([]byte("b"), PutOptions{Kind: "text", Role: RoleDocument})
	if err != nil {
		t.Fatalf("put 2: %v", err)
	}
	if id2 != id1+1 {
		t.Fatalf("expected dense monotonic ids, got %d then %d", id1, id2)
	}
}

func TestFrameCatalogPutRejectsMissingParent(t *testing.T) {
	c := newTestCatalog(t)
	_, err := c.Put([]byte("a"), PutOptions{HasParent: true, ParentID: 999})
	if err == nil {
		t.Fatalf("expected error for nonexistent parent")
	}
}

func TestFrameCatalogPutRejectsBadChunkIndex(t *testing.T) {
	c := newTestCatalog(t)
	_, err := c.Put([]byte("a"), PutOptions{ChunkIndex: 3, ChunkCount: 3})
	if err == nil {
		t.Fatalf("expected error for chunk_index >= chunk_count")
	}
}

func TestFrameCatalogPutRejectsNegativeTimestamp(t *testing.T) {
	c := newTestCatalog(t)
	_, err := c.Put([]byte("a"), PutOptions{HasTimestamp: true, TimestampOverride: -1})
	if err == nil {
		t.Fatalf("expected error for negative timestamp_override")
	}
}

func TestFrameCatalogPutBatchLengthMismatch(t *testing.T) {
	c := newTestCatalog(t)
	_, err := c.PutBatch([][]byte{[]byte("a"), []byte("b")}, []PutOptions{{}})
	if err == nil {
		t.Fatalf("expected error for mismatched batch lengths")
	}
}

func TestFrameCatalogPutBatchEmptyReturnsEmpty(t *testing.T) {
	c := newTestCatalog(t)
	ids, err := c.PutBatch(nil, nil)
	if err != nil {
		t.Fatalf("put_batch: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected empty id list, got %v", ids)
	}
}

func TestFrameCatalogPutBatchFailingEntryAssignsNoIDs(t *testing.T) {
	c := newTestCatalog(t)
	startID := c.nextID

	_, err := c.PutBatch(
		[][]byte{[]byte("a"), []byte("b"), []byte("c")},
		[]PutOptions{{}, {ChunkIndex: 3, ChunkCount: 3}, {}},
	)
	if err == nil {
		t.Fatalf("expected batch to fail on its invalid second entry")
	}
	if c.nextID != startID {
		t.Fatalf("expected no ids consumed by a failing batch, nextID moved from %d to %d", startID, c.nextID)
	}
	if len(c.pending) != 0 {
		t.Fatalf("expected no pending frames left behind by a failing batch, got %d", len(c.pending))
	}
}

func TestFrameCatalogSupersedeMarksOldAndKeepsContent(t *testing.T) {
	c := newTestCatalog(t)
	oldID, _ := c.Put([]byte("old content"), PutOptions{})
	newID, _ := c.Put([]byte("new content"), PutOptions{})

	if err := c.Supersede(oldID, newID); err != nil {
		t.Fatalf("supersede: %v", err)
	}

	fm, err := c.FrameMetaFor(oldID)
	if err != nil {
		t.Fatalf("frame_meta: %v", err)
	}
	if fm.Status != StatusSuperseded || fm.SupersededBy != newID {
		t.Fatalf("expected superseded status pointing at %d, got status=%v superseded_by=%d", newID, fm.Status, fm.SupersededBy)
	}

	content, err := c.FrameContent(oldID)
	if err != nil {
		t.Fatalf("frame_content after supersede: %v", err)
	}
	if string(content) != "old content" {
		t.Fatalf("superseded frame lost its content: %q", content)
	}
}

func TestFrameCatalogSupersedeRejectsAlreadySupersededReplacement(t *testing.T) {
	c := newTestCatalog(t)
	a, _ := c.Put([]byte("a"), PutOptions{})
	b, _ := c.Put([]byte("b"), PutOptions{})
	cc, _ := c.Put([]byte("c"), PutOptions{})

	if err := c.Supersede(a, b); err != nil {
		t.Fatalf("first supersede: %v", err)
	}
	if err := c.Supersede(cc, a); err == nil {
		t.Fatalf("expected error superseding onto an already-superseded frame")
	}
}

func TestFrameCatalogDeleteExcludesFromFrameMetas(t *testing.T) {
	c := newTestCatalog(t)
	id, _ := c.Put([]byte("a"), PutOptions{})
	if err := c.Delete(id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	for _, fm := range c.FrameMetas() {
		if fm.FrameID == id {
			t.Fatalf("deleted frame %d still present in FrameMetas", id)
		}
	}
	// Explicit id lookup still works.
	fm, err := c.FrameMetaFor(id)
	if err != nil {
		t.Fatalf("explicit lookup of deleted frame: %v", err)
	}
	if fm.Status != StatusDeleted {
		t.Fatalf("expected deleted status, got %v", fm.Status)
	}
}

func TestFrameCatalogDeleteByAsset(t *testing.T) {
	c := newTestCatalog(t)
	id1, _ := c.Put([]byte("a"), PutOptions{Metadata: map[string]string{"asset_id": "asset-1"}})
	id2, _ := c.Put([]byte("b"), PutOptions{Metadata: map[string]string{"asset_id": "asset-1"}})
	id3, _ := c.Put([]byte("c"), PutOptions{Metadata: map[string]string{"asset_id": "asset-2"}})

	deleted, err := c.DeleteByAsset("asset-1")
	if err != nil {
		t.Fatalf("delete_by_asset: %v", err)
	}
	if len(deleted) != 2 {
		t.Fatalf("expected 2 frames deleted, got %d", len(deleted))
	}

	fm3, err := c.FrameMetaFor(id3)
	if err != nil {
		t.Fatalf("frame_meta id3: %v", err)
	}
	if fm3.Status == StatusDeleted {
		t.Fatalf("frame from a different asset should not be deleted")
	}
	_ = id1
	_ = id2
}

func TestFrameCatalogFramePreviewRejectsNonUTF8(t *testing.T) {
	c := newTestCatalog(t)
	id, _ := c.Put([]byte{0xFF, 0xFE, 0xFD}, PutOptions{})
	_, ok, err := c.FramePreview(id, 10)
	if err != nil {
		t.Fatalf("frame_preview: %v", err)
	}
	if ok {
		t.Fatalf("expected ok=false for non-UTF8 payload")
	}
}

func TestFrameCatalogFramePreviewTruncates(t *testing.T) {
	c := newTestCatalog(t)
	id, _ := c.Put([]byte("hello world"), PutOptions{})
	preview, ok, err := c.FramePreview(id, 5)
	if err != nil {
		t.Fatalf("frame_preview: %v", err)
	}
	if !ok || preview != "hello" {
		t.Fatalf("expected truncated preview 'hello', got %q (ok=%v)", preview, ok)
	}
}

func TestFrameCatalogFrameMetasIncludingPendingSkipsMissing(t *testing.T) {
	c := newTestCatalog(t)
	id, _ := c.Put([]byte("a"), PutOptions{})
	got := c.FrameMetasIncludingPending([]uint64{id, 9999})
	if len(got) != 1 || got[0].FrameID != id {
		t.Fatalf("expected only the existing frame, got %+v", got)
	}
}

func TestFrameCatalogCheckpointCommitMovesPendingToCommitted(t *testing.T) {
	c := newTestCatalog(t)
	id, _ := c.Put([]byte("a"), PutOptions{})
	if !c.hasPending() {
		t.Fatalf("expected pending mutation before checkpoint")
	}
	c.checkpointCommit()
	if c.hasPending() {
		t.Fatalf("expected no pending mutations after checkpoint")
	}
	if _, ok := c.committed[id]; !ok {
		t.Fatalf("expected frame %d promoted to committed map", id)
	}
}

func TestFrameMetaEncodeDecodeRoundTrip(t *testing.T) {
	fm := &FrameMeta{
		FrameID:       7,
		Kind:          "text",
		Role:          RoleChunk,
		HasParent:     true,
		ParentID:      3,
		TimestampMs:   1234,
		ChunkIndex:    1,
		ChunkCount:    4,
		PayloadOffset: 100,
		PayloadLength: 64,
		Metadata:      map[string]string{"source": "doc.pdf"},
		Tags:          []TagPair{{Key: "author", Value: "alice"}, {Key: "author", Value: "bob"}},
		Labels:        []string{"finance", "q3"},
		HasSearchText: true,
		SearchText:    "quarterly revenue report",
		Status:        StatusActive,
	}
	buf := encodeFrameMeta(fm)
	got, err := decodeFrameMeta(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.FrameID != fm.FrameID || got.Kind != fm.Kind || got.SearchText != fm.SearchText {
		t.Fatalf("round trip mismatch: got %+v", got)
	}
	if len(got.Tags) != 2 || got.Tags[0].Value != "alice" {
		t.Fatalf("tag pairs not preserved: %+v", got.Tags)
	}
}
