package storage

import (
	"github.com/waxdb/wax/waxerr"
)

// Container ties together the root, WAL ring, payload store, frame
// catalog, and index manifest of an open single-file database. It is
// the unit the commit coordinator operates on; the public session
// layer wraps it with the read/write concurrency discipline.
type Container struct {
	f  *file
	fl *fileLock

	rootSlot int
	root     *RootHeader

	wal      *walRing
	payloads *payloadStore
	catalog  *FrameCatalog
	manifest *IndexManifest

	checkpointThresholdPercent int
}

// Commit runs the sequence: flush the WAL and fsync, compute a new root
// at epoch+1, write it to the inactive slot and fsync, then move the
// catalog's and manifest's pending entries into their committed views in
// memory. Refuses to commit if embeddings are pending without a staged
// vector index blob, since that would silently drop them.
func (c *Container) Commit() error {
	if c.manifest.HasPendingEmbeddingsWithoutStagedVec() {
		return waxerr.Newf(waxerr.InvalidArgument, "commit", "vector index must be staged before committing embeddings")
	}

	commitSeq, err := c.wal.commit()
	if err != nil {
		return err
	}
	if err := c.f.Fsync(); err != nil {
		return err
	}

	newEpoch := c.root.Epoch + 1
	newRoot := &RootHeader{
		Epoch:               newEpoch,
		WALOffset:           c.wal.offset,
		WALCapacity:         c.wal.capacity,
		WALHeadSequence:     c.wal.headSeq,
		WALTailSequence:     c.wal.tailSeq,
		WALCommittedSeq:     commitSeq,
		PayloadRegionOffset: c.payloads.offset,
		PayloadRegionLength: c.payloads.length,
		CatalogNextFrameID:  c.catalog.nextID,
		FileInstanceID:      c.root.FileInstanceID,
	}

	nextSlot := nextRootSlot(c.rootSlot)
	if err := writeRoot(c.f, nextSlot, newRoot); err != nil {
		return err
	}

	c.catalog.checkpointCommit()
	c.manifest.checkpointCommit()
	c.root = newRoot
	c.rootSlot = nextSlot
	return nil
}

// MaybeAutoCommit triggers a commit if pending WAL bytes have crossed
// the configured pressure threshold, and reports whether it did.
// Neither the catalog nor the api Store calls it; a put on its own
// never triggers a commit.
func (c *Container) MaybeAutoCommit() (bool, error) {
	if !c.wal.shouldAutoCommit(c.checkpointThresholdPercent) {
		return false, nil
	}
	if err := c.Commit(); err != nil {
		return false, err
	}
	c.wal.noteAutoCommit()
	return true, nil
}

// Checkpoint advances the WAL tail past the last committed record,
// freeing ring space. It does not commit by itself; call Commit first
// if there's still pending work that needs to become durable.
func (c *Container) Checkpoint() error {
	c.wal.checkpointAdvance()
	newRoot := *c.root
	newRoot.Epoch = c.root.Epoch + 1
	newRoot.WALTailSequence = c.wal.tailSeq
	nextSlot := nextRootSlot(c.rootSlot)
	if err := writeRoot(c.f, nextSlot, &newRoot); err != nil {
		return err
	}
	c.root = &newRoot
	c.rootSlot = nextSlot
	return nil
}

// WALStats exposes the WAL ring's pressure and operating counters.
func (c *Container) WALStats() Stats {
	return c.wal.stats()
}

// Catalog exposes the container's frame catalog. Higher-level
// collaborators (hybrid search, RAG context building, the public
// surface) read and mutate the catalog through this single access
// point rather than duplicating its state.
func (c *Container) Catalog() *FrameCatalog {
	return c.catalog
}

// Manifest exposes the container's index manifest, for staging and
// inspecting secondary index blobs from external collaborators.
func (c *Container) Manifest() *IndexManifest {
	return c.manifest
}

// Close releases the file lock (if held) and closes the underlying
// file. It's up to the caller to decide whether to auto-commit pending
// work first.
func (c *Container) Close() error {
	if err := c.fl.unlock(); err != nil {
		return err
	}
	return c.f.Close()
}
