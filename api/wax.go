// Package api provides Wax's user-facing interface. It is the main
// entry point for opening a container, registering secondary index
// engines, cataloging frames, and running a hybrid search.
package api

import (
	"context"
	"fmt"
	"time"

	"github.com/waxdb/wax/concurrency"
	"github.com/waxdb/wax/engine"
	"github.com/waxdb/wax/ragcontext"
	"github.com/waxdb/wax/search"
	"github.com/waxdb/wax/storage"
	"github.com/waxdb/wax/waxerr"
)

// WaitPolicy bounds how long a submission is willing to wait on the
// owning write handle before giving up.
type WaitPolicy struct {
	Timeout    time.Duration
	HasTimeout bool
}

// Context derives a context.Context from parent that expires after
// p.Timeout when HasTimeout is true, or parent unchanged otherwise.
// Every Store method that mutates state accepts a context.Context
// rather than a WaitPolicy directly, so it composes with the caller's
// own cancellation; WaitPolicy.Context is the bridge between the two.
func (p WaitPolicy) Context(parent context.Context) (context.Context, context.CancelFunc) {
	if !p.HasTimeout {
		return parent, func() {}
	}
	return context.WithTimeout(parent, p.Timeout)
}

// Store represents an open Wax container: the underlying file, the
// owning write handle that serializes every mutation, and the
// secondary index engines registered for this session.
type Store struct {
	container *storage.Container
	writer    *concurrency.WriterHandle

	lex engine.Engine
	vec engine.Engine
	kv  engine.Engine
}

// Create initializes a new container at path and opens it read-write.
func Create(path string, opts storage.CreateOptions) (*Store, error) {
	c, err := storage.Create(path, opts)
	if err != nil {
		return nil, fmt.Errorf("wax: %w", err)
	}
	return &Store{container: c, writer: concurrency.NewWriterHandle(64)}, nil
}

// Open opens an existing container at path in the requested mode.
func Open(path string, mode storage.OpenMode) (*Store, error) {
	c, err := storage.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("wax: %w", err)
	}
	s := &Store{container: c}
	if mode == storage.ReadWrite {
		s.writer = concurrency.NewWriterHandle(64)
	}
	return s, nil
}

// Close stops the write handle (if any) and closes the underlying
// container.
func (s *Store) Close() error {
	if s.writer != nil {
		s.writer.Close()
	}
	return s.container.Close()
}

// submit routes fn through the owning write handle when the session is
// read-write, or runs it directly against the read-only view otherwise.
func (s *Store) submit(ctx context.Context, fn func() error) error {
	if s.writer == nil {
		return fn()
	}
	return s.writer.Submit(ctx, fn)
}

// ---------- Engine registration ----------

// EnableTextSearch registers a lexical engine for this Store.
func (s *Store) EnableTextSearch(lex engine.Engine) {
	s.lex = lex
}

// VectorEngineOptions configures registration of a vector engine.
type VectorEngineOptions struct {
	Dimension         int
	Metric            engine.Metric
	Normalize         bool
	GPUBufferPoolSize int // 0 disables the accelerated wrapper
}

// EnableVectorSearch builds and registers a vector engine for this
// Store, wrapped in a bounded buffer pool when GPUBufferPoolSize > 0.
func (s *Store) EnableVectorSearch(opts VectorEngineOptions) {
	base := engine.NewVecEngine(opts.Dimension, opts.Metric, opts.Normalize)
	if opts.GPUBufferPoolSize > 0 {
		s.vec = engine.NewMetalVecEngine(base, opts.GPUBufferPoolSize)
		return
	}
	s.vec = base
}

// EnableStructuredMemory registers a structured memory (KV) engine for
// this Store.
func (s *Store) EnableStructuredMemory(kv engine.Engine) {
	s.kv = kv
}

// ---------- Catalog ----------

// Put appends a new frame to the catalog. The mutation is visible only
// through the pending view until the next successful Commit.
func (s *Store) Put(ctx context.Context, raw []byte, opts storage.PutOptions) (uint64, error) {
	var id uint64
	err := s.submit(ctx, func() error {
		var putErr error
		id, putErr = s.container.Catalog().Put(raw, opts)
		return putErr
	})
	return id, err
}

// PutBatch appends several frames atomically with respect to the WAL
// boundary: either every entry is queued, or none is.
func (s *Store) PutBatch(ctx context.Context, rawList [][]byte, optsList []storage.PutOptions) ([]uint64, error) {
	var ids []uint64
	err := s.submit(ctx, func() error {
		var putErr error
		ids, putErr = s.container.Catalog().PutBatch(rawList, optsList)
		return putErr
	})
	return ids, err
}

// Supersede appends a new frame containing raw then marks oldID as
// replaced by it; returns the new frame's id.
func (s *Store) Supersede(ctx context.Context, oldID uint64, raw []byte, opts storage.PutOptions) (uint64, error) {
	var newID uint64
	err := s.submit(ctx, func() error {
		var putErr error
		newID, putErr = s.container.Catalog().Put(raw, opts)
		if putErr != nil {
			return putErr
		}
		return s.container.Catalog().Supersede(oldID, newID)
	})
	return newID, err
}

// Delete marks a frame as deleted.
func (s *Store) Delete(ctx context.Context, id uint64) error {
	return s.submit(ctx, func() error {
		return s.container.Catalog().Delete(id)
	})
}

// FrameMeta returns the catalog entry of a frame, pending or committed.
func (s *Store) FrameMeta(id uint64) (*storage.FrameMeta, error) {
	return s.container.Catalog().FrameMetaFor(id)
}

// FrameMetas resolves every id in ids, omitting the ones not found.
func (s *Store) FrameMetas(ids []uint64) []*storage.FrameMeta {
	return s.container.Catalog().FrameMetasIncludingPending(ids)
}

// FrameContent returns a frame's decoded payload bytes.
func (s *Store) FrameContent(id uint64) ([]byte, error) {
	return s.container.Catalog().FrameContent(id)
}

// FramePreview returns up to maxBytes of a frame's payload as UTF-8.
func (s *Store) FramePreview(id uint64, maxBytes int) (string, bool, error) {
	return s.container.Catalog().FramePreview(id, maxBytes)
}

// ---------- Embeddings & index staging ----------

// PutEmbedding queues a vector for frameID ahead of a vector index
// stage. Requires a vector engine to be registered.
func (s *Store) PutEmbedding(ctx context.Context, frameID uint64, vector []float32) error {
	if s.vec == nil {
		return waxerr.Newf(waxerr.InvalidArgument, "put_embedding", "no vector engine enabled for this store")
	}
	return s.submit(ctx, func() error {
		s.container.Manifest().PutEmbedding(frameID, vector)
		if err := s.vec.Mutate(engine.Mutation{Op: engine.MutateAdd, FrameID: frameID, Vector: vector}); err != nil {
			return err
		}
		return nil
	})
}

// StageLexIndexForNextCommit serializes the registered lexical engine
// and stages it for the next Commit.
func (s *Store) StageLexIndexForNextCommit(ctx context.Context) error {
	return s.stageEngine(ctx, s.lex, storage.IndexLex)
}

// StageVecIndexForNextCommit serializes the registered vector engine
// and stages it for the next Commit.
func (s *Store) StageVecIndexForNextCommit(ctx context.Context) error {
	return s.stageEngine(ctx, s.vec, storage.IndexVec)
}

// StageStructuredMemoryForNextCommit serializes the registered KV
// engine and stages it for the next Commit.
func (s *Store) StageStructuredMemoryForNextCommit(ctx context.Context) error {
	return s.stageEngine(ctx, s.kv, storage.IndexKV)
}

func (s *Store) stageEngine(ctx context.Context, e engine.Engine, kind storage.IndexKind) error {
	if e == nil {
		return waxerr.Newf(waxerr.InvalidArgument, "stage_for_commit", "no %s engine enabled for this store", kind)
	}
	return s.submit(ctx, func() error {
		blob, err := e.Serialize()
		if err != nil {
			return waxerr.New(waxerr.Provider, "stage_for_commit", err)
		}
		return s.container.Manifest().StageForCommit(kind, "wax/"+string(kind)+"/v1", blob, 0, false, 0, false, 0, false)
	})
}

// Commit durably commits every pending mutation and staged index.
func (s *Store) Commit(ctx context.Context) error {
	return s.submit(ctx, s.container.Commit)
}

// ---------- Search & RAG context ----------

// Search runs a hybrid search against the registered engines.
func (s *Store) Search(req search.Request) (*search.Response, error) {
	return search.Run(s.container.Catalog(), s.lex, s.vec, req)
}

// BuildContext assembles a deterministic context packet from an
// already-computed search response.
func (s *Store) BuildContext(resp *search.Response, counter ragcontext.TokenCounter, cfg ragcontext.Config) (*ragcontext.Context, error) {
	return ragcontext.Build(s.container.Catalog(), resp, counter, cfg)
}

// ---------- Observability ----------

// WALStats exposes the WAL ring's pressure and operating counters.
func (s *Store) WALStats() storage.Stats {
	return s.container.WALStats()
}

// CommittedVecIndexManifest returns the current manifest entry for the
// vector index, if any: the entry staged for the next commit when there
// is one, otherwise the committed entry.
func (s *Store) CommittedVecIndexManifest() (*storage.ManifestEntry, bool) {
	return s.container.Manifest().Current(storage.IndexVec)
}

// ReadCommittedVecIndexBytes reads back the serialized bytes of the
// vector index entry that CommittedVecIndexManifest returns.
func (s *Store) ReadCommittedVecIndexBytes() ([]byte, error) {
	entry, ok := s.container.Manifest().Current(storage.IndexVec)
	if !ok {
		return nil, waxerr.Newf(waxerr.NotFound, "read_committed_vec_index_bytes", "no vec index manifest entry")
	}
	return s.container.Manifest().Blob(entry)
}

// StagedLexIndexStamp returns the content stamp of the currently staged
// or committed lexical index.
func (s *Store) StagedLexIndexStamp() (uint64, bool) {
	entry, ok := s.container.Manifest().Current(storage.IndexLex)
	if !ok {
		return 0, false
	}
	return entry.Stamp, true
}

// StagedVecIndexStamp returns the content stamp of the currently staged
// or committed vector index.
func (s *Store) StagedVecIndexStamp() (uint64, bool) {
	entry, ok := s.container.Manifest().Current(storage.IndexVec)
	if !ok {
		return 0, false
	}
	return entry.Stamp, true
}

// Verify re-validates the container's integrity; deep additionally
// rereads every frame's payload and recomputes every manifest stamp.
func (s *Store) Verify(deep bool) (*storage.VerifyReport, error) {
	return s.container.Verify(deep)
}
