package storage

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/waxdb/wax/waxerr"
)

// IndexKind identifies a registered secondary index slot.
type IndexKind string

const (
	IndexLex IndexKind = "lex"
	IndexVec IndexKind = "vec"
	IndexKV  IndexKind = "kv"
)

// ManifestEntry is the durable bookkeeping for a registered index: where
// its serialized blob lives in the payload region, its schema identity,
// and the stamp used to detect real content changes from one restage to
// the next.
type ManifestEntry struct {
	Kind           IndexKind
	SchemaIdentity string
	BlobOffset     int64
	BlobLength     int64
	UncompactedLen int64
	Stamp          uint64

	DocCount    int64
	HasDocCount bool
	VectorCount int64
	HasVectorCount bool
	Dimension   int
	HasDimension bool
}

// IndexManifest holds the one-slot-per-kind table of registered indexes,
// and the bookkeeping for their associated staged blobs.
type IndexManifest struct {
	mu sync.RWMutex

	entries map[IndexKind]*ManifestEntry
	pending map[IndexKind]*ManifestEntry

	wal      *walRing
	payloads *payloadStore

	pendingEmbeddings map[uint64][]float32 // frame id -> pending vector
}

func newIndexManifest(wal *walRing, payloads *payloadStore) *IndexManifest {
	return &IndexManifest{
		entries:           make(map[IndexKind]*ManifestEntry),
		pending:           make(map[IndexKind]*ManifestEntry),
		wal:               wal,
		payloads:          payloads,
		pendingEmbeddings: make(map[uint64][]float32),
	}
}

func stampOf(blob []byte) uint64 {
	return xxhash.Sum64(blob)
}

// recordKindForIndex maps an index kind to its stage-*-index WAL record.
func recordKindForIndex(kind IndexKind) WALRecordKind {
	switch kind {
	case IndexLex:
		return WALStageLexIndex
	case IndexVec:
		return WALStageVecIndex
	case IndexKV:
		return WALStageKVIndex
	default:
		return 0
	}
}

// StageForCommit takes an engine's already-serialized blob, checks whether its content
// actually changed since the last staged blob (the stamp only advances on
// a real change — a tested invariant), and if so writes it to the payload
// region and appends a stage-*-index WAL record.
func (m *IndexManifest) StageForCommit(kind IndexKind, schemaIdentity string, blob []byte, dimension int, hasDimension bool, docCount int64, hasDocCount bool, vectorCount int64, hasVectorCount bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if hasDimension {
		for _, vec := range m.pendingEmbeddings {
			if len(vec) != dimension {
				return waxerr.Newf(waxerr.InvalidArgument, "stage_for_commit", "dimension mismatch: staged blob declares %d, pending embedding has %d", dimension, len(vec))
			}
		}
	}

	newStamp := stampOf(blob)
	if existing, ok := m.currentLocked(kind); ok && existing.Stamp == newStamp {
		// Redundant restage with identical content: the stamp must not move.
		return nil
	}

	off, total, _, err := m.payloads.AppendZstd(blob)
	if err != nil {
		return err
	}

	entry := &ManifestEntry{
		Kind:           kind,
		SchemaIdentity: schemaIdentity,
		BlobOffset:     off,
		BlobLength:     total,
		UncompactedLen: int64(len(blob)),
		Stamp:          newStamp,
		Dimension:      dimension,
		HasDimension:   hasDimension,
		DocCount:       docCount,
		HasDocCount:    hasDocCount,
		VectorCount:    vectorCount,
		HasVectorCount: hasVectorCount,
	}

	payload := encodeManifestEntry(entry)
	if _, err := m.wal.append(recordKindForIndex(kind), 0, payload); err != nil {
		return err
	}
	m.pending[kind] = entry
	return nil
}

func (m *IndexManifest) currentLocked(kind IndexKind) (*ManifestEntry, bool) {
	if e, ok := m.pending[kind]; ok {
		return e, true
	}
	e, ok := m.entries[kind]
	return e, ok
}

// Current returns the entry currently staged or committed for kind.
func (m *IndexManifest) Current(kind IndexKind) (*ManifestEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentLocked(kind)
}

// Blob reads back an entry's serialized bytes from the payload region.
func (m *IndexManifest) Blob(entry *ManifestEntry) ([]byte, error) {
	return m.payloads.Read(entry.BlobOffset, entry.BlobLength)
}

// PutEmbedding queues a vector for the frame id ahead of a vector index
// stage. Valid only once a vec engine slot is registered (enforced by the
// caller, which owns engine wiring; the manifest just queues).
func (m *IndexManifest) PutEmbedding(frameID uint64, vector []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]float32, len(vector))
	copy(cp, vector)
	m.pendingEmbeddings[frameID] = cp
}

// HasPendingEmbeddingsWithoutStagedVec reports whether embeddings are
// queued without any vector index blob having been staged — the
// condition that must block commit, since committing would silently
// drop those embeddings.
func (m *IndexManifest) HasPendingEmbeddingsWithoutStagedVec() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.pendingEmbeddings) == 0 {
		return false
	}
	_, staged := m.pending[IndexVec]
	return !staged
}

// PendingEmbeddings returns the frame id -> vector table of embeddings
// queued but not yet folded into a staged vec blob, so that a crash
// recovery session can re-present them for staging.
func (m *IndexManifest) PendingEmbeddings() map[uint64][]float32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[uint64][]float32, len(m.pendingEmbeddings))
	for id, v := range m.pendingEmbeddings {
		out[id] = v
	}
	return out
}

// checkpointCommit folds staged entries into the committed table and
// clears the pending embedding buffer once a vec entry has been staged.
func (m *IndexManifest) checkpointCommit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for kind, e := range m.pending {
		m.entries[kind] = e
	}
	if _, staged := m.pending[IndexVec]; staged {
		m.pendingEmbeddings = make(map[uint64][]float32)
	}
	m.pending = make(map[IndexKind]*ManifestEntry)
}

func encodeManifestEntry(e *ManifestEntry) []byte {
	buf := make([]byte, 0, 128)
	buf = putString(buf, string(e.Kind))
	buf = putString(buf, e.SchemaIdentity)
	buf = putInt64(buf, e.BlobOffset)
	buf = putInt64(buf, e.BlobLength)
	buf = putInt64(buf, e.UncompactedLen)
	buf = putUint64(buf, e.Stamp)
	buf = putBool(buf, e.HasDimension)
	buf = putInt64(buf, int64(e.Dimension))
	buf = putBool(buf, e.HasDocCount)
	buf = putInt64(buf, e.DocCount)
	buf = putBool(buf, e.HasVectorCount)
	buf = putInt64(buf, e.VectorCount)
	return buf
}

func decodeManifestEntry(buf []byte) (*ManifestEntry, error) {
	var err error
	e := &ManifestEntry{}
	var kind string
	if kind, buf, err = getString(buf); err != nil {
		return nil, err
	}
	e.Kind = IndexKind(kind)
	if e.SchemaIdentity, buf, err = getString(buf); err != nil {
		return nil, err
	}
	if e.BlobOffset, buf, err = getInt64(buf); err != nil {
		return nil, err
	}
	if e.BlobLength, buf, err = getInt64(buf); err != nil {
		return nil, err
	}
	if e.UncompactedLen, buf, err = getInt64(buf); err != nil {
		return nil, err
	}
	if e.Stamp, buf, err = getUint64(buf); err != nil {
		return nil, err
	}
	if e.HasDimension, buf, err = getBool(buf); err != nil {
		return nil, err
	}
	var dim int64
	if dim, buf, err = getInt64(buf); err != nil {
		return nil, err
	}
	e.Dimension = int(dim)
	if e.HasDocCount, buf, err = getBool(buf); err != nil {
		return nil, err
	}
	if e.DocCount, buf, err = getInt64(buf); err != nil {
		return nil, err
	}
	if e.HasVectorCount, buf, err = getBool(buf); err != nil {
		return nil, err
	}
	if e.VectorCount, _, err = getInt64(buf); err != nil {
		return nil, err
	}
	return e, nil
}
