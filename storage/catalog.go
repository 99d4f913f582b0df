package storage

import (
	"encoding/binary"
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/waxdb/wax/waxerr"
)

// FrameRole classifies what a frame represents in the catalog.
type FrameRole string

const (
	RoleDocument  FrameRole = "document"
	RoleChunk     FrameRole = "chunk"
	RoleBlob      FrameRole = "blob"
	RoleSystem    FrameRole = "system"
	RoleSurrogate FrameRole = "surrogate"
	RoleSegment   FrameRole = "segment"
	RoleRoot      FrameRole = "root"
)

// FrameStatus is a frame's lifecycle state.
type FrameStatus uint8

const (
	StatusActive FrameStatus = iota
	StatusSuperseded
	StatusDeleted
)

// TagPair is one entry of a frame's tag list. Unlike Metadata (a map),
// tags can repeat the same key — used for multi-valued facets like
// "author" on a co-authored document.
type TagPair struct {
	Key   string
	Value string
}

// FrameMeta is a frame's catalog entry: everything except the payload
// bytes themselves.
type FrameMeta struct {
	FrameID uint64
	Kind    string
	Role    FrameRole

	ParentID    uint64
	HasParent   bool
	TimestampMs int64
	ChunkIndex  int
	ChunkCount  int

	PayloadOffset   int64
	PayloadLength   int64
	PayloadEncoding PayloadEncoding

	Metadata      map[string]string
	Tags          []TagPair
	Labels        []string
	SearchText    string
	HasSearchText bool

	EmbeddingDim int
	HasEmbedding bool
	VectorRef    string

	Status       FrameStatus
	SupersededBy uint64
}

// PutOptions carries everything about a frame besides its raw content
// bytes, mirroring the fields validated by FrameCatalog.Put.
type PutOptions struct {
	Kind              string
	Role              FrameRole
	ParentID          uint64
	HasParent         bool
	ChunkIndex        int
	ChunkCount        int
	Metadata          map[string]string
	Tags              []TagPair
	Labels            []string
	SearchText        string
	HasSearchText     bool
	TimestampOverride int64
	HasTimestamp      bool
}

// FrameCatalog is the append-only log of frame metadata, layering a
// pending (uncommitted) view over the last committed snapshot. Readers
// inside the owning read-write session see the two merged; a committed
// root never reflects anything still pending.
type FrameCatalog struct {
	mu sync.RWMutex

	committed map[uint64]*FrameMeta
	pending   map[uint64]*FrameMeta
	nextID    uint64

	wal      *walRing
	payloads *payloadStore
	cache    *blobCache
}

func newFrameCatalog(wal *walRing, payloads *payloadStore, nextID uint64) *FrameCatalog {
	return &FrameCatalog{
		committed: make(map[uint64]*FrameMeta),
		pending:   make(map[uint64]*FrameMeta),
		nextID:    nextID,
		wal:       wal,
		payloads:  payloads,
		cache:     newBlobCache(256),
	}
}

// Put assigns the next frame id, appends the payload, and stages a
// catalog-put WAL record. It does not commit — the frame is visible
// only through the pending view until the next successful commit.
func (c *FrameCatalog) Put(raw []byte, opts PutOptions) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.putLocked(raw, opts)
}

// validatePutOptionsLocked checks opts against the catalog's current
// state without mutating anything. Kept separate from putLocked so
// PutBatch can validate every entry of a batch before committing any
// of them, which its all-or-nothing invariant requires.
func (c *FrameCatalog) validatePutOptionsLocked(opts PutOptions) error {
	if opts.HasParent {
		if _, ok := c.lookupLocked(opts.ParentID); !ok {
			return waxerr.Newf(waxerr.InvalidArgument, "catalog_put", "parent frame %d does not exist", opts.ParentID)
		}
	}
	if opts.ChunkCount > 0 && opts.ChunkIndex >= opts.ChunkCount {
		return waxerr.Newf(waxerr.InvalidArgument, "catalog_put", "chunk_index %d >= chunk_count %d", opts.ChunkIndex, opts.ChunkCount)
	}
	if opts.HasTimestamp && opts.TimestampOverride < 0 {
		return waxerr.Newf(waxerr.InvalidArgument, "catalog_put", "negative timestamp_override %d", opts.TimestampOverride)
	}
	return nil
}

func (c *FrameCatalog) putLocked(raw []byte, opts PutOptions) (uint64, error) {
	if err := c.validatePutOptionsLocked(opts); err != nil {
		return 0, err
	}

	off, total, enc, err := c.payloads.Append(raw)
	if err != nil {
		return 0, err
	}

	id := c.nextID
	c.nextID++

	fm := &FrameMeta{
		FrameID:         id,
		Kind:            opts.Kind,
		Role:            opts.Role,
		ParentID:        opts.ParentID,
		HasParent:       opts.HasParent,
		TimestampMs:     opts.TimestampOverride,
		ChunkIndex:      opts.ChunkIndex,
		ChunkCount:      opts.ChunkCount,
		PayloadOffset:   off,
		PayloadLength:   total,
		PayloadEncoding: enc,
		Metadata:        opts.Metadata,
		Tags:            opts.Tags,
		Labels:          opts.Labels,
		SearchText:      opts.SearchText,
		HasSearchText:   opts.HasSearchText,
		Status:          StatusActive,
	}

	payload := encodeFrameMeta(fm)
	if _, err := c.wal.append(WALCatalogPut, 0, payload); err != nil {
		return 0, err
	}
	c.pending[id] = fm
	return id, nil
}

// PutBatch applies Put to each (raw, opts) pair in order, and returns
// the assigned ids. An empty input returns an empty list. Mismatched
// slice lengths return an InvalidArgument error.
//
// All-or-nothing: every entry is validated against the current state
// before any of them is committed — either every id is assigned, or
// none is, and no WAL record is appended for a batch that fails
// partway through.
func (c *FrameCatalog) PutBatch(rawList [][]byte, optsList []PutOptions) ([]uint64, error) {
	if len(rawList) != len(optsList) {
		return nil, waxerr.Newf(waxerr.InvalidArgument, "catalog_put_batch", "bytes_list length %d != options_list length %d", len(rawList), len(optsList))
	}
	if len(rawList) == 0 {
		return []uint64{}, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range optsList {
		if err := c.validatePutOptionsLocked(optsList[i]); err != nil {
			return nil, err
		}
	}

	ids := make([]uint64, 0, len(rawList))
	for i := range rawList {
		id, err := c.putLocked(rawList[i], optsList[i])
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Supersede marks oldID as replaced by newID. newID must exist and not
// itself already be superseded.
func (c *FrameCatalog) Supersede(oldID, newID uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	old, ok := c.lookupLocked(oldID)
	if !ok {
		return waxerr.Newf(waxerr.NotFound, "supersede", "frame %d not found", oldID)
	}
	newer, ok := c.lookupLocked(newID)
	if !ok {
		return waxerr.Newf(waxerr.InvalidArgument, "supersede", "replacement frame %d does not exist", newID)
	}
	if newer.Status == StatusSuperseded {
		return waxerr.Newf(waxerr.InvalidArgument, "supersede", "replacement frame %d is itself superseded", newID)
	}

	updated := *old
	updated.Status = StatusSuperseded
	updated.SupersededBy = newID

	payload := encodeSupersedeRecord(oldID, newID)
	if _, err := c.wal.append(WALSupersede, 0, payload); err != nil {
		return err
	}
	c.pending[oldID] = &updated
	c.cache.invalidate(oldID)
	return nil
}

// Delete marks id as deleted.
func (c *FrameCatalog) Delete(id uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deleteLocked(id)
}

func (c *FrameCatalog) deleteLocked(id uint64) error {
	fm, ok := c.lookupLocked(id)
	if !ok {
		return waxerr.Newf(waxerr.NotFound, "delete", "frame %d not found", id)
	}
	updated := *fm
	updated.Status = StatusDeleted

	payload := encodeDeleteRecord(id)
	if _, err := c.wal.append(WALDelete, 0, payload); err != nil {
		return err
	}
	c.pending[id] = &updated
	c.cache.invalidate(id)
	return nil
}

// DeleteByAsset deletes every frame whose metadata carries
// asset_id == assetID, routed through a plain metadata predicate
// rather than a dedicated secondary index.
func (c *FrameCatalog) DeleteByAsset(assetID string) ([]uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var matched []uint64
	seen := make(map[uint64]bool)
	for id, fm := range c.committed {
		if fm.Metadata["asset_id"] == assetID {
			matched = append(matched, id)
			seen[id] = true
		}
	}
	for id, fm := range c.pending {
		if fm.Metadata["asset_id"] == assetID && !seen[id] {
			matched = append(matched, id)
		}
	}
	for _, id := range matched {
		if err := c.deleteLocked(id); err != nil {
			return nil, err
		}
	}
	return matched, nil
}

// lookupLocked resolves id through the pending view first, then falls
// back to the committed catalog. Callers must hold c.mu.
func (c *FrameCatalog) lookupLocked(id uint64) (*FrameMeta, bool) {
	if fm, ok := c.pending[id]; ok {
		return fm, true
	}
	fm, ok := c.committed[id]
	return fm, ok
}

// FrameMetaFor returns id's metadata, resolving the pending view
// against the committed catalog.
func (c *FrameCatalog) FrameMetaFor(id uint64) (*FrameMeta, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fm, ok := c.lookupLocked(id)
	if !ok {
		return nil, waxerr.Newf(waxerr.NotFound, "frame_meta", "frame %d not found", id)
	}
	return fm, nil
}

// FrameContent returns id's decoded payload bytes, served read-through
// from the blob cache when present.
func (c *FrameCatalog) FrameContent(id uint64) ([]byte, error) {
	if cached, ok := c.cache.get(id); ok {
		return cached, nil
	}
	c.mu.RLock()
	fm, ok := c.lookupLocked(id)
	c.mu.RUnlock()
	if !ok {
		return nil, waxerr.Newf(waxerr.NotFound, "frame_content", "frame %d not found", id)
	}
	raw, err := c.payloads.Read(fm.PayloadOffset, fm.PayloadLength)
	if err != nil {
		return nil, err
	}
	c.cache.put(id, raw)
	return raw, nil
}

// FramePreview returns up to maxBytes of the frame's payload decoded
// as UTF-8, or ok=false if the payload isn't valid UTF-8 at that
// boundary.
func (c *FrameCatalog) FramePreview(id uint64, maxBytes int) (string, bool, error) {
	raw, err := c.FrameContent(id)
	if err != nil {
		return "", false, err
	}
	if maxBytes >= 0 && maxBytes < len(raw) {
		raw = raw[:maxBytes]
	}
	if !utf8.Valid(raw) {
		return "", false, nil
	}
	return string(raw), true, nil
}

// FrameMetasIncludingPending resolves each id in ids against the
// pending view and the committed catalog, in order. Ids not found are
// omitted.
func (c *FrameCatalog) FrameMetasIncludingPending(ids []uint64) []*FrameMeta {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*FrameMeta, 0, len(ids))
	for _, id := range ids {
		if fm, ok := c.lookupLocked(id); ok {
			out = append(out, fm)
		}
	}
	return out
}

// FrameMetas returns the metadata of every non-deleted frame, pending
// view merged over the committed catalog. Deleted frames are excluded
// from this general listing; FrameMetaFor still returns a deleted frame
// when looked up by its explicit id.
func (c *FrameCatalog) FrameMetas() []*FrameMeta {
	c.mu.RLock()
	defer c.mu.RUnlock()
	merged := make(map[uint64]*FrameMeta, len(c.committed)+len(c.pending))
	for id, fm := range c.committed {
		merged[id] = fm
	}
	for id, fm := range c.pending {
		merged[id] = fm
	}
	out := make([]*FrameMeta, 0, len(merged))
	for _, fm := range merged {
		if fm.Status != StatusDeleted {
			out = append(out, fm)
		}
	}
	return out
}

// checkpointCommit folds every pending entry into the committed map,
// called by the commit coordinator once the WAL has been durably
// flushed. Returns the next frame id a future Put must assign.
func (c *FrameCatalog) checkpointCommit() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, fm := range c.pending {
		c.committed[id] = fm
	}
	c.pending = make(map[uint64]*FrameMeta)
	return c.nextID
}

// hasPending reports whether a mutation is awaiting a commit.
func (c *FrameCatalog) hasPending() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pending) > 0
}

// --- binary encoding for catalog WAL records ---
//
// The wire format is a flat, length-prefixed binary layout, in the
// style of the pager's document codec (length-prefixed strings,
// explicit type tags) but without nested documents or arrays: a
// Frame's metadata is always a flat string map, a tag list, and a
// label set.

func putString(buf []byte, s string) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(len(s)))
	buf = append(buf, tmp[:]...)
	buf = append(buf, s...)
	return buf
}

func getString(buf []byte) (string, []byte, error) {
	if len(buf) < 4 {
		return "", nil, fmt.Errorf("catalog codec: truncated string length")
	}
	n := int(binary.LittleEndian.Uint32(buf))
	buf = buf[4:]
	if len(buf) < n {
		return "", nil, fmt.Errorf("catalog codec: truncated string body")
	}
	return string(buf[:n]), buf[n:], nil
}

func putUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func getUint64(buf []byte) (uint64, []byte, error) {
	if len(buf) < 8 {
		return 0, nil, fmt.Errorf("catalog codec: truncated uint64")
	}
	return binary.LittleEndian.Uint64(buf), buf[8:], nil
}

func putInt64(buf []byte, v int64) []byte { return putUint64(buf, uint64(v)) }

func getInt64(buf []byte) (int64, []byte, error) {
	v, rest, err := getUint64(buf)
	return int64(v), rest, err
}

func putBool(buf []byte, b bool) []byte {
	if b {
		return append(buf, 1)
	}
	return append(buf, 0)
}

func getBool(buf []byte) (bool, []byte, error) {
	if len(buf) < 1 {
		return false, nil, fmt.Errorf("catalog codec: truncated bool")
	}
	return buf[0] != 0, buf[1:], nil
}

// encodeFrameMeta serializes fm for a catalog-put WAL record.
func encodeFrameMeta(fm *FrameMeta) []byte {
	buf := make([]byte, 0, 256)
	buf = putUint64(buf, fm.FrameID)
	buf = putString(buf, fm.Kind)
	buf = putString(buf, string(fm.Role))
	buf = putBool(buf, fm.HasParent)
	buf = putUint64(buf, fm.ParentID)
	buf = putInt64(buf, fm.TimestampMs)
	buf = putInt64(buf, int64(fm.ChunkIndex))
	buf = putInt64(buf, int64(fm.ChunkCount))
	buf = putInt64(buf, fm.PayloadOffset)
	buf = putInt64(buf, fm.PayloadLength)
	buf = append(buf, byte(fm.PayloadEncoding))

	buf = putUint64(buf, uint64(len(fm.Metadata)))
	for k, v := range fm.Metadata {
		buf = putString(buf, k)
		buf = putString(buf, v)
	}
	buf = putUint64(buf, uint64(len(fm.Tags)))
	for _, t := range fm.Tags {
		buf = putString(buf, t.Key)
		buf = putString(buf, t.Value)
	}
	buf = putUint64(buf, uint64(len(fm.Labels)))
	for _, l := range fm.Labels {
		buf = putString(buf, l)
	}
	buf = putBool(buf, fm.HasSearchText)
	buf = putString(buf, fm.SearchText)
	buf = putBool(buf, fm.HasEmbedding)
	buf = putInt64(buf, int64(fm.EmbeddingDim))
	buf = putString(buf, fm.VectorRef)
	buf = append(buf, byte(fm.Status))
	buf = putUint64(buf, fm.SupersededBy)
	return buf
}

// decodeFrameMeta is the inverse of encodeFrameMeta, used when
// reapplying catalog-put records during WAL replay.
func decodeFrameMeta(buf []byte) (*FrameMeta, error) {
	var err error
	fm := &FrameMeta{Metadata: map[string]string{}}

	if fm.FrameID, buf, err = getUint64(buf); err != nil {
		return nil, err
	}
	if fm.Kind, buf, err = getString(buf); err != nil {
		return nil, err
	}
	var role string
	if role, buf, err = getString(buf); err != nil {
		return nil, err
	}
	fm.Role = FrameRole(role)
	if fm.HasParent, buf, err = getBool(buf); err != nil {
		return nil, err
	}
	if fm.ParentID, buf, err = getUint64(buf); err != nil {
		return nil, err
	}
	if fm.TimestampMs, buf, err = getInt64(buf); err != nil {
		return nil, err
	}
	var chunkIdx, chunkCount int64
	if chunkIdx, buf, err = getInt64(buf); err != nil {
		return nil, err
	}
	if chunkCount, buf, err = getInt64(buf); err != nil {
		return nil, err
	}
	fm.ChunkIndex, fm.ChunkCount = int(chunkIdx), int(chunkCount)
	if fm.PayloadOffset, buf, err = getInt64(buf); err != nil {
		return nil, err
	}
	if fm.PayloadLength, buf, err = getInt64(buf); err != nil {
		return nil, err
	}
	if len(buf) < 1 {
		return nil, fmt.Errorf("catalog codec: truncated encoding byte")
	}
	fm.PayloadEncoding = PayloadEncoding(buf[0])
	buf = buf[1:]

	var metaCount uint64
	if metaCount, buf, err = getUint64(buf); err != nil {
		return nil, err
	}
	for i := uint64(0); i < metaCount; i++ {
		var k, v string
		if k, buf, err = getString(buf); err != nil {
			return nil, err
		}
		if v, buf, err = getString(buf); err != nil {
			return nil, err
		}
		fm.Metadata[k] = v
	}

	var tagCount uint64
	if tagCount, buf, err = getUint64(buf); err != nil {
		return nil, err
	}
	for i := uint64(0); i < tagCount; i++ {
		var k, v string
		if k, buf, err = getString(buf); err != nil {
			return nil, err
		}
		if v, buf, err = getString(buf); err != nil {
			return nil, err
		}
		fm.Tags = append(fm.Tags, TagPair{Key: k, Value: v})
	}

	var labelCount uint64
	if labelCount, buf, err = getUint64(buf); err != nil {
		return nil, err
	}
	for i := uint64(0); i < labelCount; i++ {
		var l string
		if l, buf, err = getString(buf); err != nil {
			return nil, err
		}
		fm.Labels = append(fm.Labels, l)
	}

	if fm.HasSearchText, buf, err = getBool(buf); err != nil {
		return nil, err
	}
	if fm.SearchText, buf, err = getString(buf); err != nil {
		return nil, err
	}
	if fm.HasEmbedding, buf, err = getBool(buf); err != nil {
		return nil, err
	}
	var dim int64
	if dim, buf, err = getInt64(buf); err != nil {
		return nil, err
	}
	fm.EmbeddingDim = int(dim)
	if fm.VectorRef, buf, err = getString(buf); err != nil {
		return nil, err
	}
	if len(buf) < 1 {
		return nil, fmt.Errorf("catalog codec: truncated status byte")
	}
	fm.Status = FrameStatus(buf[0])
	buf = buf[1:]
	if fm.SupersededBy, _, err = getUint64(buf); err != nil {
		return nil, err
	}
	return fm, nil
}

func encodeSupersedeRecord(oldID, newID uint64) []byte {
	buf := make([]byte, 0, 16)
	buf = putUint64(buf, oldID)
	buf = putUint64(buf, newID)
	return buf
}

func decodeSupersedeRecord(buf []byte) (oldID, newID uint64, err error) {
	oldID, buf, err = getUint64(buf)
	if err != nil {
		return 0, 0, err
	}
	newID, _, err = getUint64(buf)
	return oldID, newID, err
}

func encodeDeleteRecord(id uint64) []byte {
	return putUint64(nil, id)
}

func decodeDeleteRecord(buf []byte) (uint64, error) {
	id, _, err := getUint64(buf)
	return id, err
}
