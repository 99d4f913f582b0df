// Package engine defines the tagged-variant capability that replaces
// any text/vector/KV class hierarchy: a single capability set (kind,
// serialize, deserialize, stage_stamp, mutate, search) that every
// secondary engine implements. The container core only ever owns the
// blob's bytes; the engine owns its internal structure.
package engine

import (
	"github.com/waxdb/wax/storage"
)

// MutationOp identifies the operation carried by a Mutation. The lexical
// and vector engines share the same generic mutation type rather than
// distinct Index/Add signatures, so the core can route updates without
// knowing the engine's concrete type.
type MutationOp uint8

const (
	// MutateIndex indexes (or reindexes) the text associated with a
	// frame — used by the lexical engine.
	MutateIndex MutationOp = iota
	// MutateAdd adds (or replaces) the vector associated with a frame —
	// used by the vector engine.
	MutateAdd
	// MutateRemove drops a frame from the engine's internal structure,
	// regardless of its kind.
	MutateRemove
)

// Mutation is the single update shape accepted by Engine.Mutate. Only
// the fields relevant to Op are read.
type Mutation struct {
	Op      MutationOp
	FrameID uint64
	Text    string
	Vector  []float32
}

// SearchRequest carries the parameters of a single-lane search. The
// hybrid search core builds one SearchRequest per active lane and fuses
// the results itself; an engine never knows about the other lanes.
type SearchRequest struct {
	QueryText   string
	QueryVector []float32
	TopK        int
}

// SearchHit is a lane's raw result, before filtering and fusion.
type SearchHit struct {
	FrameID    uint64
	Score      float64
	Snippet    string
	HasSnippet bool
}

// Engine is the capability shared by every embedded secondary index.
// The core never serializes or deserializes an engine's internal
// structure itself: it only ever passes its opaque bytes through the
// index manifest and the WAL.
type Engine interface {
	// Kind identifies the manifest slot this engine is attached to
	// (lex, vec, or kv).
	Kind() storage.IndexKind

	// Mutate applies an in-memory update; it never touches the file or
	// the WAL. The caller decides when to serialize and stage.
	Mutate(m Mutation) error

	// Search runs the request against the engine's current in-memory
	// state and returns results sorted by descending score.
	Search(req SearchRequest) ([]SearchHit, error)

	// Serialize produces the opaque blob the core writes via
	// stage_for_commit. The engine alone is responsible for its format
	// and versioning.
	Serialize() ([]byte, error)

	// Deserialize restores internal state from a blob previously
	// produced by Serialize, detecting and upgrading older schema
	// versions along the way.
	Deserialize(blob []byte) error

	// StageStamp returns a cheap fingerprint of the engine's current
	// state, letting an orchestrator skip an unnecessary stage before
	// even paying the cost of a full serialization. It need not match
	// bit-for-bit the stamp the manifest computes over the serialized
	// blob — only its stability in the absence of change matters.
	StageStamp() uint64
}
