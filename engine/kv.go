package engine

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/waxdb/wax/storage"
)

const kvSchemaVersion uint16 = 1

// kvFact is one bitemporal assertion: a (subject, predicate, value)
// triple valid over [validFrom, validTo) in application time, recorded at
// recordedAtMs in system time. The KV engine is deliberately minimal —
// the spec treats its operational surface as outside the core's concern,
// exposing only an opaque blob commit.
type kvFact struct {
	Subject      string
	Predicate    string
	Value        string
	ValidFromMs  int64
	ValidToMs    int64
	HasValidTo   bool
	RecordedAtMs int64
}

// KVEngine is the minimal bitemporal structured-memory engine: a flat
// append-only fact list keyed by frame id, committed to the manifest as
// an opaque blob like any other engine. It exists to exercise the kv
// manifest slot end-to-end; a production structured-memory orchestrator
// is expected to layer indexing and query planning above this surface as
// an external collaborator.
type KVEngine struct {
	mu    sync.RWMutex
	facts map[uint64][]kvFact
}

// NewKVEngine returns an empty structured-memory engine.
func NewKVEngine() *KVEngine {
	return &KVEngine{facts: make(map[uint64][]kvFact)}
}

func (e *KVEngine) Kind() storage.IndexKind { return storage.IndexKV }

// AssertFact appends a new bitemporal fact under frameID. It is the
// KV-specific entry point external collaborators call before the core
// generic Mutate is used to signal "something changed" for staging
// purposes.
func (e *KVEngine) AssertFact(frameID uint64, subject, predicate, value string, validFromMs int64, validToMs int64, hasValidTo bool, recordedAtMs int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.facts[frameID] = append(e.facts[frameID], kvFact{
		Subject: subject, Predicate: predicate, Value: value,
		ValidFromMs: validFromMs, ValidToMs: validToMs, HasValidTo: hasValidTo,
		RecordedAtMs: recordedAtMs,
	})
}

// Mutate implements the generic Engine capability: MutateIndex is
// interpreted as "the metadata for this frame changed, there is nothing
// further to project" (facts are asserted through AssertFact directly);
// MutateRemove drops every fact recorded under a frame id.
func (e *KVEngine) Mutate(m Mutation) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch m.Op {
	case MutateRemove:
		delete(e.facts, m.FrameID)
		return nil
	case MutateIndex:
		return nil
	default:
		return fmt.Errorf("kv engine: unsupported mutation op %d", m.Op)
	}
}

// Search is a degenerate capability for the KV engine: structured-memory
// query planning lives entirely with the external collaborator, so this
// always returns no hits. It exists only so KVEngine satisfies Engine.
func (e *KVEngine) Search(req SearchRequest) ([]SearchHit, error) {
	return nil, nil
}

// FactsFor returns every fact asserted under frameID whose validity
// window covers asOfMs (or is still open).
func (e *KVEngine) FactsFor(frameID uint64, asOfMs int64) []kvFact {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []kvFact
	for _, f := range e.facts[frameID] {
		if f.ValidFromMs > asOfMs {
			continue
		}
		if f.HasValidTo && f.ValidToMs <= asOfMs {
			continue
		}
		out = append(out, f)
	}
	return out
}

// StageStamp returns the total number of stored facts. A change that
// leaves the fact count the same yields the same stamp.
func (e *KVEngine) StageStamp() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var total uint64
	for _, facts := range e.facts {
		total += uint64(len(facts))
	}
	return total
}

func (e *KVEngine) Serialize() ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	buf := make([]byte, 0, 256)
	var versionTag [2]byte
	binary.LittleEndian.PutUint16(versionTag[:], kvSchemaVersion)
	buf = append(buf, versionTag[:]...)

	var frameCount [4]byte
	binary.LittleEndian.PutUint32(frameCount[:], uint32(len(e.facts)))
	buf = append(buf, frameCount[:]...)

	for frameID, facts := range e.facts {
		var idTag [8]byte
		binary.LittleEndian.PutUint64(idTag[:], frameID)
		buf = append(buf, idTag[:]...)
		var factCount [4]byte
		binary.LittleEndian.PutUint32(factCount[:], uint32(len(facts)))
		buf = append(buf, factCount[:]...)
		for _, f := range facts {
			buf = putLexStr(buf, f.Subject)
			buf = putLexStr(buf, f.Predicate)
			buf = putLexStr(buf, f.Value)
			var times [24]byte
			binary.LittleEndian.PutUint64(times[0:8], uint64(f.ValidFromMs))
			binary.LittleEndian.PutUint64(times[8:16], uint64(f.ValidToMs))
			binary.LittleEndian.PutUint64(times[16:24], uint64(f.RecordedAtMs))
			buf = append(buf, times[:]...)
			if f.HasValidTo {
				buf = append(buf, 1)
			} else {
				buf = append(buf, 0)
			}
		}
	}
	return buf, nil
}

func (e *KVEngine) Deserialize(blob []byte) error {
	if len(blob) < 2 {
		return fmt.Errorf("kv engine: blob too short for version tag")
	}
	version := binary.LittleEndian.Uint16(blob)
	blob = blob[2:]
	if version != kvSchemaVersion {
		return fmt.Errorf("kv engine: unsupported schema version %d", version)
	}

	if len(blob) < 4 {
		return fmt.Errorf("kv engine: truncated frame count")
	}
	frameCount := binary.LittleEndian.Uint32(blob)
	blob = blob[4:]

	facts := make(map[uint64][]kvFact, frameCount)
	for i := uint32(0); i < frameCount; i++ {
		if len(blob) < 12 {
			return fmt.Errorf("kv engine: truncated frame header")
		}
		frameID := binary.LittleEndian.Uint64(blob[0:8])
		factCount := binary.LittleEndian.Uint32(blob[8:12])
		blob = blob[12:]

		entries := make([]kvFact, 0, factCount)
		for j := uint32(0); j < factCount; j++ {
			var f kvFact
			var err error
			if f.Subject, blob, err = getLexStr(blob); err != nil {
				return err
			}
			if f.Predicate, blob, err = getLexStr(blob); err != nil {
				return err
			}
			if f.Value, blob, err = getLexStr(blob); err != nil {
				return err
			}
			if len(blob) < 25 {
				return fmt.Errorf("kv engine: truncated fact body")
			}
			f.ValidFromMs = int64(binary.LittleEndian.Uint64(blob[0:8]))
			f.ValidToMs = int64(binary.LittleEndian.Uint64(blob[8:16]))
			f.RecordedAtMs = int64(binary.LittleEndian.Uint64(blob[16:24]))
			f.HasValidTo = blob[24] != 0
			blob = blob[25:]
			entries = append(entries, f)
		}
		facts[frameID] = entries
	}

	e.mu.Lock()
	e.facts = facts
	e.mu.Unlock()
	return nil
}
