package engine

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/waxdb/wax/storage"
)

// lexSchemaVersion is bumped whenever the serialized layout changes.
// Deserialize inspects the version tag embedded in the blob and rejects
// any version other than this one — the engine owns this, not the core.
const lexSchemaVersion uint16 = 1

// LexEngine is the reference in-memory full-text engine: whitespace/
// punctuation tokenization plus a plain term-frequency score. It exists
// to exercise the lex slot of the index manifest end-to-end; production
// deployments are free to swap in a real inverted-index implementation
// behind the same Engine capability set.
type LexEngine struct {
	mu sync.RWMutex

	// terms[term][frameID] = occurrences of term in that frame's text.
	terms map[string]map[uint64]int
	// docLength[frameID] = total token count, used to normalize scores.
	docLength map[uint64]int
}

// NewLexEngine returns an empty lexical engine.
func NewLexEngine() *LexEngine {
	return &LexEngine{
		terms:     make(map[string]map[uint64]int),
		docLength: make(map[uint64]int),
	}
}

func (e *LexEngine) Kind() storage.IndexKind { return storage.IndexLex }

func tokenize(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = strings.ToLower(f)
	}
	return out
}

// Mutate applies MutateIndex (re-tokenizes and replaces a frame's postings)
// or MutateRemove (drops every posting for a frame).
func (e *LexEngine) Mutate(m Mutation) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch m.Op {
	case MutateIndex:
		e.removeLocked(m.FrameID)
		tokens := tokenize(m.Text)
		for _, tok := range tokens {
			if tok == "" {
				continue
			}
			postings, ok := e.terms[tok]
			if !ok {
				postings = make(map[uint64]int)
				e.terms[tok] = postings
			}
			postings[m.FrameID]++
		}
		e.docLength[m.FrameID] = len(tokens)
		return nil
	case MutateRemove:
		e.removeLocked(m.FrameID)
		return nil
	default:
		return fmt.Errorf("lex engine: unsupported mutation op %d", m.Op)
	}
}

func (e *LexEngine) removeLocked(frameID uint64) {
	for term, postings := range e.terms {
		if _, ok := postings[frameID]; ok {
			delete(postings, frameID)
			if len(postings) == 0 {
				delete(e.terms, term)
			}
		}
	}
	delete(e.docLength, frameID)
}

// Search scores every frame containing at least one query term by the
// sum of term frequencies normalized by document length, breaking ties
// by ascending frame id so results are deterministic across repeated
// calls.
func (e *LexEngine) Search(req SearchRequest) ([]SearchHit, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	queryTerms := tokenize(req.QueryText)
	if len(queryTerms) == 0 {
		return nil, nil
	}

	scores := make(map[uint64]float64)
	for _, term := range queryTerms {
		postings, ok := e.terms[term]
		if !ok {
			continue
		}
		for frameID, count := range postings {
			length := e.docLength[frameID]
			if length == 0 {
				length = 1
			}
			scores[frameID] += float64(count) / float64(length)
		}
	}

	hits := make([]SearchHit, 0, len(scores))
	for frameID, score := range scores {
		hits = append(hits, SearchHit{FrameID: frameID, Score: score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].FrameID < hits[j].FrameID
	})
	if req.TopK > 0 && len(hits) > req.TopK {
		hits = hits[:req.TopK]
	}
	return hits, nil
}

// StageStamp hashes the current postings deterministically so an
// orchestrator can skip a redundant stage_for_commit without paying for a
// full Serialize.
func (e *LexEngine) StageStamp() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h := xxhash.New()
	terms := make([]string, 0, len(e.terms))
	for term := range e.terms {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	for _, term := range terms {
		fmt.Fprintf(h, "%s:", term)
		postings := e.terms[term]
		ids := make([]uint64, 0, len(postings))
		for id := range postings {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			fmt.Fprintf(h, "%d=%d,", id, postings[id])
		}
	}
	return h.Sum64()
}

func putLexStr(buf []byte, s string) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(len(s)))
	buf = append(buf, tmp[:]...)
	return append(buf, s...)
}

func getLexStr(buf []byte) (string, []byte, error) {
	if len(buf) < 4 {
		return "", nil, fmt.Errorf("lex engine: truncated string length")
	}
	n := int(binary.LittleEndian.Uint32(buf))
	buf = buf[4:]
	if len(buf) < n {
		return "", nil, fmt.Errorf("lex engine: truncated string body")
	}
	return string(buf[:n]), buf[n:], nil
}

// Serialize produces a self-describing blob: a version tag, the term
// count, then for each term its postings list.
func (e *LexEngine) Serialize() ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	buf := make([]byte, 0, 1024)
	var versionTag [2]byte
	binary.LittleEndian.PutUint16(versionTag[:], lexSchemaVersion)
	buf = append(buf, versionTag[:]...)

	var termCount [4]byte
	binary.LittleEndian.PutUint32(termCount[:], uint32(len(e.terms)))
	buf = append(buf, termCount[:]...)

	for term, postings := range e.terms {
		buf = putLexStr(buf, term)
		var count [4]byte
		binary.LittleEndian.PutUint32(count[:], uint32(len(postings)))
		buf = append(buf, count[:]...)
		for frameID, freq := range postings {
			var entry [12]byte
			binary.LittleEndian.PutUint64(entry[0:8], frameID)
			binary.LittleEndian.PutUint32(entry[8:12], uint32(freq))
			buf = append(buf, entry[:]...)
		}
	}
	return buf, nil
}

// Deserialize restores state from a blob written by Serialize. A blob
// whose version tag differs from lexSchemaVersion is rejected.
func (e *LexEngine) Deserialize(blob []byte) error {
	if len(blob) < 2 {
		return fmt.Errorf("lex engine: blob too short for version tag")
	}
	version := binary.LittleEndian.Uint16(blob)
	blob = blob[2:]
	if version != lexSchemaVersion {
		// Only one schema version exists so far; this switch is the seam
		// where a future version would translate an older layout forward.
		return fmt.Errorf("lex engine: unsupported schema version %d", version)
	}

	if len(blob) < 4 {
		return fmt.Errorf("lex engine: truncated term count")
	}
	termCount := binary.LittleEndian.Uint32(blob)
	blob = blob[4:]

	terms := make(map[string]map[uint64]int, termCount)
	docLength := make(map[uint64]int)

	for i := uint32(0); i < termCount; i++ {
		var term string
		var err error
		term, blob, err = getLexStr(blob)
		if err != nil {
			return err
		}
		if len(blob) < 4 {
			return fmt.Errorf("lex engine: truncated postings count")
		}
		postingCount := binary.LittleEndian.Uint32(blob)
		blob = blob[4:]

		postings := make(map[uint64]int, postingCount)
		for j := uint32(0); j < postingCount; j++ {
			if len(blob) < 12 {
				return fmt.Errorf("lex engine: truncated posting entry")
			}
			frameID := binary.LittleEndian.Uint64(blob[0:8])
			freq := int(binary.LittleEndian.Uint32(blob[8:12]))
			blob = blob[12:]
			postings[frameID] = freq
			docLength[frameID] += freq
		}
		terms[term] = postings
	}

	e.mu.Lock()
	e.terms = terms
	e.docLength = docLength
	e.mu.Unlock()
	return nil
}
