package engine

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/waxdb/wax/storage"
)

// Metric selects the similarity function a vector engine scores with.
// Dimension and metric are fixed at engine creation, per the capability
// contract — they never change mid-lifetime of one engine instance.
type Metric string

const (
	MetricCosine    Metric = "cosine"
	MetricDot       Metric = "dot"
	MetricEuclidean Metric = "euclidean"
)

const vecSchemaVersion uint16 = 1

// VecEngine is the reference brute-force CPU vector engine: it holds
// every vector in memory and scores a query against all of them on each
// search. It exists as the always-available fallback beneath any
// metal-preferred engine variant.
type VecEngine struct {
	mu sync.RWMutex

	dimension int
	metric    Metric
	normalize bool

	vectors map[uint64][]float32
}

// NewVecEngine creates an empty engine fixed to dimension and metric.
// When normalize is true, every vector (stored or queried) is projected
// to unit length before scoring, matching engines whose metric assumes
// normalized input.
func NewVecEngine(dimension int, metric Metric, normalize bool) *VecEngine {
	return &VecEngine{
		dimension: dimension,
		metric:    metric,
		normalize: normalize,
		vectors:   make(map[uint64][]float32),
	}
}

func (e *VecEngine) Kind() storage.IndexKind { return storage.IndexVec }

func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	if sumSquares == 0 {
		return v
	}
	norm := math.Sqrt(sumSquares)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// Mutate applies MutateAdd (validating dimension, normalizing if
// configured) or MutateRemove.
func (e *VecEngine) Mutate(m Mutation) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch m.Op {
	case MutateAdd:
		if len(m.Vector) != e.dimension {
			return fmt.Errorf("vec engine: dimension mismatch: got %d, want %d", len(m.Vector), e.dimension)
		}
		v := m.Vector
		if e.normalize {
			v = normalizeVector(v)
		} else {
			v = append([]float32(nil), v...)
		}
		e.vectors[m.FrameID] = v
		return nil
	case MutateRemove:
		delete(e.vectors, m.FrameID)
		return nil
	default:
		return fmt.Errorf("vec engine: unsupported mutation op %d", m.Op)
	}
}

func similarity(metric Metric, a, b []float32) float64 {
	switch metric {
	case MetricDot:
		var sum float64
		for i := range a {
			sum += float64(a[i]) * float64(b[i])
		}
		return sum
	case MetricEuclidean:
		var sumSquares float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			sumSquares += d * d
		}
		// Euclidean distance is smaller-is-better; invert so that larger
		// scores remain "more similar" for the shared ranking contract.
		return -math.Sqrt(sumSquares)
	default: // MetricCosine
		var dot, normA, normB float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
			normA += float64(a[i]) * float64(a[i])
			normB += float64(b[i]) * float64(b[i])
		}
		if normA == 0 || normB == 0 {
			return 0
		}
		return dot / (math.Sqrt(normA) * math.Sqrt(normB))
	}
}

// Search scores the query vector against every stored vector, sorting
// descending by similarity with frame id ascending as the tie-break.
func (e *VecEngine) Search(req SearchRequest) ([]SearchHit, error) {
	if len(req.QueryVector) != e.dimension {
		return nil, fmt.Errorf("vec engine: query dimension mismatch: got %d, want %d", len(req.QueryVector), e.dimension)
	}
	query := req.QueryVector
	if e.normalize {
		query = normalizeVector(query)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	hits := make([]SearchHit, 0, len(e.vectors))
	for frameID, v := range e.vectors {
		hits = append(hits, SearchHit{FrameID: frameID, Score: similarity(e.metric, query, v)})
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

// StageStamp hashes every stored vector deterministically (sorted by
// frame id) so a redundant stage can be skipped cheaply.
func (e *VecEngine) StageStamp() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ids := make([]uint64, 0, len(e.vectors))
	for id := range e.vectors {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	h := xxhash.New()
	idBuf := make([]byte, 8)
	floatBuf := make([]byte, 4)
	for _, id := range ids {
		binary.LittleEndian.PutUint64(idBuf, id)
		h.Write(idBuf)
		for _, x := range e.vectors[id] {
			binary.LittleEndian.PutUint32(floatBuf, math.Float32bits(x))
			h.Write(floatBuf)
		}
	}
	return h.Sum64()
}

// Serialize produces a self-describing blob: version, dimension, metric
// name, normalize flag, then each (frame id, vector) pair.
func (e *VecEngine) Serialize() ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	buf := make([]byte, 0, 256+len(e.vectors)*(8+4*e.dimension))
	var versionTag [2]byte
	binary.LittleEndian.PutUint16(versionTag[:], vecSchemaVersion)
	buf = append(buf, versionTag[:]...)

	var dimTag [4]byte
	binary.LittleEndian.PutUint32(dimTag[:], uint32(e.dimension))
	buf = append(buf, dimTag[:]...)

	buf = putLexStr(buf, string(e.metric))
	if e.normalize {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}

	var countTag [4]byte
	binary.LittleEndian.PutUint32(countTag[:], uint32(len(e.vectors)))
	buf = append(buf, countTag[:]...)

	for frameID, v := range e.vectors {
		var idTag [8]byte
		binary.LittleEndian.PutUint64(idTag[:], frameID)
		buf = append(buf, idTag[:]...)
		for _, x := range v {
			var xTag [4]byte
			binary.LittleEndian.PutUint32(xTag[:], math.Float32bits(x))
			buf = append(buf, xTag[:]...)
		}
	}
	return buf, nil
}

// Deserialize restores state from a blob written by Serialize.
func (e *VecEngine) Deserialize(blob []byte) error {
	if len(blob) < 2 {
		return fmt.Errorf("vec engine: blob too short for version tag")
	}
	version := binary.LittleEndian.Uint16(blob)
	blob = blob[2:]
	if version != vecSchemaVersion {
		return fmt.Errorf("vec engine: unsupported schema version %d", version)
	}

	if len(blob) < 4 {
		return fmt.Errorf("vec engine: truncated dimension")
	}
	dimension := int(binary.LittleEndian.Uint32(blob))
	blob = blob[4:]

	metricName, blob, err := getLexStr(blob)
	if err != nil {
		return err
	}
	if len(blob) < 1 {
		return fmt.Errorf("vec engine: truncated normalize flag")
	}
	normalize := blob[0] != 0
	blob = blob[1:]

	if len(blob) < 4 {
		return fmt.Errorf("vec engine: truncated vector count")
	}
	count := binary.LittleEndian.Uint32(blob)
	blob = blob[4:]

	vectors := make(map[uint64][]float32, count)
	for i := uint32(0); i < count; i++ {
		if len(blob) < 8+4*dimension {
			return fmt.Errorf("vec engine: truncated vector entry")
		}
		frameID := binary.LittleEndian.Uint64(blob[:8])
		blob = blob[8:]
		v := make([]float32, dimension)
		for d := 0; d < dimension; d++ {
			v[d] = math.Float32frombits(binary.LittleEndian.Uint32(blob[d*4 : d*4+4]))
		}
		blob = blob[4*dimension:]
		vectors[frameID] = v
	}

	e.mu.Lock()
	e.dimension = dimension
	e.metric = Metric(metricName)
	e.normalize = normalize
	e.vectors = vectors
	e.mu.Unlock()
	return nil
}
