// Package search implements the single hybrid retrieval operation:
// independent text and vector lanes, fused by weighted RRF, with
// deterministic tie-breaking and optional per-result diagnostics.
package search

import (
	"sort"

	"github.com/waxdb/wax/engine"
	"github.com/waxdb/wax/storage"
	"github.com/waxdb/wax/waxerr"
)

// Mode selects which lanes run.
type Mode int

const (
	ModeTextOnly Mode = iota
	ModeVectorOnly
	ModeHybrid
)

// VectorPreference names which vector engine variant a caller prefers
// (e.g. an accelerated "metal-preferred" engine or the CPU engine). Run
// does not consult it: the vector lane always uses the engine passed in.
type VectorPreference int

const (
	PreferenceAuto VectorPreference = iota
	PreferenceCPUOnly
	PreferenceMetalPreferred
)

// DefaultRRFConstant is K in the weighted RRF formula w/(K+rank), used
// when the caller leaves K at 0. A caller-supplied K < 0 is clamped to 1
// rather than rejected.
const DefaultRRFConstant = 60

// FrameFilter restricts lane results before fusion, so a filtered-out
// result never consumes a lane rank slot.
type FrameFilter struct {
	AllowIDs         map[uint64]bool
	HasAllowIDs      bool
	RequiredMetadata map[string]string
	RequiredLabels   []string
}

func (f FrameFilter) matches(fm *storage.FrameMeta) bool {
	if f.HasAllowIDs && !f.AllowIDs[fm.FrameID] {
		return false
	}
	for k, v := range f.RequiredMetadata {
		if fm.Metadata[k] != v {
			return false
		}
	}
	for _, want := range f.RequiredLabels {
		found := false
		for _, have := range fm.Labels {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Request carries every setting of a hybrid search invocation.
type Request struct {
	QueryText         string
	HasQueryText      bool
	QueryEmbedding    []float32
	HasQueryEmbedding bool

	VectorPreference VectorPreference
	Mode             Mode
	Alpha            float64 // only meaningful when Mode == ModeHybrid

	TopK            int
	TopKLane        int // candidates per lane before fusion; 0 falls back to TopK
	RRFConstant     int // 0 falls back to DefaultRRFConstant
	Filter          FrameFilter
	PreviewMaxBytes int

	Diagnostics     bool
	DiagnosticsTopK int
}

// LaneContribution is one lane's share of a fused result's score,
// reported only when Request.Diagnostics is set.
type LaneContribution struct {
	Lane     string
	Weight   float64
	Rank     int
	RRFScore float64
}

// Result is a fused, ordered result.
type Result struct {
	FrameID        uint64
	FusedScore     float64
	BestLaneRank   int
	TieBreakReason string
	Preview        string
	HasPreview     bool
	Contributions  []LaneContribution
}

// Response is the complete, ordered result of a search call. Two
// invocations of Run with an identical Request against an unchanged
// container must produce an identical Response.
type Response struct {
	Results     []Result
	Diagnostics bool
}

type laneWeights struct {
	text float64
	vec  float64
}

func weightsFor(mode Mode, alpha float64) laneWeights {
	switch mode {
	case ModeTextOnly:
		return laneWeights{text: 1, vec: 0}
	case ModeVectorOnly:
		return laneWeights{text: 0, vec: 1}
	default:
		return laneWeights{text: alpha, vec: 1 - alpha}
	}
}

type fusedEntry struct {
	frameID       uint64
	fusedScore    float64
	bestLaneRank  int
	contributions []LaneContribution
}

// Run executes a search request against a catalog and whichever lex/vec
// engines are currently registered for it. Either engine may be nil when
// its lane is not enabled; lanes whose engine is absent or whose
// request doesn't supply the needed input are simply skipped rather
// than failing the call, except that vector_only mode without a query
// embedding is rejected with an InvalidArgument error.
func Run(catalog *storage.FrameCatalog, lex engine.Engine, vec engine.Engine, req Request) (*Response, error) {
	if req.Mode == ModeVectorOnly && !req.HasQueryEmbedding {
		return nil, waxerr.Newf(waxerr.InvalidArgument, "search", "vector_only mode requires a query embedding")
	}

	topKLane := req.TopKLane
	if topKLane <= 0 {
		topKLane = req.TopK
	}
	if topKLane <= 0 {
		topKLane = 10
	}

	weights := weightsFor(req.Mode, req.Alpha)
	rrfK := req.RRFConstant
	if rrfK == 0 {
		rrfK = DefaultRRFConstant
	} else if rrfK < 0 {
		rrfK = 1
	}

	fused := make(map[uint64]*fusedEntry)

	if req.Mode != ModeVectorOnly && lex != nil && req.HasQueryText {
		hits, err := lex.Search(engine.SearchRequest{QueryText: req.QueryText, TopK: topKLane})
		if err != nil {
			return nil, waxerr.New(waxerr.Provider, "search_text_lane", err)
		}
		applyLane(fused, catalog, req.Filter, "text", weights.text, rrfK, hits)
	}

	if req.Mode != ModeTextOnly && vec != nil && req.HasQueryEmbedding {
		hits, err := vec.Search(engine.SearchRequest{QueryVector: req.QueryEmbedding, TopK: topKLane})
		if err != nil {
			return nil, waxerr.New(waxerr.Provider, "search_vector_lane", err)
		}
		applyLane(fused, catalog, req.Filter, "vector", weights.vec, rrfK, hits)
	}

	entries := make([]*fusedEntry, 0, len(fused))
	for _, e := range fused {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].fusedScore != entries[j].fusedScore {
			return entries[i].fusedScore > entries[j].fusedScore
		}
		if entries[i].bestLaneRank != entries[j].bestLaneRank {
			return entries[i].bestLaneRank < entries[j].bestLaneRank
		}
		return entries[i].frameID < entries[j].frameID
	})

	if req.TopK > 0 && len(entries) > req.TopK {
		entries = entries[:req.TopK]
	}

	results := make([]Result, 0, len(entries))
	for i, e := range entries {
		reason := tieBreakReason(entries, i)
		r := Result{
			FrameID:        e.frameID,
			FusedScore:     e.fusedScore,
			BestLaneRank:   e.bestLaneRank,
			TieBreakReason: reason,
		}
		if req.PreviewMaxBytes != 0 {
			preview, ok, err := catalog.FramePreview(e.frameID, req.PreviewMaxBytes)
			if err == nil && ok {
				r.Preview = preview
				r.HasPreview = true
			}
		}
		if req.Diagnostics {
			r.Contributions = e.contributions
		}
		results = append(results, r)
	}

	return &Response{Results: results, Diagnostics: req.Diagnostics}, nil
}

// tieBreakReason explains why entries[i] holds its position: a unique
// score, a tie broken by lane rank, or as a last resort ascending frame
// id.
func tieBreakReason(entries []*fusedEntry, i int) string {
	unique := true
	for j, other := range entries {
		if j == i {
			continue
		}
		if other.fusedScore == entries[i].fusedScore {
			unique = false
			break
		}
	}
	if unique {
		return "unique_score"
	}
	for j, other := range entries {
		if j == i || other.fusedScore != entries[i].fusedScore {
			continue
		}
		if other.bestLaneRank != entries[i].bestLaneRank {
			return "lane_rank"
		}
	}
	return "frame_id"
}

// applyLane filters a lane's raw results (status, frame_filter,
// metadata) then accumulates their RRF contribution into fused. The
// rank used for the computation is the post-filter rank, not the
// engine's raw rank; hits with equal engine scores share a rank.
func applyLane(fused map[uint64]*fusedEntry, catalog *storage.FrameCatalog, filter FrameFilter, lane string, weight float64, rrfK int, hits []engine.SearchHit) {
	if weight == 0 {
		return
	}
	rank := 0
	kept := 0
	var prevScore float64
	for _, hit := range hits {
		fm, err := catalog.FrameMetaFor(hit.FrameID)
		if err != nil {
			continue
		}
		if fm.Status == storage.StatusSuperseded || fm.Status == storage.StatusDeleted {
			continue
		}
		if !filter.matches(fm) {
			continue
		}
		kept++
		if kept == 1 || hit.Score != prevScore {
			rank = kept
		}
		prevScore = hit.Score

		rrfScore := weight / float64(rrfK+rank)
		entry, ok := fused[hit.FrameID]
		if !ok {
			entry = &fusedEntry{frameID: hit.FrameID, bestLaneRank: rank}
			fused[hit.FrameID] = entry
		}
		entry.fusedScore += rrfScore
		if rank < entry.bestLaneRank {
			entry.bestLaneRank = rank
		}
		entry.contributions = append(entry.contributions, LaneContribution{
			Lane: lane, Weight: weight, Rank: rank, RRFScore: rrfScore,
		})
	}
}
