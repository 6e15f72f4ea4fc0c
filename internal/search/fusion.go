// Package search ranks memory chunks with hybrid lexical + semantic
// retrieval. Results from both sides are fused with Reciprocal Rank Fusion
// (RRF) and normalized to a 0..1 score.
package search

import (
	"sort"

	"github.com/recallkit/recall/internal/store"
)

// DefaultRRFConstant is the standard RRF smoothing parameter k.
const DefaultRRFConstant = 60

// Weights splits the fused score between the two retrieval sides.
// Lexical + Semantic should sum to 1.0.
type Weights struct {
	Lexical  float64
	Semantic float64
}

// DefaultWeights favors exact term matches slightly over embedding
// similarity, which suits short factual memory queries.
var DefaultWeights = Weights{Lexical: 0.6, Semantic: 0.4}

// fusedHit is a candidate chunk after RRF fusion, before snippet rendering.
type fusedHit struct {
	chunkID  string
	record   *store.Record
	score    float64 // normalized 0..1 after fusion
	lexScore float64
	vecScore float64
	lexRank  int // 1-indexed, 0 if absent from the lexical list
	vecRank  int // 1-indexed, 0 if absent from the vector list
	inBoth   bool
}

// fuse combines lexical and vector hit lists using weighted RRF:
//
//	score(d) = w_lex/(k + rank_lex) + w_sem/(k + rank_sem)
//
// A chunk missing from one list contributes that side at rank
// max(len(lex), len(vec)) + 1. The returned slice is sorted and
// max-normalized so the top hit scores 1.0.
func fuse(lex, vec []*store.Hit, weights Weights, k int) []*fusedHit {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	if len(lex) == 0 && len(vec) == 0 {
		return nil
	}

	byID := make(map[string]*fusedHit, len(lex)+len(vec))
	get := func(id string) *fusedHit {
		if h, ok := byID[id]; ok {
			return h
		}
		h := &fusedHit{chunkID: id}
		byID[id] = h
		return h
	}

	for rank, hit := range lex {
		h := get(hit.ChunkID)
		h.lexScore = hit.Score
		h.lexRank = rank + 1
		h.record = hit.Record
		h.score += weights.Lexical / float64(k+rank+1)
	}
	for rank, hit := range vec {
		h := get(hit.ChunkID)
		h.vecScore = hit.Score
		h.vecRank = rank + 1
		if h.record == nil {
			h.record = hit.Record
		}
		h.score += weights.Semantic / float64(k+rank+1)
		h.inBoth = h.lexRank > 0
	}

	missingRank := len(lex) + 1
	if len(vec) >= len(lex) {
		missingRank = len(vec) + 1
	}
	for _, h := range byID {
		if h.lexRank == 0 {
			h.score += weights.Lexical / float64(k+missingRank)
		}
		if h.vecRank == 0 {
			h.score += weights.Semantic / float64(k+missingRank)
		}
	}

	hits := make([]*fusedHit, 0, len(byID))
	for _, h := range byID {
		hits = append(hits, h)
	}
	sort.Slice(hits, func(i, j int) bool { return lessFused(hits[i], hits[j]) })

	if max := hits[0].score; max > 0 {
		for _, h := range hits {
			h.score /= max
		}
	}
	return hits
}

// lessFused orders candidates deterministically: fused score, presence in
// both lists, newest source modification time, ascending path, chunk ID.
func lessFused(a, b *fusedHit) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	if a.inBoth != b.inBoth {
		return a.inBoth
	}
	if a.record != nil && b.record != nil {
		if !a.record.ModTime.Equal(b.record.ModTime) {
			return a.record.ModTime.After(b.record.ModTime)
		}
		if a.record.SourcePath != b.record.SourcePath {
			return a.record.SourcePath < b.record.SourcePath
		}
	}
	return a.chunkID < b.chunkID
}
