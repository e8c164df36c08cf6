// Package search provides hybrid search (lexical + semantic) with reciprocal rank fusion.
package search

import (
	"sort"

	"github.com/hyperjump/soudan/internal/keyword"
	"github.com/hyperjump/soudan/internal/models"
	"github.com/hyperjump/soudan/internal/vector"
)

// DefaultRRFK is the rank offset of reciprocal rank fusion.
const DefaultRRFK = 60

// FusedResult is one sub-chunk after fusion. Ranks are 1-based; 0 means the list did not
// contain the sub-chunk.
type FusedResult struct {
	SubChunkID    string
	ParentID      string
	Score         float64
	SemanticScore float64
	SemanticRank  int
	LexicalScore  float64
	LexicalRank   int
}

// Fuse merges the semantic and lexical rankings with weighted reciprocal rank fusion:
// score = Σ weight / (k + rank) over the lists containing the sub-chunk. Both inputs must be
// ordered best first. Results are ordered by fused score, ties broken by sub-chunk id.
func Fuse(semantic []*vector.VectorResult, lexical []*keyword.KeywordResult, w models.FusionWeights, k float64) []*FusedResult {
	if k <= 0 {
		k = DefaultRRFK
	}
	byID := make(map[string]*FusedResult, len(semantic)+len(lexical))
	get := func(id, parent string) *FusedResult {
		r, ok := byID[id]
		if !ok {
			r = &FusedResult{SubChunkID: id, ParentID: parent}
			byID[id] = r
		}
		return r
	}
	for i, s := range semantic {
		r := get(s.ID, s.ParentID)
		if r.SemanticRank != 0 {
			continue
		}
		r.SemanticRank = i + 1
		r.SemanticScore = s.Score
		r.Score += w.Semantic / (k + float64(i+1))
	}
	for i, l := range lexical {
		r := get(l.ID, l.ParentID)
		if r.LexicalRank != 0 {
			continue
		}
		r.LexicalRank = i + 1
		r.LexicalScore = l.Score
		r.Score += w.Lexical / (k + float64(i+1))
	}

	out := make([]*FusedResult, 0, len(byID))
	for _, r := range byID {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].SubChunkID < out[j].SubChunkID
	})
	return out
}

// ParentRanking returns the distinct parent ids of a ranked list in first-seen order.
func ParentRanking[T any](results []T, parentOf func(T) string) []string {
	seen := make(map[string]bool, len(results))
	out := make([]string, 0, len(results))
	for _, r := range results {
		p := parentOf(r)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// matchesFilters reports whether every filter key equals the parent's metadata value.
func matchesFilters(p *models.ParentChunk, filters map[string]string) bool {
	for k, v := range filters {
		if p.Metadata[k] != v {
			return false
		}
	}
	return true
}
