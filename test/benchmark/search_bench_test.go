package benchmark

import (
	"context"
	"fmt"
	"testing"

	"github.com/hyperjump/soudan/internal/confidence"
	"github.com/hyperjump/soudan/internal/embedding"
	"github.com/hyperjump/soudan/internal/keyword"
	"github.com/hyperjump/soudan/internal/models"
	"github.com/hyperjump/soudan/internal/search"
	"github.com/hyperjump/soudan/internal/vector"
)

func BenchmarkFuse(b *testing.B) {
	sem := make([]*vector.VectorResult, 30)
	lex := make([]*keyword.KeywordResult, 30)
	for i := range sem {
		sem[i] = &vector.VectorResult{ID: fmt.Sprintf("s%d", i), ParentID: fmt.Sprintf("p%d", i%10), Score: 1 - float64(i)/30}
		lex[i] = &keyword.KeywordResult{ID: fmt.Sprintf("s%d", 29-i), ParentID: fmt.Sprintf("p%d", (29-i)%10), Score: float64(30 - i)}
	}
	w := models.FusionWeights{Semantic: 0.5, Lexical: 0.5}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = search.Fuse(sem, lex, w, search.DefaultRRFK)
	}
}

func BenchmarkMemoryIndexSearch(b *testing.B) {
	idx, _ := vector.NewMemoryIndex(384)
	ctx := context.Background()
	entries := make([]vector.Entry, 1000)
	for i := range entries {
		v := make([]float32, 384)
		v[0] = float32(i) / 1000
		v[1+i%383] = 1
		entries[i] = vector.Entry{ID: fmt.Sprintf("sub-%d", i), ParentID: fmt.Sprintf("parent-%d", i/4), Vector: v}
	}
	_ = idx.Upsert(ctx, entries)
	query := make([]float32, 384)
	query[0] = 1.0
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = idx.Search(ctx, query, 30)
	}
}

func BenchmarkMockEmbedder_Embed(b *testing.B) {
	e := embedding.NewMockEmbedder(384)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = e.Embed(ctx, "return line filter for a servo circuit")
	}
}

func BenchmarkAssess(b *testing.B) {
	ranked := make([]confidence.Candidate, 10)
	ids := make([]string, 10)
	for i := range ranked {
		ranked[i] = confidence.Candidate{
			ID:     fmt.Sprintf("p%d", i),
			Source: fmt.Sprintf("doc%d", i%4),
			Score:  0.9 - float64(i)*0.08,
			Text:   "beta ratio multi-pass test element collapse pressure",
		}
		ids[i] = ranked[i].ID
	}
	th := confidence.DefaultThresholds()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = confidence.Assess(ranked, ids, ids[2:], th)
	}
}
