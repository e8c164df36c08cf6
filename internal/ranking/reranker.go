package ranking

import (
	"context"
	"fmt"

	"github.com/hyperjump/soudan/internal/models"
)

// Reranker assigns RerankScore to every result. Implementations must not reorder the slice.
type Reranker interface {
	Rerank(ctx context.Context, query *AnalyzedQuery, results []*models.SearchResult) error
	Name() string
}

// PassthroughReranker keeps the fused order.
type PassthroughReranker struct{}

func (PassthroughReranker) Name() string { return RerankNone }

func (PassthroughReranker) Rerank(_ context.Context, _ *AnalyzedQuery, results []*models.SearchResult) error {
	for _, r := range results {
		r.RerankScore = r.FusedScore
	}
	return nil
}

// LexicalReranker scores each parent with the ContentScorer.
type LexicalReranker struct {
	scorer *ContentScorer
}

// NewLexicalReranker creates a LexicalReranker.
func NewLexicalReranker(config *RankingConfig) *LexicalReranker {
	return &LexicalReranker{scorer: NewContentScorer(config)}
}

func (r *LexicalReranker) Name() string { return RerankLexical }

func (r *LexicalReranker) Rerank(ctx context.Context, query *AnalyzedQuery, results []*models.SearchResult) error {
	for _, res := range results {
		if err := ctx.Err(); err != nil {
			return err
		}
		res.RerankScore = r.scorer.Score(query, res.Parent)
	}
	return nil
}

// NewReranker builds the reranker for mode. modelPath is only used by the cross-encoder.
func NewReranker(config *RankingConfig, modelPath string) (Reranker, error) {
	if config == nil {
		config = DefaultRankingConfig()
	}
	config.ApplyDefaults()
	switch config.RerankMode {
	case RerankNone:
		return PassthroughReranker{}, nil
	case RerankLexical:
		return NewLexicalReranker(config), nil
	case RerankCrossEncoder:
		ce, err := NewCrossEncoder(CrossEncoderConfig{ModelPath: modelPath})
		if err != nil {
			return nil, fmt.Errorf("failed to create cross-encoder: %w", err)
		}
		return ce, nil
	default:
		return nil, fmt.Errorf("unknown rerank mode: %s", config.RerankMode)
	}
}
