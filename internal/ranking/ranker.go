package ranking

import (
	"context"
	"sort"

	"github.com/hyperjump/soudan/internal/models"
	"go.uber.org/zap"
)

// Ranker reranks fused candidates and applies source authority.
type Ranker struct {
	config   *RankingConfig
	analyzer *QueryAnalyzer
	reranker Reranker
	logger   *zap.Logger
}

// Option configures a Ranker.
type Option func(*Ranker)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Ranker) {
		r.logger = l
	}
}

// WithReranker sets the reranker. Without it the rerank mode picks passthrough or the lexical
// relevance reranker; the cross-encoder has to be passed in.
func WithReranker(rr Reranker) Option {
	return func(r *Ranker) {
		r.reranker = rr
	}
}

// NewRanker creates a new Ranker with the given configuration.
func NewRanker(config *RankingConfig, opts ...Option) *Ranker {
	if config == nil {
		config = DefaultRankingConfig()
	}
	config.ApplyDefaults()

	r := &Ranker{
		config:   config,
		analyzer: NewQueryAnalyzer(config),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.reranker == nil {
		if config.RerankMode == RerankNone {
			r.reranker = PassthroughReranker{}
		} else {
			r.reranker = NewLexicalReranker(config)
		}
	}
	return r
}

// AnalyzeQuery parses and analyzes a query string.
func (r *Ranker) AnalyzeQuery(query string) *AnalyzedQuery {
	return r.analyzer.Analyze(query)
}

// Weights returns the fusion weights for an analyzed query.
func (r *Ranker) Weights(analyzed *AnalyzedQuery, q *models.SearchQuery) models.FusionWeights {
	return r.analyzer.Weights(analyzed, q)
}

// Rank reranks candidates, which must be ordered by fused score, and returns at most topK
// results ordered by final score. Only the first max(rerank_candidates, topK) candidates are
// considered. If the reranker fails the fused order is kept.
func (r *Ranker) Rank(ctx context.Context, query *AnalyzedQuery, candidates []*models.SearchResult, topK int) ([]*models.SearchResult, error) {
	if len(candidates) == 0 {
		return []*models.SearchResult{}, nil
	}
	window := max(r.config.RerankCandidates, topK)
	if len(candidates) > window {
		candidates = candidates[:window]
	}

	if err := r.reranker.Rerank(ctx, query, candidates); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if r.logger != nil {
			r.logger.Warn("rerank failed, keeping fused order",
				zap.String("reranker", r.reranker.Name()), zap.Error(err))
		}
		_ = PassthroughReranker{}.Rerank(ctx, query, candidates)
	}

	for _, c := range candidates {
		c.Score = c.RerankScore * authority(c.Parent)
	}
	SortResults(candidates)
	if topK > 0 && len(candidates) > topK {
		candidates = candidates[:topK]
	}
	for i, c := range candidates {
		c.Rank = i + 1
	}
	return candidates, nil
}

// Close releases the reranker if it holds resources.
func (r *Ranker) Close() error {
	if c, ok := r.reranker.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

func authority(p *models.ParentChunk) float64 {
	if p == nil || p.AuthorityWeight <= 0 {
		return 1
	}
	return p.AuthorityWeight
}

// SortResults orders by final score, then fused score, then parent id.
func SortResults(results []*models.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.FusedScore != b.FusedScore {
			return a.FusedScore > b.FusedScore
		}
		return a.Parent.ID < b.Parent.ID
	})
}
