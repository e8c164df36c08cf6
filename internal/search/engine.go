package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hyperjump/soudan/internal/config"
	"github.com/hyperjump/soudan/internal/embedding"
	"github.com/hyperjump/soudan/internal/keyword"
	"github.com/hyperjump/soudan/internal/models"
	"github.com/hyperjump/soudan/internal/ranking"
	"github.com/hyperjump/soudan/internal/storage"
	"github.com/hyperjump/soudan/internal/vector"
	"go.uber.org/zap"
)

// ErrIndexCorrupt means an index refers to a chunk the store does not have.
var ErrIndexCorrupt = errors.New("index corrupt")

// Engine runs hybrid (lexical + semantic) search over sub-chunks and returns parents.
type Engine struct {
	storage      storage.Storage
	embedder     embedding.Embedder
	vectorIndex  vector.VectorIndex
	lexicalIndex keyword.LexicalIndex
	ranker       *ranking.Ranker
	config       *config.SearchConfig
	logger       *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// NewEngine creates a search engine with the given dependencies. A nil ranker uses the
// lexical relevance reranker with the ranking settings from cfg.
func NewEngine(
	storage storage.Storage,
	embedder embedding.Embedder,
	vectorIndex vector.VectorIndex,
	lexicalIndex keyword.LexicalIndex,
	ranker *ranking.Ranker,
	cfg *config.SearchConfig,
	opts ...Option,
) *Engine {
	if cfg == nil {
		cfg = &config.SearchConfig{}
	}
	if ranker == nil {
		ranker = ranking.NewRanker(&cfg.RankingConfig)
	}
	e := &Engine{
		storage:      storage,
		embedder:     embedder,
		vectorIndex:  vectorIndex,
		lexicalIndex: lexicalIndex,
		ranker:       ranker,
		config:       cfg,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ProcessQuery validates the query and applies the configured top_k bounds.
func (e *Engine) ProcessQuery(query *models.SearchQuery) error {
	if query.TopK <= 0 && e.config.DefaultTopK > 0 {
		query.TopK = e.config.DefaultTopK
	}
	if err := query.Validate(); err != nil {
		return err
	}
	if e.config.MaxTopK > 0 && query.TopK > e.config.MaxTopK {
		query.TopK = e.config.MaxTopK
	}
	return nil
}

// Search runs both retrievers in parallel, fuses their rankings, resolves sub-chunks to
// parents, filters, reranks and truncates. If one retriever fails the other one's ranking is
// used alone; if both fail the error is returned. A blank query yields an empty response.
func (e *Engine) Search(ctx context.Context, query *models.SearchQuery) (*models.SearchResponse, error) {
	startTime := time.Now()
	if strings.TrimSpace(query.Query) == "" {
		return &models.SearchResponse{
			Results:         []*models.SearchResult{},
			SemanticRanking: []string{},
			LexicalRanking:  []string{},
			Query:           query.Query,
		}, nil
	}
	if err := e.ProcessQuery(query); err != nil {
		return nil, err
	}

	analyzed := e.ranker.AnalyzeQuery(query.Query)
	weights := e.ranker.Weights(analyzed, query)
	candidates := max(e.config.Candidates, 2*query.TopK)

	var (
		lexicalResults  []*keyword.KeywordResult
		semanticResults []*vector.VectorResult
		lexicalErr      error
		semanticErr     error
		wg              sync.WaitGroup
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		results, err := e.lexicalIndex.Search(ctx, query.Query, candidates)
		if err != nil {
			lexicalErr = fmt.Errorf("lexical search failed: %w", err)
			return
		}
		lexicalResults = results
	}()
	go func() {
		defer wg.Done()
		queryEmbedding, err := e.embedder.Embed(ctx, query.Query)
		if err != nil {
			semanticErr = fmt.Errorf("embedding failed: %w", err)
			return
		}
		results, err := e.vectorIndex.Search(ctx, queryEmbedding, candidates)
		if err != nil {
			semanticErr = fmt.Errorf("vector search failed: %w", err)
			return
		}
		semanticResults = e.semanticFloor(results)
	}()
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch {
	case lexicalErr != nil && semanticErr != nil:
		return nil, errors.Join(semanticErr, lexicalErr)
	case lexicalErr != nil:
		e.warn("lexical retrieval failed, using semantic ranking only", lexicalErr)
	case semanticErr != nil:
		e.warn("semantic retrieval failed, using lexical ranking only", semanticErr)
	}

	fused := Fuse(semanticResults, lexicalResults, weights, e.config.RRFK)
	results, err := e.resolveParents(ctx, fused, query.Filters)
	if err != nil {
		return nil, err
	}
	results, err = e.ranker.Rank(ctx, analyzed, results, query.TopK)
	if err != nil {
		return nil, fmt.Errorf("failed to rank results: %w", err)
	}

	return &models.SearchResponse{
		Results:         results,
		SemanticRanking: ParentRanking(semanticResults, func(r *vector.VectorResult) string { return r.ParentID }),
		LexicalRanking:  ParentRanking(lexicalResults, func(r *keyword.KeywordResult) string { return r.ParentID }),
		Weights:         weights,
		IdentifierQuery: analyzed.IsIdentifierLookup(),
		QueryTime:       time.Since(startTime).Milliseconds(),
		Query:           query.Query,
	}, nil
}

// semanticFloor drops hits at or below the configured minimum similarity.
func (e *Engine) semanticFloor(results []*vector.VectorResult) []*vector.VectorResult {
	out := results[:0]
	for _, r := range results {
		if r.Score > e.config.MinSemanticScore {
			out = append(out, r)
		}
	}
	return out
}

// resolveParents keeps the best-fused sub-chunk per parent, in fused order, and applies the
// metadata filters. A sub-chunk whose parent is missing from the store is ErrIndexCorrupt.
func (e *Engine) resolveParents(ctx context.Context, fused []*FusedResult, filters map[string]string) ([]*models.SearchResult, error) {
	if len(fused) == 0 {
		return []*models.SearchResult{}, nil
	}
	ids := ParentRanking(fused, func(r *FusedResult) string { return r.ParentID })
	parents, err := e.storage.GetParents(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load parents: %w", err)
	}

	seen := make(map[string]bool, len(ids))
	results := make([]*models.SearchResult, 0, len(ids))
	for _, f := range fused {
		parent, ok := parents[f.ParentID]
		if !ok {
			err := fmt.Errorf("sub-chunk %s refers to missing parent %q: %w", f.SubChunkID, f.ParentID, ErrIndexCorrupt)
			if e.logger != nil {
				e.logger.Error("index refers to missing parent", zap.String("sub_chunk", f.SubChunkID), zap.String("parent", f.ParentID))
			}
			return nil, err
		}
		if seen[f.ParentID] {
			continue
		}
		seen[f.ParentID] = true
		if !matchesFilters(parent, filters) {
			continue
		}
		results = append(results, &models.SearchResult{
			Parent:        parent,
			SubChunkID:    f.SubChunkID,
			FusedScore:    f.Score,
			SemanticScore: max(0, f.SemanticScore),
			LexicalScore:  f.LexicalScore,
			SemanticRank:  f.SemanticRank,
			LexicalRank:   f.LexicalRank,
		})
	}
	return results, nil
}

// Warmup runs one search and discards it, loading models and caches.
func (e *Engine) Warmup(ctx context.Context, query string) error {
	if query == "" {
		return nil
	}
	_, err := e.Search(ctx, &models.SearchQuery{Query: query, TopK: 1})
	return err
}

func (e *Engine) warn(msg string, err error) {
	if e.logger != nil {
		e.logger.Warn(msg, zap.Error(err))
	}
}
