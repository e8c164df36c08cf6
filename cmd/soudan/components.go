package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/soudan/internal/config"
	"github.com/hyperjump/soudan/internal/consultation"
	"github.com/hyperjump/soudan/internal/domain"
	"github.com/hyperjump/soudan/internal/embedding"
	"github.com/hyperjump/soudan/internal/extract"
	"github.com/hyperjump/soudan/internal/indexer"
	"github.com/hyperjump/soudan/internal/keyword"
	"github.com/hyperjump/soudan/internal/llm"
	"github.com/hyperjump/soudan/internal/ranking"
	"github.com/hyperjump/soudan/internal/search"
	"github.com/hyperjump/soudan/internal/storage"
	"github.com/hyperjump/soudan/internal/vector"
)

// Components holds initialized services.
type Components struct {
	Storage      *storage.SQLiteStorage
	Sessions     storage.SessionStore
	Embedder     embedding.Embedder
	VectorIndex  *vector.MemoryIndex
	LexicalIndex keyword.LexicalIndex
	Ranker       *ranking.Ranker
	Engine       *search.Engine
	Indexer      *indexer.Indexer
	Domains      *domain.Registry
	Consultant   *consultation.Consultant
}

// Close releases everything that was opened, in reverse order of dependence.
func (c *Components) Close() {
	if c.Sessions != nil && c.Sessions != storage.SessionStore(c.Storage) {
		_ = c.Sessions.Close()
	}
	if c.Ranker != nil {
		_ = c.Ranker.Close()
	}
	if c.LexicalIndex != nil {
		_ = c.LexicalIndex.Close()
	}
	if c.VectorIndex != nil {
		_ = c.VectorIndex.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

// componentSet selects the optional parts of the stack a command needs.
type componentSet struct {
	consult bool // sessions, domains, generator and consultant
	restore bool // bring the in-memory indexes in line with the store
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, set componentSet) (*Components, error) {
	c := &Components{}
	ready := false
	defer func() {
		if !ready {
			c.Close()
		}
	}()

	var err error
	if c.Storage, err = storage.NewSQLiteStorage(cfg.Storage.DatabasePath); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	if c.Embedder, err = newEmbedder(&cfg.Embedding, logger); err != nil {
		return nil, err
	}
	if c.VectorIndex, err = vector.NewMemoryIndex(cfg.Embedding.Dimensions); err != nil {
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	lexical, err := keyword.NewLexicalIndex(cfg.Search.LexicalBackend, cfg.Storage.BleveIndexPath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize lexical index: %w", err)
	}
	c.LexicalIndex = lexical
	c.Ranker = newRanker(cfg, logger)
	c.Engine = search.NewEngine(c.Storage, c.Embedder, c.VectorIndex, c.LexicalIndex, c.Ranker, &cfg.Search,
		search.WithLogger(logger))

	chunker := indexer.NewChunker(indexer.ChunkerConfig{
		ParentSize:       cfg.Chunking.ParentSize,
		ParentOverlap:    cfg.Chunking.ParentOverlap,
		MaxParentSize:    cfg.Chunking.MaxParentSize,
		ChildSize:        cfg.Chunking.ChildSize,
		ChildOverlap:     cfg.Chunking.ChildOverlap,
		AuthorityWeights: cfg.Chunking.AuthorityWeights,
	})
	c.Indexer = indexer.NewIndexer(c.Storage, c.Embedder, c.VectorIndex, c.LexicalIndex, chunker, extract.NewExtractor(),
		indexer.WithLogger(logger), indexer.WithVectorPath(cfg.Storage.VectorIndexPath))

	if set.restore {
		if err = c.Indexer.Restore(ctx); err != nil {
			return nil, fmt.Errorf("failed to restore indexes: %w", err)
		}
	}
	if !set.consult {
		ready = true
		return c, nil
	}

	if c.Domains, err = domain.Load(cfg.Domains.Directory, cfg.Domains.Default); err != nil {
		return nil, err
	}
	if c.Sessions, err = newSessionStore(cfg, c.Storage); err != nil {
		return nil, err
	}
	gen, err := llm.New(&cfg.LLM, logger)
	if err != nil {
		return nil, err
	}
	c.Consultant = consultation.NewConsultant(c.Sessions, c.Engine, gen, c.Domains,
		consultation.ConfigFrom(&cfg.Consultation, &cfg.Confidence),
		consultation.WithLogger(logger))
	ready = true
	return c, nil
}

// newEmbedder builds the configured embedder behind the LRU cache. A local model that cannot
// be loaded falls back to the deterministic mock so the rest of the stack still runs.
func newEmbedder(cfg *config.EmbeddingConfig, logger *zap.Logger) (embedding.Embedder, error) {
	var base embedding.Embedder
	switch cfg.Provider {
	case config.EmbeddingOpenAI:
		e, err := embedding.NewOpenAIEmbedder(embedding.OpenAIConfig{
			APIKey:            cfg.APIKey(),
			BaseURL:           cfg.BaseURL,
			Model:             cfg.Model,
			Dimensions:        cfg.Dimensions,
			BatchSize:         cfg.BatchSize,
			RequestsPerSecond: cfg.RequestsPerSecond,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
		base = e
	case config.EmbeddingMock:
		base = embedding.NewMockEmbedder(cfg.Dimensions)
	case config.EmbeddingONNX, "":
		e, err := embedding.NewONNXEmbedder(embedding.ONNXConfig{
			ModelPath:  cfg.ModelPath,
			Dimensions: cfg.Dimensions,
			MaxTokens:  cfg.MaxTokens,
		})
		if err != nil {
			logger.Warn("onnx embedder unavailable, using mock embeddings",
				zap.String("model_path", cfg.ModelPath), zap.Error(err))
			base = embedding.NewMockEmbedder(cfg.Dimensions)
		} else {
			base = e
		}
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	if cfg.CacheSize > 0 {
		return embedding.NewCachedEmbedder(base, cfg.CacheSize), nil
	}
	return base, nil
}

// newRanker builds the ranker for the configured rerank mode. A cross-encoder that cannot
// be loaded degrades to the lexical relevance reranker.
func newRanker(cfg *config.Config, logger *zap.Logger) *ranking.Ranker {
	rc := &cfg.Search.RankingConfig
	rr, err := ranking.NewReranker(rc, cfg.Search.RerankModelPath)
	if err != nil {
		logger.Warn("reranker unavailable, using lexical relevance",
			zap.String("mode", rc.RerankMode), zap.Error(err))
		return ranking.NewRanker(rc, ranking.WithReranker(ranking.NewLexicalReranker(rc)), ranking.WithLogger(logger))
	}
	return ranking.NewRanker(rc, ranking.WithReranker(rr), ranking.WithLogger(logger))
}

func newSessionStore(cfg *config.Config, sqlite *storage.SQLiteStorage) (storage.SessionStore, error) {
	switch cfg.Storage.SessionBackend {
	case config.SessionBackendBolt:
		s, err := storage.NewBoltSessionStore(cfg.Storage.BoltPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open session store: %w", err)
		}
		return s, nil
	case config.SessionBackendSQLite, "":
		return sqlite, nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Storage.SessionBackend)
	}
}
