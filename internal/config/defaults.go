package config

import (
	"time"

	"github.com/hyperjump/soudan/internal/extract"
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 60 * time.Second
	}

	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/soudan/data/db/soudan.db"
	}
	if cfg.Storage.BleveIndexPath == "" {
		cfg.Storage.BleveIndexPath = "/usr/local/var/soudan/data/indices/bleve"
	}
	if cfg.Storage.VectorIndexPath == "" {
		cfg.Storage.VectorIndexPath = "/usr/local/var/soudan/data/indices/vectors.bin"
	}
	if cfg.Storage.SessionBackend == "" {
		cfg.Storage.SessionBackend = SessionBackendSQLite
	}
	if cfg.Storage.BoltPath == "" {
		cfg.Storage.BoltPath = "/usr/local/var/soudan/data/db/sessions.bolt"
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = EmbeddingONNX
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "/usr/local/var/soudan/data/models/all-MiniLM-L6-v2.onnx"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.APIKeyEnv == "" {
		cfg.Embedding.APIKeyEnv = "OPENAI_API_KEY"
	}

	if cfg.Chunking.ParentSize == 0 {
		cfg.Chunking.ParentSize = 2000
	}
	if cfg.Chunking.ParentOverlap == 0 {
		cfg.Chunking.ParentOverlap = 200
	}
	if cfg.Chunking.MaxParentSize == 0 {
		cfg.Chunking.MaxParentSize = 4000
	}
	if cfg.Chunking.ChildSize == 0 {
		cfg.Chunking.ChildSize = 400
	}
	if cfg.Chunking.ChildOverlap == 0 {
		cfg.Chunking.ChildOverlap = 50
	}

	if cfg.Search.DefaultTopK == 0 {
		cfg.Search.DefaultTopK = 10
	}
	if cfg.Search.MaxTopK == 0 {
		cfg.Search.MaxTopK = 100
	}
	if cfg.Search.Candidates == 0 {
		cfg.Search.Candidates = 30
	}
	if cfg.Search.RRFK == 0 {
		cfg.Search.RRFK = 60
	}
	if cfg.Search.LexicalBackend == "" {
		cfg.Search.LexicalBackend = "bleve"
	}
	cfg.Search.RankingConfig.ApplyDefaults()

	if cfg.Confidence.RelevanceThreshold == 0 {
		cfg.Confidence.RelevanceThreshold = 0.40
	}
	if cfg.Confidence.HighMinMatches == 0 {
		cfg.Confidence.HighMinMatches = 3
	}
	if cfg.Confidence.AgreementCutoff == 0 {
		cfg.Confidence.AgreementCutoff = 0.4
	}

	if cfg.Consultation.MaxGatheringTurns == 0 {
		cfg.Consultation.MaxGatheringTurns = 10
	}
	if cfg.Consultation.NudgeAfter == 0 {
		cfg.Consultation.NudgeAfter = 6
	}
	if cfg.Consultation.GatheringMaxTokens == 0 {
		cfg.Consultation.GatheringMaxTokens = 1024
	}
	if cfg.Consultation.AnsweringMaxTokens == 0 {
		cfg.Consultation.AnsweringMaxTokens = 4096
	}
	if cfg.Consultation.TopK == 0 {
		cfg.Consultation.TopK = 10
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = LLMAnthropic
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "claude-sonnet-4-5"
	}
	if cfg.LLM.APIKeyEnv == "" {
		if cfg.LLM.Provider == LLMOpenAI {
			cfg.LLM.APIKeyEnv = "OPENAI_API_KEY"
		} else {
			cfg.LLM.APIKeyEnv = "ANTHROPIC_API_KEY"
		}
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 120 * time.Second
	}
	if cfg.LLM.MaxAttempts == 0 {
		cfg.LLM.MaxAttempts = 3
	}

	if cfg.Domains.Directory == "" {
		cfg.Domains.Directory = "/usr/local/var/soudan/domains"
	}
	if cfg.Domains.Default == "" {
		cfg.Domains.Default = "filtration"
	}

	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = extract.Extensions()
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 2 * time.Second
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
