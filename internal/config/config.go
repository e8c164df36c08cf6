// Package config provides configuration loading and structs for the soudan server.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hyperjump/soudan/internal/ranking"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug        bool               `yaml:"debug"`
	Server       ServerConfig       `yaml:"server"`
	Storage      StorageConfig      `yaml:"storage"`
	Embedding    EmbeddingConfig    `yaml:"embedding"`
	Chunking     ChunkingConfig     `yaml:"chunking"`
	Search       SearchConfig       `yaml:"search"`
	Confidence   ConfidenceConfig   `yaml:"confidence"`
	Consultation ConsultationConfig `yaml:"consultation"`
	LLM          LLMConfig          `yaml:"llm"`
	Domains      DomainsConfig      `yaml:"domains"`
	Watch        WatchConfig        `yaml:"watch"`
}

// WatchConfig holds directory watch settings.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Recursive   *bool    `yaml:"recursive"`
	// Debounce is how long the watcher waits for writes to settle before an ingestion run.
	Debounce time.Duration `yaml:"debounce"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// RequestTimeout applies to the non-streaming routes only.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Session store backends.
const (
	SessionBackendSQLite = "sqlite"
	SessionBackendBolt   = "bolt"
)

// StorageConfig holds paths for the database and indices.
type StorageConfig struct {
	DatabasePath    string `yaml:"database_path"`
	BleveIndexPath  string `yaml:"bleve_index_path"`
	VectorIndexPath string `yaml:"vector_index_path"`
	SessionBackend  string `yaml:"session_backend"`
	BoltPath        string `yaml:"bolt_path"`
}

// Embedding providers.
const (
	EmbeddingONNX   = "onnx"
	EmbeddingOpenAI = "openai"
	EmbeddingMock   = "mock"
)

// EmbeddingConfig holds embedder settings.
type EmbeddingConfig struct {
	Provider          string  `yaml:"provider"`
	ModelPath         string  `yaml:"model_path"`
	Model             string  `yaml:"model"`
	Dimensions        int     `yaml:"dimensions"`
	MaxTokens         int     `yaml:"max_tokens"`
	CacheSize         int     `yaml:"cache_size"`
	BaseURL           string  `yaml:"base_url"`
	APIKeyEnv         string  `yaml:"api_key_env"`
	BatchSize         int     `yaml:"batch_size"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// APIKey returns the key from the configured environment variable.
func (e *EmbeddingConfig) APIKey() string {
	return os.Getenv(e.APIKeyEnv)
}

// ChunkingConfig holds parent/sub-chunk sizes in characters.
type ChunkingConfig struct {
	ParentSize    int `yaml:"parent_size"`
	ParentOverlap int `yaml:"parent_overlap"`
	MaxParentSize int `yaml:"max_parent_size"`
	ChildSize     int `yaml:"child_size"`
	ChildOverlap  int `yaml:"child_overlap"`
	// AuthorityWeights maps a document's "collection" metadata value to a ranking multiplier.
	AuthorityWeights map[string]float64 `yaml:"authority_weights"`
}

// SearchConfig holds retrieval and fusion settings.
type SearchConfig struct {
	DefaultTopK      int     `yaml:"default_top_k"`
	MaxTopK          int     `yaml:"max_top_k"`
	Candidates       int     `yaml:"candidates"`
	RRFK             float64 `yaml:"rrf_k"`
	MinSemanticScore float64 `yaml:"min_semantic_score"`
	LexicalBackend   string  `yaml:"lexical_backend"`
	RerankModelPath  string  `yaml:"rerank_model_path"`

	ranking.RankingConfig `yaml:",inline"`
}

// ConfidenceConfig holds the confidence label thresholds.
type ConfidenceConfig struct {
	RelevanceThreshold float64 `yaml:"relevance_threshold"`
	HighMinMatches     int     `yaml:"high_min_matches"`
	AgreementCutoff    float64 `yaml:"agreement_cutoff"`
}

// ConsultationConfig holds state machine limits.
type ConsultationConfig struct {
	MaxGatheringTurns  int `yaml:"max_gathering_turns"`
	NudgeAfter         int `yaml:"nudge_after"`
	GatheringMaxTokens int `yaml:"gathering_max_tokens"`
	AnsweringMaxTokens int `yaml:"answering_max_tokens"`
	TopK               int `yaml:"top_k"`
}

// LLM providers.
const (
	LLMAnthropic = "anthropic"
	LLMOpenAI    = "openai"
	LLMMock      = "mock"
)

// LLMConfig holds generator settings.
type LLMConfig struct {
	Provider          string        `yaml:"provider"`
	Model             string        `yaml:"model"`
	FallbackModel     string        `yaml:"fallback_model"`
	BaseURL           string        `yaml:"base_url"`
	APIKeyEnv         string        `yaml:"api_key_env"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxAttempts       int           `yaml:"max_attempts"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

// APIKey returns the key from the configured environment variable.
func (l *LLMConfig) APIKey() string {
	return os.Getenv(l.APIKeyEnv)
}

// DomainsConfig points at the per-domain YAML records.
type DomainsConfig struct {
	Directory string `yaml:"directory"`
	Default   string `yaml:"default"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// A .env file next to the config, if present, is loaded into the environment first.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	configDir := filepath.Dir(path)
	if err := LoadEnv(filepath.Join(configDir, ".env")); err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.BleveIndexPath = expandPath(cfg.Storage.BleveIndexPath, configDir)
	cfg.Storage.VectorIndexPath = expandPath(cfg.Storage.VectorIndexPath, configDir)
	cfg.Storage.BoltPath = expandPath(cfg.Storage.BoltPath, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	if cfg.Search.RerankModelPath != "" {
		cfg.Search.RerankModelPath = expandPath(cfg.Search.RerankModelPath, configDir)
	}
	cfg.Domains.Directory = expandPath(cfg.Domains.Directory, configDir)
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	return &cfg, nil
}

// LoadEnv loads variables from a dotenv file without overriding ones already set.
// A missing file is not an error.
func LoadEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// Save writes the config to path. Used for persisting watch directory add/remove.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
