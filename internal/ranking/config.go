package ranking

// Rerank modes.
const (
	RerankCrossEncoder = "cross_encoder"
	RerankLexical      = "lexical"
	RerankNone         = "none"
)

// RankingConfig holds fusion weights and reranking settings.
type RankingConfig struct {
	// Default fusion weights
	SemanticWeight float64 `yaml:"semantic_weight"` // default: 0.60
	LexicalWeight  float64 `yaml:"lexical_weight"`  // default: 0.40

	// Weights used when the query is an identifier lookup
	IdentifierSemanticWeight float64 `yaml:"identifier_semantic_weight"` // default: 0.25
	IdentifierLexicalWeight  float64 `yaml:"identifier_lexical_weight"`  // default: 0.75

	RerankMode       string `yaml:"rerank_mode"`       // default: lexical
	RerankCandidates int    `yaml:"rerank_candidates"` // default: 20

	// Relevance reranker components, each in [0,1]; the score is their weighted sum
	CoverageWeight   float64 `yaml:"coverage_weight"`   // default: 0.55
	PhraseWeight     float64 `yaml:"phrase_weight"`     // default: 0.15
	IdentifierWeight float64 `yaml:"identifier_weight"` // default: 0.20
	HeaderWeight     float64 `yaml:"header_weight"`     // default: 0.10

	// Position boost for matches in the first part of a passage
	PositionBoostEnabled    bool    `yaml:"position_boost_enabled"`    // default: true
	PositionBoostThreshold  float64 `yaml:"position_boost_threshold"`  // default: 0.1 (first 10%)
	PositionBoostMultiplier float64 `yaml:"position_boost_multiplier"` // default: 1.1
}

// DefaultRankingConfig returns a RankingConfig with default values.
func DefaultRankingConfig() *RankingConfig {
	return &RankingConfig{
		SemanticWeight:           0.60,
		LexicalWeight:            0.40,
		IdentifierSemanticWeight: 0.25,
		IdentifierLexicalWeight:  0.75,
		RerankMode:               RerankLexical,
		RerankCandidates:         20,
		CoverageWeight:           0.55,
		PhraseWeight:             0.15,
		IdentifierWeight:         0.20,
		HeaderWeight:             0.10,
		PositionBoostEnabled:     true,
		PositionBoostThreshold:   0.1,
		PositionBoostMultiplier:  1.1,
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *RankingConfig) ApplyDefaults() {
	d := DefaultRankingConfig()
	if c.SemanticWeight == 0 && c.LexicalWeight == 0 {
		c.SemanticWeight = d.SemanticWeight
		c.LexicalWeight = d.LexicalWeight
	}
	if c.IdentifierSemanticWeight == 0 && c.IdentifierLexicalWeight == 0 {
		c.IdentifierSemanticWeight = d.IdentifierSemanticWeight
		c.IdentifierLexicalWeight = d.IdentifierLexicalWeight
	}
	if c.RerankMode == "" {
		c.RerankMode = d.RerankMode
	}
	if c.RerankCandidates <= 0 {
		c.RerankCandidates = d.RerankCandidates
	}
	if c.CoverageWeight == 0 && c.PhraseWeight == 0 && c.IdentifierWeight == 0 && c.HeaderWeight == 0 {
		c.CoverageWeight = d.CoverageWeight
		c.PhraseWeight = d.PhraseWeight
		c.IdentifierWeight = d.IdentifierWeight
		c.HeaderWeight = d.HeaderWeight
	}
	if c.PositionBoostThreshold == 0 {
		c.PositionBoostThreshold = d.PositionBoostThreshold
	}
	if c.PositionBoostMultiplier == 0 {
		c.PositionBoostMultiplier = d.PositionBoostMultiplier
	}
}

// CrossEncoderConfig configures the ONNX cross-encoder reranker.
type CrossEncoderConfig struct {
	ModelPath  string
	MaxTokens  int    // default: 512
	OutputName string // default: logits
}

func (c CrossEncoderConfig) withDefaults() CrossEncoderConfig {
	if c.MaxTokens <= 0 {
		c.MaxTokens = 512
	}
	if c.OutputName == "" {
		c.OutputName = "logits"
	}
	return c
}
