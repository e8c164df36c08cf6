package ranking

import (
	"regexp"
	"strings"

	"github.com/hyperjump/soudan/internal/keyword"
	"github.com/hyperjump/soudan/internal/models"
)

// identifierPattern matches standards, ratings and catalog references. Case-insensitive.
var identifierPattern = regexp.MustCompile(`(?i)(ISO\s*\d{3,5}|NAS\s*\d{3,4}|SAE\s*AS?\s*\d{3,4}|ASTM\s*D\s*\d{3,4}|β[_\s]*\d|beta\s*ratio|[µμ]m\s*\(c\)|\bmicron|\bpart\s*#|\bmodel\s*#|\bP/N\s*\d|\bcat(alog)?\s*#)`)

// productCodePattern matches product codes like "HF-2040" or "HPX 12000". Upper case only so
// ordinary words followed by a year do not trigger it.
var productCodePattern = regexp.MustCompile(`\b[A-Z]{2,4}[-\s]?\d{4,}\b`)

var phrasePattern = regexp.MustCompile(`"([^"]+)"`)

// QueryAnalyzer analyzes search queries to extract terms, phrases and identifiers.
type QueryAnalyzer struct {
	config *RankingConfig
}

// NewQueryAnalyzer creates a new QueryAnalyzer. A nil config uses defaults.
func NewQueryAnalyzer(config *RankingConfig) *QueryAnalyzer {
	if config == nil {
		config = DefaultRankingConfig()
	}
	config.ApplyDefaults()
	return &QueryAnalyzer{config: config}
}

// Analyze parses a query string and returns an AnalyzedQuery.
func (qa *QueryAnalyzer) Analyze(query string) *AnalyzedQuery {
	result := &AnalyzedQuery{
		Original:    query,
		Terms:       []string{},
		Phrases:     []string{},
		Identifiers: []string{},
	}

	for _, m := range phrasePattern.FindAllStringSubmatch(query, -1) {
		if phrase := strings.ToLower(strings.TrimSpace(m[1])); phrase != "" {
			result.Phrases = append(result.Phrases, phrase)
		}
	}

	seen := make(map[string]bool)
	for _, tok := range keyword.Tokenize(query) {
		if !seen[tok] {
			seen[tok] = true
			result.Terms = append(result.Terms, tok)
		}
	}

	for _, id := range identifierPattern.FindAllString(query, -1) {
		result.Identifiers = append(result.Identifiers, strings.TrimSpace(id))
	}
	for _, id := range productCodePattern.FindAllString(query, -1) {
		result.Identifiers = append(result.Identifiers, strings.TrimSpace(id))
	}

	result.QueryType = classifyQuery(result)
	return result
}

func classifyQuery(result *AnalyzedQuery) QueryType {
	switch {
	case len(result.Identifiers) > 0:
		return QueryTypeIdentifier
	case len(result.Phrases) > 0:
		return QueryTypePhrase
	case len(strings.Fields(result.Original)) <= 1:
		return QueryTypeSingleWord
	default:
		return QueryTypeMultiWord
	}
}

// Weights returns the fusion weights for one query. An explicit override on q wins, then
// the identifier weights when the query is an identifier lookup, then the defaults.
func (qa *QueryAnalyzer) Weights(analyzed *AnalyzedQuery, q *models.SearchQuery) models.FusionWeights {
	if q != nil && q.HasWeightOverride() {
		return models.FusionWeights{Semantic: q.SemanticWeight, Lexical: q.LexicalWeight}
	}
	if analyzed.IsIdentifierLookup() {
		return models.FusionWeights{
			Semantic: qa.config.IdentifierSemanticWeight,
			Lexical:  qa.config.IdentifierLexicalWeight,
		}
	}
	return models.FusionWeights{Semantic: qa.config.SemanticWeight, Lexical: qa.config.LexicalWeight}
}

// CountMatchingTerms counts how many terms occur in the tokenized text.
func CountMatchingTerms(terms []string, text string) int {
	if len(terms) == 0 {
		return 0
	}
	tokens := make(map[string]bool)
	for _, tok := range keyword.Tokenize(text) {
		tokens[tok] = true
	}
	count := 0
	for _, term := range terms {
		if tokens[term] {
			count++
		}
	}
	return count
}

// normalizeIdentifier strips spaces, hyphens and case so "ISO 16889" matches "iso-16889".
func normalizeIdentifier(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch r {
		case ' ', '\t', '\n', '-', '_':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
