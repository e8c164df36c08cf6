package ranking

import (
	"math"
	"regexp"
	"strings"

	"github.com/hyperjump/soudan/internal/models"
)

var headerPattern = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)

// ContentScorer scores how well a passage answers a query, in [0,1].
type ContentScorer struct {
	config *RankingConfig
}

// NewContentScorer creates a new ContentScorer.
func NewContentScorer(config *RankingConfig) *ContentScorer {
	if config == nil {
		config = DefaultRankingConfig()
	}
	config.ApplyDefaults()
	return &ContentScorer{config: config}
}

// Score returns the relevance of parent to the analyzed query. Components that do not apply
// to the query (no phrases, no identifiers) drop out and the rest are renormalized.
func (s *ContentScorer) Score(query *AnalyzedQuery, parent *models.ParentChunk) float64 {
	if query == nil || parent == nil || parent.Content == "" || len(query.Terms) == 0 {
		return 0
	}
	content := parent.Content

	var total, weights float64
	add := func(w, v float64) {
		total += w * v
		weights += w
	}

	add(s.config.CoverageWeight, float64(CountMatchingTerms(query.Terms, content))/float64(len(query.Terms)))
	if len(query.Phrases) > 0 {
		add(s.config.PhraseWeight, scorePhrases(query.Phrases, content))
	}
	if len(query.Identifiers) > 0 {
		add(s.config.IdentifierWeight, scoreIdentifiers(query.Identifiers, content))
	}
	add(s.config.HeaderWeight, s.scoreHeaders(query.Terms, parent))

	if weights == 0 {
		return 0
	}
	score := total / weights
	if score > 0 && s.config.PositionBoostEnabled {
		score *= s.positionMultiplier(query, content)
	}
	return math.Min(score, 1)
}

// MatchType classifies the strongest kind of match between query and content.
func (s *ContentScorer) MatchType(query *AnalyzedQuery, content string) MatchType {
	if query == nil {
		return MatchTypeNone
	}
	if len(query.Identifiers) > 0 && scoreIdentifiers(query.Identifiers, content) == 1 {
		return MatchTypeIdentifier
	}
	if len(query.Phrases) > 0 && scorePhrases(query.Phrases, content) == 1 {
		return MatchTypePhrase
	}
	n := CountMatchingTerms(query.Terms, content)
	switch {
	case n == 0:
		return MatchTypeNone
	case n == len(query.Terms):
		return MatchTypeAllWords
	default:
		return MatchTypePartial
	}
}

func scorePhrases(phrases []string, content string) float64 {
	lower := strings.ToLower(content)
	found := 0
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			found++
		}
	}
	return float64(found) / float64(len(phrases))
}

func scoreIdentifiers(ids []string, content string) float64 {
	norm := normalizeIdentifier(content)
	found := 0
	for _, id := range ids {
		if strings.Contains(norm, normalizeIdentifier(id)) {
			found++
		}
	}
	return float64(found) / float64(len(ids))
}

// scoreHeaders measures term coverage over the section path, document title and inline headings.
func (s *ContentScorer) scoreHeaders(terms []string, parent *models.ParentChunk) float64 {
	var b strings.Builder
	b.WriteString(parent.DocumentTitle)
	b.WriteByte('\n')
	b.WriteString(parent.SectionPath)
	for _, h := range DetectHeaders(parent.Content) {
		b.WriteByte('\n')
		b.WriteString(h.Text)
	}
	return float64(CountMatchingTerms(terms, b.String())) / float64(len(terms))
}

func (s *ContentScorer) positionMultiplier(query *AnalyzedQuery, content string) float64 {
	lower := strings.ToLower(content)
	first := -1
	for _, t := range query.Terms {
		if pos := strings.Index(lower, t); pos >= 0 && (first < 0 || pos < first) {
			first = pos
		}
	}
	if first < 0 {
		return 1
	}
	if float64(first)/float64(len(lower)) <= s.config.PositionBoostThreshold {
		return s.config.PositionBoostMultiplier
	}
	return 1
}

// DetectHeaders extracts markdown headings from content.
func DetectHeaders(content string) []HeaderMatch {
	var headers []HeaderMatch
	for _, m := range headerPattern.FindAllStringSubmatch(content, -1) {
		headers = append(headers, HeaderMatch{
			Level: len(m[1]),
			Text:  strings.TrimSpace(m[2]),
		})
	}
	return headers
}
