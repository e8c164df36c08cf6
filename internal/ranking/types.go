// Package ranking analyzes queries, picks fusion weights and reranks fused candidates.
package ranking

// MatchType represents the type of query match found in a passage.
type MatchType int

const (
	// MatchTypeNone indicates no match was found.
	MatchTypeNone MatchType = iota
	// MatchTypePartial indicates some query terms matched.
	MatchTypePartial
	// MatchTypeAllWords indicates all query words matched but not as a phrase.
	MatchTypeAllWords
	// MatchTypePhrase indicates an exact phrase match.
	MatchTypePhrase
	// MatchTypeIdentifier indicates every identifier in the query appears verbatim.
	MatchTypeIdentifier
)

// String returns a string representation of the match type.
func (m MatchType) String() string {
	switch m {
	case MatchTypeNone:
		return "none"
	case MatchTypePartial:
		return "partial"
	case MatchTypeAllWords:
		return "all_words"
	case MatchTypePhrase:
		return "phrase"
	case MatchTypeIdentifier:
		return "identifier"
	default:
		return "unknown"
	}
}

// QueryType represents the type of search query.
type QueryType int

const (
	// QueryTypeSingleWord is a single word query.
	QueryTypeSingleWord QueryType = iota
	// QueryTypeMultiWord is a multi-word query without quotes.
	QueryTypeMultiWord
	// QueryTypePhrase is a query containing a quoted phrase.
	QueryTypePhrase
	// QueryTypeIdentifier is a lookup for a standard, part number or rating.
	QueryTypeIdentifier
)

// String returns a string representation of the query type.
func (q QueryType) String() string {
	switch q {
	case QueryTypeSingleWord:
		return "single_word"
	case QueryTypeMultiWord:
		return "multi_word"
	case QueryTypePhrase:
		return "phrase"
	case QueryTypeIdentifier:
		return "identifier"
	default:
		return "unknown"
	}
}

// AnalyzedQuery holds the parsed and analyzed form of a search query.
type AnalyzedQuery struct {
	// Original is the original query string.
	Original string
	// Terms are the lowercased lexical tokens of the query.
	Terms []string
	// Phrases are quoted phrases, lowercased.
	Phrases []string
	// Identifiers are the spans that matched the identifier lookup pattern, as written.
	Identifiers []string
	QueryType   QueryType
}

// IsIdentifierLookup reports whether the query looks up a specific identifier.
func (q *AnalyzedQuery) IsIdentifierLookup() bool {
	return q != nil && len(q.Identifiers) > 0
}

// HeaderMatch represents a heading found in a passage.
type HeaderMatch struct {
	// Level is the heading level (1 for #, 2 for ##, ...).
	Level int
	Text  string
}
