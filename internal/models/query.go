package models

import "fmt"

// SearchQuery represents a retrieval request.
type SearchQuery struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
	// Filters restricts results to parents whose metadata equals every given value.
	Filters map[string]string `json:"filters,omitempty"`
	// SemanticWeight and LexicalWeight override the query-adaptive fusion weights when both are set.
	SemanticWeight float64 `json:"semantic_weight,omitempty"`
	LexicalWeight  float64 `json:"lexical_weight,omitempty"`
}

// Validate ensures the search query has valid fields and sets defaults.
func (q *SearchQuery) Validate() error {
	if q.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if q.TopK <= 0 {
		q.TopK = 10
	}
	if q.TopK > 100 {
		q.TopK = 100
	}
	if q.SemanticWeight < 0 || q.LexicalWeight < 0 {
		return fmt.Errorf("fusion weights must not be negative")
	}
	return nil
}

// HasWeightOverride reports whether the caller fixed the fusion weights.
func (q *SearchQuery) HasWeightOverride() bool {
	return q.SemanticWeight > 0 || q.LexicalWeight > 0
}
