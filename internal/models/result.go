package models

// SearchResult is a single ranked parent with the scores that placed it.
type SearchResult struct {
	Parent *ParentChunk `json:"parent"`
	// SubChunkID is the best-fused sub-chunk that surfaced this parent.
	SubChunkID    string  `json:"sub_chunk_id"`
	Score         float64 `json:"score"`
	FusedScore    float64 `json:"fused_score"`
	RerankScore   float64 `json:"rerank_score"`
	SemanticScore float64 `json:"semantic_score"`
	LexicalScore  float64 `json:"lexical_score"`
	SemanticRank  int     `json:"semantic_rank,omitempty"`
	LexicalRank   int     `json:"lexical_rank,omitempty"`
	Rank          int     `json:"rank"`
}

// Source returns the id of the document the result came from.
func (r *SearchResult) Source() string {
	if r.Parent == nil {
		return ""
	}
	return r.Parent.DocumentID
}

// FusionWeights are the per-list weights used for one query.
type FusionWeights struct {
	Semantic float64 `json:"semantic"`
	Lexical  float64 `json:"lexical"`
}

// SearchResponse is the response for a search request.
// SemanticRanking and LexicalRanking hold parent ids in the order each retriever alone ranked them.
type SearchResponse struct {
	Results         []*SearchResult `json:"results"`
	SemanticRanking []string        `json:"semantic_ranking"`
	LexicalRanking  []string        `json:"lexical_ranking"`
	Weights         FusionWeights   `json:"weights"`
	IdentifierQuery bool            `json:"identifier_query"`
	QueryTime       int64           `json:"query_time_ms"`
	Query           string          `json:"query"`
}
