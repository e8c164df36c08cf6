package ranking

import (
	"testing"

	"github.com/hyperjump/soudan/internal/models"
)

func TestQueryAnalyzer_Analyze(t *testing.T) {
	qa := NewQueryAnalyzer(nil)

	tests := []struct {
		name           string
		query          string
		wantQueryType  QueryType
		wantIdentifier bool
		wantPhrases    int
	}{
		{name: "single word", query: "viscosity", wantQueryType: QueryTypeSingleWord},
		{name: "multi word", query: "hydraulic filter for mobile crane", wantQueryType: QueryTypeMultiWord},
		{name: "quoted phrase", query: `"return line" filter`, wantQueryType: QueryTypePhrase, wantPhrases: 1},
		{name: "iso standard", query: "what does ISO 16889 test", wantQueryType: QueryTypeIdentifier, wantIdentifier: true},
		{name: "iso lowercase", query: "iso4406 code meaning", wantQueryType: QueryTypeIdentifier, wantIdentifier: true},
		{name: "nas class", query: "NAS 1638 class 7", wantQueryType: QueryTypeIdentifier, wantIdentifier: true},
		{name: "beta ratio symbol", query: "β10 ≥ 200 element", wantQueryType: QueryTypeIdentifier, wantIdentifier: true},
		{name: "beta ratio words", query: "required beta ratio", wantQueryType: QueryTypeIdentifier, wantIdentifier: true},
		{name: "micron rating", query: "10 µm(c) element", wantQueryType: QueryTypeIdentifier, wantIdentifier: true},
		{name: "part number", query: "part # for the bowl seal", wantQueryType: QueryTypeIdentifier, wantIdentifier: true},
		{name: "product code", query: "HF-2040 replacement", wantQueryType: QueryTypeIdentifier, wantIdentifier: true},
		{name: "lowercase word and year is not a code", query: "changes in 2024", wantQueryType: QueryTypeMultiWord},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := qa.Analyze(tt.query)
			if got.QueryType != tt.wantQueryType {
				t.Errorf("QueryType = %v, want %v", got.QueryType, tt.wantQueryType)
			}
			if got.IsIdentifierLookup() != tt.wantIdentifier {
				t.Errorf("IsIdentifierLookup = %v, want %v (identifiers %v)", got.IsIdentifierLookup(), tt.wantIdentifier, got.Identifiers)
			}
			if len(got.Phrases) != tt.wantPhrases {
				t.Errorf("Phrases = %v, want %d", got.Phrases, tt.wantPhrases)
			}
			if len(got.Terms) == 0 {
				t.Error("expected terms")
			}
		})
	}
}

func TestQueryAnalyzer_Weights(t *testing.T) {
	qa := NewQueryAnalyzer(nil)

	general := qa.Analyze("how do I pick a filter for a hydraulic press")
	w := qa.Weights(general, &models.SearchQuery{Query: general.Original})
	if w.Semantic != 0.60 || w.Lexical != 0.40 {
		t.Errorf("general weights = %+v, want 0.60/0.40", w)
	}

	ident := qa.Analyze("ISO 16889 multipass")
	w = qa.Weights(ident, &models.SearchQuery{Query: ident.Original})
	if w.Semantic != 0.25 || w.Lexical != 0.75 {
		t.Errorf("identifier weights = %+v, want 0.25/0.75", w)
	}

	w = qa.Weights(ident, &models.SearchQuery{Query: ident.Original, SemanticWeight: 1, LexicalWeight: 0})
	if w.Semantic != 1 || w.Lexical != 0 {
		t.Errorf("override weights = %+v, want 1/0", w)
	}

	// weights are computed per call and never leak between queries
	w = qa.Weights(general, nil)
	if w.Semantic != 0.60 {
		t.Errorf("weights after identifier query = %+v, want defaults", w)
	}
}

func TestNormalizeIdentifier(t *testing.T) {
	if normalizeIdentifier("ISO 16889") != normalizeIdentifier("iso-16889") {
		t.Error("expected spacing and hyphen variants to normalize equally")
	}
}
