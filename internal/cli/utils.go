// Package cli renders search results and consultation turns for the soudan commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/hyperjump/soudan/internal/models"
	"github.com/hyperjump/soudan/internal/search"
)

// SearchOutputFormat is the format for search result output.
type SearchOutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText SearchOutputFormat = "text"
	// OutputCompact prints one line per result.
	OutputCompact SearchOutputFormat = "compact"
	// OutputJSON is the raw response for machine consumption.
	OutputJSON SearchOutputFormat = "json"
)

// ParseFormat maps a flag value to a format.
func ParseFormat(s string) (SearchOutputFormat, error) {
	switch f := SearchOutputFormat(strings.ToLower(s)); f {
	case OutputText, OutputCompact, OutputJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text, compact, or json", s)
	}
}

// WriteSearchResults writes search results to w in the given format. Unknown formats are
// treated as text.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format SearchOutputFormat) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(response)
	case OutputCompact:
		for _, r := range response.Results {
			fmt.Fprintf(w, "%d\t%.4f\t%s\t%s\n", r.Rank, r.Score, r.Source(), TruncateWords(oneLine(content(r)), 12))
		}
		return nil
	default:
		writeSearchResultsText(w, response)
		return nil
	}
}

func writeSearchResultsText(w io.Writer, response *models.SearchResponse) {
	fmt.Fprintf(w, "\nFound %d results in %dms (weights: semantic %.2f, lexical %.2f",
		len(response.Results), response.QueryTime, response.Weights.Semantic, response.Weights.Lexical)
	if response.IdentifierQuery {
		fmt.Fprint(w, ", identifier query")
	}
	fmt.Fprint(w, ")\n\n")
	for _, result := range response.Results {
		writeOneResult(w, result)
	}
}

func writeOneResult(w io.Writer, r *models.SearchResult) {
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "#%d  score %.4f  (fused %.4f, rerank %.4f)  %s\n",
		r.Rank, r.Score, r.FusedScore, r.RerankScore, ranks(r))
	if r.Parent == nil {
		fmt.Fprintln(w)
		return
	}
	title := r.Parent.DocumentTitle
	if title == "" {
		title = r.Parent.DocumentID
	}
	if r.Parent.SectionPath != "" {
		title += " › " + r.Parent.SectionPath
	}
	fmt.Fprintf(w, "%s\n", title)
	fmt.Fprintf(w, "\n%s\n\n", search.Highlight(r.Parent.Content, 300))
}

func ranks(r *models.SearchResult) string {
	var parts []string
	if r.SemanticRank > 0 {
		parts = append(parts, fmt.Sprintf("semantic #%d", r.SemanticRank))
	}
	if r.LexicalRank > 0 {
		parts = append(parts, fmt.Sprintf("lexical #%d", r.LexicalRank))
	}
	if len(parts) == 0 {
		return ""
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func content(r *models.SearchResult) string {
	if r.Parent == nil {
		return ""
	}
	return r.Parent.Content
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
