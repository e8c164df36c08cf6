package indexer

import (
	"strings"

	"github.com/hyperjump/soudan/internal/models"
)

const (
	maxTableDescription = 600
	maxTableContext     = 400
	proseAlphaRatio     = 0.3
)

var boilerplateMarkers = []string{"copyright", "all rights reserved", "visit www"}

// addTableIndexes gives every tabular parent an extra sub-chunk describing the table in prose,
// so numeric tables can be found by meaning. Retrieval of that sub-chunk resolves to the table.
func (c *Chunker) addTableIndexes(doc *models.Document, parents []*models.ParentChunk) {
	for i, parent := range parents {
		if alphaRatio(parent.Content) >= c.cfg.TableAlphaRatio {
			continue
		}
		desc := tableDescription(doc, parent.Content, c.precedingProse(parents, i))
		parent.SubChunks = append(parent.SubChunks, &models.SubChunk{
			ID:           TableIndexID(doc.ID, parent.Position),
			ParentID:     parent.ID,
			DocumentID:   doc.ID,
			Position:     len(parent.SubChunks),
			Content:      desc,
			EmbedText:    contextPrefix(doc.Title, parent.SectionPath) + desc,
			IsTableIndex: true,
		})
	}
}

// precedingProse returns up to TableLookback prose parents before index i.
func (c *Chunker) precedingProse(parents []*models.ParentChunk, i int) []string {
	var out []string
	for j := i - 1; j >= 0 && len(out) < c.cfg.TableLookback; j-- {
		if alphaRatio(parents[j].Content) > proseAlphaRatio {
			out = append([]string{parents[j].Content}, out...)
		}
	}
	if len(out) == 0 && i > 0 {
		out = append(out, parents[0].Content)
	}
	return out
}

func tableDescription(doc *models.Document, table string, preceding []string) string {
	parts := []string{"Performance data table from: " + doc.Title + "."}
	if headers := tableHeaders(table); len(headers) > 0 {
		if len(headers) > 5 {
			headers = headers[:5]
		}
		parts = append(parts, "Table headers and labels: "+strings.Join(headers, "; ")+".")
	}
	if ctx := proseContext(preceding); ctx != "" {
		parts = append(parts, "Context: "+truncateWords(ctx, maxTableContext))
	}
	if tags := doc.Metadata["tags"]; tags != "" {
		first := strings.TrimSpace(strings.Split(tags, ",")[0])
		if first != "" {
			parts = append(parts, "Category: "+HumanizeTitle(first)+".")
		}
	}
	return truncateWords(strings.Join(parts, " "), maxTableDescription)
}

// tableHeaders picks the mostly-alphabetic lines of a table, which are usually its labels.
func tableHeaders(table string) []string {
	var out []string
	for _, line := range strings.Split(table, "\n") {
		line = strings.TrimSpace(line)
		if len([]rune(line)) > 5 && alphaRatio(line) > 0.5 {
			out = append(out, line)
			if len(out) == 10 {
				break
			}
		}
	}
	return out
}

func proseContext(texts []string) string {
	var lines []string
	for _, text := range texts {
		for _, line := range strings.Split(text, "\n") {
			line = strings.TrimSpace(line)
			if len([]rune(line)) <= 15 || alphaRatio(line) <= 0.5 || isBoilerplate(line) {
				continue
			}
			lines = append(lines, line)
			if len(lines) == 15 {
				return strings.Join(lines, " ")
			}
		}
	}
	return strings.Join(lines, " ")
}

func isBoilerplate(line string) bool {
	lower := strings.ToLower(line)
	for _, m := range boilerplateMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// truncateWords cuts s to at most max characters on a word boundary and marks the cut.
func truncateWords(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	cut := string(r[:max])
	if i := strings.LastIndex(cut, " "); i > 0 {
		cut = cut[:i]
	}
	return cut + "..."
}
