// Package indexer turns documents into parent and sub-chunks and keeps the chunk store,
// vector index and lexical index in step with them.
package indexer

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"github.com/hyperjump/soudan/internal/models"
)

// ChunkerConfig holds chunk sizes in characters.
type ChunkerConfig struct {
	ParentSize    int
	ParentOverlap int
	// MaxParentSize is the largest heading section kept whole as one parent.
	MaxParentSize int
	ChildSize     int
	ChildOverlap  int
	// TableAlphaRatio marks a parent as tabular when its share of letters is below it.
	TableAlphaRatio float64
	TableLookback   int
	// AuthorityWeights maps a document's "collection" metadata to a ranking weight.
	AuthorityWeights map[string]float64
}

// DefaultChunkerConfig returns the standard chunk sizes.
func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{
		ParentSize:      2000,
		ParentOverlap:   200,
		MaxParentSize:   4000,
		ChildSize:       400,
		ChildOverlap:    50,
		TableAlphaRatio: 0.25,
		TableLookback:   3,
	}
}

// Chunker splits documents into parents (context units) and sub-chunks (retrieval units).
type Chunker struct {
	cfg ChunkerConfig
}

// NewChunker creates a chunker. Zero sizes fall back to the defaults.
func NewChunker(cfg ChunkerConfig) *Chunker {
	def := DefaultChunkerConfig()
	if cfg.ParentSize <= 0 {
		cfg.ParentSize = def.ParentSize
	}
	if cfg.ParentOverlap < 0 || cfg.ParentOverlap >= cfg.ParentSize {
		cfg.ParentOverlap = def.ParentOverlap
	}
	if cfg.MaxParentSize < cfg.ParentSize {
		cfg.MaxParentSize = 2 * cfg.ParentSize
	}
	if cfg.ChildSize <= 0 {
		cfg.ChildSize = def.ChildSize
	}
	if cfg.ChildOverlap < 0 || cfg.ChildOverlap >= cfg.ChildSize {
		cfg.ChildOverlap = def.ChildOverlap
	}
	if cfg.TableAlphaRatio <= 0 {
		cfg.TableAlphaRatio = def.TableAlphaRatio
	}
	if cfg.TableLookback <= 0 {
		cfg.TableLookback = def.TableLookback
	}
	return &Chunker{cfg: cfg}
}

// headingPattern matches level 2 and 3 markdown headings. Level 1 is the document title.
var headingPattern = regexp.MustCompile(`(?m)^(#{2,3})[ \t]+(\S.*)$`)

type section struct {
	path string
	body string
}

// Process chunks a document whose content has already been cleaned with Preprocess.
// An empty document yields no parents.
func (c *Chunker) Process(doc *models.Document) []*models.ParentChunk {
	text := strings.TrimSpace(doc.Content)
	if text == "" {
		return nil
	}

	var pieces []section
	for _, s := range splitSections(text) {
		if len([]rune(s.body)) <= c.cfg.MaxParentSize && s.path != "" {
			pieces = append(pieces, s)
			continue
		}
		for _, part := range splitText(s.body, c.cfg.ParentSize, c.cfg.ParentOverlap) {
			pieces = append(pieces, section{path: s.path, body: part})
		}
	}

	weight := c.authorityWeight(doc.Metadata)
	parents := make([]*models.ParentChunk, 0, len(pieces))
	for _, p := range pieces {
		if strings.TrimSpace(p.body) == "" {
			continue
		}
		parent := &models.ParentChunk{
			ID:              ParentID(doc.ID, len(parents)),
			DocumentID:      doc.ID,
			DocumentTitle:   doc.Title,
			Position:        len(parents),
			Content:         p.body,
			SectionPath:     p.path,
			AuthorityWeight: weight,
			Metadata:        copyMetadata(doc.Metadata),
		}
		parents = append(parents, parent)
	}

	for _, parent := range parents {
		prefix := contextPrefix(doc.Title, parent.SectionPath)
		for ci, text := range splitText(parent.Content, c.cfg.ChildSize, c.cfg.ChildOverlap) {
			parent.SubChunks = append(parent.SubChunks, &models.SubChunk{
				ID:         ChildID(doc.ID, parent.Position, ci),
				ParentID:   parent.ID,
				DocumentID: doc.ID,
				Position:   ci,
				Content:    text,
				EmbedText:  prefix + text,
			})
		}
	}

	c.addTableIndexes(doc, parents)
	return parents
}

func (c *Chunker) authorityWeight(meta map[string]string) float64 {
	if w, ok := c.cfg.AuthorityWeights[meta["collection"]]; ok && w > 0 {
		return w
	}
	return 1.0
}

// ParentID is the stable identifier of the i-th parent of a document.
func ParentID(docID string, i int) string {
	return fmt.Sprintf("%s::parent::%d", docID, i)
}

// ChildID is the stable identifier of the c-th sub-chunk of parent p.
func ChildID(docID string, p, c int) string {
	return fmt.Sprintf("%s::child::%d::%d", docID, p, c)
}

// TableIndexID is the identifier of the synthetic index sub-chunk of a tabular parent.
func TableIndexID(docID string, p int) string {
	return fmt.Sprintf("%s::child::%d::idx", docID, p)
}

func contextPrefix(title, path string) string {
	prefix := "Document: " + title
	if path != "" {
		prefix += " | Section: " + path
	}
	return prefix + " | "
}

// splitSections cuts text at level 2/3 headings. Text without headings is one untitled section.
func splitSections(text string) []section {
	matches := headingPattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return []section{{body: text}}
	}
	var out []section
	if pre := strings.TrimSpace(text[:matches[0][0]]); pre != "" {
		out = append(out, section{body: pre})
	}
	var h2 string
	for i, m := range matches {
		level := m[3] - m[2]
		heading := strings.TrimSpace(text[m[4]:m[5]])
		path := heading
		if level == 2 {
			h2 = heading
		} else if h2 != "" {
			path = h2 + " > " + heading
		}
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		if body := strings.TrimSpace(text[m[0]:end]); body != "" {
			out = append(out, section{path: path, body: body})
		}
	}
	return out
}

var sentenceBreaks = [][]rune{[]rune(". "), []rune(".\n"), []rune("? "), []rune("! ")}

// splitText cuts text into windows of about size characters that overlap by overlap
// characters. Cuts prefer a paragraph break, then a sentence end, inside the last fifth
// of the window, then the last space past the window's midpoint.
func splitText(text string, size, overlap int) []string {
	r := []rune(text)
	if len(r) <= size {
		return []string{text}
	}
	zone := size * 4 / 5
	var out []string
	start := 0
	for start < len(r) {
		end := start + size
		if end >= len(r) {
			if s := strings.TrimSpace(string(r[start:])); s != "" {
				out = append(out, s)
			}
			break
		}
		end = start + breakPoint(r[start:end], size, zone)
		if s := strings.TrimSpace(string(r[start:end])); s != "" {
			out = append(out, s)
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}

func breakPoint(window []rune, size, zone int) int {
	if i := lastIndexRunes(window, zone, []rune("\n\n")); i >= 0 {
		return i + 2
	}
	best := -1
	for _, b := range sentenceBreaks {
		if i := lastIndexRunes(window, zone, b); i > best {
			best = i
		}
	}
	if best >= 0 {
		return best + 2
	}
	if i := lastIndexRunes(window, 0, []rune(" ")); i > size/2 {
		return i + 1
	}
	return size
}

func lastIndexRunes(s []rune, from int, pat []rune) int {
	for i := len(s) - len(pat); i >= from; i-- {
		match := true
		for j, p := range pat {
			if s[i+j] != p {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// alphaRatio is the share of letters among all characters of text.
func alphaRatio(text string) float64 {
	total, alpha := 0, 0
	for _, r := range text {
		total++
		if unicode.IsLetter(r) {
			alpha++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(alpha) / float64(total)
}

// HumanizeTitle turns a file name like "hydraulic_filter-guide.pdf" into "Hydraulic Filter Guide".
func HumanizeTitle(filename string) string {
	name := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	name = strings.NewReplacer("_", " ", "-", " ").Replace(name)
	words := strings.Fields(name)
	for i, w := range words {
		rs := []rune(strings.ToLower(w))
		rs[0] = unicode.ToUpper(rs[0])
		words[i] = string(rs)
	}
	return strings.Join(words, " ")
}

func copyMetadata(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
