package keyword

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/whitespace"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"go.uber.org/zap"
)

const (
	termsAnalyzer = "soudan_terms"
	genPrefix     = "gen-"
	rebuildBatch  = 500
)

// BleveIndex implements LexicalIndex using Bleve. Documents are indexed as pre-tokenized
// text (see Tokenize) under a whitespace analyzer, so Bleve and the query path agree on
// tokens exactly. Each rebuild writes a new generation directory under the base path and
// swaps it in; the previous generation is removed afterwards.
type BleveIndex struct {
	base   string
	mu     sync.RWMutex
	index  bleve.Index
	gen    int
	logger *zap.Logger
}

// BleveOption configures a BleveIndex.
type BleveOption func(*BleveIndex)

// WithBleveLogger sets the logger.
func WithBleveLogger(l *zap.Logger) BleveOption {
	return func(b *BleveIndex) {
		b.logger = l
	}
}

// NewBleveIndex opens the newest generation under path, or creates an empty first generation.
func NewBleveIndex(path string, opts ...BleveOption) (*BleveIndex, error) {
	b := &BleveIndex{base: path}
	for _, o := range opts {
		o(b)
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create Bleve directory: %w", err)
	}
	gens, err := b.generations()
	if err != nil {
		return nil, err
	}
	for i := len(gens) - 1; i >= 0; i-- {
		index, openErr := bleve.Open(b.genPath(gens[i]))
		if openErr != nil {
			if b.logger != nil {
				b.logger.Warn("skipping unreadable Bleve generation", zap.Int("generation", gens[i]), zap.Error(openErr))
			}
			continue
		}
		b.index, b.gen = index, gens[i]
		return b, nil
	}
	index, err := bleve.New(b.genPath(1), newTermsMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	b.index, b.gen = index, 1
	return b, nil
}

func newTermsMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	_ = im.AddCustomAnalyzer(termsAnalyzer, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": whitespace.Name,
	})

	docMapping := bleve.NewDocumentMapping()
	termsField := bleve.NewTextFieldMapping()
	termsField.Analyzer = termsAnalyzer
	termsField.Store = false
	termsField.IncludeTermVectors = false
	docMapping.AddFieldMappingsAt("terms", termsField)
	parentField := bleve.NewKeywordFieldMapping()
	parentField.Store = true
	parentField.Index = false
	docMapping.AddFieldMappingsAt("parent_id", parentField)
	im.DefaultMapping = docMapping
	return im
}

func (b *BleveIndex) genPath(gen int) string {
	return filepath.Join(b.base, genPrefix+strconv.Itoa(gen))
}

// generations lists existing generation numbers in ascending order.
func (b *BleveIndex) generations() ([]int, error) {
	entries, err := os.ReadDir(b.base)
	if err != nil {
		return nil, fmt.Errorf("failed to read Bleve directory: %w", err)
	}
	var gens []int
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), genPrefix) {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimPrefix(e.Name(), genPrefix)); err == nil {
			gens = append(gens, n)
		}
	}
	sort.Ints(gens)
	return gens, nil
}

// Rebuild indexes docs into a new generation and swaps it in.
func (b *BleveIndex) Rebuild(ctx context.Context, docs []Doc) error {
	b.mu.RLock()
	next := b.gen + 1
	b.mu.RUnlock()

	path := b.genPath(next)
	_ = os.RemoveAll(path)
	fresh, err := bleve.New(path, newTermsMapping())
	if err != nil {
		return fmt.Errorf("failed to create Bleve generation: %w", err)
	}
	batch := fresh.NewBatch()
	for i, d := range docs {
		if err := batch.Index(d.ID, map[string]interface{}{
			"terms":     strings.Join(Tokenize(d.Text), " "),
			"parent_id": d.ParentID,
		}); err != nil {
			fresh.Close()
			return fmt.Errorf("failed to batch document %s: %w", d.ID, err)
		}
		if (i+1)%rebuildBatch == 0 {
			if err := ctx.Err(); err != nil {
				fresh.Close()
				return err
			}
			if err := fresh.Batch(batch); err != nil {
				fresh.Close()
				return fmt.Errorf("failed to write Bleve batch: %w", err)
			}
			batch = fresh.NewBatch()
		}
	}
	if err := fresh.Batch(batch); err != nil {
		fresh.Close()
		return fmt.Errorf("failed to write Bleve batch: %w", err)
	}

	b.mu.Lock()
	old, oldGen := b.index, b.gen
	b.index, b.gen = fresh, next
	b.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	if err := os.RemoveAll(b.genPath(oldGen)); err != nil && b.logger != nil {
		b.logger.Warn("failed to remove old Bleve generation", zap.Int("generation", oldGen), zap.Error(err))
	}
	if b.logger != nil {
		b.logger.Debug("lexical index rebuilt", zap.Int("generation", next), zap.Int("docs", len(docs)))
	}
	return nil
}

// Remove deletes ids from the live generation.
func (b *BleveIndex) Remove(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	batch := b.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to delete from Bleve: %w", err)
	}
	return nil
}

// Search runs a disjunction of exact term queries, one per distinct query token.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int) ([]*KeywordResult, error) {
	terms := uniqueTokens(query)
	if limit <= 0 || len(terms) == 0 {
		return nil, nil
	}
	clauses := make([]blevequery.Query, len(terms))
	for i, t := range terms {
		tq := bleve.NewTermQuery(t)
		tq.SetField("terms")
		clauses[i] = tq
	}
	req := bleve.NewSearchRequest(bleve.NewDisjunctionQuery(clauses...))
	req.Size = limit
	req.Fields = []string{"parent_id"}

	b.mu.RLock()
	defer b.mu.RUnlock()
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]*KeywordResult, 0, len(results.Hits))
	for _, hit := range results.Hits {
		if hit.Score <= 0 {
			continue
		}
		parent, _ := hit.Fields["parent_id"].(string)
		out = append(out, &KeywordResult{ID: hit.ID, ParentID: parent, Score: hit.Score})
	}
	sortResults(out)
	return out, nil
}

// DocCount returns the total number of documents in the live generation.
func (b *BleveIndex) DocCount() (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.index.DocCount()
}

// Close closes the live generation.
func (b *BleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.index == nil {
		return nil
	}
	err := b.index.Close()
	b.index = nil
	return err
}

// NewLexicalIndex creates the lexical index named by indexType. path is only used by bleve.
func NewLexicalIndex(indexType, path string, logger *zap.Logger) (LexicalIndex, error) {
	switch IndexType(indexType) {
	case IndexTypeBleve, "":
		return NewBleveIndex(path, WithBleveLogger(logger))
	case IndexTypeBM25:
		return NewBM25Index(), nil
	default:
		return nil, fmt.Errorf("unknown lexical index type: %s (supported: bleve, bm25)", indexType)
	}
}
