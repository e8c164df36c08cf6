// Package keyword provides the lexical side of retrieval: a tokenizer that keeps technical
// identifiers intact and batch-rebuilt lexical indexes over sub-chunks.
package keyword

import (
	"context"
)

// Doc is one sub-chunk as seen by the lexical index.
type Doc struct {
	ID       string
	ParentID string
	Text     string
}

// LexicalIndex is a lexical relevance index over sub-chunks. It is rebuilt as a whole
// after each ingestion run; a rebuild becomes visible to searches atomically. Between
// rebuilds the indexer only removes entries, so the index never names a sub-chunk the
// store has dropped.
type LexicalIndex interface {
	// Rebuild replaces the index contents with docs.
	Rebuild(ctx context.Context, docs []Doc) error
	// Remove drops the given ids from the live index ahead of the next rebuild. Unknown ids
	// are ignored.
	Remove(ctx context.Context, ids []string) error
	// Search returns up to limit hits with a non-zero score, best first.
	Search(ctx context.Context, query string, limit int) ([]*KeywordResult, error)
	// DocCount returns the total number of documents in the index.
	DocCount() (uint64, error)
	Close() error
}

// KeywordResult is a single lexical search hit.
type KeywordResult struct {
	ID       string
	ParentID string
	Score    float64
}

// IndexType names a LexicalIndex implementation.
type IndexType string

const (
	IndexTypeBleve IndexType = "bleve"
	IndexTypeBM25  IndexType = "bm25"
)
