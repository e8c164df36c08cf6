// Package vector provides the sub-chunk vector index.
package vector

import "context"

// VectorIndex defines vector storage and similarity search over sub-chunks.
type VectorIndex interface {
	// Upsert inserts entries, replacing any entry with the same ID.
	Upsert(ctx context.Context, entries []Entry) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Remove(ctx context.Context, ids []string) error
	Save(path string) error
	Load(path string) error
	Size() int
	Close() error
}

// Entry is one indexed sub-chunk vector. ParentID is carried as payload so hits can be
// resolved to their parent without a store lookup.
type Entry struct {
	ID       string
	ParentID string
	Vector   []float32
}

// VectorResult is a single vector search hit.
type VectorResult struct {
	ID       string
	ParentID string
	Score    float64 // inner product; cosine similarity for normalized vectors
}
