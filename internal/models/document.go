// Package models defines core data structures for documents, chunks, queries, search results and consultation sessions.
package models

import "time"

// Document is an ingested source document. ContentHash is the sha256 of the cleaned text and
// decides whether a re-ingestion is a no-op.
type Document struct {
	ID          string            `json:"id" db:"id"`
	Title       string            `json:"title" db:"title"`
	Content     string            `json:"content,omitempty" db:"content"`
	ContentHash string            `json:"content_hash" db:"content_hash"`
	Metadata    map[string]string `json:"metadata,omitempty" db:"metadata"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at" db:"updated_at"`
}

// ParentChunk is the unit of context handed to the generator.
type ParentChunk struct {
	ID              string            `json:"id" db:"id"`
	DocumentID      string            `json:"document_id" db:"document_id"`
	DocumentTitle   string            `json:"document_title" db:"document_title"`
	Position        int               `json:"position" db:"position"`
	Content         string            `json:"content" db:"content"`
	SectionPath     string            `json:"section_path,omitempty" db:"section_path"`
	AuthorityWeight float64           `json:"authority_weight" db:"authority_weight"`
	Metadata        map[string]string `json:"metadata,omitempty" db:"metadata"`
	SubChunks       []*SubChunk       `json:"sub_chunks,omitempty" db:"-"`
}

// SubChunk is the unit of retrieval. EmbedText carries the contextual prefix and is what both
// the embedder and the lexical index see.
type SubChunk struct {
	ID           string    `json:"id" db:"id"`
	ParentID     string    `json:"parent_id" db:"parent_id"`
	DocumentID   string    `json:"document_id" db:"document_id"`
	Position     int       `json:"position" db:"position"`
	Content      string    `json:"content" db:"content"`
	EmbedText    string    `json:"embed_text" db:"embed_text"`
	IsTableIndex bool      `json:"is_table_index,omitempty" db:"is_table_index"`
	Embedding    []float32 `json:"-" db:"-"`
}

// DocumentInput is the input for ingesting a document.
type DocumentInput struct {
	ID       string            `json:"id,omitempty"`
	Title    string            `json:"title,omitempty"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ChunkSet is everything a single document produces: its parents with their sub-chunks attached.
type ChunkSet struct {
	Document *Document
	Parents  []*ParentChunk
}

// SubChunks flattens the sub-chunks of every parent in order.
func (c *ChunkSet) SubChunks() []*SubChunk {
	var out []*SubChunk
	for _, p := range c.Parents {
		out = append(out, p.SubChunks...)
	}
	return out
}
