// Package storage defines persistence for documents, chunks and consultation sessions.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/soudan/internal/models"
)

// ErrNotFound is returned (wrapped) when a record does not exist.
var ErrNotFound = errors.New("not found")

// Storage defines document and chunk persistence operations.
type Storage interface {
	// Document operations
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error)
	DeleteDocument(ctx context.Context, id string) error

	// ReplaceDocument stores a document and swaps its parents and sub-chunks for the given
	// ones in one transaction.
	ReplaceDocument(ctx context.Context, set *models.ChunkSet) error

	// Chunk operations
	GetParent(ctx context.Context, id string) (*models.ParentChunk, error)
	GetParents(ctx context.Context, ids []string) (map[string]*models.ParentChunk, error)
	SubChunkIDsByDocument(ctx context.Context, docID string) ([]string, error)
	EachSubChunk(ctx context.Context, fn func(*models.SubChunk) error) error

	// Stats
	CountDocuments(ctx context.Context) (int64, error)
	CountParents(ctx context.Context) (int64, error)
	CountSubChunks(ctx context.Context) (int64, error)

	Close() error
}

// SessionStore persists consultation sessions and their exchange logs.
type SessionStore interface {
	CreateSession(ctx context.Context, s *models.Session) error
	// GetSession returns the session with its exchanges in order.
	GetSession(ctx context.Context, id string) (*models.Session, error)
	// UpdateSession saves the session's phase, title and gathered state. Exchanges are untouched.
	UpdateSession(ctx context.Context, s *models.Session) error
	// AppendExchange assigns the next sequence number to e and stores it.
	AppendExchange(ctx context.Context, sessionID string, e *models.Exchange) error
	ListSessions(ctx context.Context, offset, limit int) ([]*models.Session, error)
	DeleteSession(ctx context.Context, id string) error
	Close() error
}
