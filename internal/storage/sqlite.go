package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/soudan/internal/models"
)

// SQLiteStorage implements Storage and SessionStore using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		title TEXT,
		content_hash TEXT NOT NULL,
		metadata TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at);

	CREATE TABLE IF NOT EXISTS parent_chunks (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		document_title TEXT,
		position INTEGER NOT NULL,
		content TEXT NOT NULL,
		section_path TEXT,
		authority_weight REAL NOT NULL DEFAULT 1.0,
		metadata TEXT,
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_parents_document_id ON parent_chunks(document_id, position);

	CREATE TABLE IF NOT EXISTS sub_chunks (
		id TEXT PRIMARY KEY,
		parent_id TEXT NOT NULL,
		document_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		content TEXT NOT NULL,
		embed_text TEXT NOT NULL,
		is_table_index INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (parent_id) REFERENCES parent_chunks(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_sub_chunks_document_id ON sub_chunks(document_id);
	CREATE INDEX IF NOT EXISTS idx_sub_chunks_parent_id ON sub_chunks(parent_id);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		domain TEXT NOT NULL,
		title TEXT,
		phase TEXT NOT NULL,
		application_domain TEXT,
		refined_query TEXT,
		parameters TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS exchanges (
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		phase TEXT NOT NULL,
		incomplete INTEGER NOT NULL DEFAULT 0,
		confidence TEXT,
		parent_ids TEXT,
		full_report TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (session_id, seq),
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);
	`
	_, err := db.Exec(schema)
	return err
}

func marshalMap(m map[string]string) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(b), nil
}

func unmarshalMap(s string) (map[string]string, error) {
	if s == "" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return m, nil
}

// ReplaceDocument upserts the document row and replaces all of its chunks atomically.
func (s *SQLiteStorage) ReplaceDocument(ctx context.Context, set *models.ChunkSet) error {
	doc := set.Document
	docMeta, err := marshalMap(doc.Metadata)
	if err != nil {
		return err
	}
	now := time.Now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO documents (id, title, content_hash, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET title = excluded.title, content_hash = excluded.content_hash,
		   metadata = excluded.metadata, updated_at = excluded.updated_at`,
		doc.ID, doc.Title, doc.ContentHash, docMeta, doc.CreatedAt, doc.UpdatedAt,
	); err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sub_chunks WHERE document_id = ?`, doc.ID); err != nil {
		return fmt.Errorf("failed to delete sub-chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM parent_chunks WHERE document_id = ?`, doc.ID); err != nil {
		return fmt.Errorf("failed to delete parents: %w", err)
	}

	parentStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO parent_chunks (id, document_id, document_title, position, content, section_path, authority_weight, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer parentStmt.Close()
	subStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO sub_chunks (id, parent_id, document_id, position, content, embed_text, is_table_index)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer subStmt.Close()

	for _, p := range set.Parents {
		meta, err := marshalMap(p.Metadata)
		if err != nil {
			return err
		}
		if _, err := parentStmt.ExecContext(ctx, p.ID, p.DocumentID, p.DocumentTitle, p.Position, p.Content, p.SectionPath, p.AuthorityWeight, meta); err != nil {
			return fmt.Errorf("failed to insert parent %s: %w", p.ID, err)
		}
		for _, c := range p.SubChunks {
			if _, err := subStmt.ExecContext(ctx, c.ID, c.ParentID, c.DocumentID, c.Position, c.Content, c.EmbedText, c.IsTableIndex); err != nil {
				return fmt.Errorf("failed to insert sub-chunk %s: %w", c.ID, err)
			}
		}
	}
	return tx.Commit()
}

// GetDocument returns a document by ID. Content is not stored; only its hash is.
func (s *SQLiteStorage) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	var title, metadataJSON sql.NullString

	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, content_hash, metadata, created_at, updated_at
		 FROM documents WHERE id = ?`, id,
	).Scan(&doc.ID, &title, &doc.ContentHash, &metadataJSON, &doc.CreatedAt, &doc.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	doc.Title = title.String
	if doc.Metadata, err = unmarshalMap(metadataJSON.String); err != nil {
		return nil, err
	}
	return &doc, nil
}

// DeleteDocument removes a document with its parents and sub-chunks.
func (s *SQLiteStorage) DeleteDocument(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, q := range []string{
		`DELETE FROM sub_chunks WHERE document_id = ?`,
		`DELETE FROM parent_chunks WHERE document_id = ?`,
		`DELETE FROM documents WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListDocuments returns documents with offset and limit.
func (s *SQLiteStorage) ListDocuments(ctx context.Context, offset, limit int) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, content_hash, metadata, created_at, updated_at
		 FROM documents ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		var doc models.Document
		var title, metadataJSON sql.NullString
		if err := rows.Scan(&doc.ID, &title, &doc.ContentHash, &metadataJSON, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, err
		}
		doc.Title = title.String
		doc.Metadata, _ = unmarshalMap(metadataJSON.String)
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}

const parentColumns = `id, document_id, document_title, position, content, section_path, authority_weight, metadata`

func scanParent(scan func(dest ...any) error) (*models.ParentChunk, error) {
	var p models.ParentChunk
	var title, path, meta sql.NullString
	if err := scan(&p.ID, &p.DocumentID, &title, &p.Position, &p.Content, &path, &p.AuthorityWeight, &meta); err != nil {
		return nil, err
	}
	p.DocumentTitle = title.String
	p.SectionPath = path.String
	var err error
	if p.Metadata, err = unmarshalMap(meta.String); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetParent returns a parent chunk by ID.
func (s *SQLiteStorage) GetParent(ctx context.Context, id string) (*models.ParentChunk, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+parentColumns+` FROM parent_chunks WHERE id = ?`, id)
	p, err := scanParent(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("parent %s: %w", id, ErrNotFound)
	}
	return p, err
}

// GetParents returns the parents that exist among ids, keyed by id.
func (s *SQLiteStorage) GetParents(ctx context.Context, ids []string) (map[string]*models.ParentChunk, error) {
	out := make(map[string]*models.ParentChunk, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+parentColumns+` FROM parent_chunks WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		p, err := scanParent(rows.Scan)
		if err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

// SubChunkIDsByDocument lists the ids of every sub-chunk of a document.
func (s *SQLiteStorage) SubChunkIDsByDocument(ctx context.Context, docID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sub_chunks WHERE document_id = ?`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// EachSubChunk calls fn for every stored sub-chunk. It stops at the first error fn returns.
func (s *SQLiteStorage) EachSubChunk(ctx context.Context, fn func(*models.SubChunk) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, parent_id, document_id, position, content, embed_text, is_table_index
		 FROM sub_chunks ORDER BY document_id, parent_id, position`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var c models.SubChunk
		if err := rows.Scan(&c.ID, &c.ParentID, &c.DocumentID, &c.Position, &c.Content, &c.EmbedText, &c.IsTableIndex); err != nil {
			return err
		}
		if err := fn(&c); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *SQLiteStorage) count(ctx context.Context, table string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&count)
	return count, err
}

// CountDocuments returns the total number of documents.
func (s *SQLiteStorage) CountDocuments(ctx context.Context) (int64, error) {
	return s.count(ctx, "documents")
}

// CountParents returns the total number of parent chunks.
func (s *SQLiteStorage) CountParents(ctx context.Context) (int64, error) {
	return s.count(ctx, "parent_chunks")
}

// CountSubChunks returns the total number of sub-chunks.
func (s *SQLiteStorage) CountSubChunks(ctx context.Context) (int64, error) {
	return s.count(ctx, "sub_chunks")
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
