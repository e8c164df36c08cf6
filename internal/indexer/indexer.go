package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/hyperjump/soudan/internal/embedding"
	"github.com/hyperjump/soudan/internal/extract"
	"github.com/hyperjump/soudan/internal/fileid"
	"github.com/hyperjump/soudan/internal/keyword"
	"github.com/hyperjump/soudan/internal/models"
	"github.com/hyperjump/soudan/internal/storage"
	"github.com/hyperjump/soudan/internal/vector"
	"go.uber.org/zap"
)

// embedBatchSize bounds one EmbedBatch call.
const embedBatchSize = 64

// Indexer ingests documents into the chunk store, vector index and lexical index.
// Ingestion runs are serialized; each run ends with one lexical rebuild.
type Indexer struct {
	storage      storage.Storage
	embedder     embedding.Embedder
	vectorIndex  vector.VectorIndex
	lexicalIndex keyword.LexicalIndex
	chunker      *Chunker
	extractor    *extract.Extractor
	vectorPath   string
	logger       *zap.Logger // optional; when set, logs debug events

	mu sync.Mutex
}

// RunStats summarizes one ingestion run.
type RunStats struct {
	Indexed   int `json:"indexed"`
	Unchanged int `json:"unchanged"`
	Deleted   int `json:"deleted"`
	SubChunks int `json:"sub_chunks"`
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for debug output (file indexed, document deleted, etc.).
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// WithVectorPath makes every run persist the vector index to path.
func WithVectorPath(path string) IndexerOption {
	return func(idx *Indexer) { idx.vectorPath = path }
}

// NewIndexer creates an indexer with the given dependencies.
// extractor may be nil; when nil, IndexFile treats all files as plain text.
func NewIndexer(
	storage storage.Storage,
	embedder embedding.Embedder,
	vectorIndex vector.VectorIndex,
	lexicalIndex keyword.LexicalIndex,
	chunker *Chunker,
	extractor *extract.Extractor,
	opts ...IndexerOption,
) *Indexer {
	if chunker == nil {
		chunker = NewChunker(DefaultChunkerConfig())
	}
	idx := &Indexer{
		storage:      storage,
		embedder:     embedder,
		vectorIndex:  vectorIndex,
		lexicalIndex: lexicalIndex,
		chunker:      chunker,
		extractor:    extractor,
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// Index runs one ingestion over inputs. Documents whose cleaned content, title and collection
// are unchanged are skipped. The lexical index is rebuilt once if anything changed.
func (idx *Indexer) Index(ctx context.Context, inputs []*models.DocumentInput) (*RunStats, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	stats := &RunStats{}
	for _, input := range inputs {
		changed, n, err := idx.indexOne(ctx, input)
		if err != nil {
			// Documents written earlier in the run, or a half-written one, still need the
			// lexical rebuild.
			if changed || stats.Indexed > 0 {
				err = errors.Join(err, idx.finishRun(context.WithoutCancel(ctx)))
			}
			return stats, err
		}
		if changed {
			stats.Indexed++
			stats.SubChunks += n
		} else {
			stats.Unchanged++
		}
	}
	if stats.Indexed > 0 {
		if err := idx.finishRun(ctx); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// IndexDocument ingests a single document as its own run and returns its id.
func (idx *Indexer) IndexDocument(ctx context.Context, input *models.DocumentInput) (string, error) {
	if input.ID == "" {
		input.ID = uuid.New().String()
	}
	if _, err := idx.Index(ctx, []*models.DocumentInput{input}); err != nil {
		return "", err
	}
	return input.ID, nil
}

func (idx *Indexer) indexOne(ctx context.Context, input *models.DocumentInput) (bool, int, error) {
	if err := ctx.Err(); err != nil {
		return false, 0, err
	}
	if input.ID == "" {
		input.ID = uuid.New().String()
	}
	title := input.Title
	if title == "" {
		title = input.ID
	}
	content := Preprocess(input.Content)
	doc := &models.Document{
		ID:          input.ID,
		Title:       title,
		Content:     content,
		ContentHash: ContentHash(content),
		Metadata:    input.Metadata,
	}

	existing, err := idx.storage.GetDocument(ctx, doc.ID)
	switch {
	case err == nil:
		if unchanged(existing, doc) {
			if idx.logger != nil {
				idx.logger.Debug("indexer skipping unchanged document", zap.String("id", doc.ID))
			}
			return false, 0, nil
		}
		doc.CreatedAt = existing.CreatedAt
	case !errors.Is(err, storage.ErrNotFound):
		return false, 0, fmt.Errorf("failed to look up document: %w", err)
	}

	set := &models.ChunkSet{Document: doc, Parents: idx.chunker.Process(doc)}
	subs := set.SubChunks()
	if err := idx.embed(ctx, subs); err != nil {
		return false, 0, err
	}

	oldIDs, err := idx.storage.SubChunkIDsByDocument(ctx, doc.ID)
	if err != nil {
		return false, 0, fmt.Errorf("failed to list old sub-chunks: %w", err)
	}
	// Dropped sub-chunks leave both indexes before their parents leave the store, so a
	// concurrent search never resolves a hit to a missing parent. Kept ids share their
	// parent id with the new set. If the store write fails, the run's lexical rebuild puts
	// the lexical entries back and Restore re-embeds on the next start.
	dropped := droppedIDs(oldIDs, subs)
	if err := idx.vectorIndex.Remove(ctx, dropped); err != nil {
		return true, 0, fmt.Errorf("failed to remove old vectors: %w", err)
	}
	if err := idx.lexicalIndex.Remove(ctx, dropped); err != nil {
		return true, 0, fmt.Errorf("failed to remove old lexical entries: %w", err)
	}
	if err := idx.storage.ReplaceDocument(ctx, set); err != nil {
		return true, 0, fmt.Errorf("failed to store document: %w", err)
	}
	entries := make([]vector.Entry, len(subs))
	for i, s := range subs {
		entries[i] = vector.Entry{ID: s.ID, ParentID: s.ParentID, Vector: s.Embedding}
	}
	if err := idx.vectorIndex.Upsert(ctx, entries); err != nil {
		return true, 0, fmt.Errorf("failed to index vectors: %w", err)
	}
	if idx.logger != nil {
		idx.logger.Debug("indexer document indexed",
			zap.String("id", doc.ID),
			zap.Int("parents", len(set.Parents)),
			zap.Int("sub_chunks", len(subs)))
	}
	return true, len(subs), nil
}

// droppedIDs returns the old sub-chunk ids that the new chunk set no longer has.
func droppedIDs(oldIDs []string, subs []*models.SubChunk) []string {
	keep := make(map[string]bool, len(subs))
	for _, s := range subs {
		keep[s.ID] = true
	}
	var out []string
	for _, id := range oldIDs {
		if !keep[id] {
			out = append(out, id)
		}
	}
	return out
}

func unchanged(existing, doc *models.Document) bool {
	return existing.ContentHash == doc.ContentHash &&
		existing.Title == doc.Title &&
		existing.Metadata[metaKeyCollection] == doc.Metadata[metaKeyCollection]
}

func (idx *Indexer) embed(ctx context.Context, subs []*models.SubChunk) error {
	for start := 0; start < len(subs); start += embedBatchSize {
		end := min(start+embedBatchSize, len(subs))
		texts := make([]string, end-start)
		for i, s := range subs[start:end] {
			texts[i] = s.EmbedText
		}
		vecs, err := idx.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("failed to generate embeddings: %w", err)
		}
		if len(vecs) != len(texts) {
			return fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
		}
		for i, v := range vecs {
			subs[start+i].Embedding = v
		}
	}
	return nil
}

// finishRun rebuilds the lexical index and persists vectors. Caller holds mu.
func (idx *Indexer) finishRun(ctx context.Context) error {
	if err := idx.rebuildLexical(ctx); err != nil {
		return err
	}
	if idx.vectorPath != "" {
		if err := idx.vectorIndex.Save(idx.vectorPath); err != nil {
			return fmt.Errorf("failed to save vector index: %w", err)
		}
	}
	return nil
}

// RebuildLexical rebuilds the lexical index from the chunk store.
func (idx *Indexer) RebuildLexical(ctx context.Context) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.rebuildLexical(ctx)
}

func (idx *Indexer) rebuildLexical(ctx context.Context) error {
	var docs []keyword.Doc
	err := idx.storage.EachSubChunk(ctx, func(s *models.SubChunk) error {
		docs = append(docs, keyword.Doc{ID: s.ID, ParentID: s.ParentID, Text: s.EmbedText})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to read sub-chunks: %w", err)
	}
	if err := idx.lexicalIndex.Rebuild(ctx, docs); err != nil {
		return fmt.Errorf("failed to rebuild lexical index: %w", err)
	}
	if idx.logger != nil {
		idx.logger.Debug("indexer lexical index rebuilt", zap.Int("sub_chunks", len(docs)))
	}
	return nil
}

// Restore brings the in-memory indexes in line with the chunk store at startup: vectors are
// loaded from disk (and re-embedded if the file is missing or stale) and the lexical index
// is rebuilt when it is empty.
func (idx *Indexer) Restore(ctx context.Context) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	count, err := idx.storage.CountSubChunks(ctx)
	if err != nil {
		return fmt.Errorf("failed to count sub-chunks: %w", err)
	}
	if idx.vectorPath != "" {
		if err := idx.vectorIndex.Load(idx.vectorPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			if idx.logger != nil {
				idx.logger.Warn("vector index unreadable, re-embedding", zap.Error(err))
			}
		}
	}
	if int64(idx.vectorIndex.Size()) != count {
		if err := idx.reembedAll(ctx); err != nil {
			return err
		}
		if idx.vectorPath != "" {
			if err := idx.vectorIndex.Save(idx.vectorPath); err != nil {
				return fmt.Errorf("failed to save vector index: %w", err)
			}
		}
	}
	n, err := idx.lexicalIndex.DocCount()
	if err != nil {
		return fmt.Errorf("failed to read lexical index: %w", err)
	}
	if int64(n) != count {
		return idx.rebuildLexical(ctx)
	}
	return nil
}

func (idx *Indexer) reembedAll(ctx context.Context) error {
	var subs []*models.SubChunk
	if err := idx.storage.EachSubChunk(ctx, func(s *models.SubChunk) error {
		subs = append(subs, s)
		return nil
	}); err != nil {
		return fmt.Errorf("failed to read sub-chunks: %w", err)
	}
	if idx.logger != nil {
		idx.logger.Info("re-embedding sub-chunks", zap.Int("count", len(subs)))
	}
	if err := idx.embed(ctx, subs); err != nil {
		return err
	}
	entries := make([]vector.Entry, len(subs))
	for i, s := range subs {
		entries[i] = vector.Entry{ID: s.ID, ParentID: s.ParentID, Vector: s.Embedding}
	}
	return idx.vectorIndex.Upsert(ctx, entries)
}

const (
	metaKeySourcePath  = "source_path"
	metaKeySourceMtime = "source_mtime"
	metaKeySourceSize  = "source_size"
	metaKeyCollection  = "collection"
)

// IndexFile reads a file from path and indexes it as its own run. The document ID is derived
// from the absolute path so re-indexing updates the same document. If allowedExts is non-empty,
// the file's extension must be in the list (case-insensitive).
func (idx *Indexer) IndexFile(ctx context.Context, path string, allowedExts []string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("absolute path: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(absPath))
	if len(allowedExts) > 0 && !extensionAllowed(ext, allowedExts) {
		return fmt.Errorf("extension %q not in allowed list", ext)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("not a regular file: %s", absPath)
	}
	_, err = idx.IndexFiles(ctx, []string{absPath}, nil)
	return err
}

// IndexFiles extracts and ingests the given files in one run. Files that cannot be read
// or extracted are logged and skipped. A file below one of roots gets the collection named
// by its first subdirectory.
func (idx *Indexer) IndexFiles(ctx context.Context, paths []string, roots []string) (*RunStats, error) {
	inputs := make([]*models.DocumentInput, 0, len(paths))
	for _, path := range paths {
		input, err := idx.fileInput(ctx, path, roots)
		if err != nil {
			if len(paths) == 1 {
				return nil, err
			}
			if idx.logger != nil {
				idx.logger.Warn("indexer skipping file", zap.String("path", path), zap.Error(err))
			}
			continue
		}
		if input != nil {
			inputs = append(inputs, input)
		}
	}
	return idx.Index(ctx, inputs)
}

// fileInput builds the ingestion input for path, or nil when mtime and size are unchanged.
func (idx *Indexer) fileInput(ctx context.Context, path string, roots []string) (*models.DocumentInput, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	docID := fileid.FileDocID(absPath)
	if idx.sameFile(ctx, absPath, docID, info) {
		if idx.logger != nil {
			idx.logger.Debug("indexer skipping unchanged file", zap.String("path", absPath))
		}
		return nil, nil
	}
	text, err := idx.extractContent(absPath)
	if err != nil {
		return nil, fmt.Errorf("extract content: %w", err)
	}
	metadata := map[string]string{
		metaKeySourcePath:  absPath,
		metaKeySourceMtime: strconv.FormatInt(info.ModTime().UnixNano(), 10),
		metaKeySourceSize:  strconv.FormatInt(info.Size(), 10),
	}
	if c := fileid.Collection(roots, absPath); c != "" {
		metadata[metaKeyCollection] = c
	}
	return &models.DocumentInput{
		ID:       docID,
		Title:    HumanizeTitle(absPath),
		Content:  text,
		Metadata: metadata,
	}, nil
}

// sameFile reports whether the file is already indexed with the same mtime and size.
func (idx *Indexer) sameFile(ctx context.Context, absPath, docID string, info os.FileInfo) bool {
	doc, err := idx.storage.GetDocument(ctx, docID)
	if err != nil || doc.Metadata == nil {
		return false
	}
	return doc.Metadata[metaKeySourcePath] == absPath &&
		doc.Metadata[metaKeySourceMtime] == strconv.FormatInt(info.ModTime().UnixNano(), 10) &&
		doc.Metadata[metaKeySourceSize] == strconv.FormatInt(info.Size(), 10)
}

// IndexDirectory walks dir recursively and ingests every regular file whose extension is in
// allowedExts (all files when empty) as a single run.
func (idx *Indexer) IndexDirectory(ctx context.Context, dir string, allowedExts []string) (*RunStats, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return nil, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", absDir)
	}
	var paths []string
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if len(allowedExts) > 0 && !extensionAllowed(ext, allowedExts) {
			return nil
		}
		// Resolve symlinks so we only index regular files
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return idx.IndexFiles(ctx, paths, []string{absDir})
}

func (idx *Indexer) extractContent(path string) (string, error) {
	if idx.extractor != nil {
		return idx.extractor.Extract(path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}

// DeleteDocument removes a document from storage and both indexes. Deleting an unknown id
// returns storage.ErrNotFound.
func (idx *Indexer) DeleteDocument(ctx context.Context, id string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.deleteDocuments(ctx, []string{id})
}

// DeletePaths removes the documents indexed from the given files as one run. Paths that were
// never indexed are ignored.
func (idx *Indexer) DeletePaths(ctx context.Context, paths []string) (*RunStats, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var ids []string
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		id := fileid.FileDocID(abs)
		if _, err := idx.storage.GetDocument(ctx, id); err == nil {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return &RunStats{}, nil
	}
	if err := idx.deleteDocuments(ctx, ids); err != nil {
		return nil, err
	}
	return &RunStats{Deleted: len(ids)}, nil
}

func (idx *Indexer) deleteDocuments(ctx context.Context, ids []string) error {
	for i, id := range ids {
		touched, err := idx.deleteOne(ctx, id)
		if err != nil {
			if touched || i > 0 {
				err = errors.Join(err, idx.finishRun(context.WithoutCancel(ctx)))
			}
			return err
		}
	}
	return idx.finishRun(ctx)
}

// deleteOne reports whether it changed an index before failing.
func (idx *Indexer) deleteOne(ctx context.Context, id string) (bool, error) {
	if _, err := idx.storage.GetDocument(ctx, id); err != nil {
		return false, err
	}
	subIDs, err := idx.storage.SubChunkIDsByDocument(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to get sub-chunks: %w", err)
	}
	if err := idx.vectorIndex.Remove(ctx, subIDs); err != nil {
		return true, fmt.Errorf("failed to delete from vector index: %w", err)
	}
	if err := idx.lexicalIndex.Remove(ctx, subIDs); err != nil {
		return true, fmt.Errorf("failed to delete from lexical index: %w", err)
	}
	if err := idx.storage.DeleteDocument(ctx, id); err != nil {
		return true, fmt.Errorf("failed to delete document: %w", err)
	}
	if idx.logger != nil {
		idx.logger.Debug("indexer document deleted", zap.String("id", id))
	}
	return false, nil
}
