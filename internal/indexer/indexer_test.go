package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/soudan/internal/embedding"
	"github.com/hyperjump/soudan/internal/extract"
	"github.com/hyperjump/soudan/internal/fileid"
	"github.com/hyperjump/soudan/internal/keyword"
	"github.com/hyperjump/soudan/internal/models"
	"github.com/hyperjump/soudan/internal/storage"
	"github.com/hyperjump/soudan/internal/vector"
	"github.com/xuri/excelize/v2"
)

func TestExtensionAllowed(t *testing.T) {
	tests := []struct {
		ext     string
		allowed []string
		want    bool
	}{
		{".txt", []string{".txt", ".md"}, true},
		{".TXT", []string{".txt"}, true},
		{".md", []string{".txt", ".md"}, true},
		{".go", []string{".txt"}, false},
		{"", []string{".txt"}, false},
		{".rst", []string{".txt", ".md", ".rst"}, true},
	}
	for _, tt := range tests {
		got := extensionAllowed(tt.ext, tt.allowed)
		if got != tt.want {
			t.Errorf("extensionAllowed(%q, %v) = %v, want %v", tt.ext, tt.allowed, got, tt.want)
		}
	}
}

type testEnv struct {
	idx     *Indexer
	store   *storage.SQLiteStorage
	vectors *vector.MemoryIndex
	lexical keyword.LexicalIndex
	emb     *countingEmbedder
}

// countingEmbedder counts how many texts reach the embedder.
type countingEmbedder struct {
	*embedding.MockEmbedder
	texts int
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.texts += len(texts)
	return c.MockEmbedder.EmbedBatch(ctx, texts)
}

func newTestEnv(t *testing.T, dir string, extractor *extract.Extractor) *testEnv {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "db.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	emb := &countingEmbedder{MockEmbedder: embedding.NewMockEmbedder(8)}
	vecIndex, err := vector.NewMemoryIndex(8)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = vecIndex.Close() })
	lex := keyword.NewBM25Index()
	chunker := NewChunker(ChunkerConfig{ParentSize: 200, ParentOverlap: 20, ChildSize: 60, ChildOverlap: 10})
	idx := NewIndexer(store, emb, vecIndex, lex, chunker, extractor,
		WithVectorPath(filepath.Join(dir, "vectors.bin")))
	return &testEnv{idx: idx, store: store, vectors: vecIndex, lexical: lex, emb: emb}
}

func mustAbs(path string) string {
	a, err := filepath.Abs(path)
	if err != nil {
		panic(err)
	}
	return a
}

func TestIndex_Idempotent(t *testing.T) {
	env := newTestEnv(t, t.TempDir(), nil)
	ctx := context.Background()
	input := func() *models.DocumentInput {
		return &models.DocumentInput{ID: "guide", Title: "Guide", Content: "## Pumps\n\nGear pumps need 10 µm filtration.\n\n## Valves\n\nServo valves need ISO 4406 16/14/11."}
	}

	stats, err := env.idx.Index(ctx, []*models.DocumentInput{input()})
	if err != nil {
		t.Fatal(err)
	}
	if stats.Indexed != 1 || stats.SubChunks == 0 {
		t.Fatalf("unexpected first run stats: %+v", stats)
	}
	subs, _ := env.store.CountSubChunks(ctx)
	vecs := env.vectors.Size()
	lex, _ := env.lexical.DocCount()
	embedded := env.emb.texts

	stats, err = env.idx.Index(ctx, []*models.DocumentInput{input()})
	if err != nil {
		t.Fatal(err)
	}
	if stats.Unchanged != 1 || stats.Indexed != 0 {
		t.Fatalf("unchanged document was re-indexed: %+v", stats)
	}
	subs2, _ := env.store.CountSubChunks(ctx)
	lex2, _ := env.lexical.DocCount()
	if subs2 != subs || env.vectors.Size() != vecs || lex2 != lex {
		t.Errorf("counts changed on re-ingestion: subs %d->%d vectors %d->%d lexical %d->%d",
			subs, subs2, vecs, env.vectors.Size(), lex, lex2)
	}
	if env.emb.texts != embedded {
		t.Errorf("re-ingestion embedded %d texts", env.emb.texts-embedded)
	}
	if int64(vecs) != subs || int64(lex) != subs {
		t.Errorf("indexes out of step with store: store=%d vectors=%d lexical=%d", subs, vecs, lex)
	}
}

func TestIndex_ReplaceShrinksIndexes(t *testing.T) {
	env := newTestEnv(t, t.TempDir(), nil)
	ctx := context.Background()

	long := ""
	for i := 0; i < 30; i++ {
		long += "The return filter protects the pump from wear particles. "
	}
	if _, err := env.idx.IndexDocument(ctx, &models.DocumentInput{ID: "d", Content: long}); err != nil {
		t.Fatal(err)
	}
	before := env.vectors.Size()

	if _, err := env.idx.IndexDocument(ctx, &models.DocumentInput{ID: "d", Content: "Short replacement text."}); err != nil {
		t.Fatal(err)
	}
	if env.vectors.Size() >= before || env.vectors.Size() != 1 {
		t.Errorf("stale vectors left behind: before=%d after=%d", before, env.vectors.Size())
	}
	hits, err := env.lexical.Search(ctx, "wear", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("lexical index still returns replaced text: %v", hits)
	}
}

// refusingEmbedder fails any batch that contains marker.
type refusingEmbedder struct {
	*embedding.MockEmbedder
	marker string
}

func (r refusingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	for _, text := range texts {
		if strings.Contains(text, r.marker) {
			return nil, errors.New("embedder refused input")
		}
	}
	return r.MockEmbedder.EmbedBatch(ctx, texts)
}

func TestIndex_FailedRunKeepsIndexesInStep(t *testing.T) {
	env := newTestEnv(t, t.TempDir(), nil)
	ctx := context.Background()
	twoSections := "## Pumps\n\nGear pumps need 10 µm filtration.\n\n## Valves\n\nServo valve spools need ISO 4406 16/14/11."
	if _, err := env.idx.Index(ctx, []*models.DocumentInput{{ID: "guide", Title: "Guide", Content: twoSections}}); err != nil {
		t.Fatal(err)
	}

	idx := NewIndexer(env.store, refusingEmbedder{MockEmbedder: embedding.NewMockEmbedder(8), marker: "unembeddable"},
		env.vectors, env.lexical, NewChunker(ChunkerConfig{ParentSize: 200, ParentOverlap: 20, ChildSize: 60, ChildOverlap: 10}), nil)
	stats, err := idx.Index(ctx, []*models.DocumentInput{
		{ID: "guide", Title: "Guide", Content: "## Pumps\n\nGear pumps need 10 µm filtration."},
		{ID: "broken", Title: "Broken", Content: "This text is unembeddable."},
	})
	if err == nil {
		t.Fatal("expected the run to fail")
	}
	if stats.Indexed != 1 {
		t.Errorf("expected the guide to be written before the failure, got %+v", stats)
	}

	subs, _ := env.store.CountSubChunks(ctx)
	lex, _ := env.lexical.DocCount()
	if int64(lex) != subs || int64(env.vectors.Size()) != subs {
		t.Errorf("indexes out of step with store: store=%d vectors=%d lexical=%d", subs, env.vectors.Size(), lex)
	}
	hits, err := env.lexical.Search(ctx, "spools", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("lexical index still holds the removed section: %v", hits)
	}
	if _, err := env.store.GetDocument(ctx, "broken"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("refused document was stored: %v", err)
	}
}

func TestDroppedIDs(t *testing.T) {
	subs := []*models.SubChunk{{ID: "d::child::0::0"}, {ID: "d::child::0::1"}}
	got := droppedIDs([]string{"d::child::0::0", "d::child::0::1", "d::child::1::0"}, subs)
	if len(got) != 1 || got[0] != "d::child::1::0" {
		t.Errorf("droppedIDs = %v", got)
	}
	if got := droppedIDs(nil, subs); len(got) != 0 {
		t.Errorf("droppedIDs(nil) = %v", got)
	}
}

func TestIndexDocument_GeneratesID(t *testing.T) {
	env := newTestEnv(t, t.TempDir(), nil)
	id, err := env.idx.IndexDocument(context.Background(), &models.DocumentInput{Content: "Untitled note."})
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("expected generated id")
	}
	doc, err := env.store.GetDocument(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Title != id {
		t.Errorf("title should default to id, got %q", doc.Title)
	}
}

func TestIndexFile_createAndUpdate(t *testing.T) {
	dir := t.TempDir()
	env := newTestEnv(t, dir, nil)
	ctx := context.Background()

	fPath := filepath.Join(dir, "oil_analysis.txt")
	if err := os.WriteFile(fPath, []byte("Hello world content."), 0600); err != nil {
		t.Fatal(err)
	}
	if err := env.idx.IndexFile(ctx, fPath, []string{".txt", ".md"}); err != nil {
		t.Fatal(err)
	}
	docID := fileid.FileDocID(mustAbs(fPath))
	doc, err := env.store.GetDocument(ctx, docID)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Title != "Oil Analysis" {
		t.Errorf("unexpected title: %q", doc.Title)
	}
	if doc.Metadata["source_path"] != mustAbs(fPath) {
		t.Errorf("metadata source_path: got %v", doc.Metadata["source_path"])
	}
	firstHash := doc.ContentHash

	if err := os.WriteFile(fPath, []byte("Updated content that is longer."), 0600); err != nil {
		t.Fatal(err)
	}
	if err := env.idx.IndexFile(ctx, fPath, []string{".txt"}); err != nil {
		t.Fatal(err)
	}
	doc2, err := env.store.GetDocument(ctx, docID)
	if err != nil {
		t.Fatal(err)
	}
	if doc2.ContentHash == firstHash {
		t.Error("content hash should change after update")
	}
	parent, err := env.store.GetParent(ctx, ParentID(docID, 0))
	if err != nil {
		t.Fatal(err)
	}
	if parent.Content != "Updated content that is longer." {
		t.Errorf("after update: content=%q", parent.Content)
	}
}

func TestIndexFile_extensionFiltered(t *testing.T) {
	dir := t.TempDir()
	env := newTestEnv(t, dir, nil)

	fPath := filepath.Join(dir, "script.sh")
	if err := os.WriteFile(fPath, []byte("#!/bin/bash"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := env.idx.IndexFile(context.Background(), fPath, []string{".txt", ".md"}); err == nil {
		t.Error("expected error for disallowed extension")
	}
}

func TestDeleteDocument(t *testing.T) {
	dir := t.TempDir()
	env := newTestEnv(t, dir, nil)
	ctx := context.Background()

	fPath := filepath.Join(dir, "note.md")
	if err := os.WriteFile(fPath, []byte("Note content about bypass valves."), 0600); err != nil {
		t.Fatal(err)
	}
	if err := env.idx.IndexFile(ctx, fPath, nil); err != nil {
		t.Fatal(err)
	}
	docID := fileid.FileDocID(mustAbs(fPath))
	if err := env.idx.DeleteDocument(ctx, docID); err != nil {
		t.Fatal(err)
	}
	if _, err := env.store.GetDocument(ctx, docID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("document should be deleted, got %v", err)
	}
	if env.vectors.Size() != 0 {
		t.Errorf("vectors left after delete: %d", env.vectors.Size())
	}
	if n, _ := env.lexical.DocCount(); n != 0 {
		t.Errorf("lexical entries left after delete: %d", n)
	}
	if err := env.idx.DeleteDocument(ctx, docID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("deleting twice should return ErrNotFound, got %v", err)
	}
}

func TestDeletePaths(t *testing.T) {
	dir := t.TempDir()
	env := newTestEnv(t, dir, nil)
	ctx := context.Background()

	fPath := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(fPath, []byte("file a"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := env.idx.IndexFile(ctx, fPath, nil); err != nil {
		t.Fatal(err)
	}
	stats, err := env.idx.DeletePaths(ctx, []string{fPath, filepath.Join(dir, "never-indexed.txt")})
	if err != nil {
		t.Fatal(err)
	}
	if stats.Deleted != 1 {
		t.Errorf("Deleted = %d, want 1", stats.Deleted)
	}
}

func TestIndexFile_notRegularFile(t *testing.T) {
	dir := t.TempDir()
	env := newTestEnv(t, dir, nil)
	if err := env.idx.IndexFile(context.Background(), dir, []string{".txt"}); err == nil {
		t.Error("expected error for directory")
	}
}

func TestIndexFile_nonexistent(t *testing.T) {
	dir := t.TempDir()
	env := newTestEnv(t, dir, nil)
	if err := env.idx.IndexFile(context.Background(), filepath.Join(dir, "missing.txt"), nil); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestIndexFile_excelWithExtractor(t *testing.T) {
	dir := t.TempDir()
	env := newTestEnv(t, dir, extract.NewExtractor())

	fPath := filepath.Join(dir, "data.xlsx")
	f := excelize.NewFile()
	f.SetCellValue("Sheet1", "A1", "Excel searchable content")
	if err := f.SaveAs(fPath); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}
	f.Close()

	ctx := context.Background()
	if err := env.idx.IndexFile(ctx, fPath, []string{".xlsx", ".txt"}); err != nil {
		t.Fatalf("IndexFile: %v", err)
	}
	hits, err := env.lexical.Search(ctx, "searchable", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) == 0 {
		t.Fatal("expected the sheet text to be searchable")
	}
	parent, err := env.store.GetParent(ctx, hits[0].ParentID)
	if err != nil {
		t.Fatal(err)
	}
	if parent.SectionPath != "Sheet1" {
		t.Errorf("sheet should become a section, got %q", parent.SectionPath)
	}
}

func TestIndexDirectory(t *testing.T) {
	dir := t.TempDir()
	env := newTestEnv(t, dir, nil)
	ctx := context.Background()

	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}
	for path, body := range map[string]string{
		filepath.Join(dir, "a.txt"):    "file a",
		filepath.Join(dir, "b.txt"):    "file b",
		filepath.Join(sub, "c.txt"):    "file c",
		filepath.Join(dir, "skip.xyz"): "skip",
	} {
		if err := os.WriteFile(path, []byte(body), 0600); err != nil {
			t.Fatal(err)
		}
	}

	stats, err := env.idx.IndexDirectory(ctx, dir, []string{".txt"})
	if err != nil {
		t.Fatalf("IndexDirectory: %v", err)
	}
	if stats.Indexed != 3 {
		t.Errorf("IndexDirectory: indexed %d files, want 3", stats.Indexed)
	}
	doc, err := env.store.GetDocument(ctx, fileid.FileDocID(filepath.Join(sub, "c.txt")))
	if err != nil {
		t.Fatal(err)
	}
	if doc.Metadata["collection"] != "sub" {
		t.Errorf("collection: got %q, want sub", doc.Metadata["collection"])
	}
	top, err := env.store.GetDocument(ctx, fileid.FileDocID(filepath.Join(dir, "a.txt")))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := top.Metadata["collection"]; ok {
		t.Errorf("file in root should have no collection, got %q", top.Metadata["collection"])
	}

	// second pass: mtime and size unchanged, nothing re-read
	stats, err = env.idx.IndexDirectory(ctx, dir, []string{".txt"})
	if err != nil {
		t.Fatal(err)
	}
	if stats.Indexed != 0 {
		t.Errorf("second pass re-indexed %d files", stats.Indexed)
	}
}

func TestRestore(t *testing.T) {
	dir := t.TempDir()
	env := newTestEnv(t, dir, nil)
	ctx := context.Background()
	if _, err := env.idx.IndexDocument(ctx, &models.DocumentInput{ID: "d", Content: "Cold start viscosity limits."}); err != nil {
		t.Fatal(err)
	}

	// a fresh process: empty in-memory indexes over the same store and vector file
	vecs, err := vector.NewMemoryIndex(8)
	if err != nil {
		t.Fatal(err)
	}
	lex := keyword.NewBM25Index()
	idx := NewIndexer(env.store, embedding.NewMockEmbedder(8), vecs, lex, nil, nil,
		WithVectorPath(filepath.Join(dir, "vectors.bin")))
	if err := idx.Restore(ctx); err != nil {
		t.Fatal(err)
	}
	if vecs.Size() != env.vectors.Size() {
		t.Errorf("restored %d vectors, want %d", vecs.Size(), env.vectors.Size())
	}
	if n, _ := lex.DocCount(); int(n) != env.vectors.Size() {
		t.Errorf("lexical index not rebuilt: %d", n)
	}
}
