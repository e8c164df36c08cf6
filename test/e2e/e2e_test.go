package e2e

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/soudan/internal/config"
	"github.com/hyperjump/soudan/internal/consultation"
	"github.com/hyperjump/soudan/internal/domain"
	"github.com/hyperjump/soudan/internal/embedding"
	"github.com/hyperjump/soudan/internal/extract"
	"github.com/hyperjump/soudan/internal/fileid"
	"github.com/hyperjump/soudan/internal/indexer"
	"github.com/hyperjump/soudan/internal/keyword"
	"github.com/hyperjump/soudan/internal/llm"
	"github.com/hyperjump/soudan/internal/models"
	"github.com/hyperjump/soudan/internal/ranking"
	"github.com/hyperjump/soudan/internal/search"
	"github.com/hyperjump/soudan/internal/storage"
	"github.com/hyperjump/soudan/internal/vector"
)

const (
	e2eTopK       = 10
	e2eDimensions = 4
)

// stack is the retrieval pipeline wired the way the server wires it.
type stack struct {
	store   *storage.SQLiteStorage
	engine  *search.Engine
	indexer *indexer.Indexer
	cfg     *config.Config
}

func newStack(t *testing.T, extractor *extract.Extractor) *stack {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Storage.DatabasePath = filepath.Join(dir, "db.sqlite")
	cfg.Storage.BleveIndexPath = filepath.Join(dir, "bleve")
	cfg.Embedding.Dimensions = e2eDimensions
	cfg.Chunking.AuthorityWeights = map[string]float64{"standards": 1.3, "catalogs": 1.1, "field-notes": 1.0}

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	embedder := embedding.NewCachedEmbedder(embedding.NewMockEmbedder(e2eDimensions), 500)
	t.Cleanup(func() { embedder.Close() })

	vecIndex, err := vector.NewMemoryIndex(e2eDimensions)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { vecIndex.Close() })

	kwIndex, err := keyword.NewBleveIndex(cfg.Storage.BleveIndexPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { kwIndex.Close() })

	rc := &cfg.Search.RankingConfig
	ranker := ranking.NewRanker(rc, ranking.WithReranker(ranking.NewLexicalReranker(rc)))
	chunker := indexer.NewChunker(indexer.ChunkerConfig{
		ParentSize:       cfg.Chunking.ParentSize,
		ParentOverlap:    cfg.Chunking.ParentOverlap,
		MaxParentSize:    cfg.Chunking.MaxParentSize,
		ChildSize:        cfg.Chunking.ChildSize,
		ChildOverlap:     cfg.Chunking.ChildOverlap,
		AuthorityWeights: cfg.Chunking.AuthorityWeights,
	})
	return &stack{
		store:   store,
		engine:  search.NewEngine(store, embedder, vecIndex, kwIndex, ranker, &cfg.Search),
		indexer: indexer.NewIndexer(store, embedder, vecIndex, kwIndex, chunker, extractor),
		cfg:     cfg,
	}
}

func TestE2E_SearchReturnsCorrectResults(t *testing.T) {
	s := newStack(t, nil)
	ctx := context.Background()

	corpus := BuildCorpus()
	if corpus.TotalDocs == 0 || corpus.TotalQueries == 0 {
		t.Fatal("empty corpus")
	}
	stats, err := s.indexer.Index(ctx, corpus.ToDocumentInputs())
	if err != nil {
		t.Fatalf("index corpus: %v", err)
	}
	if stats.Indexed != corpus.TotalDocs {
		t.Fatalf("indexed %d of %d documents", stats.Indexed, corpus.TotalDocs)
	}
	t.Logf("indexed %d documents (%d sub-chunks); running %d query test cases",
		stats.Indexed, stats.SubChunks, corpus.TotalQueries)

	for _, tc := range corpus.TestCases {
		t.Run(tc.Description, func(t *testing.T) {
			resp, err := s.engine.Search(ctx, &models.SearchQuery{Query: tc.Query, TopK: e2eTopK})
			if err != nil {
				t.Fatalf("search failed: %v", err)
			}
			ids := documentIDsFromResponse(resp)
			if !containsAny(ids, tc.ExpectedDocIDs) {
				t.Errorf("query %q: expected one of %v, got %v", tc.Query, tc.ExpectedDocIDs, ids)
			}
			if tc.Identifier && (strings.HasPrefix(tc.Query, "ISO") || strings.HasPrefix(tc.Query, "HF-")) && !resp.IdentifierQuery {
				t.Errorf("query %q should be treated as an identifier query", tc.Query)
			}
			for i, r := range resp.Results {
				if r.Rank != i+1 {
					t.Errorf("result %d has rank %d", i, r.Rank)
				}
			}
		})
	}
}

func TestE2E_ReindexIsNoOp(t *testing.T) {
	s := newStack(t, nil)
	ctx := context.Background()
	inputs := BuildCorpus().ToDocumentInputs()

	if _, err := s.indexer.Index(ctx, inputs); err != nil {
		t.Fatal(err)
	}
	before, err := s.store.CountSubChunks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	stats, err := s.indexer.Index(ctx, BuildCorpus().ToDocumentInputs())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Indexed != 0 || stats.Unchanged != len(inputs) {
		t.Errorf("second run: got %+v", stats)
	}
	after, err := s.store.CountSubChunks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if before != after {
		t.Errorf("sub-chunk count changed from %d to %d", before, after)
	}
}

func TestE2E_CollectionFilter(t *testing.T) {
	s := newStack(t, nil)
	ctx := context.Background()
	if _, err := s.indexer.Index(ctx, BuildCorpus().ToDocumentInputs()); err != nil {
		t.Fatal(err)
	}
	resp, err := s.engine.Search(ctx, &models.SearchQuery{
		Query:   "servo valves beta 200 pressure filter",
		TopK:    e2eTopK,
		Filters: map[string]string{"collection": "field-notes"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) == 0 {
		t.Fatal("expected field notes to match")
	}
	for _, r := range resp.Results {
		if got := r.Parent.Metadata["collection"]; got != "field-notes" {
			t.Errorf("result from collection %q passed the filter", got)
		}
	}
}

// TestE2E_FileIndexingSearch writes the corpus as files of every supported type, one
// subdirectory per collection, ingests the tree and runs the phrase queries against it.
func TestE2E_FileIndexingSearch(t *testing.T) {
	docDir := filepath.Join(t.TempDir(), "docs")
	corpus := BuildCorpus()
	exts := SupportedFileExtensions
	corpusToFileID := make(map[string]string)
	for i, d := range corpus.Documents {
		ext := exts[i%len(exts)]
		path := filepath.Join(docDir, d.Collection, d.ID+ext)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		data, err := WriteMinimalFile(ext, d.Content)
		if err != nil {
			t.Fatalf("write minimal file %s: %v", path, err)
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			t.Fatal(err)
		}
		absPath, _ := filepath.Abs(path)
		corpusToFileID[d.ID] = fileid.FileDocID(absPath)
	}

	s := newStack(t, extract.NewExtractor())
	ctx := context.Background()
	stats, err := s.indexer.IndexDirectory(ctx, docDir, SupportedFileExtensions)
	if err != nil {
		t.Fatalf("index directory: %v", err)
	}
	if stats.Indexed != corpus.TotalDocs {
		t.Fatalf("expected %d files indexed, got %d", corpus.TotalDocs, stats.Indexed)
	}

	for _, d := range corpus.Documents {
		doc, err := s.store.GetDocument(ctx, corpusToFileID[d.ID])
		if err != nil {
			t.Fatalf("document for %s: %v", d.ID, err)
		}
		if got := doc.Metadata["collection"]; got != d.Collection {
			t.Errorf("%s: collection %q, want %q", d.ID, got, d.Collection)
		}
	}

	var run int
	for _, tc := range corpus.TestCases {
		if tc.Identifier {
			continue
		}
		var expected []string
		for _, id := range tc.ExpectedDocIDs {
			expected = append(expected, corpusToFileID[id])
		}
		run++
		t.Run(tc.Description, func(t *testing.T) {
			resp, err := s.engine.Search(ctx, &models.SearchQuery{Query: tc.Query, TopK: e2eTopK})
			if err != nil {
				t.Fatalf("search failed: %v", err)
			}
			if ids := documentIDsFromResponse(resp); !containsAny(ids, expected) {
				t.Errorf("query %q: expected one of %v, got %v", tc.Query, expected, ids)
			}
		})
	}
	t.Logf("ran %d query test cases against %d files", run, corpus.TotalDocs)
}

// TestE2E_Consultation runs a session from the first message to the grounded answer over the
// corpus, with a scripted generator standing in for the model.
func TestE2E_Consultation(t *testing.T) {
	s := newStack(t, nil)
	ctx := context.Background()
	if _, err := s.indexer.Index(ctx, BuildCorpus().ToDocumentInputs()); err != nil {
		t.Fatal(err)
	}
	reg, err := domain.Load(filepath.Join("..", "..", "configs", "domains"), "filtration")
	if err != nil {
		t.Fatal(err)
	}
	gen := llm.NewMockGenerator(
		llm.MockResponse{Text: "Which pressure and which valves are affected?"},
		llm.MockResponse{Text: "Thanks, that is enough." +
			`<consultation_signal><ready>true</ready><refined_query>sticking servo valves after pump replacement beta 200 pressure filter</refined_query><application_domain>hydraulic</application_domain></consultation_signal>`},
		llm.MockResponse{Text: "<chat_summary>Flush the circuit and fit a β200 pressure filter [1].</chat_summary><full_report>Built-in contamination from the pump change is the likely cause [1].</full_report>"},
	)
	consultant := consultation.NewConsultant(s.store, s.engine, gen, reg,
		consultation.ConfigFrom(&s.cfg.Consultation, &s.cfg.Confidence))

	sess, err := consultant.CreateSession(ctx, "", "")
	if err != nil {
		t.Fatal(err)
	}
	var events []consultation.Event
	emit := func(ev consultation.Event) error {
		events = append(events, ev)
		return nil
	}
	for _, msg := range []string{
		"Our servo valves keep sticking since the pump was replaced.",
		"3000 psi, proportional and servo valves on the press, VG46.",
	} {
		if err := consultant.Turn(ctx, sess.ID, consultation.TurnRequest{Content: msg}, emit); err != nil {
			t.Fatalf("turn %q: %v", msg, err)
		}
	}

	stored, err := s.store.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Phase != models.PhaseAnswering {
		t.Fatalf("phase: got %q", stored.Phase)
	}
	last := stored.Exchanges[len(stored.Exchanges)-1]
	if last.FullReport == "" {
		t.Error("expected the full report to be stored")
	}
	if len(last.ParentIDs) == 0 {
		t.Fatal("expected retrieved context on the answer")
	}
	parent, err := s.store.GetParent(ctx, last.ParentIDs[0])
	if err != nil {
		t.Fatal(err)
	}
	if parent.Content == "" {
		t.Errorf("parent %s has no content", parent.ID)
	}

	var complete int
	for _, ev := range events {
		if ev.Type == consultation.EventComplete {
			complete++
		}
	}
	if complete != 2 {
		t.Errorf("expected one complete event per turn, got %d", complete)
	}
}

func documentIDsFromResponse(resp *models.SearchResponse) []string {
	ids := make([]string, 0, len(resp.Results))
	for _, r := range resp.Results {
		ids = append(ids, r.Source())
	}
	return ids
}

func containsAny(got []string, expected []string) bool {
	set := make(map[string]bool)
	for _, id := range got {
		set[id] = true
	}
	for _, id := range expected {
		if set[id] {
			return true
		}
	}
	return false
}
