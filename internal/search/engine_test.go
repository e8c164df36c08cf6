package search

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/soudan/internal/config"
	"github.com/hyperjump/soudan/internal/embedding"
	"github.com/hyperjump/soudan/internal/indexer"
	"github.com/hyperjump/soudan/internal/keyword"
	"github.com/hyperjump/soudan/internal/models"
	"github.com/hyperjump/soudan/internal/ranking"
	"github.com/hyperjump/soudan/internal/storage"
	"github.com/hyperjump/soudan/internal/vector"
)

var topics = []string{"pump", "valve", "viscosity", "cooler"}

// topicEmbedder maps text to normalized counts of a few topic words, so similarities are
// predictable. Text without topic words embeds to the zero vector.
type topicEmbedder struct{}

func (topicEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	lower := strings.ToLower(text)
	v := make([]float32, len(topics))
	var norm float64
	for i, t := range topics {
		v[i] = float32(strings.Count(lower, t))
		norm += float64(v[i] * v[i])
	}
	if norm > 0 {
		for i := range v {
			v[i] /= float32(math.Sqrt(norm))
		}
	}
	return v, nil
}

func (e topicEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = e.Embed(ctx, t)
	}
	return out, nil
}

func (topicEmbedder) Dimensions() int { return len(topics) }
func (topicEmbedder) Close() error    { return nil }

type failingEmbedder struct{ topicEmbedder }

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("embedding service unavailable")
}

// refusingEmbedder fails any batch containing the refuse marker.
type refusingEmbedder struct {
	topicEmbedder
	refuse string
}

func (e refusingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	for _, t := range texts {
		if strings.Contains(t, e.refuse) {
			return nil, errors.New("embedding rejected")
		}
	}
	return e.topicEmbedder.EmbedBatch(ctx, texts)
}

// frozenLexical ignores rebuilds, leaving only the removals made during a run.
type frozenLexical struct{ keyword.LexicalIndex }

func (frozenLexical) Rebuild(context.Context, []keyword.Doc) error { return nil }

type failingLexical struct{ keyword.LexicalIndex }

func (failingLexical) Search(context.Context, string, int) ([]*keyword.KeywordResult, error) {
	return nil, errors.New("lexical index unavailable")
}

type searchEnv struct {
	store   *storage.SQLiteStorage
	vectors *vector.MemoryIndex
	lexical keyword.LexicalIndex
	idx     *indexer.Indexer
}

func newSearchEnv(t *testing.T, docs ...*models.DocumentInput) *searchEnv {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "db.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	vecs, err := vector.NewMemoryIndex(len(topics))
	if err != nil {
		t.Fatal(err)
	}
	lex, err := keyword.NewBleveIndex(filepath.Join(dir, "bleve"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = lex.Close() })
	idx := indexer.NewIndexer(store, topicEmbedder{}, vecs, lex, nil, nil)
	if len(docs) > 0 {
		if _, err := idx.Index(context.Background(), docs); err != nil {
			t.Fatal(err)
		}
	}
	return &searchEnv{store: store, vectors: vecs, lexical: lex, idx: idx}
}

func (env *searchEnv) engine(emb embedding.Embedder, mode string) *Engine {
	cfg := &config.SearchConfig{Candidates: 30, RRFK: 60, RankingConfig: ranking.RankingConfig{RerankMode: mode}}
	return NewEngine(env.store, emb, env.vectors, env.lexical, nil, cfg)
}

var corpus = []*models.DocumentInput{
	{ID: "std", Title: "Test Standards", Content: "## Multipass\n\nFilter elements are rated using the ISO 16889 multipass test method.",
		Metadata: map[string]string{"collection": "standards"}},
	{ID: "pumps", Title: "Pump Protection", Content: "Gear pump wear comes from hard particles. A pressure filter protects the pump and the pump bearings.",
		Metadata: map[string]string{"collection": "guides"}},
	{ID: "valves", Title: "Valve Notes", Content: "Servo valve spools need a fine filter. The valve pilot stage clogs first.",
		Metadata: map[string]string{"collection": "guides"}},
	{ID: "cooling", Title: "Cooling", Content: "An oil cooler keeps viscosity in range. Check the cooler bypass.",
		Metadata: map[string]string{"collection": "guides"}},
}

func TestEngine_ExactIdentifierLookup(t *testing.T) {
	env := newSearchEnv(t, corpus...)
	e := env.engine(topicEmbedder{}, ranking.RerankLexical)

	resp, err := e.Search(context.Background(), &models.SearchQuery{Query: "ISO 16889", TopK: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) == 0 || resp.Results[0].Parent.DocumentID != "std" {
		t.Fatalf("expected the standards passage first, got %+v", resp.Results)
	}
	if !resp.IdentifierQuery {
		t.Error("expected identifier query")
	}
	if resp.Weights.Lexical != 0.75 || resp.Weights.Semantic != 0.25 {
		t.Errorf("weights = %+v, want 0.25/0.75", resp.Weights)
	}
	if resp.Results[0].Rank != 1 || resp.Results[0].Score <= 0 {
		t.Errorf("unexpected rank/score: %+v", resp.Results[0])
	}
}

func TestEngine_HybridRanking(t *testing.T) {
	env := newSearchEnv(t, corpus...)
	e := env.engine(topicEmbedder{}, ranking.RerankNone)

	resp, err := e.Search(context.Background(), &models.SearchQuery{Query: "pump filter", TopK: 10})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Results[0].Parent.DocumentID != "pumps" {
		t.Errorf("expected pump passage first, got %s", resp.Results[0].Parent.DocumentID)
	}
	if len(resp.SemanticRanking) == 0 || len(resp.LexicalRanking) == 0 {
		t.Errorf("expected both raw rankings: %v / %v", resp.SemanticRanking, resp.LexicalRanking)
	}
	if resp.Weights.Semantic != 0.60 {
		t.Errorf("default weights expected, got %+v", resp.Weights)
	}
	seen := map[string]bool{}
	for _, r := range resp.Results {
		if seen[r.Parent.ID] {
			t.Errorf("parent %s returned twice", r.Parent.ID)
		}
		seen[r.Parent.ID] = true
	}
}

func TestEngine_ZeroSemanticHitsFollowsLexicalOrder(t *testing.T) {
	env := newSearchEnv(t, corpus...)
	e := env.engine(topicEmbedder{}, ranking.RerankNone)

	// "filter" is not a topic word, so the query embeds to zero and no hit clears the floor
	resp, err := e.Search(context.Background(), &models.SearchQuery{Query: "filter", TopK: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.SemanticRanking) != 0 {
		t.Fatalf("expected no semantic hits, got %v", resp.SemanticRanking)
	}
	if len(resp.Results) != len(resp.LexicalRanking) {
		t.Fatalf("results %d, lexical ranking %d", len(resp.Results), len(resp.LexicalRanking))
	}
	for i, r := range resp.Results {
		if r.Parent.ID != resp.LexicalRanking[i] {
			t.Errorf("position %d: %s, lexical order has %s", i, r.Parent.ID, resp.LexicalRanking[i])
		}
	}
}

func TestEngine_EmptyCorpus(t *testing.T) {
	env := newSearchEnv(t)
	e := env.engine(topicEmbedder{}, ranking.RerankLexical)

	resp, err := e.Search(context.Background(), &models.SearchQuery{Query: "pump"})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 0 {
		t.Errorf("expected no results, got %d", len(resp.Results))
	}
}

func TestEngine_Filters(t *testing.T) {
	env := newSearchEnv(t, corpus...)
	e := env.engine(topicEmbedder{}, ranking.RerankNone)

	resp, err := e.Search(context.Background(), &models.SearchQuery{
		Query: "filter", TopK: 10, Filters: map[string]string{"collection": "standards"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 1 || resp.Results[0].Parent.DocumentID != "std" {
		t.Errorf("filter not applied: %+v", resp.Results)
	}
}

func TestEngine_MissingParentIsCorruption(t *testing.T) {
	env := newSearchEnv(t, corpus...)
	ctx := context.Background()
	vec, _ := topicEmbedder{}.Embed(ctx, "pump pump")
	if err := env.vectors.Upsert(ctx, []vector.Entry{{ID: "ghost::child::0::0", ParentID: "ghost::parent::0", Vector: vec}}); err != nil {
		t.Fatal(err)
	}
	e := env.engine(topicEmbedder{}, ranking.RerankNone)

	_, err := e.Search(ctx, &models.SearchQuery{Query: "pump"})
	if !errors.Is(err, ErrIndexCorrupt) {
		t.Fatalf("expected ErrIndexCorrupt, got %v", err)
	}
}

func TestEngine_DegradesToOneRetriever(t *testing.T) {
	env := newSearchEnv(t, corpus...)
	ctx := context.Background()

	e := env.engine(failingEmbedder{}, ranking.RerankNone)
	resp, err := e.Search(ctx, &models.SearchQuery{Query: "valve"})
	if err != nil {
		t.Fatalf("semantic failure should degrade, got %v", err)
	}
	if len(resp.Results) == 0 || resp.Results[0].Parent.DocumentID != "valves" {
		t.Errorf("expected lexical results, got %+v", resp.Results)
	}

	cfg := &config.SearchConfig{Candidates: 30}
	e = NewEngine(env.store, topicEmbedder{}, env.vectors, failingLexical{env.lexical}, nil, cfg)
	resp, err = e.Search(ctx, &models.SearchQuery{Query: "valve"})
	if err != nil {
		t.Fatalf("lexical failure should degrade, got %v", err)
	}
	if len(resp.Results) == 0 || resp.Results[0].Parent.DocumentID != "valves" {
		t.Errorf("expected semantic results, got %+v", resp.Results)
	}

	e = NewEngine(env.store, failingEmbedder{}, env.vectors, failingLexical{env.lexical}, nil, cfg)
	if _, err := e.Search(ctx, &models.SearchQuery{Query: "valve"}); err == nil {
		t.Error("expected error when both retrievers fail")
	}
}

func TestEngine_ProcessQuery(t *testing.T) {
	e := NewEngine(nil, nil, nil, nil, nil, &config.SearchConfig{DefaultTopK: 7, MaxTopK: 20})
	q := &models.SearchQuery{Query: "x"}
	if err := e.ProcessQuery(q); err != nil || q.TopK != 7 {
		t.Errorf("default top_k: %d %v", q.TopK, err)
	}
	q = &models.SearchQuery{Query: "x", TopK: 50}
	if err := e.ProcessQuery(q); err != nil || q.TopK != 20 {
		t.Errorf("max top_k: %d %v", q.TopK, err)
	}
	if err := e.ProcessQuery(&models.SearchQuery{}); err == nil {
		t.Error("empty query should fail")
	}
}

func TestEngine_BlankQueryIsEmpty(t *testing.T) {
	env := newSearchEnv(t, corpus...)
	e := env.engine(topicEmbedder{}, ranking.RerankLexical)

	for _, q := range []string{"", "   \n\t"} {
		resp, err := e.Search(context.Background(), &models.SearchQuery{Query: q})
		if err != nil {
			t.Fatalf("Search(%q): %v", q, err)
		}
		if len(resp.Results) != 0 || len(resp.SemanticRanking) != 0 || len(resp.LexicalRanking) != 0 {
			t.Errorf("Search(%q) returned results: %+v", q, resp)
		}
	}
}

const guideTwoSections = "## Spools\n\nServo valve spools stick when silt builds up in the clearance.\n\n" +
	"## Pilot stage\n\nThe pilot stage spools clog first, so filter the pilot supply finely."

func TestEngine_SearchAfterFailedRun(t *testing.T) {
	env := newSearchEnv(t, &models.DocumentInput{ID: "guide", Title: "Valve Guide", Content: guideTwoSections})
	ctx := context.Background()

	idx := indexer.NewIndexer(env.store, refusingEmbedder{refuse: "unembeddable"}, env.vectors, env.lexical, nil, nil)
	_, err := idx.Index(ctx, []*models.DocumentInput{
		{ID: "guide", Title: "Valve Guide", Content: "## Spools\n\nServo valve spools stick when silt builds up in the clearance."},
		{ID: "broken", Title: "Broken", Content: "This text is unembeddable."},
	})
	if err == nil {
		t.Fatal("expected the run to fail on the refused document")
	}

	e := env.engine(topicEmbedder{}, ranking.RerankNone)
	resp, err := e.Search(ctx, &models.SearchQuery{Query: "spools", TopK: 5})
	if err != nil {
		t.Fatalf("search after failed run: %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].Parent.DocumentID != "guide" {
		t.Fatalf("expected the shrunk guide only, got %+v", resp.Results)
	}
	if strings.Contains(resp.Results[0].Parent.Content, "pilot") {
		t.Errorf("result still carries the removed section: %q", resp.Results[0].Parent.Content)
	}

	count, err := env.store.CountSubChunks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	n, err := env.lexical.DocCount()
	if err != nil {
		t.Fatal(err)
	}
	if int64(n) != count || int64(env.vectors.Size()) != count {
		t.Errorf("indexes out of step with store: lexical=%d vectors=%d store=%d", n, env.vectors.Size(), count)
	}
}

func TestEngine_ConsistentBeforeLexicalRebuild(t *testing.T) {
	env := newSearchEnv(t, &models.DocumentInput{ID: "guide", Title: "Valve Guide", Content: guideTwoSections})
	ctx := context.Background()

	// searches between a run's store writes and its rebuild see this state
	idx := indexer.NewIndexer(env.store, topicEmbedder{}, env.vectors, frozenLexical{env.lexical}, nil, nil)
	if _, err := idx.Index(ctx, []*models.DocumentInput{
		{ID: "guide", Title: "Valve Guide", Content: "## Spools\n\nServo valve spools stick when silt builds up in the clearance."},
	}); err != nil {
		t.Fatal(err)
	}
	e := env.engine(topicEmbedder{}, ranking.RerankNone)
	resp, err := e.Search(ctx, &models.SearchQuery{Query: "pilot spools", TopK: 5})
	if err != nil {
		t.Fatalf("search after shrink: %v", err)
	}
	for _, r := range resp.Results {
		if strings.Contains(r.Parent.Content, "pilot") {
			t.Errorf("removed section returned: %q", r.Parent.Content)
		}
	}

	if err := idx.DeleteDocument(ctx, "guide"); err != nil {
		t.Fatal(err)
	}
	resp, err = e.Search(ctx, &models.SearchQuery{Query: "spools", TopK: 5})
	if err != nil {
		t.Fatalf("search after delete: %v", err)
	}
	if len(resp.Results) != 0 {
		t.Errorf("deleted document returned: %+v", resp.Results)
	}
}
