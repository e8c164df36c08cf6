package keyword

import (
	"context"
	"math"
	"sort"
	"sync/atomic"
)

// Okapi BM25 parameters.
const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

// BM25Index is an in-memory Okapi BM25 index. Each Rebuild builds a new immutable
// snapshot and publishes it with a single pointer swap, so searches never wait on a rebuild.
type BM25Index struct {
	snap atomic.Pointer[bm25Snapshot]
}

type posting struct {
	doc int
	tf  int
}

type bm25Snapshot struct {
	docs     []Doc
	lengths  []int
	avgLen   float64
	postings map[string][]posting
	// removed marks docs dropped since the last rebuild; postings are shared with the
	// snapshot they were removed from.
	removed map[int]bool
}

// NewBM25Index creates an empty BM25 index.
func NewBM25Index() *BM25Index {
	idx := &BM25Index{}
	idx.snap.Store(&bm25Snapshot{postings: map[string][]posting{}})
	return idx
}

// Rebuild indexes docs into a fresh snapshot and swaps it in.
func (b *BM25Index) Rebuild(ctx context.Context, docs []Doc) error {
	snap := &bm25Snapshot{
		docs:     make([]Doc, len(docs)),
		lengths:  make([]int, len(docs)),
		postings: make(map[string][]posting),
	}
	total := 0
	for i, d := range docs {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		snap.docs[i] = Doc{ID: d.ID, ParentID: d.ParentID}
		tokens := Tokenize(d.Text)
		snap.lengths[i] = len(tokens)
		total += len(tokens)
		tf := make(map[string]int, len(tokens))
		for _, t := range tokens {
			tf[t]++
		}
		for t, n := range tf {
			snap.postings[t] = append(snap.postings[t], posting{doc: i, tf: n})
		}
	}
	if len(docs) > 0 {
		snap.avgLen = float64(total) / float64(len(docs))
	}
	b.snap.Store(snap)
	return nil
}

// Remove publishes a snapshot in which ids no longer match. Term statistics keep counting
// the removed documents until the next Rebuild.
func (b *BM25Index) Remove(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	old := b.snap.Load()
	next := *old
	next.removed = make(map[int]bool, len(old.removed)+len(ids))
	for i := range old.removed {
		next.removed[i] = true
	}
	for i, d := range old.docs {
		if drop[d.ID] {
			next.removed[i] = true
		}
	}
	if len(next.removed) == len(old.removed) {
		return nil
	}
	b.snap.Store(&next)
	return nil
}

// Search scores every document sharing a term with the query.
func (b *BM25Index) Search(ctx context.Context, query string, limit int) ([]*KeywordResult, error) {
	snap := b.snap.Load()
	terms := uniqueTokens(query)
	if limit <= 0 || len(terms) == 0 || len(snap.docs) == 0 {
		return nil, nil
	}
	n := float64(len(snap.docs))
	scores := make(map[int]float64)
	for _, t := range terms {
		plist := snap.postings[t]
		if len(plist) == 0 {
			continue
		}
		df := float64(len(plist))
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))
		for _, p := range plist {
			if snap.removed[p.doc] {
				continue
			}
			tf := float64(p.tf)
			norm := 1 - bm25B + bm25B*float64(snap.lengths[p.doc])/snap.avgLen
			scores[p.doc] += idf * tf * (bm25K1 + 1) / (tf + bm25K1*norm)
		}
	}
	out := make([]*KeywordResult, 0, len(scores))
	for doc, s := range scores {
		if s <= 0 {
			continue
		}
		d := snap.docs[doc]
		out = append(out, &KeywordResult{ID: d.ID, ParentID: d.ParentID, Score: s})
	}
	sortResults(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DocCount returns the number of documents in the current snapshot.
func (b *BM25Index) DocCount() (uint64, error) {
	snap := b.snap.Load()
	return uint64(len(snap.docs) - len(snap.removed)), nil
}

// Close is a no-op for BM25Index.
func (b *BM25Index) Close() error {
	return nil
}

func uniqueTokens(text string) []string {
	tokens := Tokenize(text)
	seen := make(map[string]bool, len(tokens))
	out := tokens[:0]
	for _, t := range tokens {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// sortResults orders hits by score, breaking ties by ID so rankings are deterministic.
func sortResults(rs []*KeywordResult) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Score != rs[j].Score {
			return rs[i].Score > rs[j].Score
		}
		return rs[i].ID < rs[j].ID
	})
}
