// Package confidence classifies how well a retrieval result set supports an answer.
// Assess is a pure function of the ranked results and the raw per-retriever rankings.
package confidence

import (
	"fmt"
	"strings"

	"github.com/hyperjump/soudan/internal/models"
)

// Label is the confidence classification of a result set.
type Label string

const (
	High     Label = "HIGH"
	Moderate Label = "MODERATE"
	Low      Label = "LOW"
)

// topWindow is how many results the diversity and agreement signals look at.
const topWindow = 5

// contradictionOverlap is the word overlap below which two strong results from different
// sources are flagged for review.
const contradictionOverlap = 0.15

// Thresholds are the tunable cutoffs of the classification.
type Thresholds struct {
	// Relevance is the final score a result needs to count as a match.
	Relevance float64
	// HighMinMatches is the number of matches HIGH requires.
	HighMinMatches int
	// AgreementCutoff is the semantic/lexical top-5 overlap HIGH must exceed.
	AgreementCutoff float64
}

// DefaultThresholds returns the standard cutoffs.
func DefaultThresholds() Thresholds {
	return Thresholds{Relevance: 0.40, HighMinMatches: 3, AgreementCutoff: 0.4}
}

// WithDefaults fills zero fields from DefaultThresholds.
func (t Thresholds) WithDefaults() Thresholds {
	def := DefaultThresholds()
	if t.Relevance <= 0 {
		t.Relevance = def.Relevance
	}
	if t.HighMinMatches <= 0 {
		t.HighMinMatches = def.HighMinMatches
	}
	if t.AgreementCutoff <= 0 {
		t.AgreementCutoff = def.AgreementCutoff
	}
	return t
}

// Candidate is one ranked result as the estimator sees it.
type Candidate struct {
	ID     string
	Source string
	Score  float64
	Text   string
}

// Candidates converts ranked search results.
func Candidates(results []*models.SearchResult) []Candidate {
	out := make([]Candidate, 0, len(results))
	for _, r := range results {
		c := Candidate{Source: r.Source(), Score: r.Score}
		if r.Parent != nil {
			c.ID = r.Parent.ID
			c.Text = r.Parent.Content
		}
		out = append(out, c)
	}
	return out
}

// Contradiction flags two strong results from different sources that share little wording.
type Contradiction struct {
	SourceA string  `json:"source_a"`
	SourceB string  `json:"source_b"`
	Overlap float64 `json:"overlap"`
}

// Assessment is the label and the signals behind it.
type Assessment struct {
	Label          Label           `json:"label"`
	AboveThreshold int             `json:"above_threshold"`
	TopScore       float64         `json:"top_score"`
	Margin         float64         `json:"margin"`
	Diversity      float64         `json:"diversity"`
	Agreement      float64         `json:"agreement"`
	Sources        []string        `json:"sources"`
	Contradictions []Contradiction `json:"contradictions,omitempty"`
	Rationale      string          `json:"rationale"`
}

// Assess classifies a ranked result set. ranked must be ordered best first; semantic and
// lexical are the parent ids each retriever ranked on its own, best first.
//
// HIGH needs at least HighMinMatches results at or above the relevance threshold and a
// semantic/lexical agreement above the cutoff. MODERATE needs one such result. Anything else
// is LOW.
func Assess(ranked []Candidate, semantic, lexical []string, th Thresholds) Assessment {
	th = th.WithDefaults()
	a := Assessment{Sources: []string{}}

	for _, c := range ranked {
		if c.Score >= th.Relevance {
			a.AboveThreshold++
		}
	}
	if len(ranked) > 0 {
		a.TopScore = ranked[0].Score
	}
	if len(ranked) > 1 {
		a.Margin = ranked[0].Score - ranked[1].Score
	} else {
		a.Margin = a.TopScore
	}

	seen := map[string]bool{}
	for _, c := range head(ranked, topWindow) {
		if !seen[c.Source] {
			seen[c.Source] = true
			a.Sources = append(a.Sources, c.Source)
		}
	}
	a.Diversity = float64(len(a.Sources)) / topWindow
	a.Agreement = Agreement(semantic, lexical)
	a.Contradictions = contradictions(ranked, th.Relevance)

	switch {
	case a.AboveThreshold >= th.HighMinMatches && a.Agreement > th.AgreementCutoff:
		a.Label = High
	case a.AboveThreshold >= 1:
		a.Label = Moderate
	default:
		a.Label = Low
	}
	a.Rationale = rationale(a, len(ranked), th)
	return a
}

// Agreement is the Jaccard overlap of the top-5 ids of two rankings; 0 when both are empty.
func Agreement(semantic, lexical []string) float64 {
	sem := head(semantic, topWindow)
	lex := head(lexical, topWindow)
	union := make(map[string]bool, len(sem)+len(lex))
	inSem := make(map[string]bool, len(sem))
	for _, id := range sem {
		inSem[id] = true
		union[id] = true
	}
	both := 0
	counted := map[string]bool{}
	for _, id := range lex {
		union[id] = true
		if inSem[id] && !counted[id] {
			counted[id] = true
			both++
		}
	}
	if len(union) == 0 {
		return 0
	}
	return float64(both) / float64(len(union))
}

func head[T any](s []T, n int) []T {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func contradictions(ranked []Candidate, relevance float64) []Contradiction {
	if len(ranked) < 2 {
		return nil
	}
	r1, r2 := ranked[0], ranked[1]
	if r1.Source == r2.Source || r1.Score < relevance || r2.Score < relevance {
		return nil
	}
	overlap := wordOverlap(r1.Text, r2.Text)
	if overlap >= contradictionOverlap {
		return nil
	}
	return []Contradiction{{SourceA: r1.Source, SourceB: r2.Source, Overlap: overlap}}
}

func wordOverlap(a, b string) float64 {
	wa := wordSet(a)
	wb := wordSet(b)
	union := len(wa)
	both := 0
	for w := range wb {
		if wa[w] {
			both++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(both) / float64(union)
}

func wordSet(s string) map[string]bool {
	out := map[string]bool{}
	for _, w := range strings.Fields(strings.ToLower(s)) {
		out[w] = true
	}
	return out
}

func rationale(a Assessment, n int, th Thresholds) string {
	if n == 0 {
		return "No relevant passages were found in the knowledge base."
	}
	var b strings.Builder
	switch a.Label {
	case High:
		fmt.Fprintf(&b, "%d passages score at or above %.2f and the keyword and semantic searches agree on %.0f%% of their top results.",
			a.AboveThreshold, th.Relevance, a.Agreement*100)
	case Moderate:
		fmt.Fprintf(&b, "%d passage(s) score at or above %.2f", a.AboveThreshold, th.Relevance)
		var limits []string
		if a.AboveThreshold < th.HighMinMatches {
			limits = append(limits, fmt.Sprintf("fewer than %d strong matches", th.HighMinMatches))
		}
		if a.Agreement <= th.AgreementCutoff {
			limits = append(limits, fmt.Sprintf("keyword and semantic searches agree on only %.0f%% of their top results", a.Agreement*100))
		}
		if len(limits) > 0 {
			fmt.Fprintf(&b, ", but with %s.", strings.Join(limits, " and "))
		} else {
			b.WriteString(".")
		}
	default:
		fmt.Fprintf(&b, "No passage reaches %.2f; the best scored %.3f. The knowledge base may not cover this topic.",
			th.Relevance, a.TopScore)
	}
	fmt.Fprintf(&b, " Top margin %.3f across %d source(s) in the top results.", a.Margin, len(a.Sources))
	if len(a.Contradictions) > 0 {
		fmt.Fprintf(&b, " The top two passages (%s, %s) share little wording; review both.",
			a.Contradictions[0].SourceA, a.Contradictions[0].SourceB)
	}
	return b.String()
}
