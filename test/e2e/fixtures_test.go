package e2e

import (
	"strings"
	"testing"

	"github.com/hyperjump/soudan/internal/extract"
	"github.com/hyperjump/soudan/internal/indexer"
	"github.com/hyperjump/soudan/internal/models"
)

func TestWriteMinimalFile_ExtractsWithStructure(t *testing.T) {
	e := extract.NewExtractor()
	const line = "ISO 16889 beta ratio & collapse rating"
	// each office fixture must come back with the markdown the chunker splits on
	markers := map[string][]string{
		".xlsx": {"## Sheet1\n\n| Filter rating |", "| " + line + " |"},
		".ods":  {"| Filter rating |\n| " + line + " |"},
		".pptx": {"## Slide 1\n\n"},
		".odp":  {"## Slide 1\n\n"},
	}
	for _, ext := range SupportedFileExtensions {
		t.Run(ext, func(t *testing.T) {
			raw, err := WriteMinimalFile(ext, "Filter rating\n\n"+line)
			if err != nil {
				t.Fatalf("WriteMinimalFile: %v", err)
			}
			got, err := e.ExtractBytes(raw, ext)
			if err != nil {
				t.Fatalf("ExtractBytes: %v", err)
			}
			if !strings.Contains(got, line) {
				t.Errorf("extracted %q, missing %q", got, line)
			}
			for _, m := range markers[ext] {
				if !strings.Contains(got, m) {
					t.Errorf("extracted %q, missing structure %q", got, m)
				}
			}
		})
	}
}

func TestXlsxFixture_NumericSheetGetsTableIndex(t *testing.T) {
	raw, err := WriteMinimalFile(".xlsx", "10 200 99.5\n25 1000 99.9\n40 2000 99.95\n60 4000 99.975")
	if err != nil {
		t.Fatal(err)
	}
	text, err := extract.NewExtractor().ExtractBytes(raw, ".xlsx")
	if err != nil {
		t.Fatal(err)
	}

	doc := &models.Document{ID: "beta-sheet", Title: "Beta Ratings", Content: indexer.Preprocess(text)}
	parents := indexer.NewChunker(indexer.DefaultChunkerConfig()).Process(doc)
	if len(parents) == 0 {
		t.Fatalf("no parents from %q", text)
	}
	var table *models.SubChunk
	for _, p := range parents {
		for _, s := range p.SubChunks {
			if s.IsTableIndex {
				table = s
				if s.ID != indexer.TableIndexID(doc.ID, p.Position) {
					t.Errorf("table index id = %s", s.ID)
				}
			}
		}
	}
	if table == nil {
		t.Fatalf("numeric sheet got no table index: %q", text)
	}
	if !strings.Contains(table.Content, "Beta Ratings") {
		t.Errorf("table description does not name the document: %q", table.Content)
	}
}
