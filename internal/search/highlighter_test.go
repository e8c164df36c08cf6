package search

import (
	"testing"
)

func TestHighlight(t *testing.T) {
	if Highlight("short", 10) != "short" {
		t.Error("short string should be unchanged")
	}
	if Highlight("long text here", 4) != "long..." {
		t.Errorf("got %s", Highlight("long text here", 4))
	}
	if got := Highlight("return filter element", 15); got != "return filter..." {
		t.Errorf("expected cut on word boundary, got %q", got)
	}
	if got := Highlight("µµµµµµ", 3); got != "µµµ..." {
		t.Errorf("expected rune-safe cut, got %q", got)
	}
	if Highlight("x", 0) != "x" {
		t.Error("maxLen 0 should return as-is")
	}
}
