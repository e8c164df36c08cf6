package extract

import "strings"

// blocks accumulates extracted text as paragraphs, headings and table rows. Consecutive
// rows stay on adjacent lines so the chunker sees one table.
type blocks struct {
	b       strings.Builder
	lastRow bool
}

func (bl *blocks) sep(row bool) {
	if bl.b.Len() == 0 {
		return
	}
	if row && bl.lastRow {
		bl.b.WriteByte('\n')
		return
	}
	bl.b.WriteString("\n\n")
}

func (bl *blocks) paragraph(text string) {
	text = collapseSpace(text)
	if text == "" {
		return
	}
	bl.sep(false)
	bl.b.WriteString(text)
	bl.lastRow = false
}

// heading writes level 1 as "##" and level 2 as "###", the levels the chunker splits on.
// Deeper headings become paragraphs.
func (bl *blocks) heading(level int, text string) {
	text = collapseSpace(text)
	if text == "" {
		return
	}
	switch level {
	case 1:
		text = "## " + text
	case 2:
		text = "### " + text
	}
	bl.sep(false)
	bl.b.WriteString(text)
	bl.lastRow = false
}

// row writes a pipe-delimited row. Trailing empty cells are dropped; an empty row is skipped.
func (bl *blocks) row(cells []string) {
	n := len(cells)
	for n > 0 && strings.TrimSpace(cells[n-1]) == "" {
		n--
	}
	if n == 0 {
		return
	}
	clean := make([]string, n)
	for i, c := range cells[:n] {
		clean[i] = strings.ReplaceAll(collapseSpace(c), "|", "/")
	}
	bl.sep(true)
	bl.b.WriteString("| " + strings.Join(clean, " | ") + " |")
	bl.lastRow = true
}

// append adds the blocks of o after the current ones.
func (bl *blocks) append(o *blocks) {
	if o.b.Len() == 0 {
		return
	}
	bl.sep(false)
	bl.b.WriteString(o.String())
	bl.lastRow = o.lastRow
}

func (bl *blocks) String() string {
	return bl.b.String()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
