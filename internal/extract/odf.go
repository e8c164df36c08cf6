package extract

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/lu4p/cat"
)

const (
	odfContentPart = "content.xml"
	// maxRepeat bounds number-columns-repeated, which spreadsheets use to pad rows to the
	// full sheet width.
	maxRepeat = 64
)

type odfKind int

const (
	odfText odfKind = iota
	odfPresentation
	odfSpreadsheet
)

func readODF(content []byte, label string, kind odfKind) (string, error) {
	zr, err := openZip(content)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", label, err)
	}
	data, err := readPart(zr, odfContentPart)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", label, err)
	}
	var out blocks
	if err := walkODF(data, &out, kind); err != nil {
		return "", fmt.Errorf("extract %s: %w", label, err)
	}
	return out.String(), nil
}

// extractODT reads text documents with the ODF walker and falls back to lu4p/cat when the
// walker finds nothing, as with flat or unusual packages.
func extractODT(content []byte) (string, error) {
	text, err := readODF(content, "ODT", odfText)
	if err == nil && text != "" {
		return text, nil
	}
	if fallback, catErr := cat.FromBytes(content); catErr == nil && strings.TrimSpace(fallback) != "" {
		return strings.TrimSpace(fallback), nil
	}
	return text, err
}

func extractODP(content []byte) (string, error) {
	return readODF(content, "ODP", odfPresentation)
}

func extractODS(content []byte) (string, error) {
	return readODF(content, "ODS", odfSpreadsheet)
}

// walkODF converts OpenDocument content.xml into blocks: text:h becomes a heading at its
// outline level, text:p a paragraph, table rows pipe rows. Presentation pages and spreadsheet
// sheets start a level 1 heading.
func walkODF(data []byte, out *blocks, kind odfKind) error {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	var (
		para   strings.Builder
		cell   strings.Builder
		cells  []string
		repeat int
		inPara int
		level  int
		tables int
		pages  int
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "page":
				pages++
				if kind == odfPresentation {
					name := attr(t, "name")
					if name == "" || strings.HasPrefix(name, "page") {
						name = fmt.Sprintf("Slide %d", pages)
					}
					out.heading(1, name)
				}
			case "table":
				tables++
				if kind == odfSpreadsheet && tables == 1 {
					out.heading(1, attr(t, "name"))
				}
			case "table-row":
				cells = cells[:0]
			case "table-cell":
				cell.Reset()
				repeat = 1
				if n, err := strconv.Atoi(attr(t, "number-columns-repeated")); err == nil && n > 1 {
					repeat = min(n, maxRepeat)
				}
			case "h", "p":
				if inPara == 0 {
					para.Reset()
					level = 0
					if t.Name.Local == "h" {
						level = 1
						if n, err := strconv.Atoi(attr(t, "outline-level")); err == nil && n > 0 {
							level = n
						}
					}
				}
				inPara++
			case "s", "tab", "line-break":
				if inPara > 0 {
					para.WriteByte(' ')
				}
			}
		case xml.CharData:
			if inPara > 0 {
				para.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "h", "p":
				inPara--
				if inPara > 0 {
					continue
				}
				text := para.String()
				switch {
				case tables > 0:
					if cell.Len() > 0 {
						cell.WriteByte(' ')
					}
					cell.WriteString(text)
				case level > 0:
					out.heading(level, text)
				default:
					out.paragraph(text)
				}
			case "table-cell":
				for i := 0; i < repeat; i++ {
					cells = append(cells, cell.String())
				}
			case "table-row":
				if tables > 0 {
					out.row(cells)
				}
			case "table":
				tables--
			}
		}
	}
}

// extractRTF delegates to lu4p/cat, which strips control words and groups.
func extractRTF(content []byte) (string, error) {
	text, err := cat.FromBytes(content)
	if err != nil {
		return "", fmt.Errorf("extract RTF: %w", err)
	}
	return strings.TrimSpace(text), nil
}
