package extract

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

const (
	contentTypesPart    = "[Content_Types].xml"
	docxDefaultPart     = "word/document.xml"
	docxMainContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
	pptxSlidePrefix     = "ppt/slides/slide"
)

// docxMainPart resolves the main document part from [Content_Types].xml, which may point
// somewhere other than word/document.xml.
func docxMainPart(content []byte) string {
	var types struct {
		Overrides []struct {
			PartName    string `xml:"PartName,attr"`
			ContentType string `xml:"ContentType,attr"`
		} `xml:"Override"`
	}
	if err := xml.Unmarshal(content, &types); err != nil {
		return ""
	}
	for _, o := range types.Overrides {
		if o.ContentType == docxMainContentType {
			return strings.TrimPrefix(o.PartName, "/")
		}
	}
	return ""
}

func extractDOCX(content []byte) (string, error) {
	zr, err := openZip(content)
	if err != nil {
		return "", fmt.Errorf("extract DOCX: %w", err)
	}
	part := docxDefaultPart
	if ct, err := readPart(zr, contentTypesPart); err == nil {
		if p := docxMainPart(ct); p != "" {
			part = p
		}
	}
	data, err := readPart(zr, part)
	if err != nil {
		return "", fmt.Errorf("extract DOCX: %w", err)
	}
	var out blocks
	if err := walkOOXML(data, &out, true); err != nil {
		return "", fmt.Errorf("extract DOCX: %w", err)
	}
	return out.String(), nil
}

// extractPPTX emits each slide under a "Slide N" heading, in slide order.
func extractPPTX(content []byte) (string, error) {
	zr, err := openZip(content)
	if err != nil {
		return "", fmt.Errorf("extract PPTX: %w", err)
	}
	type slide struct {
		n    int
		name string
	}
	var slides []slide
	for _, f := range zr.File {
		if !strings.HasPrefix(f.Name, pptxSlidePrefix) || !strings.HasSuffix(f.Name, ".xml") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(f.Name, pptxSlidePrefix), ".xml"))
		if err != nil {
			continue
		}
		slides = append(slides, slide{n: n, name: f.Name})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].n < slides[j].n })

	var out blocks
	for _, s := range slides {
		data, err := readPart(zr, s.name)
		if err != nil {
			return "", fmt.Errorf("extract PPTX: %w", err)
		}
		var body blocks
		if err := walkOOXML(data, &body, false); err != nil {
			return "", fmt.Errorf("extract PPTX: %s: %w", s.name, err)
		}
		if body.String() == "" {
			continue
		}
		out.heading(1, fmt.Sprintf("Slide %d", s.n))
		out.append(&body)
	}
	return out.String(), nil
}

// walkOOXML converts WordprocessingML or DrawingML text into blocks. Both use p for
// paragraphs, t for text runs and tbl/tr/tc for tables. With styles, paragraph styles named
// Title or HeadingN become headings.
func walkOOXML(data []byte, out *blocks, styles bool) error {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	var (
		para   strings.Builder
		cell   strings.Builder
		cells  []string
		level  int
		inText bool
		tables int
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
			case "p":
				para.Reset()
				level = 0
			case "pStyle":
				if styles {
					level = headingLevel(attr(t, "val"))
				}
			case "t":
				inText = true
			case "tab", "br", "cr":
				para.WriteByte(' ')
			case "tbl":
				tables++
			case "tr":
				cells = cells[:0]
			case "tc":
				cell.Reset()
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
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
			case "tc":
				cells = append(cells, cell.String())
			case "tr":
				if tables > 0 {
					out.row(cells)
				}
			case "tbl":
				tables--
			}
		}
	}
}

// headingLevel maps a paragraph style id to a heading level, 0 for body text.
func headingLevel(style string) int {
	s := strings.ToLower(strings.ReplaceAll(style, " ", ""))
	if s == "title" {
		return 1
	}
	if n, err := strconv.Atoi(strings.TrimPrefix(s, "heading")); err == nil && strings.HasPrefix(s, "heading") {
		return n
	}
	return 0
}

func attr(el xml.StartElement, local string) string {
	for _, a := range el.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}
