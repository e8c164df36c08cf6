package e2e

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/xuri/excelize/v2"
)

// SupportedFileExtensions are the types the file-based tests write. PDF and RTF are covered
// by the extract package tests.
var SupportedFileExtensions = []string{
	".txt", ".md", ".rst",
	".docx", ".xlsx", ".pptx", ".odt", ".odp", ".ods",
}

// WriteMinimalFile returns the bytes of a minimal file of type ext holding text. Multi-line
// text becomes one paragraph per line in the office formats.
func WriteMinimalFile(ext, text string) ([]byte, error) {
	switch ext {
	case ".txt", ".md", ".rst":
		return []byte(text), nil
	case ".docx":
		return minimalDocx(text), nil
	case ".pptx":
		return minimalPptx(text), nil
	case ".odt":
		return minimalOdt(text), nil
	case ".odp":
		return minimalOdp(text), nil
	case ".ods":
		return minimalOds(text), nil
	case ".xlsx":
		return minimalXlsx(text), nil
	default:
		return []byte(text), nil
	}
}

// paragraphs wraps each non-empty line of text in open and close.
func paragraphs(text, open, close string) string {
	var b strings.Builder
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		b.WriteString(open + html.EscapeString(line) + close)
	}
	return b.String()
}

func zipWith(name, content string) []byte {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	fw, _ := w.Create(name)
	_, _ = fw.Write([]byte(content))
	_ = w.Close()
	return buf.Bytes()
}

func minimalDocx(text string) []byte {
	return zipWith("word/document.xml", `<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`+
		paragraphs(text, `<w:p><w:r><w:t>`, `</w:t></w:r></w:p>`)+`</w:body></w:document>`)
}

func minimalPptx(text string) []byte {
	return zipWith("ppt/slides/slide1.xml", `<p:sld xmlns:p="a" xmlns:a="b"><p:cSld><p:spTree><p:sp><p:txBody>`+
		paragraphs(text, `<a:p><a:r><a:t>`, `</a:t></a:r></a:p>`)+`</p:txBody></p:sp></p:spTree></p:cSld></p:sld>`)
}

func minimalOdt(text string) []byte {
	return zipWith("content.xml", `<office:document-content><office:body><office:text>`+
		paragraphs(text, `<text:p>`, `</text:p>`)+`</office:text></office:body></office:document-content>`)
}

func minimalOdp(text string) []byte {
	return zipWith("content.xml", `<office:document><office:body><draw:page><draw:text-box>`+
		paragraphs(text, `<text:p>`, `</text:p>`)+`</draw:text-box></draw:page></office:body></office:document>`)
}

func minimalOds(text string) []byte {
	return zipWith("content.xml", `<office:document><office:body><table:table>`+
		paragraphs(text, `<table:table-row><table:table-cell><text:p>`, `</text:p></table:table-cell></table:table-row>`)+
		`</table:table></office:body></office:document>`)
}

// minimalXlsx writes one line per row of column A.
func minimalXlsx(text string) []byte {
	f := excelize.NewFile()
	defer f.Close()
	row := 1
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		_ = f.SetCellValue("Sheet1", fmt.Sprintf("A%d", row), line)
		row++
	}
	var buf bytes.Buffer
	_, _ = f.WriteTo(&buf)
	return buf.Bytes()
}
