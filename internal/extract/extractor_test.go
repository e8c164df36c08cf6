package extract

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestExtractBytes_plain(t *testing.T) {
	e := NewExtractor()
	content := []byte("Hello world\nLine 2")
	got, err := e.ExtractBytes(content, ".txt")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "Hello world\nLine 2" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_plainUTF8(t *testing.T) {
	e := NewExtractor()
	content := []byte("caf\xc3\xa9") // valid UTF-8
	got, err := e.ExtractBytes(content, ".md")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "café" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_plainBOMAndCRLF(t *testing.T) {
	e := NewExtractor()
	got, err := e.ExtractBytes([]byte("\xef\xbb\xbfISO 4406\r\n18/16/13"), ".txt")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "ISO 4406\n18/16/13" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_plainInvalidUTF8(t *testing.T) {
	e := NewExtractor()
	content := []byte("hello\x80world") // invalid UTF-8
	got, err := e.ExtractBytes(content, ".rst")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "hello\uFFFDworld" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_excel(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	f.SetCellValue("Sheet1", "A1", "Title")
	f.SetCellValue("Sheet1", "A2", "Value 1")
	f.SetCellValue("Sheet1", "B2", "Value 2")
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	e := NewExtractor()
	got, err := e.ExtractBytes(buf.Bytes(), ".xlsx")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "## Sheet1\n\n| Title |\n| Value 1 | Value 2 |" {
		t.Errorf("got %q", got)
	}
}

func TestExtract_plainFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.txt")
	if err := os.WriteFile(path, []byte("File content"), 0600); err != nil {
		t.Fatal(err)
	}

	e := NewExtractor()
	got, err := e.Extract(path)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got != "File content" {
		t.Errorf("got %q", got)
	}
}

func TestExtract_excelFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.xlsx")
	f := excelize.NewFile()
	f.SetCellValue("Sheet1", "A1", "Searchable text")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}
	f.Close()

	e := NewExtractor()
	got, err := e.Extract(path)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got != "## Sheet1\n\n| Searchable text |" {
		t.Errorf("got %q", got)
	}
}

func TestExtract_nonexistent(t *testing.T) {
	e := NewExtractor()
	_, err := e.Extract("/nonexistent/path/file.txt")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestExtractBytes_unknownExtension(t *testing.T) {
	e := NewExtractor()
	content := []byte("raw content")
	got, err := e.ExtractBytes(content, ".xyz")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	// Unknown extension falls back to plain
	if got != "raw content" {
		t.Errorf("got %q", got)
	}
}

func zipOf(files map[string]string) []byte {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		fw, _ := w.Create(name)
		_, _ = fw.Write([]byte(content))
	}
	_ = w.Close()
	return buf.Bytes()
}

const wordNS = `xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"`

func docxBody(body string) string {
	return `<w:document ` + wordNS + `><w:body>` + body + `</w:body></w:document>`
}

func minimalDocx(text string) []byte {
	return zipOf(map[string]string{
		"word/document.xml": docxBody(`<w:p><w:r><w:t>` + text + `</w:t></w:r></w:p>`),
	})
}

func TestExtractBytes_docx(t *testing.T) {
	e := NewExtractor()
	got, err := e.ExtractBytes(minimalDocx("Searchable docx content"), ".docx")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "Searchable docx content" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_docxStructure(t *testing.T) {
	body := `<w:p><w:pPr><w:pStyle w:val="Title"/></w:pPr><w:r><w:t>HF-4020 Data Sheet</w:t></w:r></w:p>` +
		`<w:p w:rsidR="00A1"><w:r><w:t xml:space="preserve">Return line </w:t></w:r><w:r><w:t>filter &amp; housing.</w:t></w:r></w:p>` +
		`<w:p><w:pPr><w:pStyle w:val="Heading2"/></w:pPr><w:r><w:t>Ratings</w:t></w:r></w:p>` +
		`<w:tbl><w:tr><w:tc><w:p><w:r><w:t>Flow</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>400 l/min</w:t></w:r></w:p></w:tc></w:tr>` +
		`<w:tr><w:tc><w:p><w:r><w:t>Pressure</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>25 bar</w:t></w:r></w:p></w:tc></w:tr></w:tbl>` +
		`<w:p><w:pPr><w:pStyle w:val="Heading4"/></w:pPr><w:r><w:t>Notes</w:t></w:r></w:p>`
	e := NewExtractor()
	got, err := e.ExtractBytes(zipOf(map[string]string{"word/document.xml": docxBody(body)}), ".docx")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	want := "## HF-4020 Data Sheet\n\nReturn line filter & housing.\n\n### Ratings\n\n| Flow | 400 l/min |\n| Pressure | 25 bar |\n\nNotes"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestExtractBytes_docxMainPartFromContentTypes(t *testing.T) {
	for name, override := range map[string]string{
		"part name first":    `<Override PartName="/word/document2.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>`,
		"content type first": `<Override ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml" PartName="/word/document2.xml"/>`,
	} {
		t.Run(name, func(t *testing.T) {
			content := zipOf(map[string]string{
				"[Content_Types].xml": `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">` + override + `</Types>`,
				"word/document2.xml": docxBody(`<w:p><w:r><w:t>Content from document2</w:t></w:r></w:p>`),
			})
			got, err := NewExtractor().ExtractBytes(content, ".docx")
			if err != nil {
				t.Fatalf("ExtractBytes: %v", err)
			}
			if got != "Content from document2" {
				t.Errorf("got %q", got)
			}
		})
	}
}

func TestExtractBytes_docxMissingDocument(t *testing.T) {
	_, err := NewExtractor().ExtractBytes(zipOf(map[string]string{"other.xml": ""}), ".docx")
	if err == nil {
		t.Error("expected error when the document part is missing")
	}
}

func slideXML(text string) string {
	return `<p:sld xmlns:p="a" xmlns:a="b"><p:cSld><p:spTree><p:sp><p:txBody><a:p><a:r><a:t>` + text + `</a:t></a:r></a:p></p:txBody></p:sp></p:spTree></p:cSld></p:sld>`
}

func minimalPptx(text string) []byte {
	return zipOf(map[string]string{"ppt/slides/slide1.xml": slideXML(text)})
}

func TestExtractBytes_pptx(t *testing.T) {
	got, err := NewExtractor().ExtractBytes(minimalPptx("Searchable pptx content"), ".pptx")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "## Slide 1\n\nSearchable pptx content" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_pptxSlideOrder(t *testing.T) {
	content := zipOf(map[string]string{
		"ppt/slides/slide10.xml": slideXML("Tenth"),
		"ppt/slides/slide2.xml":  slideXML("Second"),
		"ppt/slides/slide1.xml":  slideXML("First"),
		"ppt/slides/slide3.xml":  `<p:sld xmlns:p="a"><p:cSld/></p:sld>`,
	})
	got, err := NewExtractor().ExtractBytes(content, ".pptx")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	want := "## Slide 1\n\nFirst\n\n## Slide 2\n\nSecond\n\n## Slide 10\n\nTenth"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestExtractBytes_pptxEmpty(t *testing.T) {
	content := zipOf(map[string]string{"ppt/slides/other.xml": "", "docProps/core.xml": ""})
	got, err := NewExtractor().ExtractBytes(content, ".pptx")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "" {
		t.Errorf("got %q", got)
	}
}

func minimalODF(contentXML string) []byte {
	return zipOf(map[string]string{"content.xml": contentXML})
}

func TestExtractBytes_odp(t *testing.T) {
	contentXML := `<office:document><office:body><draw:page><draw:text-box><text:p>Searchable odp content</text:p></draw:text-box></draw:page></office:body></office:document>`
	got, err := NewExtractor().ExtractBytes(minimalODF(contentXML), ".odp")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "## Slide 1\n\nSearchable odp content" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_odpNamedPages(t *testing.T) {
	contentXML := `<office:document><office:body>` +
		`<draw:page draw:name="Contamination"><text:h>Sources</text:h><text:p>Built-in <text:span>and</text:span> ingressed</text:p></draw:page>` +
		`<draw:page draw:name="page2"><text:p>Second page</text:p></draw:page>` +
		`</office:body></office:document>`
	got, err := NewExtractor().ExtractBytes(minimalODF(contentXML), ".odp")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	want := "## Contamination\n\n## Sources\n\nBuilt-in and ingressed\n\n## Slide 2\n\nSecond page"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestExtractBytes_ods(t *testing.T) {
	contentXML := `<office:document><office:body><table:table><table:table-row><table:table-cell><text:p>Searchable ods content</text:p></table:table-cell></table:table-row></table:table></office:body></office:document>`
	got, err := NewExtractor().ExtractBytes(minimalODF(contentXML), ".ods")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "| Searchable ods content |" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_odsSheetsAndRepeatedCells(t *testing.T) {
	contentXML := `<office:document><office:body><office:spreadsheet>` +
		`<table:table table:name="Beta ratios">` +
		`<table:table-row><table:table-cell><text:p>Element</text:p></table:table-cell><table:table-cell table:number-columns-repeated="2"><text:p>β</text:p></table:table-cell></table:table-row>` +
		`<table:table-row><table:table-cell><text:p>GF-200</text:p></table:table-cell><table:table-cell><text:p><text:span>200</text:span></text:p></table:table-cell><table:table-cell table:number-columns-repeated="1020"/></table:table-row>` +
		`<table:table-row table:number-rows-repeated="1000"><table:table-cell table:number-columns-repeated="1024"/></table:table-row>` +
		`</table:table></office:spreadsheet></office:body></office:document>`
	got, err := NewExtractor().ExtractBytes(minimalODF(contentXML), ".ods")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	want := "## Beta ratios\n\n| Element | β | β |\n| GF-200 | 200 |"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestExtractBytes_odt(t *testing.T) {
	contentXML := `<office:document-content><office:body><office:text>` +
		`<text:h text:outline-level="1">Flushing</text:h>` +
		`<text:h text:outline-level="2">After pump replacement</text:h>` +
		`<text:p>Flush at<text:s/>1.5 times<text:tab/>operating flow.</text:p>` +
		`</office:text></office:body></office:document-content>`
	got, err := NewExtractor().ExtractBytes(minimalODF(contentXML), ".odt")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	want := "## Flushing\n\n### After pump replacement\n\nFlush at 1.5 times operating flow."
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestExtractBytes_rtf(t *testing.T) {
	content := []byte(`{\rtf1\ansi\deff0 {\fonttbl {\f0 Times;}}\f0 Replace the element every 500 hours.\par}`)
	got, err := NewExtractor().ExtractBytes(content, ".rtf")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if !strings.Contains(got, "Replace the element every 500 hours.") {
		t.Errorf("got %q", got)
	}
}

func TestCleanPDFText(t *testing.T) {
	in := "Contamination control for hydraulic filtra-\ntion systems.  \r\n  ISO 4406 \n"
	want := "Contamination control for hydraulic filtration systems.\nISO 4406"
	if got := cleanPDFText(in); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestExtensions(t *testing.T) {
	exts := Extensions()
	for _, want := range []string{".docx", ".md", ".odt", ".pdf", ".rtf", ".xlsx"} {
		found := false
		for _, e := range exts {
			found = found || e == want
		}
		if !found {
			t.Errorf("missing %s in %v", want, exts)
		}
	}
}

func TestExtract_files(t *testing.T) {
	dir := t.TempDir()
	files := map[string][]byte{
		"deck.pptx": minimalPptx("Searchable from file"),
		"pres.odp":  minimalODF(`<office:document><office:body><draw:page><text:p>Searchable from file</text:p></draw:page></office:body></office:document>`),
		"sheet.ods": minimalODF(`<office:document><office:body><table:table><table:table-row><table:table-cell><text:p>Searchable from file</text:p></table:table-cell></table:table-row></table:table></office:body></office:document>`),
		"NOTE.DOCX": minimalDocx("Searchable from file"),
	}
	e := NewExtractor()
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, content, 0600); err != nil {
			t.Fatal(err)
		}
		got, err := e.Extract(path)
		if err != nil {
			t.Fatalf("Extract(%s): %v", name, err)
		}
		if !strings.Contains(got, "Searchable from file") {
			t.Errorf("%s: got %q", name, got)
		}
	}
}

func TestExtract_notZip(t *testing.T) {
	e := NewExtractor()
	for _, ext := range []string{".docx", ".pptx", ".odp", ".ods"} {
		if _, err := e.ExtractBytes([]byte("not a zip"), ext); err == nil {
			t.Errorf("%s: expected error for invalid archive", ext)
		}
	}
}

func TestExtract_odfContentNotFound(t *testing.T) {
	e := NewExtractor()
	for _, ext := range []string{".odp", ".ods"} {
		if _, err := e.ExtractBytes(zipOf(map[string]string{"other.xml": ""}), ext); err == nil {
			t.Errorf("%s: expected error when content.xml is missing", ext)
		}
	}
}
