package storage

import (
	"archive/zip"
	"bytes"
	"strings"
	"testing"
)

func docx(t *testing.T, body string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	f, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatal(err)
	}
	doc := `<?xml version="1.0" encoding="UTF-8"?><w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` + body + `</w:body></w:document>`
	if _, err := f.Write([]byte(doc)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestExtractDocx(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "paragraphs",
			body: `<w:p><w:r><w:t>The council met.</w:t></w:r></w:p><w:p><w:r><w:t>It approved</w:t></w:r><w:r><w:tab/><w:t>the budget.</w:t></w:r></w:p>`,
			want: "The council met.\nIt approved\tthe budget.",
		},
		{
			name: "tracked deletion",
			body: `<w:p><w:r><w:t>Kept </w:t></w:r><w:del><w:r><w:delText>gone</w:delText><w:t>gone</w:t></w:r></w:del><w:r><w:t>text</w:t></w:r></w:p>`,
			want: "Kept text",
		},
		{
			name: "table",
			body: `<w:p><w:r><w:t>Intro</w:t></w:r></w:p><w:tbl><w:tr><w:tc><w:p><w:r><w:t>A</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>B</w:t></w:r></w:p></w:tc></w:tr><w:tr><w:tc><w:p><w:r><w:t>1</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>2</w:t></w:r></w:p></w:tc></w:tr></w:tbl>`,
			want: "Intro\nA\tB\n1\t2",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractText("docs/report.DOCX", docx(t, tt.body))
			if err != nil {
				t.Fatalf("ExtractText() error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("ExtractText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractDocxRejectsOtherZips(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	_, _ = zw.Create("content.xml")
	_ = zw.Close()
	if _, err := ExtractText("a.docx", buf.Bytes()); err == nil {
		t.Fatal("zip without document body accepted")
	}
}

func TestExtractHTML(t *testing.T) {
	para := "The city council approved the mobility budget for 2025 after a long debate about cycling lanes, bus routes and parking fees in the inner city."
	page := `<html><head><title>Council news</title></head><body>
<nav><a href="/">Home</a><a href="/news">News</a></nav>
<article><h1>Budget approved</h1>
<p>` + para + `</p>
<p>` + para + `</p>
<p>` + para + `</p>
<p>` + para + `</p>
<p>` + para + `</p>
</article>
<footer>Imprint</footer>
</body></html>`

	got, err := ExtractText("pages/news.html", []byte(page))
	if err != nil {
		t.Fatalf("ExtractText() error = %v", err)
	}
	if !strings.Contains(got, para) {
		t.Fatalf("article text missing: %q", got)
	}
}

func TestExtractPlainText(t *testing.T) {
	got, err := ExtractText("notes.md", []byte("# Notes\nplain"))
	if err != nil || got != "# Notes\nplain" {
		t.Fatalf("ExtractText() = %q, %v", got, err)
	}
}
