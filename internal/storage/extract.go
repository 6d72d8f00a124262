package storage

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"regexp"
	"strings"

	"codeberg.org/readeck/go-readability/v2"
)

// maxDocxXML bounds the uncompressed size of word/document.xml.
const maxDocxXML = 50 << 20

var blankLines = regexp.MustCompile(`\n{3,}`)

// ExtractText turns a stored object into document text, chosen by the
// extension of key: HTML keeps the readable article, DOCX the body text
// without tracked deletions, anything else must be UTF-8 text.
func ExtractText(key string, data []byte) (string, error) {
	switch strings.ToLower(path.Ext(key)) {
	case ".html", ".htm":
		return htmlText(key, data)
	case ".docx":
		return docxText(data)
	default:
		return decodeText(key, data)
	}
}

func htmlText(key string, data []byte) (string, error) {
	base, _ := url.Parse("file:///" + strings.TrimPrefix(key, "/"))
	article, err := readability.FromReader(bytes.NewReader(data), base)
	if err != nil {
		return "", fmt.Errorf("failed to parse html %s: %w", key, err)
	}
	var sb strings.Builder
	if err := article.RenderText(&sb); err != nil {
		return "", fmt.Errorf("failed to render article text %s: %w", key, err)
	}
	return normalizeBlankLines(sb.String()), nil
}

func normalizeBlankLines(text string) string {
	return blankLines.ReplaceAllString(strings.TrimSpace(text), "\n\n")
}

func docxText(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("failed to open docx: %w", err)
	}
	var body *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			body = f
			break
		}
	}
	if body == nil {
		return "", errors.New("docx has no word/document.xml")
	}
	if body.UncompressedSize64 > maxDocxXML {
		return "", fmt.Errorf("docx body too large: %d bytes", body.UncompressedSize64)
	}
	rc, err := body.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open docx body: %w", err)
	}
	defer rc.Close()

	w := &docxWriter{}
	dec := xml.NewDecoder(io.LimitReader(rc, maxDocxXML))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to parse docx body: %w", err)
		}
		w.token(tok)
	}
	return normalizeBlankLines(w.sb.String()), nil
}

// docxWriter renders WordprocessingML runs as plain text. Table cells are
// tab separated, rows and paragraphs end with a newline.
type docxWriter struct {
	sb       strings.Builder
	inText   bool
	deleted  int
	inTable  bool
	cellSeen bool
}

func (w *docxWriter) write(s string) {
	if w.deleted == 0 {
		w.sb.WriteString(s)
	}
}

func (w *docxWriter) token(tok xml.Token) {
	switch t := tok.(type) {
	case xml.StartElement:
		switch t.Name.Local {
		case "del":
			w.deleted++
		case "t":
			w.inText = true
		case "tab":
			w.write("\t")
		case "br", "cr":
			w.write("\n")
		case "noBreakHyphen":
			w.write("-")
		case "tbl":
			w.inTable = true
			if s := w.sb.String(); s != "" && !strings.HasSuffix(s, "\n") {
				w.write("\n")
			}
		case "tr":
			w.cellSeen = false
		case "tc":
			if w.inTable && w.cellSeen {
				w.write("\t")
			}
			w.cellSeen = true
		}
	case xml.EndElement:
		switch t.Name.Local {
		case "t":
			w.inText = false
		case "del":
			w.deleted = max(w.deleted-1, 0)
		case "tr":
			w.write("\n")
		case "tbl":
			w.inTable = false
			w.write("\n")
		case "p":
			// Paragraphs of one table cell run together; rows end the line.
			if !w.inTable {
				w.write("\n")
			}
		}
	case xml.CharData:
		if w.inText {
			w.write(string(t))
		}
	}
}
