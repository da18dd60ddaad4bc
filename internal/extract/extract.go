// Package extract turns uploaded documents into plain text.
package extract

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/cloo-solutions/salesdojo/internal/domain"
	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

const (
	// MaxPDFPages limits the number of pages read from one PDF.
	MaxPDFPages = 500

	// MaxTextSize caps the extracted text of one document (4MB).
	MaxTextSize = 4 * 1024 * 1024
)

const wordNamespace = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"

// Extensions lists the accepted document extensions.
var Extensions = []string{".pdf", ".docx", ".txt", ".csv", ".xlsx", ".md"}

// Extractor dispatches on the file extension.
type Extractor struct {
	markdown goldmark.Markdown
}

// New creates an Extractor.
func New() *Extractor {
	return &Extractor{
		markdown: goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
}

// Supported reports whether name has an accepted extension.
func Supported(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

// Extract returns the plain text of data, picking the format from name's
// extension. Unknown extensions yield domain.ErrUnsupportedDocument.
func (x *Extractor) Extract(name string, data []byte) (string, error) {
	var (
		out string
		err error
	)
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		out, err = pdfText(data)
	case ".docx":
		out, err = docxText(data)
	case ".xlsx":
		out, err = xlsxText(data)
	case ".csv":
		out, err = csvText(data)
	case ".md":
		out = x.markdownText(data)
	case ".txt":
		out = plainText(data)
	default:
		return "", domain.ErrUnsupportedDocument.WithCause(fmt.Errorf("%q", name))
	}
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", name, err)
	}
	return clean(out), nil
}

func pdfText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	pages := r.NumPage()
	if pages == 0 {
		return "", errors.New("pdf has no pages")
	}
	if pages > MaxPDFPages {
		return "", fmt.Errorf("pdf has %d pages, max is %d", pages, MaxPDFPages)
	}

	var b strings.Builder
	for i := 1; i <= pages; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		// Pages the library cannot decode are skipped.
		t, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		b.WriteString(t)
		b.WriteString("\n")
		if b.Len() > MaxTextSize {
			break
		}
	}
	return b.String(), nil
}

func docxText(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}

	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("open document.xml: %w", err)
		}
		defer rc.Close()
		return wordParagraphs(rc)
	}
	return "", errors.New("docx has no word/document.xml")
}

// wordParagraphs collects the runs of each w:p element, one paragraph per
// line. Tabs and breaks inside a paragraph become spaces.
func wordParagraphs(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var (
		b    strings.Builder
		para strings.Builder
		inP  bool
		inT  bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse document.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Space != wordNamespace {
				continue
			}
			switch t.Name.Local {
			case "p":
				inP = true
				para.Reset()
			case "t":
				inT = true
			case "tab", "br":
				if inP {
					para.WriteString(" ")
				}
			}
		case xml.EndElement:
			if t.Name.Space != wordNamespace {
				continue
			}
			switch t.Name.Local {
			case "t":
				inT = false
			case "p":
				if s := strings.TrimSpace(para.String()); s != "" {
					b.WriteString(s)
					b.WriteString("\n")
				}
				inP = false
			}
		case xml.CharData:
			if inP && inT {
				para.Write(t)
			}
		}
	}
	return b.String(), nil
}

func xlsxText(data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("read sheet %s: %w", sheet, err)
		}
		if len(rows) == 0 {
			continue
		}
		fmt.Fprintf(&b, "Sheet: %s\n", sheet)
		for _, row := range rows {
			if line := joinCells(row); line != "" {
				b.WriteString(line)
				b.WriteString("\n")
			}
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

func csvText(data []byte) (string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var b strings.Builder
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse csv: %w", err)
		}
		if line := joinCells(rec); line != "" {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}

func joinCells(cells []string) string {
	kept := make([]string, 0, len(cells))
	for _, c := range cells {
		if c = strings.TrimSpace(c); c != "" {
			kept = append(kept, c)
		}
	}
	return strings.Join(kept, ", ")
}

// markdownText walks the parsed document and keeps only the text, one
// block per line.
func (x *Extractor) markdownText(data []byte) string {
	src := []byte(plainText(data))
	doc := x.markdown.Parser().Parse(text.NewReader(src))

	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock && n.Kind() != ast.KindDocument {
				b.WriteString("\n")
			}
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Text:
			b.Write(node.Segment.Value(src))
			if node.SoftLineBreak() || node.HardLineBreak() {
				b.WriteString(" ")
			}
		case *ast.String:
			b.Write(node.Value)
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				b.Write(seg.Value(src))
			}
			return ast.WalkSkipChildren, nil
		case *ast.AutoLink:
			b.Write(node.URL(src))
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}

// plainText drops a UTF-8 BOM and replaces invalid sequences.
func plainText(data []byte) string {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), "�")
}

// clean removes NUL bytes and control characters, collapses runs of blank
// lines and enforces MaxTextSize.
func clean(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return r
		case r == '\r':
			return -1
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, s)

	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, l := range lines {
		l = strings.TrimRightFunc(l, unicode.IsSpace)
		if l == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		out = append(out, l)
	}
	s = strings.TrimSpace(strings.Join(out, "\n"))

	if len(s) > MaxTextSize {
		s = strings.ToValidUTF8(s[:MaxTextSize], "")
	}
	return s
}
