// Package docextract turns freezone price lists (PDF or Excel) into text an
// operator can review, optionally restructured by an LLM.
package docextract

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/xuri/excelize/v2"
)

// ErrUnsupported is returned for files other than .pdf and .xlsx.
var ErrUnsupported = errors.New("unsupported file type, expected .pdf or .xlsx")

// Document kinds.
const (
	KindPDF  = "pdf"
	KindXLSX = "xlsx"
)

// Document is the raw text of a loaded file.
type Document struct {
	Path  string
	Kind  string
	Text  string
	Pages int
}

// KindOf returns the document kind for path or ErrUnsupported.
func KindOf(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return KindPDF, nil
	case ".xlsx":
		return KindXLSX, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupported, filepath.Base(path))
}

// Load reads the text of a PDF (one block per page) or an Excel workbook
// (one tab-separated table per sheet).
func Load(path string) (*Document, error) {
	kind, err := KindOf(path)
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindPDF:
		return loadPDF(path)
	default:
		return loadXLSX(path)
	}
}

func loadPDF(path string) (*Document, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("open PDF document: %w", err)
	}
	defer func() {
		_ = doc.Close()
	}()

	pages := doc.NumPage()
	if pages == 0 {
		return nil, fmt.Errorf("PDF document has no pages")
	}

	var b strings.Builder
	for i := 0; i < pages; i++ {
		text, err := doc.Text(i)
		if err != nil {
			return nil, fmt.Errorf("extract text from page %d: %w", i+1, err)
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(strings.TrimSpace(text))
		b.WriteString("\n")
	}
	return &Document{Path: path, Kind: KindPDF, Text: b.String(), Pages: pages}, nil
}

func loadXLSX(path string) (*Document, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	sheets := f.GetSheetList()
	var b strings.Builder
	for _, sheet := range sheets {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "## %s\n", sheet)
		for _, row := range rows {
			if isBlankRow(row) {
				continue
			}
			b.WriteString(strings.Join(row, "\t"))
			b.WriteString("\n")
		}
	}
	return &Document{Path: path, Kind: KindXLSX, Text: b.String(), Pages: len(sheets)}, nil
}

func isBlankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
