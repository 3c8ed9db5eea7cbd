package docextract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

// OutputSuffix is appended to a source path to name its extracted text.
const OutputSuffix = ".extracted.txt"

// Processor loads documents and, when a Structurer is set, restructures them.
// PDFs are always structured when possible; workbooks only when
// StructureTables is set, since their rows already read as a table.
type Processor struct {
	Structurer      *Structurer
	StructureTables bool
	Logger          *slog.Logger
}

// Process returns the text to publish for path.
func (p *Processor) Process(ctx context.Context, path string) (string, error) {
	logger := p.logger()
	start := time.Now()

	doc, err := Load(path)
	if err != nil {
		return "", err
	}
	logger.Info("Document loaded", "path", path, "kind", doc.Kind, "pages", doc.Pages, "chars", len(doc.Text))

	structure := p.Structurer != nil && (doc.Kind == KindPDF || p.StructureTables)
	if !structure {
		return doc.Text, nil
	}

	out, err := p.Structurer.Structure(ctx, doc.Text)
	if err != nil {
		return "", err
	}
	logger.Info("Document structured", "path", path, "duration_ms", time.Since(start).Milliseconds())
	return out, nil
}

// ProcessToFile processes path and writes the result next to it. It returns
// the output path.
func (p *Processor) ProcessToFile(ctx context.Context, path string) (string, error) {
	text, err := p.Process(ctx, path)
	if err != nil {
		return "", err
	}
	out := OutputPath(path)
	if err := os.WriteFile(out, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", out, err)
	}
	return out, nil
}

// OutputPath names the extracted-text file for a source document.
func OutputPath(path string) string {
	return path + OutputSuffix
}

// IsOutput reports whether path is a file written by ProcessToFile.
func IsOutput(path string) bool {
	return strings.HasSuffix(path, OutputSuffix)
}

func (p *Processor) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}
