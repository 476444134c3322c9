package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/medguide-rag/internal/core/domain"
	"github.com/kirillkom/medguide-rag/internal/core/ports"
)

// maxPDFBytes bounds how much of an upload is buffered for random access.
const maxPDFBytes = 64 << 20

type Extractor struct {
	storage ports.ObjectStorage
}

func NewExtractor(storage ports.ObjectStorage) *Extractor {
	return &Extractor{storage: storage}
}

func (e *Extractor) ExtractPages(ctx context.Context, g *domain.Guideline) ([]domain.Page, error) {
	reader, err := e.storage.Open(ctx, g.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("open source document: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(io.LimitReader(reader, maxPDFBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read source document: %w", err)
	}
	if len(raw) > maxPDFBytes {
		return nil, domain.InvalidInput("extract pdf", "%s exceeds %d bytes", g.Filename, maxPDFBytes)
	}
	return Pages(ctx, raw)
}

// Pages extracts plain text per page. Pages without a text layer come back
// empty and are reported by the chunker.
func Pages(ctx context.Context, raw []byte) (pages []domain.Page, err error) {
	// The parser panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = domain.InvalidInput("extract pdf", "malformed pdf: %v", r)
		}
	}()

	doc, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, domain.InvalidInput("extract pdf", "open pdf: %v", err)
	}

	total := doc.NumPage()
	pages = make([]domain.Page, 0, total)
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := doc.Page(i)
		if page.V.IsNull() {
			pages = append(pages, domain.Page{Number: i})
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract pdf page %d: %w", i, err)
		}
		pages = append(pages, domain.Page{Number: i, Text: strings.TrimSpace(text)})
	}
	return pages, nil
}
