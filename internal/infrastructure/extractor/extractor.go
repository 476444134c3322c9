// Package extractor routes a stored guideline to the page extractor for its format.
package extractor

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/kirillkom/medguide-rag/internal/core/domain"
	"github.com/kirillkom/medguide-rag/internal/core/ports"
)

type Router struct {
	pdf  ports.PageExtractor
	text ports.PageExtractor
}

func NewRouter(pdf, text ports.PageExtractor) *Router {
	return &Router{pdf: pdf, text: text}
}

func (r *Router) ExtractPages(ctx context.Context, g *domain.Guideline) ([]domain.Page, error) {
	switch {
	case isPDF(g):
		return r.pdf.ExtractPages(ctx, g)
	case isText(g):
		return r.text.ExtractPages(ctx, g)
	default:
		return nil, domain.InvalidInput("extract pages", "unsupported file type %q (%s)", g.Filename, g.MimeType)
	}
}

func isPDF(g *domain.Guideline) bool {
	return mediaType(g.MimeType) == "application/pdf" || strings.EqualFold(filepath.Ext(g.Filename), ".pdf")
}

func isText(g *domain.Guideline) bool {
	mt := mediaType(g.MimeType)
	if strings.HasPrefix(mt, "text/") {
		return true
	}
	switch strings.ToLower(filepath.Ext(g.Filename)) {
	case ".txt", ".md", ".text":
		return true
	}
	return false
}

func mediaType(mime string) string {
	mt, _, _ := strings.Cut(mime, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}
