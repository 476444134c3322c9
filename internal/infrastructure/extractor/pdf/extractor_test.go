package pdf

import (
	"context"
	"errors"
	"testing"

	"github.com/kirillkom/medguide-rag/internal/core/domain"
)

func TestPagesRejectsNonPDF(t *testing.T) {
	_, err := Pages(context.Background(), []byte("definitely not a pdf"))
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestPagesRejectsEmptyInput(t *testing.T) {
	if _, err := Pages(context.Background(), nil); err == nil {
		t.Fatalf("expected error for empty input")
	}
}
