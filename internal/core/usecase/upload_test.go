package usecase

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/kirillkom/medguide-rag/internal/core/domain"
)

type guidelineRepoFake struct {
	created   *domain.Guideline
	createErr error
}

func (f *guidelineRepoFake) Create(_ context.Context, g *domain.Guideline) error {
	if f.createErr != nil {
		return f.createErr
	}
	copyG := *g
	f.created = &copyG
	return nil
}

func (f *guidelineRepoFake) GetByID(_ context.Context, id string) (*domain.Guideline, error) {
	if f.created == nil || f.created.ID != id {
		return nil, domain.ErrGuidelineNotFound
	}
	copyG := *f.created
	return &copyG, nil
}

func (f *guidelineRepoFake) UpdateStatus(context.Context, string, domain.GuidelineStatus, string, int) error {
	return nil
}

type storageFake struct {
	key     string
	data    string
	saveErr error
}

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.key = key
	f.data = string(raw)
	return nil
}

func (f *storageFake) Open(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(f.data)), nil
}

type uploadQueueFake struct {
	published []string
	err       error
}

func (f *uploadQueueFake) PublishGuidelineUploaded(_ context.Context, guidelineID string) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, guidelineID)
	return nil
}

func (f *uploadQueueFake) SubscribeGuidelineUploaded(context.Context, func(context.Context, string) error) error {
	return nil
}

func TestUploadStoresRegistersAndPublishes(t *testing.T) {
	repo := &guidelineRepoFake{}
	storage := &storageFake{}
	queue := &uploadQueueFake{}
	uc := NewUploadGuidelineUseCase(repo, storage, queue)

	g, err := uc.Upload(context.Background(), "ESC AF 2024.pdf", "application/pdf",
		map[string]string{" Society ": "ESC", "year": "2024"}, strings.NewReader("%PDF"))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if g.Status != domain.StatusUploaded || g.ID == "" {
		t.Fatalf("unexpected guideline: %+v", g)
	}
	if storage.key != g.ID+"_ESC_AF_2024.pdf" || storage.data != "%PDF" {
		t.Fatalf("unexpected storage write: key=%q data=%q", storage.key, storage.data)
	}
	if repo.created == nil || repo.created.StoragePath != storage.key || repo.created.Metadata["society"] != "ESC" {
		t.Fatalf("unexpected repository record: %+v", repo.created)
	}
	if len(queue.published) != 1 || queue.published[0] != g.ID {
		t.Fatalf("expected upload event for %s, got %v", g.ID, queue.published)
	}

	got, err := uc.GetByID(context.Background(), g.ID)
	if err != nil || got.ID != g.ID {
		t.Fatalf("GetByID() = %+v, %v", got, err)
	}
}

func TestUploadRejectsBadInput(t *testing.T) {
	uc := NewUploadGuidelineUseCase(&guidelineRepoFake{}, &storageFake{}, &uploadQueueFake{})

	if _, err := uc.Upload(context.Background(), " ", "text/plain", nil, strings.NewReader("x")); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for empty filename, got %v", err)
	}
	_, err := uc.Upload(context.Background(), "a.txt", "text/plain", map[string]string{"year": "twenty"}, strings.NewReader("x"))
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for bad year, got %v", err)
	}
}

func TestUploadStopsOnFailures(t *testing.T) {
	repo := &guidelineRepoFake{}
	queue := &uploadQueueFake{}
	uc := NewUploadGuidelineUseCase(repo, &storageFake{saveErr: errors.New("disk full")}, queue)

	if _, err := uc.Upload(context.Background(), "a.txt", "text/plain", nil, strings.NewReader("x")); err == nil {
		t.Fatalf("expected storage error")
	}
	if repo.created != nil || len(queue.published) != 0 {
		t.Fatalf("expected no record and no event after storage failure")
	}

	uc = NewUploadGuidelineUseCase(&guidelineRepoFake{}, &storageFake{}, &uploadQueueFake{err: errors.New("nats down")})
	if _, err := uc.Upload(context.Background(), "a.txt", "text/plain", nil, strings.NewReader("x")); err == nil {
		t.Fatalf("expected publish error")
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"../../etc/passwd":   "passwd",
		"guide line (1).pdf": "guide_line__1_.pdf",
		"":                   "guideline.bin",
	}
	for in, want := range cases {
		if got := sanitizeFilename(in); got != want {
			t.Fatalf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
