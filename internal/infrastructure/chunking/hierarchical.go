package chunking

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kirillkom/medguide-rag/internal/core/domain"
	"github.com/kirillkom/medguide-rag/internal/core/ports"
	"github.com/kirillkom/medguide-rag/internal/core/terms"
	"github.com/kirillkom/medguide-rag/internal/core/textnorm"
)

// Options sizes are in whitespace-separated words.
type Options struct {
	ParentTokens int
	ChildTokens  int
	ChildOverlap int
	// SpanPages lets a parent continue across a page break. A chunk's page is
	// the page of its first word.
	SpanPages bool
}

func DefaultOptions() Options {
	return Options{
		ParentTokens: 1200,
		ChildTokens:  300,
		ChildOverlap: 50,
	}
}

func (o Options) normalize() Options {
	def := DefaultOptions()
	if o.ParentTokens <= 0 {
		o.ParentTokens = def.ParentTokens
	}
	if o.ChildTokens <= 0 {
		o.ChildTokens = def.ChildTokens
	}
	if o.ChildTokens > o.ParentTokens {
		o.ChildTokens = o.ParentTokens
	}
	if o.ChildOverlap < 0 {
		o.ChildOverlap = 0
	}
	if o.ChildOverlap >= o.ChildTokens {
		o.ChildOverlap = o.ChildTokens / 4
	}
	// A full parent must not yield more children than the id padding allows.
	if len(slidingWindows(o.ParentTokens, o.ChildTokens, o.ChildOverlap)) > domain.MaxChildrenPerParent {
		o.ChildOverlap = 0
		o.ChildTokens = max(o.ChildTokens, (o.ParentTokens+domain.MaxChildrenPerParent-1)/domain.MaxChildrenPerParent)
	}
	return o
}

// HierarchicalChunker turns per-page document text into parent chunks of whole
// sentences and overlapping child windows inside each parent.
type HierarchicalChunker struct {
	opts  Options
	terms ports.TermExtractor
}

func NewHierarchicalChunker(extractor ports.TermExtractor, opts Options) *HierarchicalChunker {
	return &HierarchicalChunker{
		opts:  opts.normalize(),
		terms: extractor,
	}
}

func (c *HierarchicalChunker) Options() Options {
	return c.opts
}

type word struct {
	text string
	page int
}

// ParentID and ChildID encode document, page and sequence with zero padding so that
// lexical id order equals document-then-position order within the domain.Max* limits.
func ParentID(documentID string, page, seq int) string {
	return fmt.Sprintf("%s:p%04d:s%04d", documentID, page, seq)
}

func ChildID(parentID string, seq int) string {
	return fmt.Sprintf("%s:c%03d", parentID, seq)
}

// Chunk returns parents each followed by their children. Empty pages and
// documents without text are reported as notices and produce no chunks.
func (c *HierarchicalChunker) Chunk(doc domain.DocumentInput) ([]domain.Chunk, []domain.Notice) {
	var notices []domain.Notice
	parents := c.groupParents(doc, &notices)
	if len(parents) == 0 {
		notices = append(notices, domain.Notice{
			Code:       domain.NoticeNoChunks,
			Message:    "document produced no chunks",
			DocumentID: doc.ID,
		})
		return nil, notices
	}

	meta := copyMetadata(doc.Metadata)
	out := make([]domain.Chunk, 0, len(parents)*5)
	for i, words := range parents {
		out = append(out, c.buildFamily(doc.ID, i+1, words, meta)...)
	}
	return out, notices
}

func (c *HierarchicalChunker) groupParents(doc domain.DocumentInput, notices *[]domain.Notice) [][]word {
	pages := make([]domain.Page, len(doc.Pages))
	copy(pages, doc.Pages)
	sort.SliceStable(pages, func(i, j int) bool { return pages[i].Number < pages[j].Number })

	var (
		parents [][]word
		current []word
	)
	flush := func() {
		if len(current) > 0 {
			parents = append(parents, current)
			current = nil
		}
	}

	for _, page := range pages {
		sentences := textnorm.SplitSentences(page.Text)
		if len(sentences) == 0 {
			*notices = append(*notices, domain.Notice{
				Code:       domain.NoticeEmptyPage,
				Message:    "page text is empty after extraction",
				DocumentID: doc.ID,
				PageNumber: page.Number,
			})
			continue
		}
		for _, sentence := range sentences {
			words := textnorm.Words(sentence)
			for _, piece := range fixedPieces(len(words), c.opts.ParentTokens) {
				segment := words[piece.start:piece.end]
				if len(current) > 0 && len(current)+len(segment) > c.opts.ParentTokens {
					flush()
				}
				for _, w := range segment {
					current = append(current, word{text: w, page: page.Number})
				}
			}
		}
		if !c.opts.SpanPages {
			flush()
		}
	}
	flush()
	return parents
}

func (c *HierarchicalChunker) buildFamily(documentID string, seq int, words []word, meta map[string]string) []domain.Chunk {
	texts := make([]string, len(words))
	for i, w := range words {
		texts[i] = w.text
	}

	parentID := ParentID(documentID, words[0].page, seq)
	windows := slidingWindows(len(words), c.opts.ChildTokens, c.opts.ChildOverlap)
	children := make([]domain.Chunk, 0, len(windows))
	union := make(map[string]struct{})

	for j, w := range windows {
		text := strings.Join(texts[w.start:w.end], " ")
		childTerms := c.terms.Extract(text)
		for _, t := range childTerms {
			union[t] = struct{}{}
		}
		children = append(children, domain.Chunk{
			ID:           ChildID(parentID, j+1),
			Text:         text,
			TokenCount:   w.end - w.start,
			DocumentID:   documentID,
			PageNumber:   words[w.start].page,
			Level:        domain.LevelChild,
			ParentID:     parentID,
			Sequence:     j + 1,
			MedicalTerms: childTerms,
			Metadata:     meta,
		})
	}

	parentText := strings.Join(texts, " ")
	for _, t := range c.terms.Extract(parentText) {
		union[t] = struct{}{}
	}
	parent := domain.Chunk{
		ID:           parentID,
		Text:         parentText,
		TokenCount:   len(words),
		DocumentID:   documentID,
		PageNumber:   words[0].page,
		Level:        domain.LevelParent,
		Sequence:     seq,
		MedicalTerms: terms.SortedSet(union),
		Metadata:     meta,
	}
	return append([]domain.Chunk{parent}, children...)
}

func copyMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return out
}
