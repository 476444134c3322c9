package chunking

import (
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/kirillkom/medguide-rag/internal/core/domain"
	"github.com/kirillkom/medguide-rag/internal/core/terms"
)

// pageText builds n words in sentences of 20 words. Word i of the page is
// "<tag>w<i>" so overlaps can be checked positionally.
func pageText(tag string, n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		w := fmt.Sprintf("%sw%d", tag, i)
		if i%20 == 0 {
			w = "Clinical" + w
		}
		if i%20 == 19 || i == n-1 {
			w += "."
		}
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(w)
	}
	return b.String()
}

func newTestChunker(opts Options) *HierarchicalChunker {
	return NewHierarchicalChunker(terms.Default(), opts)
}

func split(chunks []domain.Chunk) (parents, children []domain.Chunk) {
	for _, c := range chunks {
		if c.IsParent() {
			parents = append(parents, c)
		} else {
			children = append(children, c)
		}
	}
	return parents, children
}

func TestChunkTwoPagesEndToEndSizes(t *testing.T) {
	chunker := newTestChunker(DefaultOptions())
	doc := domain.DocumentInput{
		ID: "esc-hf-2021",
		Pages: []domain.Page{
			{Number: 1, Text: pageText("a", 1000)},
			{Number: 2, Text: pageText("b", 1000)},
		},
	}

	chunks, notices := chunker.Chunk(doc)
	if len(notices) != 0 {
		t.Fatalf("expected no notices, got %+v", notices)
	}
	parents, children := split(chunks)
	if len(parents) < 1 || len(children) < 4 {
		t.Fatalf("expected >=1 parent and >=4 children, got %d/%d", len(parents), len(children))
	}
	if len(parents) != 2 || len(children) != 8 {
		t.Fatalf("expected 2 parents and 8 children, got %d/%d", len(parents), len(children))
	}
	if parents[1].PageNumber != 2 {
		t.Fatalf("expected second parent on page 2, got %d", parents[1].PageNumber)
	}
	for _, c := range children {
		if c.TokenCount > 300 {
			t.Fatalf("child %s has %d tokens", c.ID, c.TokenCount)
		}
	}
}

func TestChunkReferentialIntegrity(t *testing.T) {
	chunker := newTestChunker(DefaultOptions())
	chunks, _ := chunker.Chunk(domain.DocumentInput{
		ID:    "doc",
		Pages: []domain.Page{{Number: 1, Text: pageText("a", 2600)}, {Number: 3, Text: pageText("c", 450)}},
	})

	parents, children := split(chunks)
	byID := make(map[string]domain.Chunk, len(parents))
	for _, p := range parents {
		if p.ParentID != "" {
			t.Fatalf("parent %s must not have parent_id", p.ID)
		}
		byID[p.ID] = p
	}
	for _, c := range children {
		p, ok := byID[c.ParentID]
		if !ok {
			t.Fatalf("child %s references missing parent %s", c.ID, c.ParentID)
		}
		if p.DocumentID != c.DocumentID {
			t.Fatalf("child %s parent from another document", c.ID)
		}
		if !strings.Contains(p.Text, c.Text) {
			t.Fatalf("child %s text is not contained in its parent", c.ID)
		}
	}
}

func TestChunkIsDeterministic(t *testing.T) {
	doc := domain.DocumentInput{
		ID:       "doc",
		Pages:    []domain.Page{{Number: 2, Text: pageText("b", 700)}, {Number: 1, Text: pageText("a", 1500)}},
		Metadata: map[string]string{"Society": "ESC", "year": "2021"},
	}
	first, _ := newTestChunker(DefaultOptions()).Chunk(doc)
	second, _ := newTestChunker(DefaultOptions()).Chunk(doc)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical chunks for identical input")
	}
	if first[0].ID != "doc:p0001:s0001" {
		t.Fatalf("expected pages processed in order, first id %s", first[0].ID)
	}
	if first[1].ID != "doc:p0001:s0001:c001" {
		t.Fatalf("unexpected child id %s", first[1].ID)
	}
	if first[0].Metadata["society"] != "ESC" {
		t.Fatalf("expected normalized metadata keys, got %v", first[0].Metadata)
	}
}

func TestChildrenOverlap(t *testing.T) {
	chunker := newTestChunker(DefaultOptions())
	chunks, _ := chunker.Chunk(domain.DocumentInput{ID: "doc", Pages: []domain.Page{{Number: 1, Text: pageText("a", 1000)}}})
	_, children := split(chunks)

	if len(children) != 4 {
		t.Fatalf("expected 4 children, got %d", len(children))
	}
	for i := 1; i < len(children); i++ {
		prev := strings.Fields(children[i-1].Text)
		cur := strings.Fields(children[i].Text)
		if !reflect.DeepEqual(prev[len(prev)-50:], cur[:50]) {
			t.Fatalf("children %d and %d do not share a 50-word overlap", i-1, i)
		}
	}
	last := strings.Fields(children[len(children)-1].Text)
	if last[len(last)-1] != "aw999." {
		t.Fatalf("expected last child to end at the parent end, got %q", last[len(last)-1])
	}
}

func TestParentsRespectTargetSizeAndSentences(t *testing.T) {
	chunker := newTestChunker(DefaultOptions())
	chunks, _ := chunker.Chunk(domain.DocumentInput{ID: "doc", Pages: []domain.Page{{Number: 1, Text: pageText("a", 3000)}}})
	parents, _ := split(chunks)

	want := []int{1200, 1200, 600}
	if len(parents) != len(want) {
		t.Fatalf("expected %d parents, got %d", len(want), len(parents))
	}
	for i, p := range parents {
		if p.TokenCount != want[i] {
			t.Fatalf("parent %d: expected %d tokens, got %d", i, want[i], p.TokenCount)
		}
		if !strings.HasSuffix(p.Text, ".") {
			t.Fatalf("parent %d does not end on a sentence boundary", i)
		}
	}
}

func TestOverlongSentenceIsCut(t *testing.T) {
	words := make([]string, 2500)
	for i := range words {
		words[i] = fmt.Sprintf("x%d", i)
	}
	chunker := newTestChunker(DefaultOptions())
	chunks, _ := chunker.Chunk(domain.DocumentInput{ID: "doc", Pages: []domain.Page{{Number: 1, Text: strings.Join(words, " ")}}})
	parents, _ := split(chunks)

	if len(parents) != 3 || parents[2].TokenCount != 100 {
		t.Fatalf("expected parents of 1200/1200/100, got %d parents", len(parents))
	}
}

func TestEmptyPageIsSkippedWithNotice(t *testing.T) {
	chunker := newTestChunker(DefaultOptions())
	chunks, notices := chunker.Chunk(domain.DocumentInput{
		ID:    "doc",
		Pages: []domain.Page{{Number: 1, Text: "  \n "}, {Number: 2, Text: pageText("b", 40)}},
	})

	if len(notices) != 1 || notices[0].Code != domain.NoticeEmptyPage || notices[0].PageNumber != 1 {
		t.Fatalf("expected one empty_page notice for page 1, got %+v", notices)
	}
	for _, c := range chunks {
		if c.PageNumber != 2 {
			t.Fatalf("unexpected chunk on page %d", c.PageNumber)
		}
	}
}

func TestEmptyDocumentProducesNoChunks(t *testing.T) {
	chunker := newTestChunker(DefaultOptions())
	chunks, notices := chunker.Chunk(domain.DocumentInput{ID: "doc", Pages: []domain.Page{{Number: 1, Text: ""}}})

	if len(chunks) != 0 {
		t.Fatalf("expected no chunks, got %d", len(chunks))
	}
	if notices[len(notices)-1].Code != domain.NoticeNoChunks {
		t.Fatalf("expected no_chunks notice, got %+v", notices)
	}
}

func TestChildTermsAreSubsetOfParentTerms(t *testing.T) {
	text := pageText("a", 280) + " Warfarin requires INR monitoring in atrial fibrillation. " + pageText("b", 400)
	chunker := newTestChunker(DefaultOptions())
	chunks, _ := chunker.Chunk(domain.DocumentInput{ID: "doc", Pages: []domain.Page{{Number: 1, Text: text}}})
	parents, children := split(chunks)

	parentTerms := make(map[string]struct{})
	for _, term := range parents[0].MedicalTerms {
		parentTerms[term] = struct{}{}
	}
	found := false
	for _, c := range children {
		for _, term := range c.MedicalTerms {
			found = true
			if _, ok := parentTerms[term]; !ok {
				t.Fatalf("child term %q missing from parent terms %v", term, parents[0].MedicalTerms)
			}
		}
	}
	if !found {
		t.Fatalf("expected children to carry medical terms")
	}
}

func TestSpanPagesJoinsSmallPages(t *testing.T) {
	doc := domain.DocumentInput{
		ID:    "doc",
		Pages: []domain.Page{{Number: 1, Text: pageText("a", 100)}, {Number: 2, Text: pageText("b", 100)}},
	}

	perPage, _ := newTestChunker(DefaultOptions()).Chunk(doc)
	if parents, _ := split(perPage); len(parents) != 2 {
		t.Fatalf("expected page breaks to force 2 parents, got %d", len(parents))
	}

	opts := DefaultOptions()
	opts.SpanPages = true
	spanning, _ := newTestChunker(opts).Chunk(doc)
	parents, children := split(spanning)
	if len(parents) != 1 || len(children) != 1 {
		t.Fatalf("expected 1 parent and 1 child when spanning pages, got %d/%d", len(parents), len(children))
	}
	if parents[0].PageNumber != 1 || parents[0].TokenCount != 200 {
		t.Fatalf("unexpected spanning parent %+v", parents[0])
	}
}

func TestOptionsNormalize(t *testing.T) {
	c := NewHierarchicalChunker(terms.Default(), Options{ParentTokens: 100, ChildTokens: 400, ChildOverlap: 500})
	got := c.Options()
	if got.ChildTokens != 100 || got.ChildOverlap != 25 {
		t.Fatalf("unexpected normalized options %+v", got)
	}
}

func TestOptionsNormalizeBoundsChildrenPerParent(t *testing.T) {
	c := NewHierarchicalChunker(terms.Default(), Options{ParentTokens: 1200, ChildTokens: 2, ChildOverlap: 1})
	got := c.Options()
	if n := len(slidingWindows(got.ParentTokens, got.ChildTokens, got.ChildOverlap)); n > domain.MaxChildrenPerParent {
		t.Fatalf("options %+v yield %d children per parent", got, n)
	}

	words := make([]string, 1200)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}
	chunks, _ := c.Chunk(domain.DocumentInput{ID: "doc", Pages: []domain.Page{{Number: 1, Text: strings.Join(words, " ")}}})
	_, children := split(chunks)
	for i := 1; i < len(children); i++ {
		if children[i-1].ID >= children[i].ID {
			t.Fatalf("child ids out of order: %s then %s", children[i-1].ID, children[i].ID)
		}
	}
}
